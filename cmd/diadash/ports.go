package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial devices and mark the gauge",
	Long: `List the attached serial devices with their USB vendor and product IDs.
The device matching the configured gauge is marked with *.

Examples:
  diadash ports
  GAUGE_VID=1a86 GAUGE_PID=7523 diadash ports`,
	Args: cobra.NoArgs,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	discovery, _ := newDiscovery(cfg)

	cands, err := discovery.ListCandidates()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Gauge: %s:%s\n", discovery.VendorID, discovery.ProductID)
	fmt.Fprintf(out, "%s found\n\n", english.Plural(len(cands), "serial device", ""))
	if len(cands) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tPATH\tVID:PID\tSERIAL")
	matched := false
	for _, c := range cands {
		mark := ""
		if discovery.Matches(c) {
			mark = "*"
			matched = true
		}
		id := "-"
		if c.IsUSB {
			id = c.VendorID + ":" + c.ProductID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, c.Path, id, c.SerialNumber)
	}
	w.Flush()

	if !matched {
		fmt.Fprintln(os.Stderr, "\nGauge not attached")
	}
	return nil
}
