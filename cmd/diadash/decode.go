package main

import (
	"fmt"

	"github.com/shaunagostinho/diameter-dash/internal/gauge"
	"github.com/spf13/cobra"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <frame>...",
	Short: "Decode gauge frames captured from the serial line",
	Long: `Decode one or more gauge frames (strings of '0' and '1', at least 44
characters) and print the diameter each one carries.

Examples:
  diadash decode 00000000000000000000000000000000100011101010   # 1.75 mm`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	for _, frame := range args {
		d, err := gauge.DecodeFrame(frame)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%.2f mm\n", d)
	}
	return nil
}
