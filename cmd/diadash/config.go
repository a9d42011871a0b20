package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configWrite bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file, .env and
environment overrides have been applied. With --write the result is saved to
the --config path, which is a convenient way to create a starting file.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().BoolVar(&configWrite, "write", false, "Save the effective config to the --config path")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if configWrite {
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save %s: %w", cfg.Path(), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfg.Path())
		return nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
