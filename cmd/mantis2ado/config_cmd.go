package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mantis2ado/mantis2ado/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Inspect the effective configuration",
	Long: `Inspect the configuration assembled from defaults, mantis2ado.yaml and
MANTIS2ADO_* environment variables (in increasing precedence).`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		source := cfg.File
		if source == "" {
			source = "(none; defaults and environment only)"
		}
		fmt.Fprintf(out, "# config file: %s\n", source)

		redacted := cfg.Redacted()
		data, err := yaml.Marshal(&redacted)
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		_, err = out.Write(data)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return &exitError{code: 1, msg: "Configuration is invalid:\n" + formatValidation(err)}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s configuration is valid\n", ui.RenderPassIcon())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
