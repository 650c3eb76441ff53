package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after merging --config over the embedded
defaults. Derived values such as the gradient steepness are shown as
comments. Use --write to save it as a starting point for a custom config.`,
		Example: `  gradient config
  gradient config --config mine.yaml --write effective.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadedConfig(cmd)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			if path, _ := cmd.Flags().GetString("write"); path != "" {
				if err := cfg.WriteYAML(path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
				return nil
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# derived alpha: %g\n", cfg.Derived.Alpha)
			fmt.Fprintf(out, "# checkpoint interval: %g\n", cfg.Derived.Interval)
			_, err = out.Write(data)
			return err
		},
	}
	cmd.Flags().String("write", "", "Write the configuration to this file instead of stdout")
	return cmd
}
