package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fvisticot/nfc-reader-bridge/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	var secrets bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the configuration after files, environment and flags are applied",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := loadConfig(c, opts)
			if err != nil {
				return err
			}
			out, err := cfg.YAML(secrets)
			if err != nil {
				return err
			}
			_, err = c.OutOrStdout().Write(out)
			return err
		},
	}
	show.Flags().BoolVar(&secrets, "secrets", false, "print the API secret instead of masking it")
	addServeFlags(show.Flags())

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the per-user configuration directory",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(c.OutOrStdout(), config.Dir())
			return err
		},
	}

	cmd.AddCommand(show, path)
	return cmd
}
