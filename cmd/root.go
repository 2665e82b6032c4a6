// Package cmd implements the nfc-reader-bridge command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fvisticot/nfc-reader-bridge/buildinfo"
	"github.com/fvisticot/nfc-reader-bridge/config"
)

type rootOptions struct {
	configFile string
	envFile    string
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           buildinfo.Name,
		Short:         "Bridge NFC tag reads to WebSocket and HTTP clients",
		Long:          buildinfo.Description + ". Without a subcommand the bridge server is started.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return config.LoadDotEnv(opts.envFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: ./config.yaml or "+config.Dir()+"/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	addServeFlags(rootCmd.Flags())

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(opts),
		newReadCmd(),
		newListenCmd(),
		newStopCmd(),
		newDevicesCmd(),
		newConfigCmd(opts),
	)

	return rootCmd
}
