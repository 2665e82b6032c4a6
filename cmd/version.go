package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fvisticot/nfc-reader-bridge/buildinfo"
)

func newVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := buildinfo.BuildInfo()
			if short {
				out = buildinfo.Version
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "print only the version number")
	return cmd
}
