package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fvisticot/nfc-reader-bridge/config"
	"github.com/fvisticot/nfc-reader-bridge/nfc/libnfc"
	"github.com/fvisticot/nfc-reader-bridge/nfc/pcsc"
)

// deviceLister enumerates the readers of one driver.
type deviceLister func() ([]string, error)

var deviceListers = []struct {
	driver string
	list   deviceLister
}{
	{config.DriverLibNFC, libnfc.ListDevices},
	{config.DriverPCSC, pcsc.ListReaders},
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the readers each driver can see",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, l := range deviceListers {
				printDevices(cmd.OutOrStdout(), l.driver, l.list)
			}
			return nil
		},
	}
}

func printDevices(w io.Writer, driver string, list deviceLister) {
	devices, err := list()
	switch {
	case err != nil:
		fmt.Fprintf(w, "%s: unavailable (%v)\n", driver, err)
	case len(devices) == 0:
		fmt.Fprintf(w, "%s: no readers found\n", driver)
	default:
		fmt.Fprintf(w, "%s:\n", driver)
		for _, d := range devices {
			fmt.Fprintf(w, "  %s\n", d)
		}
	}
}
