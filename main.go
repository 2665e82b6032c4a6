// Command nfc-reader-bridge reads NDEF tags from a local or remote NFC
// reader and delivers their content to WebSocket and HTTP clients.
package main

import (
	"os"

	"github.com/fvisticot/nfc-reader-bridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
