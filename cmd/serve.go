package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fvisticot/nfc-reader-bridge/agent"
	"github.com/fvisticot/nfc-reader-bridge/config"
	"github.com/fvisticot/nfc-reader-bridge/tray"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
	addServeFlags(cmd.Flags())
	return cmd
}

// addServeFlags declares the flags that override configuration keys. Their
// defaults only show in help; unset flags never shadow the config file.
func addServeFlags(fs *pflag.FlagSet) {
	fs.String("host", "", "interface to listen on (default: all)")
	fs.Int("port", 18080, "port to listen on")
	fs.String("api-secret", "", "secret clients must present")
	fs.Bool("mdns", true, "advertise the bridge over mDNS")
	fs.String("driver", config.DriverLibNFC, "reader driver: libnfc, pcsc or remote")
	fs.String("device", "", "libnfc connection string or PC/SC reader name")
	fs.Duration("timeout", 60*time.Second, "end a session after this long without a tag (0 waits forever)")
	fs.Bool("tls", false, "serve wss:// and https:// with a locally trusted certificate")
	fs.Bool("tray", false, "run with a system tray menu")
}

func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	v := viper.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	return config.Load(v, opts.configFile)
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	a := agent.New(cfg, agent.Reader{})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if cfg.Tray {
		go func() {
			<-sigChan
			tray.Quit()
		}()
		tray.New(a, cfg).Run()
		return nil
	}

	if err := a.Start(); err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}
	defer a.Stop()

	a.Logger.Printf("Listening on %s with the %s driver", a.Addr(), cfg.Reader.Driver)
	select {
	case <-sigChan:
		a.Logger.Println("Shutdown signal received, stopping bridge...")
	case <-cmd.Context().Done():
	}
	return nil
}
