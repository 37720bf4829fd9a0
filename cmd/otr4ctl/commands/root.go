package commands

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"otr4/internal/host"
)

var (
	// These flags are shared across all commands.
	homeDir    string
	relayURL   string
	username   string
	passphrase string

	// wire holds the wired dependencies after PersistentPreRunE.
	wire *host.Wire
)

// Execute initialises the application context and runs the root cobra command.
func Execute() error {
	root := &cobra.Command{
		Use:   "otr4ctl",
		Short: "Deniable, forward-secret messaging over an OTR4 relay",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if homeDir == "" {
				if h, err := os.UserHomeDir(); err == nil {
					homeDir = filepath.Join(h, ".otr4")
				}
			}
			if err := os.MkdirAll(homeDir, 0o700); err != nil {
				return fmt.Errorf("creating config dir: %w", err)
			}

			httpClient := &http.Client{
				Timeout: 15 * time.Second,
				Transport: &http.Transport{
					Proxy: http.ProxyFromEnvironment,
					DialContext: (&net.Dialer{
						Timeout:   5 * time.Second,
						KeepAlive: 30 * time.Second,
					}).DialContext,
					TLSHandshakeTimeout:   5 * time.Second,
					ExpectContinueTimeout: 1 * time.Second,
					IdleConnTimeout:       90 * time.Second,
					MaxIdleConns:          100,
					MaxIdleConnsPerHost:   10,
				},
			}

			if username == "" {
				return fmt.Errorf("--username is required")
			}
			if passphrase == "" {
				return fmt.Errorf("--passphrase is required")
			}

			cfg := host.Config{
				Username: username,
				HomeDir:  homeDir,
				RelayURL: relayURL,
				HTTP:     httpClient,
			}
			var err error
			wire, err = host.NewWire(cfg, passphrase)
			if err != nil {
				return fmt.Errorf("initialising application: %w", err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&homeDir, "home", "", "config directory (default: $HOME/.otr4)")
	root.PersistentFlags().StringVarP(&username, "username", "u", "", "your account name on the relay")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting your identity")
	root.PersistentFlags().StringVar(&relayURL, "relay", "http://127.0.0.1:8080", "relay URL, e.g. http://127.0.0.1:8080")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		publishCmd(),
		startCmd(),
		sendCmd(),
		recvCmd(),
		smpCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	root.SetContext(ctx)

	return root.Execute()
}
