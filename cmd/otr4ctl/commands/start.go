package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// startCmd begins a DAKE with a peer: interactively if the peer is online
// and listening, or non-interactively against the peer's last published
// prekey ensemble if --offline is set.
func startCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "start <peer>",
		Short: "Start a session with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer := args[0]

			if !offline {
				if err := wire.Client.StartDAKE(peer); err != nil {
					return fmt.Errorf("starting DAKE with %q: %w", peer, err)
				}
				fmt.Println("DAKE started")
				return nil
			}

			ensemble, err := wire.FetchPeerEnsemble(peer)
			if err != nil {
				return fmt.Errorf("fetching %q's prekey ensemble: %w", peer, err)
			}
			if err := wire.Client.SendNonInteractive(peer, ensemble, []byte{}); err != nil {
				return fmt.Errorf("starting non-interactive DAKE with %q: %w", peer, err)
			}
			fmt.Println("Non-interactive session started")
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "start non-interactively against a published prekey ensemble")
	return cmd
}
