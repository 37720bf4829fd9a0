package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// sendCmd encrypts and sends a message to <peer> over an established
// session, or starts one non-interactively first if --offline is set.
func sendCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "send <peer> <message>",
		Short: "Encrypt and send a message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer := args[0]
			message := []byte(args[1])

			if offline {
				ensemble, err := wire.FetchPeerEnsemble(peer)
				if err != nil {
					return fmt.Errorf("fetching %q's prekey ensemble: %w", peer, err)
				}
				if err := wire.Client.SendNonInteractive(peer, ensemble, message); err != nil {
					return fmt.Errorf("sending to %q: %w", peer, err)
				}
				fmt.Println("Message sent")
				return nil
			}

			if err := wire.Client.Send(peer, message); err != nil {
				return fmt.Errorf("sending to %q: %w", peer, err)
			}
			fmt.Println("Message sent")
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "start a non-interactive session and fold this message into it")
	return cmd
}
