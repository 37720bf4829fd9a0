package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// smpCmd groups the Socialist Millionaires' Protocol sub-commands used to
// verify a peer's identity in-band.
func smpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smp",
		Short: "Verify a peer's identity via the Socialist Millionaires' Protocol",
	}
	cmd.AddCommand(smpStartCmd(), smpRespondCmd(), smpAbortCmd())
	return cmd
}

func smpStartCmd() *cobra.Command {
	var question string

	cmd := &cobra.Command{
		Use:   "start <peer> <secret>",
		Short: "Begin an SMP exchange with a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, secret := args[0], args[1]
			if err := wire.Client.SMPStart(peer, question, []byte(secret)); err != nil {
				return fmt.Errorf("starting SMP with %q: %w", peer, err)
			}
			fmt.Println("SMP started")
			return nil
		},
	}
	cmd.Flags().StringVar(&question, "question", "", "optional question shown to the peer before they answer")
	return cmd
}

func smpRespondCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "respond <peer> <secret>",
		Short: "Answer a peer's pending SMP request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, secret := args[0], args[1]
			if err := wire.Client.SMPRespond(peer, []byte(secret)); err != nil {
				return fmt.Errorf("responding to SMP from %q: %w", peer, err)
			}
			fmt.Println("SMP response sent")
			return nil
		},
	}
}

func smpAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort <peer>",
		Short: "Cancel an in-progress SMP exchange",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer := args[0]
			if err := wire.Client.SMPAbort(peer); err != nil {
				return fmt.Errorf("aborting SMP with %q: %w", peer, err)
			}
			fmt.Println("SMP aborted")
			return nil
		},
	}
}
