package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// fingerprintCmd prints the fingerprint of this account's own long-term
// key, or a peer's if one has completed a DAKE.
func fingerprintCmd() *cobra.Command {
	var peer string

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print your own fingerprint, or a peer's after a DAKE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if peer == "" {
				fmt.Printf("Fingerprint: %s\n", wire.Client.OwnFingerprint())
				return nil
			}
			fp, ok := wire.Client.Fingerprint(peer)
			if !ok {
				return fmt.Errorf("no completed session with %q yet", peer)
			}
			fmt.Printf("%s fingerprint: %s\n", peer, fp)
			return nil
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "print a peer's fingerprint instead of your own")
	return cmd
}
