package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// publishCmd uploads a fresh PrekeyEnsemble to the relay, so peers can
// reach this account with a non-interactive DAKE while it is offline.
func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Publish a prekey ensemble to the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.PublishEnsemble(); err != nil {
				return fmt.Errorf("publishing prekey ensemble: %w", err)
			}
			fmt.Println("Prekey ensemble published")
			return nil
		},
	}
}
