package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// initCmd creates a new identity on first run (NewWire generates one
// lazily if none exists) and prints its fingerprint for out-of-band
// comparison.
func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create your local identity if one does not already exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Identity ready for %q\n", username)
			fmt.Printf("Fingerprint: %s\n", wire.Client.OwnFingerprint())
			return nil
		},
	}
}
