package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// recvCmd fetches and decrypts every message queued on the relay for this
// account.
func recvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recv",
		Short: "Fetch and decrypt your queued messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := wire.FetchAndDecrypt()
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Println("No new messages")
				return nil
			}
			for _, m := range msgs {
				fmt.Printf("[%s] %s\n", m.From, string(m.Text))
			}
			return nil
		},
	}
}
