// The entrypoint for the otr4ctl CLI.
package main

import (
	"log"

	"otr4/cmd/otr4ctl/commands"
)

// Initialises and executes the command hierarchy.
func main() {
	if err := commands.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
