// Package commands defines the otr4ctl CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init          Create the local identity if one does not already exist
//   - fingerprint   Print your own fingerprint, or a peer's after a DAKE
//   - publish       Publish a prekey ensemble to the relay
//   - start         Start a session with a peer (interactively or --offline)
//   - send          Encrypt and send a message (interactively or --offline)
//   - recv          Fetch and decrypt queued messages
//   - smp           Verify a peer's identity via SMP (start/respond/abort)
//
// # Implementation
//
// The root command constructs an HTTP client and builds a dependency graph
// (identity store, fingerprint store, relay client, otr4 client) before any
// subcommand runs, so handlers can use a shared Wire.
package commands
