// Package host wires the otr4 core to a filesystem-backed identity store and
// an HTTP relay, the dependency graph a CLI or daemon front-end needs.
package host

import "net/http"

// Config holds runtime wiring options for building a Wire.
type Config struct {
	Username string       // local account name, used to key the relay
	HomeDir  string       // config directory, e.g. $HOME/.otr4
	RelayURL string       // relay base URL, e.g. http://127.0.0.1:8080
	HTTP     *http.Client // optional; defaults to http.DefaultClient
}
