// Package relay provides an HTTP client and server for publishing prekey
// ensembles and store-and-forwarding OTR4 wire envelopes between peers that
// are not simultaneously online.
package relay

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"otr4/internal/primitives"
	"otr4/internal/profile"
	"otr4/internal/wire"
)

// HTTP is a relay client over HTTP, the transport half of a host's
// Callbacks.InjectMessage/Receive plumbing.
type HTTP struct {
	Base   string
	client *http.Client
}

// NewHTTP constructs a relay client against baseURL. A nil client defaults
// to http.DefaultClient.
func NewHTTP(baseURL string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{Base: baseURL, client: client}
}

type ensembleWire struct {
	Bytes string `json:"bytes"` // base64 of PrekeyEnsemble.Marshal
}

type envelopeWire struct {
	From string `json:"from"`
	Body string `json:"body"` // the OTR4 wire string, as-is
}

// PublishEnsemble uploads one PrekeyEnsemble for username, for peers to
// consume when starting a non-interactive DAKE.
func (c *HTTP) PublishEnsemble(group primitives.Group, username string, ensemble profile.PrekeyEnsemble) error {
	payload := ensembleWire{Bytes: base64.StdEncoding.EncodeToString(ensemble.Marshal(group))}
	return c.post("/ensemble/"+url.PathEscape(username), payload, nil)
}

// FetchEnsemble retrieves and parses a published PrekeyEnsemble for
// username, for starting a non-interactive DAKE against an offline peer.
func (c *HTTP) FetchEnsemble(group primitives.Group, username string) (profile.PrekeyEnsemble, error) {
	var out ensembleWire
	if err := c.getJSON("/ensemble/"+url.PathEscape(username), &out); err != nil {
		return profile.PrekeyEnsemble{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(out.Bytes)
	if err != nil {
		return profile.PrekeyEnsemble{}, fmt.Errorf("relay: decode ensemble: %w", err)
	}
	return profile.UnmarshalPrekeyEnsemble(group, wire.NewReader(raw))
}

// SendEnvelope deposits one wire-format OTR4 message addressed to "to",
// recording "from" so the recipient's host can route the reply.
func (c *HTTP) SendEnvelope(from, to, body string) error {
	return c.post("/envelope/"+url.PathEscape(to), envelopeWire{From: from, Body: body}, nil)
}

// FetchEnvelopes drains every envelope currently queued for username. The
// server removes delivered envelopes immediately: this relay does not
// retry undelivered mail past a single fetch.
func (c *HTTP) FetchEnvelopes(username string) ([]envelopeWire, error) {
	var out []envelopeWire
	if err := c.getJSON("/envelope/"+url.PathEscape(username), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTP) post(path string, in, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay: post %s: %s", path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTP) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay: get %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
