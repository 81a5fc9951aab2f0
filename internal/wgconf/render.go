// Package wgconf renders WireGuard configuration documents for the gateway
// interface and for individual clients. Both renders are deterministic:
// the same inputs always produce the same bytes, which is the contract both
// toward the awg control utility and toward the config file a client
// imports.
package wgconf

import (
	"fmt"
	"strings"
	"time"

	"github.com/awg-tools/awg-manager/internal/state"
)

// DefaultAllowedIPs routes all client traffic through the tunnel unless an
// override file says otherwise.
const DefaultAllowedIPs = "0.0.0.0/0, ::/0"

// Gateway renders the full peer-set configuration for the gateway
// interface. Clients past their expiry at render time are omitted; expiry
// is enforced here, not by any background sweep.
func Gateway(st state.ServerState, clients []state.Client, listenPort int, now time.Time) string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	b.WriteString("PrivateKey = " + st.ServerPrivateKey + "\n")
	b.WriteString(fmt.Sprintf("ListenPort = %d\n", listenPort))
	b.WriteString("\n")

	for _, c := range clients {
		if c.Expired(now) {
			continue
		}
		b.WriteString("[Peer]\n")
		b.WriteString("PublicKey = " + c.PublicKey + "\n")
		ipOnly := strings.Split(c.Address, "/")[0]
		b.WriteString("AllowedIPs = " + ipOnly + "/32\n")
		b.WriteString("\n")
	}
	return b.String()
}

// ClientOptions are the optional inputs to a client render: the gateway's
// public endpoint, a verbatim extra-interface block (obfuscation and tuning
// parameters are opaque bytes to this package), and an AllowedIPs override.
type ClientOptions struct {
	Endpoint       string
	ExtraInterface string
	AllowedIPs     string
}

// Client renders a single client's own interface configuration, with the
// gateway as its sole peer.
func Client(c state.Client, st state.ServerState, opts ClientOptions) string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	b.WriteString("PrivateKey = " + c.PrivateKey + "\n")
	b.WriteString("Address = " + c.Address + "\n")

	if x := strings.TrimSpace(opts.ExtraInterface); x != "" {
		b.WriteString(x + "\n")
	}

	b.WriteString("\n[Peer]\n")
	b.WriteString("PublicKey = " + st.ServerPublicKey + "\n")
	if opts.Endpoint != "" {
		b.WriteString("Endpoint = " + opts.Endpoint + "\n")
	}

	allowed := strings.TrimSpace(opts.AllowedIPs)
	if allowed == "" {
		allowed = DefaultAllowedIPs
	}
	b.WriteString("AllowedIPs = " + allowed + "\n")
	return b.String()
}
