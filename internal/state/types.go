// Package state owns the durable records of the gateway: the server's own
// identity and address pool, the provisioned clients, and the one-time
// download tokens. All three collections are persisted as whole-file JSON
// snapshots under a single data directory and guarded by one mutex.
package state

import "time"

// ServerState is the singleton record describing the gateway itself.
// It is created lazily on first start and never deleted.
type ServerState struct {
	ServerPrivateKey string `json:"serverPrivateKey"`
	ServerPublicKey  string `json:"serverPublicKey"`

	// Address allocation. NextHost is the host octet handed out next; it
	// only ever increases, so addresses are never reused across restarts.
	SubnetCIDR string `json:"subnetCidr"` // e.g. 10.8.0.0/24
	ServerIP   string `json:"serverIp"`   // e.g. 10.8.0.1
	NextHost   int    `json:"nextHost"`
}

// Client is a provisioned VPN peer.
type Client struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	PublicKey  string     `json:"publicKey"`
	PrivateKey string     `json:"privateKey"`
	Address    string     `json:"address"` // single host address, e.g. 10.8.0.2/32
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the client is past its expiry at the given time.
// Clients without an expiry never expire.
func (c Client) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// ClientPublic is the projection of a client safe to return from the API.
// It never carries the private key.
type ClientPublic struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	PublicKey string     `json:"publicKey"`
	Address   string     `json:"address"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Public returns the public-safe projection of the client.
func (c Client) Public() ClientPublic {
	return ClientPublic{
		ID:        c.ID,
		Name:      c.Name,
		PublicKey: c.PublicKey,
		Address:   c.Address,
		CreatedAt: c.CreatedAt,
		ExpiresAt: c.ExpiresAt,
	}
}

// DownloadToken grants exactly one retrieval of a client's configuration
// before a fixed expiry. Tokens are consumed on first successful redemption
// and are never deleted.
type DownloadToken struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
	Used      bool      `json:"used"`
}
