package state

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

var (
	// ErrClientNotFound is returned when no client exists with the given ID.
	ErrClientNotFound = errors.New("client not found")
	// ErrTokenNotFound is returned when a token was never issued.
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenConsumed is returned when a token has been used or is past
	// its expiry. This is terminal: the token can never be redeemed.
	ErrTokenConsumed = errors.New("token already used or expired")
	// ErrClientGone is returned when a token's client has expired or been
	// deleted since the token was issued.
	ErrClientGone = errors.New("client expired or deleted")
)

// DefaultLinkTTL is the lifetime of a download token when the caller does
// not choose one.
const DefaultLinkTTL = time.Hour

// ApplyFailure reports that a record change was committed but pushing the
// new gateway configuration failed. The durable state and the live
// interface may diverge until the next successful mutation re-applies the
// full peer set.
type ApplyFailure struct {
	Err error
}

func (e *ApplyFailure) Error() string { return "apply failed: " + e.Err.Error() }
func (e *ApplyFailure) Unwrap() error { return e.Err }

// ApplyFunc pushes a freshly rendered gateway configuration to the live
// interface. It runs inside the store's critical section so the interface
// never observes a peer set that is inconsistent with the persisted records.
type ApplyFunc func(st ServerState, clients []Client) error

// Store is the single authority over the persisted record collections.
// Every read-modify-persist(-apply) sequence runs under one mutex; snapshot
// files are replaced atomically, never edited in place.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore opens a store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the data directory the store persists into.
func (s *Store) Dir() string { return s.dir }

func (s *Store) serverStatePath() string { return filepath.Join(s.dir, "server.json") }
func (s *Store) clientsPath() string     { return filepath.Join(s.dir, "clients.json") }
func (s *Store) tokensPath() string      { return filepath.Join(s.dir, "dl-tokens.json") }

// EnsureServerState creates the singleton server record on first start:
// a fresh gateway keypair and an allocation cursor starting at host .2.
// If the record already exists it is left untouched.
func (s *Store) EnsureServerState(subnetCIDR, serverIP string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.serverStatePath()); err == nil {
		return nil
	}

	_, ipnet, err := net.ParseCIDR(subnetCIDR)
	if err != nil {
		return fmt.Errorf("invalid subnet %q: %w", subnetCIDR, err)
	}
	if ones, _ := ipnet.Mask.Size(); ones != 24 || ipnet.IP.To4() == nil {
		return fmt.Errorf("subnet %s: only IPv4 /24 supported", subnetCIDR)
	}
	if !ipnet.Contains(net.ParseIP(serverIP)) {
		return fmt.Errorf("server ip %s is not in subnet %s", serverIP, subnetCIDR)
	}

	priv, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate server key: %w", err)
	}

	st := ServerState{
		ServerPrivateKey: priv.String(),
		ServerPublicKey:  priv.PublicKey().String(),
		SubnetCIDR:       subnetCIDR,
		ServerIP:         serverIP,
		NextHost:         firstHost,
	}
	return s.writeServerState(st)
}

// CreateClient allocates an address, generates a keypair, persists the new
// client, and runs apply with the updated peer set, all under the lock.
// The allocation cursor advances even if a later step fails.
func (s *Store) CreateClient(name string, expiresAt *time.Time, apply ApplyFunc) (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.readServerState()
	if err != nil {
		return Client{}, err
	}
	clients, err := s.loadClients()
	if err != nil {
		return Client{}, err
	}

	addr, err := allocateAddress(&st)
	if err != nil {
		return Client{}, err
	}

	priv, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return Client{}, fmt.Errorf("generate client key: %w", err)
	}

	c := Client{
		ID:         uuid.New().String(),
		Name:       name,
		PublicKey:  priv.PublicKey().String(),
		PrivateKey: priv.String(),
		Address:    addr,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  expiresAt,
	}
	clients = append(clients, c)

	if err := s.saveClients(clients); err != nil {
		return Client{}, err
	}
	if err := s.writeServerState(st); err != nil {
		return Client{}, err
	}
	if err := apply(st, clients); err != nil {
		// The record is committed; the caller retries the apply by making
		// the next mutation, which pushes the full peer set again.
		return c, &ApplyFailure{Err: err}
	}
	return c, nil
}

// DeleteClient removes a client by ID, persists the remaining set, and runs
// apply. The client's address is not returned to the pool.
func (s *Store) DeleteClient(id string, apply ApplyFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.readServerState()
	if err != nil {
		return err
	}
	clients, err := s.loadClients()
	if err != nil {
		return err
	}

	kept := make([]Client, 0, len(clients))
	found := false
	for _, c := range clients {
		if c.ID == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return ErrClientNotFound
	}

	if err := s.saveClients(kept); err != nil {
		return err
	}
	if err := apply(st, kept); err != nil {
		return &ApplyFailure{Err: err}
	}
	return nil
}

// ListClients returns a snapshot of all client records.
func (s *Store) ListClients() ([]Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadClients()
}

// GetClient returns the client with the given ID together with the current
// server state, as one consistent snapshot.
func (s *Store) GetClient(id string) (Client, ServerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findClient(id)
}

// IssueToken creates a one-time download token for an existing client.
// A non-positive ttl falls back to DefaultLinkTTL. The client's own expiry
// is not checked here; an expired client simply fails at redemption.
func (s *Store) IssueToken(clientID string, ttl time.Duration) (DownloadToken, error) {
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, err := s.findClient(clientID); err != nil {
		return DownloadToken{}, err
	}

	tokens, err := s.loadTokens()
	if err != nil {
		return DownloadToken{}, err
	}

	t := DownloadToken{
		Token:     randomToken(32),
		ClientID:  clientID,
		ExpiresAt: time.Now().Add(ttl).UTC(),
	}
	tokens = append(tokens, t)
	if err := s.saveTokens(tokens); err != nil {
		return DownloadToken{}, err
	}
	return t, nil
}

// RedeemToken consumes a download token and returns the client it grants
// access to. The lookup and the used-mark happen in the same critical
// section, so two concurrent redemptions can never both succeed.
func (s *Store) RedeemToken(token string) (Client, ServerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.loadTokens()
	if err != nil {
		return Client{}, ServerState{}, err
	}

	idx := -1
	for i := range tokens {
		if tokens[i].Token == token {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Client{}, ServerState{}, ErrTokenNotFound
	}
	if tokens[idx].Used || time.Now().After(tokens[idx].ExpiresAt) {
		return Client{}, ServerState{}, ErrTokenConsumed
	}

	c, st, err := s.findClient(tokens[idx].ClientID)
	if err != nil {
		return Client{}, ServerState{}, ErrClientGone
	}
	if c.Expired(time.Now()) {
		return Client{}, ServerState{}, ErrClientGone
	}

	tokens[idx].Used = true
	if err := s.saveTokens(tokens); err != nil {
		return Client{}, ServerState{}, err
	}
	return c, st, nil
}

// findClient must be called with the lock held.
func (s *Store) findClient(id string) (Client, ServerState, error) {
	st, err := s.readServerState()
	if err != nil {
		return Client{}, st, err
	}
	clients, err := s.loadClients()
	if err != nil {
		return Client{}, st, err
	}
	for _, c := range clients {
		if c.ID == id {
			return c, st, nil
		}
	}
	return Client{}, st, ErrClientNotFound
}

func (s *Store) readServerState() (ServerState, error) {
	var st ServerState
	b, err := os.ReadFile(s.serverStatePath())
	if err != nil {
		return st, fmt.Errorf("read server state: %w", err)
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, fmt.Errorf("parse server state: %w", err)
	}
	return st, nil
}

func (s *Store) writeServerState(st ServerState) error {
	return writeSnapshot(s.serverStatePath(), st)
}

func (s *Store) loadClients() ([]Client, error) {
	var clients []Client
	if err := loadSnapshot(s.clientsPath(), &clients); err != nil {
		return nil, err
	}
	if clients == nil {
		clients = []Client{}
	}
	return clients, nil
}

func (s *Store) saveClients(clients []Client) error {
	return writeSnapshot(s.clientsPath(), clients)
}

func (s *Store) loadTokens() ([]DownloadToken, error) {
	var tokens []DownloadToken
	if err := loadSnapshot(s.tokensPath(), &tokens); err != nil {
		return nil, err
	}
	if tokens == nil {
		tokens = []DownloadToken{}
	}
	return tokens, nil
}

func (s *Store) saveTokens(tokens []DownloadToken) error {
	return writeSnapshot(s.tokensPath(), tokens)
}

// loadSnapshot reads a whole-collection snapshot file. A missing file is an
// empty collection, not an error.
func loadSnapshot(path string, v any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeSnapshot replaces a snapshot file atomically so a crashed write can
// never leave a half-written collection behind.
func writeSnapshot(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := renameio.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func randomToken(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
