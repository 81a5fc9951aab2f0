package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.EnsureServerState("10.8.0.0/24", "10.8.0.1"); err != nil {
		t.Fatalf("failed to ensure server state: %v", err)
	}
	return s
}

func noApply(ServerState, []Client) error { return nil }

func TestEnsureServerState(t *testing.T) {
	s := newTestStore(t)

	st, err := s.readServerState()
	if err != nil {
		t.Fatalf("failed to read server state: %v", err)
	}
	if st.ServerPrivateKey == "" || st.ServerPublicKey == "" {
		t.Error("server keypair should be generated")
	}
	if st.ServerPrivateKey == st.ServerPublicKey {
		t.Error("private and public key should differ")
	}
	if st.NextHost != 2 {
		t.Errorf("cursor should start at 2, got %d", st.NextHost)
	}

	// Second call must not rotate the keypair.
	if err := s.EnsureServerState("10.8.0.0/24", "10.8.0.1"); err != nil {
		t.Fatalf("ensure should be idempotent: %v", err)
	}
	st2, _ := s.readServerState()
	if st2.ServerPrivateKey != st.ServerPrivateKey {
		t.Error("server key must never be regenerated")
	}
}

func TestEnsureServerStateValidation(t *testing.T) {
	tests := []struct {
		name     string
		subnet   string
		serverIP string
	}{
		{"bad cidr", "not-a-cidr", "10.8.0.1"},
		{"not a /24", "10.8.0.0/16", "10.8.0.1"},
		{"server outside subnet", "10.8.0.0/24", "10.9.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStore(t.TempDir())
			if err != nil {
				t.Fatalf("failed to create store: %v", err)
			}
			if err := s.EnsureServerState(tt.subnet, tt.serverIP); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestCreateClient(t *testing.T) {
	s := newTestStore(t)

	applied := 0
	c, err := s.CreateClient("alice", nil, func(st ServerState, clients []Client) error {
		applied++
		if len(clients) != 1 {
			t.Errorf("apply should see the new client, got %d", len(clients))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if applied != 1 {
		t.Errorf("apply should run exactly once, ran %d times", applied)
	}
	if c.ID == "" {
		t.Error("client ID should not be empty")
	}
	if c.Address != "10.8.0.2/32" {
		t.Errorf("first client should get 10.8.0.2/32, got %s", c.Address)
	}
	if c.PublicKey == "" || c.PrivateKey == "" || c.PublicKey == c.PrivateKey {
		t.Error("client keypair should be generated")
	}

	// Persisted snapshot survives a reopen.
	s2, err := NewStore(s.Dir())
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	clients, err := s2.ListClients()
	if err != nil {
		t.Fatalf("failed to list clients: %v", err)
	}
	if len(clients) != 1 || clients[0].ID != c.ID {
		t.Errorf("client record should persist, got %v", clients)
	}
}

func TestCreateClientAddressesDistinct(t *testing.T) {
	s := newTestStore(t)

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		c, err := s.CreateClient("peer", nil, noApply)
		if err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
		if seen[c.Address] {
			t.Fatalf("address %s allocated twice", c.Address)
		}
		if c.Address == "10.8.0.1/32" {
			t.Fatal("client got the gateway's address")
		}
		seen[c.Address] = true
	}
}

func TestCreateClientPoolExhausted(t *testing.T) {
	s := newTestStore(t)

	// Push the cursor past the pool.
	st, _ := s.readServerState()
	st.NextHost = 255
	if err := s.writeServerState(st); err != nil {
		t.Fatalf("failed to write server state: %v", err)
	}

	_, err := s.CreateClient("overflow", nil, noApply)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}

	clients, _ := s.ListClients()
	if len(clients) != 0 {
		t.Error("no client record should be left behind on exhaustion")
	}
}

func TestCreateClientApplyFailureKeepsRecord(t *testing.T) {
	s := newTestStore(t)

	applyErr := errors.New("setconf exploded")
	c, err := s.CreateClient("alice", nil, func(ServerState, []Client) error {
		return applyErr
	})

	var af *ApplyFailure
	if !errors.As(err, &af) {
		t.Fatalf("expected ApplyFailure, got %v", err)
	}
	if !errors.Is(err, applyErr) {
		t.Error("ApplyFailure should wrap the underlying error")
	}

	// The record change is committed, not rolled back.
	clients, _ := s.ListClients()
	if len(clients) != 1 || clients[0].ID != c.ID {
		t.Error("client record should be committed despite apply failure")
	}
}

func TestDeleteClientNeverReusesAddress(t *testing.T) {
	s := newTestStore(t)

	c1, _ := s.CreateClient("first", nil, noApply)
	if err := s.DeleteClient(c1.ID, noApply); err != nil {
		t.Fatalf("failed to delete client: %v", err)
	}

	clients, _ := s.ListClients()
	if len(clients) != 0 {
		t.Error("deleted client should not be listed")
	}

	c2, err := s.CreateClient("second", nil, noApply)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if c2.Address == c1.Address {
		t.Errorf("address %s was reused after delete", c1.Address)
	}
}

func TestDeleteClientNotFound(t *testing.T) {
	s := newTestStore(t)

	applied := false
	err := s.DeleteClient("missing", func(ServerState, []Client) error {
		applied = true
		return nil
	})
	if !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
	if applied {
		t.Error("apply must not run when nothing changed")
	}
}

func TestIssueToken(t *testing.T) {
	s := newTestStore(t)
	c, _ := s.CreateClient("alice", nil, noApply)

	before := time.Now()
	tok, err := s.IssueToken(c.ID, time.Minute)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if tok.Token == "" {
		t.Error("token value should not be empty")
	}
	if tok.Used {
		t.Error("fresh token should not be used")
	}
	got := tok.ExpiresAt.Sub(before)
	if got < 50*time.Second || got > 70*time.Second {
		t.Errorf("expiry should be ~1m ahead, got %v", got)
	}
}

func TestIssueTokenDefaultTTL(t *testing.T) {
	s := newTestStore(t)
	c, _ := s.CreateClient("alice", nil, noApply)

	tok, err := s.IssueToken(c.ID, 0)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if got := time.Until(tok.ExpiresAt); got < 59*time.Minute {
		t.Errorf("default ttl should be one hour, got %v", got)
	}
}

func TestIssueTokenUnknownClient(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.IssueToken("missing", time.Minute); !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
}

func TestRedeemTokenOnce(t *testing.T) {
	s := newTestStore(t)
	c, _ := s.CreateClient("alice", nil, noApply)
	tok, _ := s.IssueToken(c.ID, time.Minute)

	got, _, err := s.RedeemToken(tok.Token)
	if err != nil {
		t.Fatalf("first redemption should succeed: %v", err)
	}
	if got.ID != c.ID {
		t.Errorf("redeemed wrong client: %s", got.ID)
	}

	// Second redemption is permanently refused, regardless of remaining ttl.
	_, _, err = s.RedeemToken(tok.Token)
	if !errors.Is(err, ErrTokenConsumed) {
		t.Fatalf("expected ErrTokenConsumed, got %v", err)
	}
}

func TestRedeemTokenUnknown(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.RedeemToken("never-issued"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestRedeemTokenExpired(t *testing.T) {
	s := newTestStore(t)
	c, _ := s.CreateClient("alice", nil, noApply)

	expired := DownloadToken{
		Token:     "expired-token",
		ClientID:  c.ID,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := s.saveTokens([]DownloadToken{expired}); err != nil {
		t.Fatalf("failed to seed token: %v", err)
	}

	_, _, err := s.RedeemToken("expired-token")
	if !errors.Is(err, ErrTokenConsumed) {
		t.Fatalf("expected ErrTokenConsumed for expired token, got %v", err)
	}
}

func TestRedeemTokenDeletedClient(t *testing.T) {
	s := newTestStore(t)
	c, _ := s.CreateClient("alice", nil, noApply)
	tok, _ := s.IssueToken(c.ID, time.Minute)

	if err := s.DeleteClient(c.ID, noApply); err != nil {
		t.Fatalf("failed to delete client: %v", err)
	}

	_, _, err := s.RedeemToken(tok.Token)
	if !errors.Is(err, ErrClientGone) {
		t.Fatalf("expected ErrClientGone, got %v", err)
	}
}

func TestRedeemTokenExpiredClient(t *testing.T) {
	s := newTestStore(t)
	past := time.Now().Add(-time.Hour)
	c, _ := s.CreateClient("stale", &past, noApply)

	// Issuance does not check client expiry; redemption does.
	tok, err := s.IssueToken(c.ID, time.Minute)
	if err != nil {
		t.Fatalf("issuing for an expired client should succeed: %v", err)
	}

	_, _, err = s.RedeemToken(tok.Token)
	if !errors.Is(err, ErrClientGone) {
		t.Fatalf("expected ErrClientGone, got %v", err)
	}
}

func TestSnapshotFilesAreWholeCollections(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.CreateClient("a", nil, noApply)
	_, _ = s.CreateClient("b", nil, noApply)

	b, err := os.ReadFile(filepath.Join(s.Dir(), "clients.json"))
	if err != nil {
		t.Fatalf("failed to read snapshot: %v", err)
	}
	var clients []Client
	if err := json.Unmarshal(b, &clients); err != nil {
		t.Fatalf("snapshot should be a complete JSON collection: %v", err)
	}
	if len(clients) != 2 {
		t.Errorf("expected 2 clients in snapshot, got %d", len(clients))
	}
}
