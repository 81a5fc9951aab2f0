package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/awg-tools/awg-manager/internal/metrics"
	"github.com/awg-tools/awg-manager/internal/state"
)

// CreateLinkRequest is the request body for issuing a one-time link.
type CreateLinkRequest struct {
	TTLSeconds *int `json:"ttlSeconds"`
}

// CreateLinkResponse is returned after a one-time link is issued.
type CreateLinkResponse struct {
	URLPath   string `json:"urlPath"`
	ExpiresAt string `json:"expiresAt"`
}

// handleLinkCreate issues a one-time download link for a client. A missing
// or non-positive ttl falls back to the default.
func (s *Server) handleLinkCreate(w http.ResponseWriter, r *http.Request, id string) {
	var req CreateLinkRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	var ttl time.Duration
	if req.TTLSeconds != nil {
		ttl = time.Duration(*req.TTLSeconds) * time.Second
	}

	t, err := s.store.IssueToken(id, ttl)
	if err != nil {
		if errors.Is(err, state.ErrClientNotFound) {
			s.jsonError(w, "not found", http.StatusNotFound)
		} else {
			s.jsonError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	metrics.LinksIssued.Inc()
	log.Info().Str("client", id).Time("expires_at", t.ExpiresAt).Msg("one-time link issued")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(CreateLinkResponse{
		URLPath:   "/dl/" + t.Token,
		ExpiresAt: t.ExpiresAt.Format(time.RFC3339),
	})
}

// handleDownload redeems a one-time link on the public path. The token is
// consumed atomically with the lookup, so a link can never be downloaded
// twice.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/dl/"))
	if token == "" {
		s.jsonError(w, "not found", http.StatusNotFound)
		return
	}

	c, st, err := s.store.RedeemToken(token)
	if err != nil {
		switch {
		case errors.Is(err, state.ErrTokenNotFound):
			s.jsonError(w, "not found", http.StatusNotFound)
		case errors.Is(err, state.ErrTokenConsumed), errors.Is(err, state.ErrClientGone):
			s.jsonError(w, "gone", http.StatusGone)
		default:
			s.jsonError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	metrics.LinksRedeemed.Inc()
	log.Info().Str("client", c.ID).Msg("one-time link redeemed")
	s.writeClientConfig(w, c, st)
}
