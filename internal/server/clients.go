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
	"github.com/awg-tools/awg-manager/internal/wgconf"
)

// CreateClientRequest is the request body for provisioning a client.
type CreateClientRequest struct {
	Name      string  `json:"name"`
	ExpiresAt *string `json:"expiresAt"` // RFC3339, optional
}

// handleClients handles GET (list) and POST (create) on /api/clients.
func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleClientsList(w, r)
	case http.MethodPost:
		s.handleClientCreate(w, r)
	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClientsList(w http.ResponseWriter, _ *http.Request) {
	clients, err := s.store.ListClients()
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]state.ClientPublic, 0, len(clients))
	for _, c := range clients {
		out = append(out, c.Public())
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) handleClientCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "bad json", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		s.jsonError(w, "name required", http.StatusBadRequest)
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil && strings.TrimSpace(*req.ExpiresAt) != "" {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.ExpiresAt))
		if err != nil {
			s.jsonError(w, "expiresAt must be RFC3339", http.StatusBadRequest)
			return
		}
		expiresAt = &t
	}

	c, err := s.store.CreateClient(name, expiresAt, s.applyPeerSet(r.Context()))
	if err != nil {
		var af *state.ApplyFailure
		switch {
		case errors.Is(err, state.ErrPoolExhausted):
			s.jsonError(w, "address allocation failed: "+err.Error(), http.StatusInternalServerError)
		case errors.As(err, &af):
			// The client record is committed; only the push to the live
			// interface failed.
			metrics.ApplyFailures.Inc()
			log.Error().Err(af.Err).Str("client", c.ID).Msg("apply failed after create")
			s.jsonError(w, err.Error(), http.StatusInternalServerError)
		default:
			s.jsonError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	metrics.ClientsCreated.Inc()
	log.Info().Str("client", c.ID).Str("name", c.Name).Str("address", c.Address).Msg("client created")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(c.Public())
}

// handleClientByID dispatches /api/clients/{id}[/config|/qr|/link].
func (s *Server) handleClientByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/clients/")
	parts := strings.Split(rest, "/")
	if len(parts) == 0 || parts[0] == "" {
		s.jsonError(w, "bad request", http.StatusBadRequest)
		return
	}
	id := parts[0]

	if len(parts) == 2 {
		switch {
		case parts[1] == "config" && r.Method == http.MethodGet:
			s.handleClientConfig(w, r, id)
			return
		case parts[1] == "qr" && r.Method == http.MethodGet:
			s.handleClientQR(w, r, id)
			return
		case parts[1] == "link" && r.Method == http.MethodPost:
			s.handleLinkCreate(w, r, id)
			return
		}
	}
	if len(parts) == 1 && r.Method == http.MethodDelete {
		s.handleClientDelete(w, r, id)
		return
	}
	s.jsonError(w, "not found", http.StatusNotFound)
}

func (s *Server) handleClientDelete(w http.ResponseWriter, r *http.Request, id string) {
	err := s.store.DeleteClient(id, s.applyPeerSet(r.Context()))
	if err != nil {
		var af *state.ApplyFailure
		switch {
		case errors.Is(err, state.ErrClientNotFound):
			s.jsonError(w, "not found", http.StatusNotFound)
		case errors.As(err, &af):
			metrics.ApplyFailures.Inc()
			log.Error().Err(af.Err).Str("client", id).Msg("apply failed after delete")
			s.jsonError(w, err.Error(), http.StatusInternalServerError)
		default:
			s.jsonError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	metrics.ClientsDeleted.Inc()
	log.Info().Str("client", id).Msg("client deleted")
	w.WriteHeader(http.StatusNoContent)
}

// handleClientConfig lets the operator download a client's config directly,
// without going through a one-time link.
func (s *Server) handleClientConfig(w http.ResponseWriter, _ *http.Request, id string) {
	c, st, ok := s.activeClient(w, id)
	if !ok {
		return
	}
	s.writeClientConfig(w, c, st)
}

// handleClientQR returns the client config as a PNG QR code for import by
// mobile WireGuard apps.
func (s *Server) handleClientQR(w http.ResponseWriter, _ *http.Request, id string) {
	c, st, ok := s.activeClient(w, id)
	if !ok {
		return
	}

	conf := wgconf.Client(c, st, s.clientOptions())
	png, err := wgconf.QRCodePNG(conf, 256)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// activeClient looks up a client and rejects the request if it is unknown
// or past its expiry. Returns ok=false once a response has been written.
func (s *Server) activeClient(w http.ResponseWriter, id string) (state.Client, state.ServerState, bool) {
	c, st, err := s.store.GetClient(id)
	if err != nil {
		if errors.Is(err, state.ErrClientNotFound) {
			s.jsonError(w, "not found", http.StatusNotFound)
		} else {
			s.jsonError(w, err.Error(), http.StatusInternalServerError)
		}
		return state.Client{}, state.ServerState{}, false
	}
	if c.Expired(time.Now()) {
		s.jsonError(w, "expired", http.StatusGone)
		return state.Client{}, state.ServerState{}, false
	}
	return c, st, true
}
