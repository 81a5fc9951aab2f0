// Package server implements the HTTP management API for the gateway: the
// admin endpoints for provisioning clients and issuing one-time download
// links, and the public token-gated download path.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/awg-tools/awg-manager/internal/apply"
	"github.com/awg-tools/awg-manager/internal/config"
	"github.com/awg-tools/awg-manager/internal/metrics"
	"github.com/awg-tools/awg-manager/internal/state"
	"github.com/awg-tools/awg-manager/internal/wgconf"
)

// ErrorResponse is the JSON body returned for failed requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// Server is the management HTTP server.
type Server struct {
	cfg     *config.Config
	mux     *http.ServeMux
	store   *state.Store
	applier apply.Applier
}

// New creates the management server and registers its routes.
func New(cfg *config.Config, store *state.Store, applier apply.Applier) *Server {
	s := &Server{
		cfg:     cfg,
		mux:     http.NewServeMux(),
		store:   store,
		applier: applier,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/clients", s.withAuth(s.handleClients))
	s.mux.HandleFunc("/api/clients/", s.withAuth(s.handleClientByID))
	s.mux.HandleFunc("/dl/", s.handleDownload)
	s.mux.Handle("/metrics", metrics.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the management server.
func (s *Server) ListenAndServe() error {
	log.Info().Str("listen", s.cfg.Listen).Msg("starting management server")
	return http.ListenAndServe(s.cfg.Listen, s)
}

// withAuth guards administrative endpoints with the configured bearer
// credential, compared in constant time.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		got := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminToken)) != 1 {
			s.jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// applyPeerSet returns the callback the store runs inside its critical
// section after a mutation: render the full peer set and push it to the
// live interface.
func (s *Server) applyPeerSet(ctx context.Context) state.ApplyFunc {
	return func(st state.ServerState, clients []state.Client) error {
		conf := wgconf.Gateway(st, clients, s.cfg.WireGuard.ListenPort, time.Now())
		return s.applier.Apply(ctx, conf)
	}
}

// clientOptions gathers the render-time inputs for a client config.
func (s *Server) clientOptions() wgconf.ClientOptions {
	extra, allowed := wgconf.LoadOverrides(s.store.Dir())
	return wgconf.ClientOptions{
		Endpoint:       s.cfg.WireGuard.Endpoint,
		ExtraInterface: extra,
		AllowedIPs:     allowed,
	}
}

// writeClientConfig sends a rendered client config as a downloadable
// attachment.
func (s *Server) writeClientConfig(w http.ResponseWriter, c state.Client, st state.ServerState) {
	conf := wgconf.Client(c, st, s.clientOptions())
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.conf"`, sanitizeFilename(c.Name)))
	_, _ = w.Write([]byte(conf))
}

// sanitizeFilename reduces a client name to a safe attachment filename.
func sanitizeFilename(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, s)
	return strings.Trim(s, "-")
}
