/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package apiserver exposes the orchestrator's REST surface. Handlers stay
// thin: decode, delegate to the session controller, encode the envelope.
package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/hackdesk/orchestrator/pkg/auth"
	"github.com/hackdesk/orchestrator/pkg/controllers/session"
	"github.com/hackdesk/orchestrator/pkg/operator/options"
	"github.com/hackdesk/orchestrator/pkg/providers/usage"
)

type Server struct {
	opts     *options.Options
	sessions *session.Controller
	usage    usage.Provider
	verifier *auth.Verifier
	logger   *zap.SugaredLogger
	clk      clock.Clock
	server   *http.Server
}

func NewServer(opts *options.Options, sessions *session.Controller, usageProvider usage.Provider,
	verifier *auth.Verifier, logger *zap.SugaredLogger, clk clock.Clock) *Server {
	s := &Server{
		opts:     opts,
		sessions: sessions,
		usage:    usageProvider,
		verifier: verifier,
		logger:   logger,
		clk:      clk,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.HTTPPort),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleCreate)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleStatus)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleTerminate)
	mux.HandleFunc("POST /v1/sessions/{id}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /v1/owners/{ownerId}/sessions", s.handleOwnerSessions)
	mux.HandleFunc("GET /v1/admin/sessions", s.handleAdminSessions)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("GET /v1/usage/{userId}", s.handleUsageFor)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return s.withMiddleware(mux)
}

// Handler returns the routed middleware stack.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Infow("api server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving api, %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
