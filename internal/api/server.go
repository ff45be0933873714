// SPDX-License-Identifier: MIT

// Package api exposes the attendance protocol over HTTP: teacher-facing
// session and chain controls, the student scan endpoints, dashboard reads,
// and the realtime negotiate handshake. Errors leave as RFC 7807 problem
// documents carrying the stable protocol code.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/chainpass/chainpass/internal/anticheat"
	"github.com/chainpass/chainpass/internal/api/middleware"
	"github.com/chainpass/chainpass/internal/attendance"
	"github.com/chainpass/chainpass/internal/audit"
	"github.com/chainpass/chainpass/internal/auth"
	"github.com/chainpass/chainpass/internal/chain"
	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/health"
	"github.com/chainpass/chainpass/internal/log"
	"github.com/chainpass/chainpass/internal/scan"
	"github.com/chainpass/chainpass/internal/session"
)

// Config carries the HTTP-layer settings the server needs beyond its
// injected services.
type Config struct {
	// PublicBaseURL is the externally reachable base; scan links and the
	// websocket URL advertised by negotiate are derived from it.
	PublicBaseURL string
	CORSOrigins   []string
	RateLimitRPM  int
	// TracingService enables the tracing middleware when non-empty.
	TracingService string

	// DefaultChainLength fills in the chain count when a seed request
	// omits k.
	DefaultChainLength int

	RealtimeEnabled bool
	NegotiateTTL    time.Duration
}

// Server hosts the HTTP API. All state lives in the injected services; the
// server itself only translates between HTTP and the domain.
type Server struct {
	conf     Config
	sessions *session.Service
	chains   *chain.Service
	pipeline *scan.Pipeline
	records  *attendance.Service
	scans    *anticheat.Recorder
	resolver *auth.Resolver
	audit    *audit.Logger
	health   *health.Manager

	// ws serves the realtime websocket endpoint when realtime is enabled.
	ws http.Handler

	logger zerolog.Logger
	now    func() time.Time
}

// NewServer wires the HTTP layer. ws may be nil when realtime is disabled.
func NewServer(
	conf Config,
	sessions *session.Service,
	chains *chain.Service,
	pipeline *scan.Pipeline,
	records *attendance.Service,
	scans *anticheat.Recorder,
	resolver *auth.Resolver,
	auditLog *audit.Logger,
	healthMgr *health.Manager,
	ws http.Handler,
) *Server {
	return &Server{
		conf:     conf,
		sessions: sessions,
		chains:   chains,
		pipeline: pipeline,
		records:  records,
		scans:    scans,
		resolver: resolver,
		audit:    auditLog,
		health:   healthMgr,
		ws:       ws,
		logger:   log.WithComponent("api"),
		now:      time.Now,
	}
}

// Router assembles the middleware stack and the full route table.
func (s *Server) Router() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableCORS:            true,
		AllowedOrigins:        s.conf.CORSOrigins,
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        s.conf.TracingService,
		EnableLogging:         true,
		EnableRateLimit:       s.conf.RateLimitRPM > 0,
		RateLimitRPM:          s.conf.RateLimitRPM,
	})
	r.Use(middleware.Principal(s.resolver, s.audit))

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleSessionCreate)
			r.Get("/", s.handleSessionList)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleSessionGet)
				r.Delete("/", s.handleSessionDelete)
				r.Post("/end", s.handleSessionEnd)

				r.Post("/late-entry/start", s.rotationHandler(domain.TokenLateEntry, "start"))
				r.Post("/late-entry/rotate", s.rotationHandler(domain.TokenLateEntry, "rotate"))
				r.Post("/late-entry/stop", s.rotationHandler(domain.TokenLateEntry, "stop"))
				r.Post("/early-leave/start", s.rotationHandler(domain.TokenEarlyLeave, "start"))
				r.Post("/early-leave/rotate", s.rotationHandler(domain.TokenEarlyLeave, "rotate"))
				r.Post("/early-leave/stop", s.rotationHandler(domain.TokenEarlyLeave, "stop"))

				r.Get("/chains", s.handleChainList)
				r.Post("/chains/seed", s.handleChainSeed)
				r.Post("/chains/reseed", s.handleChainReseed)
				r.Post("/chains/stalled", s.handleChainStalled)

				r.Get("/attendance", s.handleAttendanceList)
				r.Get("/scans", s.handleScanLogList)
			})
		})

		r.Route("/scan", func(r chi.Router) {
			r.Post("/join", s.scanHandler(s.pipeline.Join))
			r.Post("/chain", s.scanHandler(s.pipeline.ScanChain))
			r.Post("/exit-chain", s.scanHandler(s.pipeline.ScanExitChain))
			r.Post("/late-entry", s.scanHandler(s.pipeline.ScanLateEntry))
			r.Post("/early-leave", s.scanHandler(s.pipeline.ScanEarlyLeave))
		})

		r.Post("/realtime/negotiate", s.handleNegotiate)
	})

	if s.ws != nil {
		r.Handle("/realtime/ws", s.ws)
	}

	return r
}

// requirePrincipal extracts the caller identity or writes a 401.
func (s *Server) requirePrincipal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p := auth.FromContext(r.Context())
	if p == nil {
		writeProblem(w, r, domain.E(domain.CodeUnauthorized, "authentication required"))
		return nil, false
	}
	return p, true
}

// requireTeacher extracts the caller identity and enforces the teacher role.
// Failures are audited; the scan endpoints deliberately do not use this so
// rejected attempts still reach the pipeline's scan log.
func (s *Server) requireTeacher(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, ok := s.requirePrincipal(w, r)
	if !ok {
		return nil, false
	}
	if !p.IsTeacher() {
		s.audit.Forbidden(r.Context(), p.UserID, r.URL.Path, "teacher role required")
		writeProblem(w, r, domain.E(domain.CodeForbidden, "teacher role required"))
		return nil, false
	}
	return p, true
}

// websocketURL derives the advertised realtime endpoint from the public base.
func (s *Server) websocketURL() string {
	base := strings.TrimRight(s.conf.PublicBaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/realtime/ws"
}
