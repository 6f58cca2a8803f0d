package httpapi

import (
	"context"
	"net/http"
	"time"

	"subsync/internal/audit"
	"subsync/internal/config"
	"subsync/internal/store"
	"subsync/pkg/icron"
)

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

// ScanTrigger is the scan surface the server exposes: run a library scan
// on demand and report when the scheduled one fires.
type ScanTrigger interface {
	RunNow(ctx context.Context)
	Trigger() (*icron.TriggerInfo, error)
}

// AuditTrigger is the same surface for the consistency audit.
type AuditTrigger interface {
	RunNow(ctx context.Context) []audit.Finding
	Trigger() (*icron.TriggerInfo, error)
}

type Server struct {
	store *store.Store
	scan  ScanTrigger
	audit AuditTrigger

	settings runtimeSettingsStore
	apply    runtimeSettingsApplier

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithScanService(scan ScanTrigger) Option {
	return func(s *Server) {
		s.scan = scan
	}
}

func WithAuditService(audit AuditTrigger) Option {
	return func(s *Server) {
		s.audit = audit
	}
}

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithRuntimeSettingsApplier(apply runtimeSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

func NewServer(st *store.Store, opts ...Option) *Server {
	s := &Server{
		store: st,
		mux:   http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/files", s.handleListFiles)
	s.mux.HandleFunc("/api/files/", s.handleFile)
	s.mux.HandleFunc("/api/report", s.handleReport)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/scan", s.handleScan)
	s.mux.HandleFunc("/api/audit", s.handleAudit)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
}
