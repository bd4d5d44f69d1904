package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/text/language"

	"github.com/hasferrr/mitsuko-client-sub003/internal/config"
	"github.com/hasferrr/mitsuko-client-sub003/internal/session"
	"github.com/hasferrr/mitsuko-client-sub003/internal/termmap"
	"github.com/hasferrr/mitsuko-client-sub003/internal/translator"
)

const defaultStreamInterval = 250 * time.Millisecond

type translationService interface {
	StartTranslation(req translator.Request) (string, error)
	Result(ctx context.Context, id string) (session.Snapshot, error)
	List(ctx context.Context, limit int) ([]session.Snapshot, error)
	Cancel(id string) error
	Delete(ctx context.Context, id string) error
}

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type glossaryStore interface {
	Get(source, target language.Tag) (termmap.TermMap, error)
	Put(source, target language.Tag, tm termmap.TermMap) error
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

type Server struct {
	translations translationService
	settings     runtimeSettingsStore
	apply        runtimeSettingsApplier
	glossaries   glossaryStore

	streamInterval time.Duration

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

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

func WithGlossaryStore(store glossaryStore) Option {
	return func(s *Server) {
		s.glossaries = store
	}
}

// WithStreamInterval sets how often a session stream is polled for changes.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(translations translationService, opts ...Option) *Server {
	s := &Server{
		translations:   translations,
		streamInterval: defaultStreamInterval,
		mux:            http.NewServeMux(),
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
	s.mux.HandleFunc("/api/translations", s.handleTranslations)
	s.mux.HandleFunc("/api/translations/", s.handleTranslation)
	s.mux.HandleFunc("/api/parse", s.handleParse)
	s.mux.HandleFunc("/api/repair", s.handleRepair)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.HandleFunc("/api/glossary", s.handleGlossary)
	s.mux.Handle("/metrics", promhttp.Handler())
}
