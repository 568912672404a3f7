// Package httpapi implements the HTTP/SSE surface (A6): a chi-routed REST
// API over the configuration façade, the runner registry, and the group
// sequencer, plus a server-sent-events stream of the event broker.
package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cuemby/runnerd/pkg/config"
	"github.com/cuemby/runnerd/pkg/events"
	"github.com/cuemby/runnerd/pkg/log"
	"github.com/cuemby/runnerd/pkg/notify"
	"github.com/cuemby/runnerd/pkg/security"
	"github.com/cuemby/runnerd/pkg/storage"
	"github.com/cuemby/runnerd/pkg/supervise"
	"github.com/cuemby/runnerd/pkg/transport"
)

// heartbeatInterval is how often an idle SSE connection receives a comment
// line to keep intermediaries from closing it.
const heartbeatInterval = 15 * time.Second

// Server wires the configuration façade, runner registry, and event broker
// to a chi router.
type Server struct {
	facade   *config.Facade
	store    storage.Store
	broker   *events.Broker
	registry *supervise.Registry
	notify   *notify.Worker
	pushover *transport.PushoverClient
	secrets  *security.Manager
	router   chi.Router
}

// NewServer builds the chi router and registers every route from the
// control-operations table. secrets may be nil if no credential encryption
// key is configured.
func NewServer(facade *config.Facade, store storage.Store, broker *events.Broker, registry *supervise.Registry, nw *notify.Worker, pc *transport.PushoverClient, secrets *security.Manager) *Server {
	s := &Server{
		facade:   facade,
		store:    store,
		broker:   broker,
		registry: registry,
		notify:   nw,
		pushover: pc,
		secrets:  secrets,
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP lets Server satisfy http.Handler directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(basicAuthFromEnv())

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleGetState)
		r.Put("/state", s.handleSaveState)
		r.Get("/status", s.handleStatus)

		r.Post("/runners/{id}/run", s.handleRunRunner)
		r.Post("/runners/{id}/stop", s.handleStopRunner)
		r.Post("/runners/{id}/clone", s.handleCloneRunner)
		r.Get("/runners/{id}/log", s.handleGetLog)
		r.Delete("/runners/{id}/log", s.handleClearLog)

		r.Post("/groups/{id}/run", s.handleRunGroup)
		r.Post("/groups/{id}/stop", s.handleStopGroup)

		r.Get("/export", s.handleExport)
		r.Post("/import", s.handleImport)

		r.Post("/notify-profiles/{id}/test", s.handlePushoverTest)

		r.Get("/notifications", s.handleListNotifications)
		r.Delete("/notifications", s.handleClearNotifications)

		r.Get("/events", s.handleEvents)
	})

	return r
}

// requestLogger logs each request at debug level through the component
// logger, mirroring the teacher's zerolog-based access logging.
func requestLogger(next http.Handler) http.Handler {
	logger := log.WithComponent("httpapi")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// basicAuthFromEnv gates every route behind HTTP basic auth when both
// RUNNERD_AUTH_USER and RUNNERD_AUTH_PASSWORD are set; otherwise it is a
// no-op, matching the original's optional single-tenant auth gate.
func basicAuthFromEnv() func(http.Handler) http.Handler {
	user := os.Getenv("RUNNERD_AUTH_USER")
	pass := os.Getenv("RUNNERD_AUTH_PASSWORD")
	if user == "" || pass == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.BasicAuth("runnerd", map[string]string{user: pass})
}
