package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/guitarbeat/actual-ical/internal/config"
	"github.com/guitarbeat/actual-ical/internal/feed"
	appLog "github.com/guitarbeat/actual-ical/internal/log"
	"github.com/guitarbeat/actual-ical/internal/sched"
)

// FeedGenerator is the core contract the HTTP layer consumes.
type FeedGenerator interface {
	Generate(ctx context.Context) (*feed.Feed, error)
}

// Server exposes the calendar feed over HTTP: /calendar.ics for the feed,
// / for a small status page and /health for liveness.
type Server struct {
	cfg       *config.Config
	generator FeedGenerator
	mux       *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, generator FeedGenerator) *Server {
	s := &Server{
		cfg:       cfg,
		generator: generator,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
}

// Handler returns the underlying http.Handler, wrapped with basic auth when
// credentials are configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

// handleCalendar generates the feed under a request-scoped timeout. A
// structured fetch failure is rendered as a 500 with its message; no raw
// backend error ever reaches the client.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout())
	defer cancel()

	start := time.Now()
	f, err := s.generator.Generate(ctx)
	if err != nil {
		s.renderFailure(w, err)
		return
	}

	appLog.Info("calendar feed served",
		"schedules", f.ScheduleCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="schedules.ics"`)
	fmt.Fprint(w, f.ICS)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>actual-ical</title></head>
<body>
<h1>actual-ical</h1>
<p>Budget schedules as a calendar feed.</p>
<p><a href="/calendar.ics">calendar.ics</a> &middot; timezone %s</p>
</body>
</html>
`, html.EscapeString(s.cfg.Timezone))
}

func (s *Server) renderFailure(w http.ResponseWriter, err error) {
	var failure *sched.Failure
	if errors.As(err, &failure) {
		appLog.Error("feed generation failed", failure, "category", string(failure.Category))
		http.Error(w, failure.Message, http.StatusInternalServerError)
		return
	}
	appLog.Error("feed generation failed", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password is treated as disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health stays reachable for probes without credentials.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="actual-ical", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
