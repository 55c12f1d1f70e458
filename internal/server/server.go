// Package server serves build outputs to the browser and pushes reloads to it.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
)

// Options configures a Server.
type Options struct {
	Host string
	Port int
	// Roots are searched in order; the first root holding the path wins.
	Roots      []string
	LiveReload bool
	LogPrefix  string
	// Metrics, when set, is mounted at /metrics.
	Metrics  http.Handler
	Recorder metrics.Recorder
	Logger   *slog.Logger
}

// Server is the development/static file server.
type Server struct {
	opts   Options
	hub    *LiveReloadHub
	logger *slog.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan error
}

// New builds a server. Nothing listens until Start.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.LogPrefix != "" {
		logger = logger.With(slog.String("prefix", opts.LogPrefix))
	}
	s := &Server{opts: opts, logger: logger}
	if opts.LiveReload {
		s.hub = NewLiveReloadHub(opts.Recorder, logger)
	}
	return s
}

// Handler returns the routing of the server without listening.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	var files http.Handler = &rootsHandler{roots: s.opts.Roots}
	if s.hub != nil {
		mux.Handle("/livereload", s.hub)
		mux.HandleFunc("/livereload.js", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
			if _, err := w.Write([]byte(Script)); err != nil {
				s.logger.Error("failed to write livereload script", "error", err)
			}
		})
		files = injectLiveReload(files)
	}
	if s.opts.Metrics != nil {
		mux.Handle("/metrics", s.opts.Metrics)
	}
	mux.Handle("/", files)
	return withRequestLog(s.logger, mux)
}

// Start binds the listener and serves in the background.
func (s *Server) Start(_ context.Context) error {
	addr := net.JoinHostPort(s.opts.Host, fmt.Sprint(s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return ferrors.NetworkError(fmt.Sprintf("listen on %s", addr)).
			WithCause(err).
			WithContext("addr", addr).
			Build()
	}
	return s.StartWithListener(ln)
}

// StartWithListener serves on an existing listener.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return ferrors.RuntimeError("server already started").Build()
	}
	s.listener = ln
	// Live-reload streams are long lived; no write timeout.
	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second, IdleTimeout: 300 * time.Second}
	s.done = make(chan error, 1)
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	s.logger.Info("Serving files", "url", "http://"+ln.Addr().String(), "roots", strings.Join(s.opts.Roots, ","))
	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Reload tells connected browsers to reload. No-op without live reload.
func (s *Server) Reload(hash string) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(hash)
}

// LiveReload reports whether browsers are reloaded by this server.
func (s *Server) LiveReload() bool { return s.hub != nil }

// Shutdown stops the live-reload hub first so SSE streams do not hold the server open.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if s.hub != nil {
		s.hub.Shutdown()
	}
	if err := srv.Shutdown(ctx); err != nil {
		return ferrors.RuntimeError("server shutdown").WithCause(err).Build()
	}
	return <-done
}

// rootsHandler serves a path from the first root that contains it.
type rootsHandler struct {
	roots []string
}

func (h *rootsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	clean := path.Clean("/" + r.URL.Path)
	for _, root := range h.roots {
		full := filepath.Join(root, filepath.FromSlash(clean))
		fi, err := os.Stat(full)
		if err != nil {
			continue
		}
		if fi.IsDir() {
			index := filepath.Join(full, "index.html")
			if ifi, err := os.Stat(index); err == nil && !ifi.IsDir() {
				serveFile(w, r, index)
				return
			}
			continue
		}
		serveFile(w, r, full)
		return
	}
	http.NotFound(w, r)
}

func serveFile(w http.ResponseWriter, r *http.Request, name string) {
	f, err := os.Open(name) // #nosec G304 -- name is confined to a configured root
	if err != nil {
		http.Error(w, "cannot open file", http.StatusInternalServerError)
		return
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		http.Error(w, "cannot stat file", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}
