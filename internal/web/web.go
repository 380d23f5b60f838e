package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"sync"
	"time"

	"it8951e/internal/battery"
	"it8951e/internal/config"
	"it8951e/internal/it8951"
	"it8951e/internal/log"
	"it8951e/internal/preview"
)

// Display is the part of the driver the API drives.
type Display interface {
	Update(ctx context.Context) error
	Clear(ctx context.Context) error
	Reset(ctx context.Context) error
	Status() it8951.Status
	Snapshot() image.Image
}

// Pager switches the page rotation.
type Pager interface {
	Next()
	Current() (int, string)
}

// Server provides the HTTP control API.
type Server struct {
	cfg     *config.Config
	display Display
	pager   Pager
	battery battery.Reader
	mux     *http.ServeMux

	// Battery status does not need sub-second precision; cache it so
	// status polling does not hit I2C on every request.
	batteryMu    sync.RWMutex
	batteryCache *batteryCache
}

type batteryCache struct {
	status    *battery.Status
	updatedAt time.Time
}

const batteryCacheTTL = 30 * time.Second

// NewServer constructs a new Server. pager and br may be nil.
func NewServer(cfg *config.Config, display Display, pager Pager, br battery.Reader) *Server {
	if br == nil {
		br = battery.None{}
	}
	s := &Server{
		cfg:     cfg,
		display: display,
		pager:   pager,
		battery: br,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		log.Info("HTTP basic auth enabled", "listen", s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. An empty
// username or password disables it.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="it8951e", charset="UTF-8"`)
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

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/clear", s.handleClear)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/reset", s.handleReset)
	s.mux.HandleFunc("POST /api/pages/next", s.handleNextPage)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	Display it8951.Status   `json:"display"`
	Page    *pageInfo       `json:"page,omitempty"`
	Battery *battery.Status `json:"battery,omitempty"`
}

type pageInfo struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Display: s.display.Status(),
		Battery: s.readBattery(r.Context()),
	}
	if s.pager != nil {
		i, name := s.pager.Current()
		resp.Page = &pageInfo{Index: i, Name: name}
	}
	writeJSON(w, http.StatusOK, resp)
}

// readBattery returns the cached gauge reading, refreshing it after
// batteryCacheTTL. A failed read is cached as unknown.
func (s *Server) readBattery(ctx context.Context) *battery.Status {
	now := time.Now()
	s.batteryMu.RLock()
	bc := s.batteryCache
	s.batteryMu.RUnlock()
	if bc != nil && now.Sub(bc.updatedAt) < batteryCacheTTL {
		return bc.status
	}

	var status *battery.Status
	st, err := s.battery.Read(ctx)
	switch {
	case err == nil:
		status = &st
	case !errors.Is(err, battery.ErrNoGauge):
		log.Error("battery read failed", err)
	}
	s.batteryMu.Lock()
	s.batteryCache = &batteryCache{status: status, updatedAt: now}
	s.batteryMu.Unlock()
	return status
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.act(w, "clear", s.display.Clear(r.Context()))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.act(w, "refresh", s.display.Update(r.Context()))
}

// handleReset re-runs the display setup. It is the way out of a fault.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.act(w, "reset", s.display.Reset(r.Context()))
}

func (s *Server) handleNextPage(w http.ResponseWriter, r *http.Request) {
	if s.pager == nil {
		writeError(w, http.StatusNotFound, "no pages configured")
		return
	}
	s.pager.Next()
	s.act(w, "next page", s.display.Update(r.Context()))
}

// act answers an action with the resulting display status, or the error.
func (s *Server) act(w http.ResponseWriter, name string, err error) {
	if err != nil {
		log.Error("api "+name+" failed", err)
		code := http.StatusInternalServerError
		if errors.Is(err, it8951.ErrFaulted) || errors.Is(err, it8951.ErrNotSetup) {
			code = http.StatusServiceUnavailable
		}
		writeError(w, code, err.Error())
		return
	}
	log.Info("api "+name, "state", s.display.Status().State)
	writeJSON(w, http.StatusOK, s.display.Status())
}

// handlePreview renders the current frame buffer as PNG.
func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	img := s.display.Snapshot()
	if img == nil {
		writeError(w, http.StatusServiceUnavailable, "display not set up")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := preview.EncodePNG(w, img); err != nil {
		log.Error("preview encode failed", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
