// Package web exposes the tracker over HTTP: trigger operations, aggregate
// reads for the dashboard and an SSE stream of the live snapshot.
package web

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/perptrack/perptrack/internal/domain"
	"github.com/perptrack/perptrack/internal/services/tracker"
)

const livePollInterval = 2 * time.Second

type trackerService interface {
	InitBaseline(ctx context.Context) (domain.TrackState, bool, error)
	Refresh(ctx context.Context) (tracker.RefreshResult, error)
	BackfillWinLoss() (wins, losses int, err error)
	ExportAll() (tracker.Dump, error)
}

type liveReader interface {
	Load() (domain.LiveMetrics, bool, error)
}

type dailyReader interface {
	Days() map[string]domain.DailyMetrics
	SortedDates() []string
}

type eventReader interface {
	All() []domain.LedgerEvent
}

// Server serves the tracker API.
type Server struct {
	Addr      string
	AuthToken string

	svc    trackerService
	live   liveReader
	daily  dailyReader
	events eventReader
	logger *zap.Logger
}

// NewServer creates the API server. An empty authToken disables auth.
func NewServer(addr, authToken string, svc trackerService, live liveReader,
	daily dailyReader, events eventReader, logger *zap.Logger) *Server {
	return &Server{
		Addr:      addr,
		AuthToken: authToken,
		svc:       svc,
		live:      live,
		daily:     daily,
		events:    events,
		logger:    logger,
	}
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/init", s.handleInit)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/backfill", s.handleBackfill)
	mux.HandleFunc("GET /api/live", s.handleLive)
	mux.HandleFunc("GET /api/daily", s.handleDaily)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/dump", s.handleDump)
	mux.HandleFunc("GET /live/stream", s.handleLiveStream)
	return s.authenticate(mux)
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic certificates via ACME,
// plus an HTTP server on port 80 for the HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(domains) == 0 {
		return fmt.Errorf("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		_ = httpsSrv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("acme http server", zap.Error(err))
		}
	}()

	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// authenticate rejects requests without the configured bearer token.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AuthToken != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.AuthToken)) != 1 {
				s.writeError(w, domain.ErrUnauthenticated)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	state, created, err := s.svc.InitBaseline(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := "already_initialized"
	if created {
		status = "initialized"
	}
	s.writeJSON(w, map[string]any{"status": status, "state": state})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Refresh(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, result)
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	wins, losses, err := s.svc.BackfillWinLoss()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]int{"wins": wins, "losses": losses})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	metrics, ok, err := s.live.Load()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		s.writeError(w, domain.ErrNotInitialized)
		return
	}
	s.writeJSON(w, metrics)
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	days := s.daily.Days()
	out := make([]domain.DailyMetrics, 0, len(days))
	for _, date := range s.daily.SortedDates() {
		out = append(out, days[date])
	}
	s.writeJSON(w, out)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.events.All())
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	dump, err := s.svc.ExportAll()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, dump)
}

// handleLiveStream pushes the live snapshot over SSE whenever it changes.
func (s *Server) handleLiveStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// comment heartbeat so proxies keep the connection open
	heartbeat := time.NewTicker(20 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(livePollInterval)
	defer pollTicker.Stop()

	var lastSent int64 = -1
	send := func() error {
		metrics, ok, err := s.live.Load()
		if err != nil || !ok {
			return err
		}
		if metrics.LastUpdatedAt == lastSent {
			return nil
		}
		payload, err := json.Marshal(metrics)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "event: live\n")
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		lastSent = metrics.LastUpdatedAt
		return nil
	}

	if err := send(); err != nil {
		http.Error(w, "failed to load live metrics", http.StatusInternalServerError)
		s.logger.Error("live stream initial load", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := send(); err != nil {
				s.logger.Error("live stream poll", zap.Error(err))
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

// writeError maps the error taxonomy onto HTTP statuses and reports a single
// human-readable message.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotInitialized):
		status = http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrRefreshInFlight):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
