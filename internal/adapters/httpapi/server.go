package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// Controller es la superficie del engine que expone la API.
type Controller interface {
	Snapshot() domain.PortfolioState
	ClosedPositions() []domain.Position
	Wallets() []domain.WalletRecord
	EmergencyStop(ctx context.Context, reason string)
	TripBreaker(ctx context.Context, reason string)
	Rearm(ctx context.Context)
}

// Config del servidor HTTP de control.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server sirve el dashboard JSON, los controles del breaker y /metrics.
type Server struct {
	ctrl    Controller
	metrics http.Handler // optional
	router  *mux.Router
	server  *http.Server
}

// NewServer crea el servidor. metrics puede ser nil.
func NewServer(cfg Config, ctrl Controller, metrics http.Handler) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	s := &Server{ctrl: ctrl, metrics: metrics, router: mux.NewRouter()}
	s.routes()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler devuelve el router, para tests y para montarlo en otro servidor.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.Use(requestLogging)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(jsonContentType)
	api.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	api.HandleFunc("/portfolio", s.portfolio).Methods(http.MethodGet)
	api.HandleFunc("/positions/closed", s.closed).Methods(http.MethodGet)
	api.HandleFunc("/wallets", s.wallets).Methods(http.MethodGet)
	api.HandleFunc("/emergency-stop", s.emergencyStop).Methods(http.MethodPost)
	api.HandleFunc("/emergency", s.emergency).Methods(http.MethodPost)
	api.HandleFunc("/rearm", s.rearm).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
}

// Run sirve hasta que ctx se cancele y luego hace un shutdown ordenado.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("httpapi: listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("httpapi.Run: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpapi.Run: shutdown: %w", err)
	}
	slog.Info("httpapi: stopped")
	return nil
}

// --- handlers ---

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	snap := s.ctrl.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"breaker": snap.Breaker.Status,
		"time":    time.Now().UTC(),
	})
}

func (s *Server) portfolio(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toPortfolioView(s.ctrl.Snapshot()))
}

func (s *Server) closed(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	all := s.ctrl.ClosedPositions()
	out := make([]positionView, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, toPositionView(all[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) wallets(w http.ResponseWriter, _ *http.Request) {
	recs := s.ctrl.Wallets()
	out := make([]walletView, 0, len(recs))
	for _, r := range recs {
		out = append(out, toWalletView(r))
	}
	writeJSON(w, http.StatusOK, out)
}

type stopRequest struct {
	Reason string `json:"reason"`
}

// decodeStop lee el body opcional {"reason": ...}. Escribe el 400 y devuelve
// false si no es JSON válido.
func decodeStop(w http.ResponseWriter, r *http.Request) (stopRequest, bool) {
	var req stopRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body"})
			return req, false
		}
	}
	return req, true
}

func (s *Server) emergencyStop(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeStop(w, r)
	if !ok {
		return
	}
	s.ctrl.EmergencyStop(r.Context(), req.Reason)
	slog.Error("httpapi: EMERGENCY STOP requested", "reason", req.Reason, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, toBreakerView(s.ctrl.Snapshot().Breaker))
}

// emergency señala una emergencia externa: el breaker salta con cooldown y se
// rearma solo, a diferencia de /emergency-stop.
func (s *Server) emergency(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeStop(w, r)
	if !ok {
		return
	}
	s.ctrl.TripBreaker(r.Context(), req.Reason)
	slog.Error("httpapi: external emergency signaled", "reason", req.Reason, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, toBreakerView(s.ctrl.Snapshot().Breaker))
}

func (s *Server) rearm(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Rearm(r.Context())
	slog.Warn("httpapi: breaker rearmed", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, toBreakerView(s.ctrl.Snapshot().Breaker))
}

// --- middleware ---

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)

		rw := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		slog.Debug("httpapi: request",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration", time.Since(start),
		)
	})
}

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("httpapi: encode response", "err", err)
	}
}
