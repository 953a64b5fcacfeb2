// Package server exposes parking checks over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timvw/park-patrol/internal/history"
	"github.com/timvw/park-patrol/internal/model"
	"github.com/timvw/park-patrol/internal/orchestrator"
	"github.com/timvw/park-patrol/internal/parkcontext"
)

// DefaultMaxImageBytes bounds uploaded images.
const DefaultMaxImageBytes = 10 << 20

// Service runs checks. *orchestrator.Orchestrator implements it.
type Service interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	Extract(ctx context.Context, image []byte) (*orchestrator.Result, error)
	Decide(ctx context.Context, signText string, ov parkcontext.Overrides) (*orchestrator.Result, error)
	Status() orchestrator.Status
	UpdateProviders(vision, decision model.Selector) error
}

// HistorySource lists recent checks. *history.Store implements it.
type HistorySource interface {
	Snapshot(now time.Time) []history.Entry
	Get(id string) (history.Entry, bool)
}

// Server wires HTTP endpoints to the orchestrator.
type Server struct {
	svc      Service
	history  HistorySource
	log      *slog.Logger
	metrics  *Metrics
	gatherer prometheus.Gatherer
	addr     string
	maxBytes int64
	timeout  time.Duration
	now      func() time.Time
	router   chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithHistory enables the history endpoints.
func WithHistory(h HistorySource) Option {
	return func(s *Server) { s.history = h }
}

// WithMetrics enables request metrics and serves g on /metrics.
func WithMetrics(m *Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithMaxImageBytes bounds uploaded images.
func WithMaxImageBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithRequestTimeout bounds each check. Zero leaves checks unbounded.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a server listening on addr.
func New(addr string, svc Service, opts ...Option) *Server {
	s := &Server{
		svc:      svc,
		log:      slog.Default(),
		addr:     addr,
		maxBytes: DefaultMaxImageBytes,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/decisions", s.handleDecision)
		r.Post("/decisions/text", s.handleDecisionFromText)
		r.Post("/extractions", s.handleExtraction)
		r.Get("/providers", s.handleGetProviders)
		r.Put("/providers", s.handlePutProviders)
		if s.history != nil {
			r.Get("/history", s.handleHistory)
			r.Get("/history/{id}", s.handleHistoryEntry)
		}
	})
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("http server listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDecision handles POST /v1/decisions.
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	img, ok := s.readImage(w, r)
	if !ok {
		return
	}
	ov, err := parseOverrides(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	ctx, cancel := s.checkContext(r)
	defer cancel()
	start := time.Now()
	res, err := s.svc.Run(ctx, orchestrator.Request{Image: img, Overrides: ov})
	s.respondCheck(w, r, "decision", res, err, start)
}

// decideTextRequest is the body of POST /v1/decisions/text.
type decideTextRequest struct {
	SignText    string    `json:"sign_text"`
	VehicleType string    `json:"vehicle_type,omitempty"`
	At          time.Time `json:"at,omitempty"`
}

// handleDecisionFromText handles POST /v1/decisions/text.
func (s *Server) handleDecisionFromText(w http.ResponseWriter, r *http.Request) {
	var req decideTextRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, s.maxBytes)).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	var ov parkcontext.Overrides
	if req.VehicleType != "" {
		vt, err := model.ParseVehicleType(req.VehicleType)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		ov.VehicleType = vt
	}
	ov.At = req.At

	ctx, cancel := s.checkContext(r)
	defer cancel()
	start := time.Now()
	res, err := s.svc.Decide(ctx, req.SignText, ov)
	s.respondCheck(w, r, "decision", res, err, start)
}

// handleExtraction handles POST /v1/extractions.
func (s *Server) handleExtraction(w http.ResponseWriter, r *http.Request) {
	img, ok := s.readImage(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.checkContext(r)
	defer cancel()
	start := time.Now()
	res, err := s.svc.Extract(ctx, img)
	s.respondCheck(w, r, "extraction", res, err, start)
}

func (s *Server) respondCheck(w http.ResponseWriter, r *http.Request, what string, res *orchestrator.Result, err error, start time.Time) {
	reqID := middleware.GetReqID(r.Context())
	if err != nil {
		if what == "decision" {
			s.metrics.IncrementDecision(string(model.KindOf(err)))
		}
		s.log.ErrorContext(r.Context(), what+" failed",
			"http_request_id", reqID,
			"kind", model.KindOf(err),
			"error", err,
		)
		writeError(w, err)
		return
	}

	if what == "decision" {
		outcome := "cannot_park"
		if res.Decision.CanPark {
			outcome = "can_park"
		}
		s.metrics.IncrementDecision(outcome)
	}
	s.log.InfoContext(r.Context(), what+" served",
		"http_request_id", reqID,
		"request_id", res.ID,
		"cached", res.Cached,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, res)
}

// providersRequest is the body of PUT /v1/providers.
type providersRequest struct {
	Vision   string `json:"vision"`
	Decision string `json:"decision"`
}

func (s *Server) handleGetProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

// handlePutProviders switches providers. A failed switch keeps the previous
// providers and reports the failure alongside the resulting status.
func (s *Server) handlePutProviders(w http.ResponseWriter, r *http.Request) {
	var req providersRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	current := s.svc.Status()
	vision, err := selectorOr(req.Vision, current.Vision.Requested)
	if err != nil {
		writeError(w, err)
		return
	}
	decision, err := selectorOr(req.Decision, current.Decision.Requested)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.svc.UpdateProviders(vision, decision); err != nil {
		s.log.WarnContext(r.Context(), "provider switch failed",
			"vision", vision,
			"decision", decision,
			"error", err,
		)
		writeError(w, err)
		return
	}
	s.log.InfoContext(r.Context(), "providers switched", "vision", vision, "decision", decision)
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries := s.history.Snapshot(s.now())
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
		if n < len(entries) {
			entries = entries[:n]
		}
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleHistoryEntry(w http.ResponseWriter, r *http.Request) {
	e, ok := s.history.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// readImage reads the image from a multipart "image" field or the raw body.
func (s *Server) readImage(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)

	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(s.maxBytes); err != nil {
			badRequest(w, "invalid multipart body: "+err.Error())
			return nil, false
		}
		f, _, err := r.FormFile("image")
		if err != nil {
			badRequest(w, `multipart field "image" is required`)
			return nil, false
		}
		defer f.Close()
		src = f
	}

	img, err := io.ReadAll(src)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error:       "too_large",
				Description: fmt.Sprintf("image exceeds %d bytes", s.maxBytes),
			})
			return nil, false
		}
		badRequest(w, "reading image: "+err.Error())
		return nil, false
	}
	return img, true
}

func (s *Server) checkContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(r.Context(), s.timeout)
	}
	return context.WithCancel(r.Context())
}

// parseOverrides reads optional vehicle_type, at, lat and lon query parameters.
func parseOverrides(r *http.Request) (parkcontext.Overrides, error) {
	q := r.URL.Query()
	var ov parkcontext.Overrides
	if v := q.Get("vehicle_type"); v != "" {
		vt, err := model.ParseVehicleType(v)
		if err != nil {
			return ov, err
		}
		ov.VehicleType = vt
	}
	if v := q.Get("at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return ov, fmt.Errorf("at must be RFC 3339: %w", err)
		}
		ov.At = t
	}
	lat, lon := q.Get("lat"), q.Get("lon")
	if lat != "" || lon != "" {
		la, err1 := strconv.ParseFloat(lat, 64)
		lo, err2 := strconv.ParseFloat(lon, 64)
		if err1 != nil || err2 != nil {
			return ov, fmt.Errorf("lat and lon must both be numbers")
		}
		ov.Coordinates = &model.Coordinates{Latitude: la, Longitude: lo}
	}
	return ov, nil
}

func selectorOr(s string, fallback model.Selector) (model.Selector, error) {
	if strings.TrimSpace(s) == "" {
		return fallback, nil
	}
	return model.ParseSelector(s)
}
