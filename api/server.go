package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/albertlabs/composer/composition"
	"github.com/albertlabs/composer/config"
	"github.com/albertlabs/composer/engine"
	"github.com/albertlabs/composer/internal/metrics"
	"github.com/albertlabs/composer/learning"
	"github.com/albertlabs/composer/orchestrator"
	"github.com/albertlabs/composer/registry"
	"github.com/albertlabs/composer/types"
)

// openPaths bypass authentication so probes and scrapers keep working.
var openPaths = []string{"/healthz", "/metrics"}

// HealthCheck reports the health of one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Server wires the orchestration pipeline onto HTTP handlers.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	registry     *registry.Registry
	evaluator    *learning.Evaluator
	optimizer    *learning.Optimizer
	miner        *learning.Miner
	collector    *metrics.Collector
	gatherer     prometheus.Gatherer
	auth         config.AuthConfig
	checks       map[string]HealthCheck
	logger       *zap.Logger

	rateRPS   float64
	rateBurst int
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithHealthCheck registers a named dependency check for /healthz.
func WithHealthCheck(name string, check HealthCheck) ServerOption {
	return func(s *Server) { s.checks[name] = check }
}

// WithGatherer overrides the Prometheus gatherer backing /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.gatherer = g }
}

// WithPatternMiner enables the GET /v1/learning/patterns/{id} endpoint.
func WithPatternMiner(miner *learning.Miner) ServerOption {
	return func(s *Server) { s.miner = miner }
}

// WithRateLimit throttles requests per client IP.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

// NewServer builds the API server. collector may be nil to disable HTTP
// metrics recording.
func NewServer(
	orch *orchestrator.Orchestrator,
	reg *registry.Registry,
	evaluator *learning.Evaluator,
	optimizer *learning.Optimizer,
	collector *metrics.Collector,
	auth config.AuthConfig,
	logger *zap.Logger,
	opts ...ServerOption,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orchestrator: orch,
		registry:     reg,
		evaluator:    evaluator,
		optimizer:    optimizer,
		collector:    collector,
		gatherer:     prometheus.DefaultGatherer,
		auth:         auth,
		checks:       make(map[string]HealthCheck),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the fully assembled HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/requests", s.handleProcessRequest)
	mux.HandleFunc("GET /v1/compositions", s.handleListCompositions)
	mux.HandleFunc("POST /v1/compositions", s.handleRegisterComposition)
	mux.HandleFunc("GET /v1/compositions/{id}", s.handleGetComposition)
	mux.HandleFunc("DELETE /v1/compositions/{id}", s.handleDeprecateComposition)
	mux.HandleFunc("POST /v1/compositions/{id}/rollback", s.handleRollback)
	mux.HandleFunc("GET /v1/learning/report/{id}", s.handleLearningReport)
	mux.HandleFunc("POST /v1/learning/optimize/{id}", s.handleOptimize)
	if s.miner != nil {
		mux.HandleFunc("GET /v1/learning/patterns/{id}", s.handleLearningPatterns)
	}
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
	}
	if s.rateRPS > 0 {
		middlewares = append(middlewares, RateLimiter(s.rateRPS, s.rateBurst))
	}
	if s.collector != nil {
		middlewares = append(middlewares, Metrics(s.collector))
	}
	if s.auth.Enabled {
		middlewares = append(middlewares, JWTAuth(s.auth, openPaths, s.logger))
	}
	return Chain(mux, middlewares...)
}

// processRequestBody is the POST /v1/requests payload.
type processRequestBody struct {
	Text           string         `json:"text"`
	Params         map[string]any `json:"params,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

func (s *Server) handleProcessRequest(w http.ResponseWriter, r *http.Request) {
	var body processRequestBody
	if !decodeJSONBody(w, r, &body) {
		return
	}
	if body.Text == "" {
		writeErrorMessage(w, r, http.StatusBadRequest, types.ErrValidation, "text is required")
		return
	}

	userID := body.UserID
	if userID == "" {
		userID, _ = types.UserID(r.Context())
	}

	resp, err := s.orchestrator.ProcessRequest(r.Context(), orchestrator.Request{
		Text:           body.Text,
		Params:         body.Params,
		UserID:         userID,
		ConversationID: body.ConversationID,
		Attributes:     body.Attributes,
	})
	if err != nil {
		writeError(w, r, err, s.logger)
		return
	}

	// The orchestrator reports execution failures in the response body
	// rather than as an error return.
	if resp.Status != string(engine.StatusSuccess) {
		code := resp.ErrorCode
		if code == "" {
			code = types.ErrInternal
		}
		requestID, _ := types.RequestID(r.Context())
		writeJSON(w, httpStatusFor(code), Envelope{
			Success: false,
			Data:    resp,
			Error: &ErrorInfo{
				Code:    string(code),
				Message: resp.Error,
			},
			Timestamp: time.Now(),
			RequestID: requestID,
		})
		return
	}
	writeSuccess(w, r, http.StatusOK, resp)
}

func (s *Server) handleListCompositions(w http.ResponseWriter, r *http.Request) {
	var statuses []composition.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := composition.Status(raw)
		switch status {
		case composition.StatusLearning, composition.StatusValidated, composition.StatusDeprecated:
			statuses = append(statuses, status)
		default:
			writeErrorMessage(w, r, http.StatusBadRequest, types.ErrValidation, "unknown status: "+raw)
			return
		}
	}

	comps, err := s.registry.List(r.Context(), statuses...)
	if err != nil {
		writeError(w, r, err, s.logger)
		return
	}
	writeSuccess(w, r, http.StatusOK, map[string]any{
		"compositions": comps,
		"count":        len(comps),
	})
}

func (s *Server) handleRegisterComposition(w http.ResponseWriter, r *http.Request) {
	var comp composition.Composition
	if !decodeJSONBody(w, r, &comp) {
		return
	}

	id, err := s.registry.Register(r.Context(), &comp, true)
	if err != nil {
		writeError(w, r, err, s.logger)
		return
	}
	writeSuccess(w, r, http.StatusCreated, map[string]any{
		"id":      id,
		"version": comp.Version,
		"status":  comp.Status,
	})
}

func (s *Server) handleGetComposition(w http.ResponseWriter, r *http.Request) {
	comp, err := s.registry.FindByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err, s.logger)
		return
	}
	writeSuccess(w, r, http.StatusOK, comp)
}

func (s *Server) handleDeprecateComposition(w http.ResponseWriter, r *http.Request) {
	comp, err := s.registry.Deprecate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err, s.logger)
		return
	}
	writeSuccess(w, r, http.StatusOK, map[string]any{
		"id":     comp.ID,
		"status": comp.Status,
	})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	comp, err := s.registry.Rollback(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err, s.logger)
		return
	}
	if s.collector != nil {
		s.collector.RecordRollback()
	}
	writeSuccess(w, r, http.StatusOK, map[string]any{
		"id":      comp.ID,
		"version": comp.Version,
		"status":  comp.Status,
	})
}

func (s *Server) handleLearningReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.registry.FindByID(r.Context(), id); err != nil {
		writeError(w, r, err, s.logger)
		return
	}
	report, err := s.evaluator.Evaluate(r.Context(), id)
	if err != nil {
		writeError(w, r, err, s.logger)
		return
	}
	writeSuccess(w, r, http.StatusOK, report)
}

func (s *Server) handleLearningPatterns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.registry.FindByID(r.Context(), id); err != nil {
		writeError(w, r, err, s.logger)
		return
	}
	patterns, err := s.miner.Mine(r.Context(), id)
	if err != nil {
		writeError(w, r, err, s.logger)
		return
	}
	writeSuccess(w, r, http.StatusOK, patterns)
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.registry.FindByID(r.Context(), id); err != nil {
		writeError(w, r, err, s.logger)
		return
	}
	result, err := s.optimizer.Optimize(r.Context(), id)
	if err != nil {
		writeError(w, r, err, s.logger)
		return
	}
	if result.Applied && s.collector != nil {
		s.collector.RecordOptimization()
	}
	writeSuccess(w, r, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type checkResult struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}

	results := make(map[string]checkResult, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			healthy = false
			results[name] = checkResult{Status: "unhealthy", Error: err.Error()}
		} else {
			results[name] = checkResult{Status: "healthy"}
		}
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	writeJSON(w, status, map[string]any{
		"status": overall,
		"checks": results,
	})
}
