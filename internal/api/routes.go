// Package api serves pipeline runs and run history over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"hybridci/internal/cache"
	"hybridci/internal/history"
	"hybridci/internal/pipeline"
)

// Runner executes one pipeline invocation.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// History persists and reports runs.
type History interface {
	Record(ctx context.Context, r history.Run) (history.Run, error)
	List(ctx context.Context, limit int) ([]history.Run, error)
	Summary(ctx context.Context) (history.Summary, error)
}

// CacheStats reports cache contents.
type CacheStats interface {
	Stats() (cache.Stats, error)
}

// Inputs supplies the test map and dependency graph for each run.
type Inputs func() (pipeline.Request, error)

// Handler holds the collaborators of the HTTP handlers.
type Handler struct {
	runner        Runner
	history       History
	cache         CacheStats
	inputs        Inputs
	languageAware bool
	timeout       time.Duration
	version       string
	events        *Hub
}

// Config configures NewRouter.
type Config struct {
	Runner  Runner
	History History
	Cache   CacheStats
	Inputs  Inputs
	// LanguageAware is the default for /run when the query does not say.
	LanguageAware bool
	// Timeout bounds each /run and /baseline request. Zero means no bound.
	Timeout time.Duration
	Version string
	// Events receives every completed run and serves /ws. NewRouter
	// creates one when nil.
	Events *Hub
}

// NewHandler creates a new API handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		runner:        cfg.Runner,
		history:       cfg.History,
		cache:         cfg.Cache,
		inputs:        cfg.Inputs,
		languageAware: cfg.LanguageAware,
		timeout:       cfg.Timeout,
		version:       cfg.Version,
		events:        cfg.Events,
	}
}

// NewRouter creates the HTTP router with all routes registered.
func NewRouter(cfg Config) http.Handler {
	if cfg.Events == nil {
		cfg.Events = NewHub(nil)
	}
	h := NewHandler(cfg)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /run", h.Run)
	mux.HandleFunc("GET /baseline", h.Baseline)
	mux.HandleFunc("GET /runs", h.Runs)
	mux.HandleFunc("GET /summary", h.Summary)
	mux.HandleFunc("GET /cache/stats", h.CacheStats)
	mux.Handle("GET /ws", cfg.Events)

	return mux
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type runResponse struct {
	Status string `json:"status"`
	*pipeline.Result
	RunID string `json:"run_id,omitempty"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: h.version})
}

// Run performs a hybrid run. ?language_aware=1 (or true) selects the
// language-aware mode.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	languageAware := h.languageAware
	if v := r.URL.Query().Get("language_aware"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid language_aware value")
			return
		}
		languageAware = b
	}
	h.execute(w, r, func(req *pipeline.Request) { req.LanguageAware = languageAware })
}

// Baseline runs every test without consulting the cache.
func (h *Handler) Baseline(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, func(req *pipeline.Request) { req.Baseline = true })
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request, mutate func(*pipeline.Request)) {
	req, err := h.inputs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	mutate(&req)

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	res, err := h.runner.Run(ctx, req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := runResponse{Status: "success", Result: res}
	if h.history != nil {
		run, err := h.history.Record(r.Context(), history.Run{
			Mode:      string(res.Mode),
			TestsRun:  len(res.Tests),
			TimeTaken: res.Time,
			CacheHit:  res.CacheHit,
			Passed:    res.Passed,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.RunID = run.ID
	}
	if h.events != nil {
		h.events.PublishRun("api", resp.RunID, res)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Runs lists recorded runs, newest first. ?limit=N bounds the result.
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusOK, []history.Run{})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := h.history.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusOK, history.Summary{})
		return
	}
	s, err := h.history.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache not configured")
		return
	}
	stats, err := h.cache.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Status: "error", Message: msg})
}
