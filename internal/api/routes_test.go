package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"hybridci/internal/cache"
	"hybridci/internal/history"
	"hybridci/internal/ibst"
	"hybridci/internal/lang"
	"hybridci/internal/pipeline"
)

type fakeRunner struct {
	got         pipeline.Request
	res         *pipeline.Result
	err         error
	hasDeadline bool
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.got = req
	_, f.hasDeadline = ctx.Deadline()
	return f.res, f.err
}

type fakeStats struct {
	stats cache.Stats
	err   error
}

func (f fakeStats) Stats() (cache.Stats, error) { return f.stats, f.err }

var testMap = ibst.TestMap{"test_a.py": {"a.py"}}

func staticInputs() (pipeline.Request, error) {
	return pipeline.Request{Tests: testMap}, nil
}

func openHistory(t *testing.T) *history.DB {
	t.Helper()
	db, err := history.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("failed to open history: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func do(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router := NewRouter(Config{Version: "1.0.0"})

	w := do(t, router, "/health")

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "1.0.0" {
		t.Errorf("unexpected health response %+v", resp)
	}
}

func TestRun_RecordsHistory(t *testing.T) {
	runner := &fakeRunner{res: &pipeline.Result{
		Tests:  []string{"test_a.py"},
		Time:   0.5,
		Mode:   pipeline.ModeHybrid,
		Passed: true,
	}}
	db := openHistory(t)
	router := NewRouter(Config{Runner: runner, History: db, Inputs: staticInputs})

	w := do(t, router, "/run")

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "success" {
		t.Errorf("expected status success, got %v", resp["status"])
	}
	if resp["mode"] != "hybrid" || resp["cache_hit"] != false || resp["time"] != 0.5 {
		t.Errorf("unexpected run response %v", resp)
	}
	if id, _ := resp["run_id"].(string); id == "" {
		t.Error("expected run_id")
	}
	if runner.got.LanguageAware || runner.got.Baseline {
		t.Errorf("expected plain hybrid request, got %+v", runner.got)
	}

	runs, err := db.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].TestsRun != 1 || runs[0].Mode != "hybrid" {
		t.Errorf("unexpected history %+v", runs)
	}
}

func TestRun_LanguageAwareQuery(t *testing.T) {
	runner := &fakeRunner{res: &pipeline.Result{
		Mode:              pipeline.ModeLanguageAware,
		LanguageBreakdown: map[lang.Tag]int{lang.Python: 1},
	}}
	router := NewRouter(Config{Runner: runner, Inputs: staticInputs})

	w := do(t, router, "/run?language_aware=1")

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !runner.got.LanguageAware {
		t.Error("expected language-aware request")
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"language_breakdown":{"python":1}`)) {
		t.Errorf("missing breakdown in %s", w.Body.String())
	}

	w = do(t, router, "/run?language_aware=maybe")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestRun_ErrorKeepsServing(t *testing.T) {
	runner := &fakeRunner{err: errors.New("git exploded")}
	router := NewRouter(Config{Runner: runner, Inputs: staticInputs})

	for i := 0; i < 2; i++ {
		w := do(t, router, "/run")
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status 500, got %d", w.Code)
		}
		var resp errorResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Status != "error" || resp.Message != "git exploded" {
			t.Errorf("unexpected error response %+v", resp)
		}
	}

	if w := do(t, router, "/health"); w.Code != http.StatusOK {
		t.Errorf("expected health to keep working, got %d", w.Code)
	}
}

func TestRun_InputsError(t *testing.T) {
	router := NewRouter(Config{
		Runner: &fakeRunner{},
		Inputs: func() (pipeline.Request, error) { return pipeline.Request{}, errors.New("no test map") },
	})

	w := do(t, router, "/run")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}

func TestRun_AppliesTimeout(t *testing.T) {
	res := &pipeline.Result{Mode: pipeline.ModeHybrid}

	bounded := &fakeRunner{res: res}
	do(t, NewRouter(Config{Runner: bounded, Inputs: staticInputs, Timeout: time.Minute}), "/run")
	if !bounded.hasDeadline {
		t.Error("expected the run context to carry a deadline")
	}

	unbounded := &fakeRunner{res: res}
	do(t, NewRouter(Config{Runner: unbounded, Inputs: staticInputs}), "/baseline")
	if unbounded.hasDeadline {
		t.Error("expected no deadline without a timeout")
	}
}

func TestBaseline(t *testing.T) {
	runner := &fakeRunner{res: &pipeline.Result{Tests: []string{"test_a.py"}, Mode: pipeline.ModeBaseline}}
	router := NewRouter(Config{Runner: runner, Inputs: staticInputs})

	w := do(t, router, "/baseline")

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !runner.got.Baseline {
		t.Error("expected baseline request")
	}
	if len(runner.got.Tests) != 1 {
		t.Errorf("expected test map to be passed through, got %v", runner.got.Tests)
	}
}

func TestRunsAndSummary(t *testing.T) {
	db := openHistory(t)
	ctx := context.Background()
	for _, hit := range []bool{false, true} {
		if _, err := db.Record(ctx, history.Run{Mode: "hybrid", TestsRun: 2, TimeTaken: 1, CacheHit: hit}); err != nil {
			t.Fatalf("failed to record: %v", err)
		}
	}
	router := NewRouter(Config{History: db})

	w := do(t, router, "/runs?limit=1")
	var runs []history.Run
	if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
		t.Fatalf("failed to decode runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}

	if w := do(t, router, "/runs?limit=-3"); w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}

	w = do(t, router, "/summary")
	var s history.Summary
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if s.Runs != 2 || s.CacheHitRate != 0.5 {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestCacheStats(t *testing.T) {
	router := NewRouter(Config{Cache: fakeStats{stats: cache.Stats{
		TotalEntries:         3,
		TotalLanguageEntries: 1,
		Languages:            map[lang.Tag]int{lang.Go: 1},
	}}})

	w := do(t, router, "/cache/stats")

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var stats cache.Stats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.TotalEntries != 3 || stats.Languages[lang.Go] != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	failing := NewRouter(Config{Cache: fakeStats{err: errors.New("disk gone")}})
	if w := do(t, failing, "/cache/stats"); w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	router := NewRouter(Config{})
	req := httptest.NewRequest("POST", "/run", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}

func TestWithDefaults_Gzip(t *testing.T) {
	h := WithDefaults(NewRouter(Config{}), slog.New(slog.NewTextHandler(io.Discard, nil)))
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip response")
	}
	gr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("failed to open gzip body: %v", err)
	}
	var resp healthResponse
	if err := json.NewDecoder(gr).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
}
