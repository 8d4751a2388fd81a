package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybridci/internal/cache"
	"hybridci/internal/ibst"
	"hybridci/internal/lang"
	"hybridci/internal/runner"
)

type staticDetector struct {
	files []string
	err   error
	calls atomic.Int32
}

func (d *staticDetector) Detect(context.Context) ([]string, error) {
	d.calls.Add(1)
	return d.files, d.err
}

type countingExecutor struct {
	mu      sync.Mutex
	batches [][]string
	delay   time.Duration
	passed  bool
	err     error
}

func (e *countingExecutor) Execute(ctx context.Context, tests []string) (runner.Outcome, error) {
	e.mu.Lock()
	e.batches = append(e.batches, tests)
	e.mu.Unlock()
	if e.err != nil {
		return runner.Outcome{}, e.err
	}
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return runner.Outcome{}, ctx.Err()
		}
	}
	return runner.Outcome{Elapsed: time.Duration(len(tests)) * time.Millisecond, Passed: e.passed}, nil
}

func (e *countingExecutor) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batches)
}

var mixedTests = ibst.TestMap{
	"test_models.py":  {"models.py"},
	"test_views.py":   {"views.py", "models.py"},
	"app.test.js":     {"app.js"},
	"widget.test.tsx": {"widget.tsx"},
	"test_unused.py":  {"unused.py"},
}

func newPipeline(t *testing.T, d Detector, exec runner.Executor) (*Pipeline, *cache.Store) {
	t.Helper()
	store, err := cache.Open(cache.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(d, store, exec, Options{Workers: 2}), store
}

func TestRun_BaselineIgnoresChanges(t *testing.T) {
	det := &staticDetector{err: errors.New("must not be called")}
	exec := &countingExecutor{passed: true}
	p, _ := newPipeline(t, det, exec)

	res, err := p.Run(context.Background(), Request{Tests: mixedTests, Baseline: true})

	require.NoError(t, err)
	assert.Equal(t, mixedTests.TestIDs(), res.Tests)
	assert.False(t, res.CacheHit)
	assert.Equal(t, ModeBaseline, res.Mode)
	assert.True(t, res.Passed)
	assert.Zero(t, det.calls.Load())

	again, err := p.Run(context.Background(), Request{Tests: mixedTests, Baseline: true})
	require.NoError(t, err)
	assert.False(t, again.CacheHit)
	assert.Equal(t, 2, exec.calls())
}

func TestRun_HybridMissThenHit(t *testing.T) {
	det := &staticDetector{files: []string{"src/models.py"}}
	exec := &countingExecutor{passed: true}
	p, _ := newPipeline(t, det, exec)

	first, err := p.Run(context.Background(), Request{Tests: mixedTests})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, ModeHybrid, first.Mode)
	assert.Equal(t, []string{"test_models.py", "test_views.py"}, first.Tests)
	assert.Equal(t, 1, first.ChangedFiles)

	second, err := p.Run(context.Background(), Request{Tests: mixedTests})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Tests, second.Tests)
	assert.Equal(t, first.Time, second.Time)
	assert.Equal(t, 1, exec.calls())
}

func TestRun_SafetyNetSelectsEverythingCovered(t *testing.T) {
	det := &staticDetector{}
	exec := &countingExecutor{passed: true}
	p, _ := newPipeline(t, det, exec)

	res, err := p.Run(context.Background(), Request{Tests: mixedTests})

	require.NoError(t, err)
	assert.Equal(t, mixedTests.TestIDs(), res.Tests)
	assert.Zero(t, res.ChangedFiles)
}

func TestRun_LanguageAwareMatchesStandardSelection(t *testing.T) {
	changed := []string{"src/models.py", "web/app.js", "web/widget.tsx", "README.md"}
	det := &staticDetector{files: changed}
	exec := &countingExecutor{passed: true}
	p, store := newPipeline(t, det, exec)

	res, err := p.Run(context.Background(), Request{Tests: mixedTests, LanguageAware: true})

	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, ModeLanguageAware, res.Mode)
	assert.Equal(t, ibst.Select(changed, nil, mixedTests), res.Tests)
	assert.Equal(t, map[lang.Tag]int{
		lang.Python:     2,
		lang.JavaScript: 1,
		lang.TSX:        1,
		lang.Unknown:    0,
	}, res.LanguageBreakdown)
	assert.Equal(t, 4, exec.calls())

	m, err := store.LoadLanguageMap(cache.Key(changed))
	require.NoError(t, err)
	assert.Equal(t, lang.Partition(changed), m)
}

func TestRun_LanguageAwareHit(t *testing.T) {
	changed := []string{"models.py", "app.js"}
	det := &staticDetector{files: changed}
	exec := &countingExecutor{passed: true}
	p, store := newPipeline(t, det, exec)

	_, err := p.Run(context.Background(), Request{Tests: mixedTests, LanguageAware: true})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), Request{Tests: mixedTests, LanguageAware: true})
	require.NoError(t, err)
	assert.True(t, res.CacheHit)
	assert.Equal(t, []lang.Tag{lang.JavaScript, lang.Python}, res.Languages)
	assert.Equal(t, []string{"app.test.js", "test_models.py", "test_views.py"}, res.Tests)
	assert.Equal(t, 2, exec.calls())

	key := cache.Key(changed)
	py, err := store.LoadLang(key, lang.Python)
	require.NoError(t, err)
	js, err := store.LoadLang(key, lang.JavaScript)
	require.NoError(t, err)
	assert.InDelta(t, py.Time+js.Time, res.Time, 1e-9)
}

func TestRun_LanguageAwarePartialMissRecomputes(t *testing.T) {
	changed := []string{"models.py", "app.js"}
	det := &staticDetector{files: changed}
	exec := &countingExecutor{passed: true}
	p, store := newPipeline(t, det, exec)

	key := cache.Key(changed)
	require.NoError(t, store.SaveLang(key, cache.Entry{Tests: []string{"stale"}}, lang.Python))

	res, err := p.Run(context.Background(), Request{Tests: mixedTests, LanguageAware: true})

	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.NotContains(t, res.Tests, "stale")
	assert.Equal(t, 2, exec.calls())
}

func TestRun_LanguageAwareIndependentOfFlatCache(t *testing.T) {
	det := &staticDetector{files: []string{"models.py"}}
	exec := &countingExecutor{passed: true}
	p, _ := newPipeline(t, det, exec)

	_, err := p.Run(context.Background(), Request{Tests: mixedTests})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), Request{Tests: mixedTests, LanguageAware: true})
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
}

func TestRun_ReportsFailures(t *testing.T) {
	det := &staticDetector{files: []string{"models.py"}}
	exec := &countingExecutor{passed: false}
	p, _ := newPipeline(t, det, exec)

	res, err := p.Run(context.Background(), Request{Tests: mixedTests})

	require.NoError(t, err)
	assert.False(t, res.Passed)
}

func TestRun_DetectorErrorPropagates(t *testing.T) {
	boom := errors.New("vcs exploded")
	p, _ := newPipeline(t, &staticDetector{err: boom}, &countingExecutor{})

	_, err := p.Run(context.Background(), Request{Tests: mixedTests})

	assert.ErrorIs(t, err, boom)
}

func TestRun_ExecutorErrorPropagates(t *testing.T) {
	det := &staticDetector{files: []string{"models.py", "app.js"}}
	exec := &countingExecutor{err: runner.ErrTimeout}
	p, store := newPipeline(t, det, exec)

	_, err := p.Run(context.Background(), Request{Tests: mixedTests, LanguageAware: true})
	assert.ErrorIs(t, err, runner.ErrTimeout)

	_, err = p.Run(context.Background(), Request{Tests: mixedTests})
	assert.ErrorIs(t, err, runner.ErrTimeout)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEntries)
	assert.Zero(t, stats.TotalLanguageEntries)
}

func TestRun_ConcurrentRunsComputeOnce(t *testing.T) {
	det := &staticDetector{files: []string{"models.py"}}
	exec := &countingExecutor{passed: true, delay: 50 * time.Millisecond}
	p, _ := newPipeline(t, det, exec)

	const n = 8
	results := make([]*Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Run(context.Background(), Request{Tests: mixedTests})
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, exec.calls())
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, []string{"test_models.py", "test_views.py"}, res.Tests)
	}
}

func TestRun_CancelledCallerDoesNotFailOthers(t *testing.T) {
	det := &staticDetector{files: []string{"models.py"}}
	exec := &countingExecutor{passed: true, delay: 200 * time.Millisecond}
	p, store := newPipeline(t, det, exec)

	first, cancel := context.WithCancel(context.Background())
	var (
		wg        sync.WaitGroup
		firstErr  error
		secondErr error
		secondRes *Result
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, firstErr = p.Run(first, Request{Tests: mixedTests})
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		defer wg.Done()
		secondRes, secondErr = p.Run(context.Background(), Request{Tests: mixedTests})
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	wg.Wait()

	assert.ErrorIs(t, firstErr, context.Canceled)
	require.NoError(t, secondErr)
	assert.Equal(t, []string{"test_models.py", "test_views.py"}, secondRes.Tests)
	assert.Equal(t, 1, exec.calls())

	cached, err := store.Load(cache.Key([]string{"models.py"}))
	require.NoError(t, err)
	require.NotNil(t, cached)
}

func TestRun_CoalescedResultsAreIndependent(t *testing.T) {
	det := &staticDetector{files: []string{"models.py", "app.js"}}
	exec := &countingExecutor{passed: true, delay: 50 * time.Millisecond}
	p, _ := newPipeline(t, det, exec)

	results := make([]*Result, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Run(context.Background(), Request{Tests: mixedTests, LanguageAware: true})
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()
	require.NotNil(t, results[0])
	require.NotNil(t, results[1])

	require.NotEmpty(t, results[0].Tests)
	require.NotEmpty(t, results[1].Tests)

	results[0].Tests[0] = "mutated"

	assert.NotEqual(t, "mutated", results[1].Tests[0])
}

func TestResultClone(t *testing.T) {
	orig := &Result{
		Tests:             []string{"test_a.py"},
		Languages:         []lang.Tag{lang.Python},
		LanguageBreakdown: map[lang.Tag]int{lang.Python: 1},
	}

	c := orig.clone()
	c.Tests[0] = "changed"
	c.Languages[0] = lang.Go
	c.LanguageBreakdown[lang.Python] = 5

	assert.Equal(t, []string{"test_a.py"}, orig.Tests)
	assert.Equal(t, []lang.Tag{lang.Python}, orig.Languages)
	assert.Equal(t, 1, orig.LanguageBreakdown[lang.Python])
	assert.Equal(t, []string{}, (&Result{Tests: []string{}}).clone().Tests)
}

func TestRun_TransitiveSelection(t *testing.T) {
	det := &staticDetector{files: []string{"models.py"}}
	store, err := cache.Open(cache.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()
	p := New(det, store, &countingExecutor{passed: true}, Options{Selector: ibst.Selector{Depth: 1}})

	res, err := p.Run(context.Background(), Request{
		Tests: mixedTests,
		Graph: ibst.DependencyGraph{"unused.py": {"models"}},
	})

	require.NoError(t, err)
	assert.Contains(t, res.Tests, "test_unused.py")
}
