// Package pipeline drives change detection, cached selection and test
// execution for the baseline, hybrid and language-aware modes.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"hybridci/internal/cache"
	"hybridci/internal/ibst"
	"hybridci/internal/lang"
	"hybridci/internal/runner"
)

// Mode names the path a run took.
type Mode string

const (
	ModeBaseline      Mode = "baseline"
	ModeHybrid        Mode = "hybrid"
	ModeLanguageAware Mode = "language_aware"
)

// Detector reports the files changed in the working copy.
type Detector interface {
	Detect(ctx context.Context) ([]string, error)
}

// Request describes one pipeline invocation.
type Request struct {
	Tests         ibst.TestMap
	Graph         ibst.DependencyGraph
	Baseline      bool
	LanguageAware bool
}

// Result is the uniform outcome of a run. Time is in seconds.
type Result struct {
	Tests             []string         `json:"tests"`
	Time              float64          `json:"time"`
	CacheHit          bool             `json:"cache_hit"`
	Mode              Mode             `json:"mode"`
	Languages         []lang.Tag       `json:"languages,omitempty"`
	LanguageBreakdown map[lang.Tag]int `json:"language_breakdown,omitempty"`
	Passed            bool             `json:"passed"`
	ChangedFiles      int              `json:"changed_files"`
}

// Options tunes a Pipeline.
type Options struct {
	// Selector controls transitive expansion; the zero value selects by
	// base name only.
	Selector ibst.Selector
	// Workers bounds concurrent per-language work. Zero or less means one
	// worker per language.
	Workers int
	// Timeout bounds a shared computation once it is detached from the
	// caller that started it. Zero means no bound.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	detector Detector
	store    *cache.Store
	exec     runner.Executor
	selector ibst.Selector
	workers  int
	timeout  time.Duration
	log      *slog.Logger
	flight   singleflight.Group
}

// New assembles a pipeline from its collaborators.
func New(d Detector, store *cache.Store, exec runner.Executor, opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		detector: d,
		store:    store,
		exec:     exec,
		selector: opts.Selector,
		workers:  opts.Workers,
		timeout:  opts.Timeout,
		log:      log,
	}
}

// Run executes one pipeline invocation. Concurrent hybrid runs over the
// same change set share a single computation.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Baseline {
		return p.runBaseline(ctx, req)
	}

	detected, err := p.detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting changes: %w", err)
	}
	changed := detected
	if len(changed) == 0 {
		changed = req.Tests.CoveredFiles()
		p.log.Debug("no changes detected, treating every covered file as changed", "files", len(changed))
	}
	key := cache.Key(changed)

	mode := ModeHybrid
	if req.LanguageAware {
		mode = ModeLanguageAware
	}

	// The shared computation outlives any single caller; each caller stops
	// waiting on its own cancellation.
	ch := p.flight.DoChan(string(mode)+"/"+key, func() (any, error) {
		workCtx := context.WithoutCancel(ctx)
		if p.timeout > 0 {
			var cancel context.CancelFunc
			workCtx, cancel = context.WithTimeout(workCtx, p.timeout)
			defer cancel()
		}
		if req.LanguageAware {
			return p.runLanguageAware(workCtx, req, key, changed)
		}
		return p.runHybrid(workCtx, req, key, changed)
	})

	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for run: %w", ctx.Err())
	}
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Shared {
		p.log.Debug("coalesced concurrent run", "key", key)
	}

	res := r.Val.(*Result).clone()
	res.ChangedFiles = len(detected)
	return res, nil
}

// clone copies a result so coalesced callers do not share its slices or map.
func (r *Result) clone() *Result {
	c := *r
	if r.Tests != nil {
		c.Tests = append(make([]string, 0, len(r.Tests)), r.Tests...)
	}
	if r.Languages != nil {
		c.Languages = append([]lang.Tag(nil), r.Languages...)
	}
	if r.LanguageBreakdown != nil {
		c.LanguageBreakdown = make(map[lang.Tag]int, len(r.LanguageBreakdown))
		for tag, n := range r.LanguageBreakdown {
			c.LanguageBreakdown[tag] = n
		}
	}
	return &c
}

func (p *Pipeline) runBaseline(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	tests := req.Tests.TestIDs()
	out, err := p.exec.Execute(ctx, tests)
	if err != nil {
		return nil, fmt.Errorf("executing baseline: %w", err)
	}
	return &Result{
		Tests:  tests,
		Time:   time.Since(start).Seconds(),
		Mode:   ModeBaseline,
		Passed: out.Passed,
	}, nil
}

func (p *Pipeline) runHybrid(ctx context.Context, req Request, key string, changed []string) (*Result, error) {
	start := time.Now()

	cached, err := p.store.Load(key)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		p.log.Info("cache hit", "key", key, "tests", len(cached.Tests))
		return &Result{
			Tests:    normalize(cached.Tests),
			Time:     cached.Time,
			CacheHit: true,
			Mode:     ModeHybrid,
			Passed:   true,
		}, nil
	}

	tests, err := p.selector.Select(changed, req.Graph, req.Tests)
	if err != nil {
		return nil, fmt.Errorf("selecting tests: %w", err)
	}
	out, err := p.exec.Execute(ctx, tests)
	if err != nil {
		return nil, fmt.Errorf("executing tests: %w", err)
	}

	res := &Result{
		Tests:  tests,
		Time:   time.Since(start).Seconds(),
		Mode:   ModeHybrid,
		Passed: out.Passed,
	}
	if err := p.store.Save(key, cache.Entry{Tests: res.Tests, Time: res.Time}); err != nil {
		return nil, err
	}
	p.log.Info("cache miss", "key", key, "tests", len(tests))
	return res, nil
}

func (p *Pipeline) runLanguageAware(ctx context.Context, req Request, key string, changed []string) (*Result, error) {
	start := time.Now()
	byLang := lang.Partition(changed)
	tags := byLang.Tags()

	if res, err := p.loadAllLanguages(key, tags); err != nil || res != nil {
		return res, err
	}

	type langRun struct {
		tests   []string
		elapsed time.Duration
		passed  bool
	}
	runs := make([]langRun, len(tags))

	g, gctx := errgroup.WithContext(ctx)
	if p.workers > 0 {
		g.SetLimit(p.workers)
	}
	for i, tag := range tags {
		g.Go(func() error {
			tests, err := p.selector.Select(byLang[tag], req.Graph, req.Tests)
			if err != nil {
				return fmt.Errorf("selecting %s tests: %w", tag, err)
			}
			out, err := p.exec.Execute(gctx, tests)
			if err != nil {
				return fmt.Errorf("executing %s tests: %w", tag, err)
			}
			runs[i] = langRun{tests: tests, elapsed: out.Elapsed, passed: out.Passed}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	union := make(map[string]struct{})
	breakdown := make(map[lang.Tag]int, len(tags))
	passed := true
	for i, tag := range tags {
		r := runs[i]
		for _, t := range r.tests {
			union[t] = struct{}{}
		}
		breakdown[tag] = len(r.tests)
		passed = passed && r.passed
		entry := cache.Entry{Tests: r.tests, Time: r.elapsed.Seconds()}
		if err := p.store.SaveLang(key, entry, tag); err != nil {
			return nil, err
		}
	}
	if err := p.store.SaveLanguageMap(key, byLang); err != nil {
		return nil, err
	}
	p.log.Info("language cache miss", "key", key, "languages", len(tags), "tests", len(union))

	return &Result{
		Tests:             setToSorted(union),
		Time:              time.Since(start).Seconds(),
		Mode:              ModeLanguageAware,
		LanguageBreakdown: breakdown,
		Passed:            passed,
	}, nil
}

// loadAllLanguages returns a merged hit only when every language has an
// entry; a single miss returns nil.
func (p *Pipeline) loadAllLanguages(key string, tags []lang.Tag) (*Result, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	union := make(map[string]struct{})
	total := 0.0
	for _, tag := range tags {
		e, err := p.store.LoadLang(key, tag)
		if err != nil {
			return nil, err
		}
		if e == nil {
			p.log.Debug("language cache miss", "key", key, "language", tag)
			return nil, nil
		}
		for _, t := range e.Tests {
			union[t] = struct{}{}
		}
		total += e.Time
	}
	p.log.Info("language cache hit", "key", key, "languages", len(tags))
	return &Result{
		Tests:     setToSorted(union),
		Time:      total,
		CacheHit:  true,
		Mode:      ModeLanguageAware,
		Languages: tags,
		Passed:    true,
	}, nil
}

func normalize(tests []string) []string {
	set := make(map[string]struct{}, len(tests))
	for _, t := range tests {
		set[t] = struct{}{}
	}
	return setToSorted(set)
}

func setToSorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
