package canon

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/jward/canon/internal/config"
	"github.com/jward/canon/internal/governance"
	"github.com/jward/canon/internal/metrics"
	"github.com/jward/canon/internal/runtime"
	"github.com/jward/canon/internal/store"
)

// Engine orchestrates the canon pipeline: extraction, identity, call-graph
// normalization, equivalence proof, drift detection and governance, all
// committed as one transaction per ingested file.
type Engine struct {
	store      *store.Store
	config     *config.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	governance *governance.Engine
	runtime    *runtime.Runtime
	now        func() time.Time

	// scoreScript is the script path handed to the runtime: absolute when
	// the Engine built the runtime itself, as configured otherwise.
	scoreScript string

	// locks serializes ingestion per path. The store's immediate
	// transactions serialize across processes; the mutex keeps one
	// process from queueing on the database lock for its own files.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		e.config = cfg
	}
}

// WithMetrics records ingestion metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithRuntime sets the Risor runtime used for score scripts. Without it a
// runtime rooted at the score script's directory is created when a score
// script is configured.
func WithRuntime(rt *runtime.Runtime) Option {
	return func(e *Engine) {
		e.runtime = rt
	}
}

// WithClock overrides the time source for ingested_at and detected_at.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine backed by a SQLite database at dbPath.
func New(dbPath string, opts ...Option) (*Engine, error) {
	e := &Engine{
		config: config.DefaultConfig(),
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.config.Validate(); err != nil {
		return nil, fmt.Errorf("canon: config: %w", err)
	}

	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("canon: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("canon: migrate: %w", err)
	}
	e.store = s

	e.governance = governance.New(governance.Options{
		CouplingThreshold: e.config.Governance.CouplingThreshold,
		IOVocabulary:      e.config.Governance.IOVocabulary,
	})
	e.scoreScript = e.config.Readiness.ScoreScript
	if e.runtime == nil && e.scoreScript != "" {
		abs, err := filepath.Abs(e.scoreScript)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("canon: score script: %w", err)
		}
		e.scoreScript = abs
		e.runtime = runtime.NewRuntime(filepath.Dir(abs), runtime.WithRuntimeLogger(e.logger))
	}
	return e, nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store returns the underlying Store for direct access.
func (e *Engine) Store() *Store {
	return e.store
}

// Config returns the engine's configuration.
func (e *Engine) Config() *config.Config {
	return e.config
}

// Query returns a QueryBuilder over the engine's store.
func (e *Engine) Query() *QueryBuilder {
	return &QueryBuilder{store: e.store}
}

// lockPath returns the held mutex for path. Callers must Unlock it.
func (e *Engine) lockPath(path string) *sync.Mutex {
	e.locksMu.Lock()
	mu, ok := e.locks[path]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[path] = mu
	}
	e.locksMu.Unlock()
	mu.Lock()
	return mu
}
