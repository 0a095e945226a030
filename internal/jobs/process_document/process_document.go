package process_document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackzampolin/docsplit/internal/jobs"
	"github.com/jackzampolin/docsplit/internal/objectstore"
	"github.com/jackzampolin/docsplit/internal/providers"
	"github.com/jackzampolin/docsplit/internal/store"
	"github.com/jackzampolin/docsplit/internal/taxonomy"
	"github.com/jackzampolin/docsplit/internal/types"
)

// JobType is the identifier for this job type.
const JobType = "process_document"

// ErrCancelled is returned by Execute when the job was cancelled or retried
// under a newer attempt while it ran.
var ErrCancelled = errors.New("job cancelled")

// Tunables are the pipeline settings that may change while the service runs.
type Tunables struct {
	// Concurrency bounds the per-segment workers in Classify and Finalize.
	Concurrency int
	// Attempts is how many times a segment unit is tried before it fails.
	Attempts int
	// PageLimit is the most pages sent in one classify call.
	PageLimit    int
	Backoff      jobs.Backoff
	Thresholds   types.Thresholds
	Poll         providers.PollConfig
	AllowPartial bool
}

// DefaultTunables returns concurrency 10, 5 attempts, 10-page batches and
// the standard thresholds, backoff and split polling.
func DefaultTunables() Tunables {
	return Tunables{
		Concurrency: 10,
		Attempts:    5,
		PageLimit:   10,
		Backoff:     jobs.DefaultBackoff(),
		Thresholds:  types.DefaultThresholds(),
		Poll:        providers.DefaultPollConfig(),
	}
}

func (t Tunables) withDefaults() Tunables {
	def := DefaultTunables()
	if t.Concurrency <= 0 {
		t.Concurrency = def.Concurrency
	}
	if t.Attempts <= 0 {
		t.Attempts = def.Attempts
	}
	if t.PageLimit <= 0 {
		t.PageLimit = def.PageLimit
	}
	if t.Thresholds.AutoAccept <= 0 {
		t.Thresholds = def.Thresholds
	}
	if t.Poll.Interval <= 0 {
		t.Poll.Interval = def.Poll.Interval
	}
	if t.Poll.MaxInterval <= 0 {
		t.Poll.MaxInterval = def.Poll.MaxInterval
	}
	if t.Poll.Timeout <= 0 {
		t.Poll.Timeout = def.Poll.Timeout
	}
	return t
}

// Config configures the process document job.
type Config struct {
	Store      store.Store
	Objects    objectstore.Store
	Files      providers.FileRegistrar
	Splitter   providers.Splitter
	Classifier providers.Classifier
	// Taxonomy resolves the categories for jobs without a snapshot. Nil
	// means the built-in taxonomy.
	Taxonomy *taxonomy.Source
	Logger   *slog.Logger

	Tunables
}

// Validate checks that the config has all required fields.
func (c Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Objects == nil {
		return fmt.Errorf("object store is required")
	}
	if c.Files == nil {
		return fmt.Errorf("file registrar is required")
	}
	if c.Splitter == nil {
		return fmt.Errorf("splitter is required")
	}
	if c.Classifier == nil {
		return fmt.Errorf("classifier is required")
	}
	return nil
}

// Launcher starts process document runs on a Runner.
type Launcher struct {
	mu     sync.RWMutex
	cfg    Config
	runner *jobs.Runner
}

// NewLauncher validates cfg and returns a launcher submitting to runner.
func NewLauncher(cfg Config, runner *jobs.Runner) (*Launcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	return &Launcher{cfg: cfg, runner: runner}, nil
}

// SetTunables replaces the settings used by runs launched afterwards.
func (l *Launcher) SetTunables(t Tunables) {
	l.mu.Lock()
	l.cfg.Tunables = t
	l.mu.Unlock()
}

// Tunables returns the settings new runs will use.
func (l *Launcher) Tunables() Tunables {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.Tunables.withDefaults()
}

// Launch submits a run for jobID bound to attempt, starting at from, and
// returns its handle.
func (l *Launcher) Launch(ctx context.Context, jobID string, attempt int, from types.Stage) (string, error) {
	l.mu.RLock()
	cfg := l.cfg
	l.mu.RUnlock()
	return l.runner.Submit(NewJob(cfg, jobID, attempt, from))
}

var _ jobs.Launcher = (*Launcher)(nil)
