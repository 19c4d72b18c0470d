package loader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/ttableserver/internal/logger"
	"github.com/marmos91/ttableserver/pkg/metrics"
	"github.com/marmos91/ttableserver/pkg/ttable"
)

const (
	// DefaultConcurrency is the number of tables loaded at once.
	DefaultConcurrency = 4

	// DefaultTimeout bounds the whole model load.
	DefaultTimeout = 3 * time.Hour

	// DefaultProgressInterval is the number of lines between progress logs.
	DefaultProgressInterval = 1_000_000

	readBufferSize = 64 * 1024

	// cancelCheckLines is how often (in lines) a load polls its context.
	cancelCheckLines = 4096
)

// TimeoutPolicy decides what happens when the load timeout expires.
type TimeoutPolicy string

const (
	// TimeoutFail aborts startup with ErrLoadTimeout.
	TimeoutFail TimeoutPolicy = "fail"

	// TimeoutPartial serves whatever tables finished in time.
	TimeoutPartial TimeoutPolicy = "partial"
)

// Config controls model loading.
type Config struct {
	// Concurrency is the number of tables loaded in parallel.
	// If 0, defaults to 4.
	Concurrency int `mapstructure:"concurrency" validate:"min=0"`

	// Timeout bounds the whole load. 0 disables it.
	Timeout time.Duration `mapstructure:"timeout" validate:"min=0"`

	// OnTimeout is "fail" (default) or "partial".
	OnTimeout TimeoutPolicy `mapstructure:"on_timeout" validate:"omitempty,oneof=fail partial"`

	// ProgressInterval is the number of lines between progress log
	// messages. 0 disables progress logging.
	ProgressInterval int64 `mapstructure:"progress_interval" validate:"min=0"`

	// MinProbability drops entries whose probability is strictly lower.
	MinProbability float64 `mapstructure:"min_probability" validate:"min=0"`
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.OnTimeout == "" {
		c.OnTimeout = TimeoutFail
	}
}

// Stats summarises one table load.
type Stats struct {
	Lines     int64
	Entries   int64
	Filtered  int64
	Malformed int64
	Duration  time.Duration
}

// Loader reads translation tables into a ttable.Model.
type Loader struct {
	cfg     Config
	opener  Opener
	metrics metrics.LoaderMetrics
}

// New creates a Loader. A nil opener reads local files; nil metrics record
// nothing.
func New(cfg Config, opener Opener, m metrics.LoaderMetrics) *Loader {
	cfg.applyDefaults()
	if opener == nil {
		opener = FileOpener{}
	}
	if m == nil {
		m = metrics.NewNoopLoaderMetrics()
	}
	return &Loader{cfg: cfg, opener: opener, metrics: m}
}

// Config returns the effective configuration, defaults applied.
func (l *Loader) Config() Config {
	return l.cfg
}

// Load reads a single table. Malformed lines are logged and skipped; failure
// to open, decompress or read the stream is returned as a *LoadError.
func (l *Loader) Load(ctx context.Context, task Task) (*ttable.Table, Stats, error) {
	start := time.Now()
	table, stats, err := l.load(ctx, task)
	stats.Duration = time.Since(start)

	l.metrics.RecordLoad(metrics.LoadResult{
		Genre:     task.Genre,
		Lines:     stats.Lines,
		Entries:   stats.Entries,
		Filtered:  stats.Filtered,
		Malformed: stats.Malformed,
		Duration:  stats.Duration,
		Err:       err,
	})

	if err != nil {
		return nil, stats, &LoadError{
			Provenance: task.Provenance,
			Genre:      task.Genre,
			Path:       task.Path,
			Err:        err,
		}
	}

	logger.Info("Loaded %s table (provenance %d): %d entries from %d lines in %s (filtered=%d malformed=%d)",
		task.Genre, task.Provenance, stats.Entries, stats.Lines, stats.Duration.Round(time.Millisecond),
		stats.Filtered, stats.Malformed)
	return table, stats, nil
}

func (l *Loader) load(ctx context.Context, task Task) (*ttable.Table, Stats, error) {
	var stats Stats

	logger.Info("Loading %s table (provenance %d) from %s", task.Genre, task.Provenance, task.Path)

	raw, err := l.opener.Open(ctx, task.Path)
	if err != nil {
		return nil, stats, fmt.Errorf("open: %w", err)
	}
	defer raw.Close()

	dec, err := Decompress(CompressionFor(task.Path), raw)
	if err != nil {
		return nil, stats, err
	}
	defer dec.Close()

	b := ttable.NewBuilder(task.Provenance)
	r := bufio.NewReaderSize(dec, readBufferSize)

	for {
		line, readErr := r.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return nil, stats, fmt.Errorf("read line %d: %w", stats.Lines+1, readErr)
		}

		if line != "" {
			stats.Lines++
			l.addLine(b, task, strings.TrimRight(line, "\r\n"), &stats)

			if stats.Lines%cancelCheckLines == 0 {
				if err := ctx.Err(); err != nil {
					return nil, stats, err
				}
			}
			if l.cfg.ProgressInterval > 0 && stats.Lines%l.cfg.ProgressInterval == 0 {
				logger.Info("%s table: %d lines read, %d entries", task.Genre, stats.Lines, b.Len())
			}
		}

		if readErr == io.EOF {
			break
		}
	}

	stats.Entries = int64(b.Len())
	return b.Build(), stats, nil
}

func (l *Loader) addLine(b *ttable.Builder, task Task, line string, stats *Stats) {
	if strings.TrimSpace(line) == "" {
		return
	}

	rec, err := ParseLine(line)
	if err != nil {
		stats.Malformed++
		logger.Warn("%s table line %d skipped: %v", task.Genre, stats.Lines, err)
		return
	}

	if rec.Probability < l.cfg.MinProbability {
		stats.Filtered++
		return
	}

	b.Add(rec.Source, rec.Target, rec.Probability)
}

// LoadAll loads every task, at most Concurrency at a time, and assembles the
// model. The first fatal load error cancels the remaining loads and is
// returned. When the timeout expires the configured TimeoutPolicy applies.
//
// The returned model is fully built before LoadAll returns and is never
// modified afterwards.
func (l *Loader) LoadAll(ctx context.Context, tasks []Task) (*ttable.Model, error) {
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timedOut atomic.Bool
	if l.cfg.Timeout > 0 {
		timer := time.AfterFunc(l.cfg.Timeout, func() {
			timedOut.Store(true)
			cancel()
		})
		defer timer.Stop()
	}

	start := time.Now()
	logger.Info("Loading %d tables (concurrency=%d, timeout=%s, on_timeout=%s)",
		len(tasks), l.cfg.Concurrency, l.cfg.Timeout, l.cfg.OnTimeout)

	// Each task owns exactly one slot; g.Wait publishes them.
	tables := make([]*ttable.Table, len(tasks))

	g, gctx := errgroup.WithContext(loadCtx)
	g.SetLimit(l.cfg.Concurrency)

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			if timedOut.Load() {
				return nil
			}
			table, _, err := l.Load(gctx, task)
			if err != nil {
				if timedOut.Load() && errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			tables[i] = table
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var missing []Task
	loaded := make(map[ttable.Provenance]*ttable.Table, len(tasks))
	for i, task := range tasks {
		if tables[i] == nil {
			missing = append(missing, task)
			continue
		}
		loaded[task.Provenance] = tables[i]
	}

	if len(missing) > 0 {
		if l.cfg.OnTimeout != TimeoutPartial {
			return nil, fmt.Errorf("%w after %s: %d of %d tables incomplete (first: %s)",
				ErrLoadTimeout, l.cfg.Timeout, len(missing), len(tasks), missing[0].Genre)
		}
		for _, task := range missing {
			logger.Warn("Load timeout: %s table (provenance %d) not loaded, lookups will miss", task.Genre, task.Provenance)
		}
	}

	model := ttable.NewModel(loaded)
	logger.Info("Model ready: %d tables, %d entries in %s",
		len(loaded), model.Entries(), time.Since(start).Round(time.Millisecond))
	return model, nil
}
