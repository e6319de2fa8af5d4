package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/kevinmichaelchen/star-catalog/internal/config"
	"github.com/kevinmichaelchen/star-catalog/internal/credential"
	"github.com/kevinmichaelchen/star-catalog/internal/events"
	"github.com/kevinmichaelchen/star-catalog/internal/models"
	"github.com/kevinmichaelchen/star-catalog/internal/store"
	"github.com/kevinmichaelchen/star-catalog/internal/store/sqlite"
	"github.com/kevinmichaelchen/star-catalog/internal/store/surrealdb"
)

// OpenStore connects the configured backend and wraps it in a Gateway.
func OpenStore(ctx context.Context, cfg *config.Config, opts ...store.Option) (*store.Gateway, error) {
	var (
		b   store.Backend
		err error
	)
	switch cfg.Database.Driver {
	case "surrealdb":
		b, err = surrealdb.NewClient(ctx, cfg.Database.SurrealDB)
	case "sqlite", "":
		b, err = sqlite.New(ctx, cfg.Database.Path)
	default:
		return nil, &config.Error{Field: "database.driver", Reason: fmt.Sprintf("unknown driver %q", cfg.Database.Driver)}
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Database.Driver, err)
	}
	return store.New(b, opts...), nil
}

// Source yields the repositories a fetch pass should see.
type Source interface {
	Listing(ctx context.Context, listID string) iter.Seq2[models.Descriptor, error]
}

// Runner wires configuration, storage and event publication around the
// individual pipelines.
type Runner struct {
	cfg    *config.Config
	store  *store.Gateway
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

type RunnerOption func(*Runner)

// WithRunnerClock sets the watermark clock; pass the same clock to the
// Gateway.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

func NewRunner(cfg *config.Config, st *store.Gateway, pub events.Publisher, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if pub == nil {
		pub = events.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{cfg: cfg, store: st, events: pub, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch runs one fetch pass over src followed by eviction.
func (r *Runner) Fetch(ctx context.Context, src Source) (*FetchReport, error) {
	runID := events.NewRunID()
	logger := r.logger.With("run_id", runID, "pass", events.KindFetch)

	f := NewFetcher(r.store, FetchOptions{
		Workers:       r.cfg.Concurrency.Fetch.MaxWorkers,
		ExcerptLength: r.cfg.GitHub.ReadmeExcerptLength,
		Grace:         r.cfg.GracePeriod(),
		Logger:        logger,
		Now:           r.now,
	})

	logger.Info("fetch pass started", "workers", r.cfg.Concurrency.Fetch.MaxWorkers)
	report, err := f.Run(ctx, src.Listing(ctx, r.cfg.GitHub.StarListID))
	if err != nil {
		return report, err
	}
	logger.Info("fetch pass finished",
		"succeeded", report.Succeeded, "total", report.Total, "new", report.New,
		"deleted", report.Deleted, "retained", report.Retained)

	r.publish(ctx, logger, events.PassReport{
		RunID:      runID,
		Kind:       events.KindFetch,
		StartedAt:  report.Watermark,
		FinishedAt: r.now().UTC(),
		Succeeded:  report.Succeeded,
		Total:      report.Total,
		Deleted:    report.Deleted,
		Retained:   report.Retained,
	})
	return report, nil
}

// Classify runs one classify pass. Setup problems (no API keys, no
// categories) fail before any record is touched.
func (r *Runner) Classify(ctx context.Context, ai Completer, uncategorizedOnly bool) (*ClassifyReport, error) {
	if err := r.cfg.RequireOpenAI(); err != nil {
		return nil, err
	}
	if len(r.cfg.Categories) == 0 {
		return nil, &config.Error{Field: "categories", Reason: "at least one category is required (run gen-cat)"}
	}
	keys, err := credential.NewRotator(r.cfg.OpenAI.APIKeys)
	if err != nil {
		return nil, err
	}

	runID := events.NewRunID()
	logger := r.logger.With("run_id", runID, "pass", events.KindClassify)
	started := r.now().UTC()

	c := NewClassifier(r.store, ai, keys, r.cfg.Categories, ClassifyOptions{
		Workers:           r.cfg.Concurrency.Classify.MaxWorkers,
		UncategorizedOnly: uncategorizedOnly,
		Logger:            logger,
	})

	logger.Info("classify pass started",
		"workers", r.cfg.Concurrency.Classify.MaxWorkers,
		"keys", keys.Len(),
		"uncategorized_only", uncategorizedOnly)
	report, err := c.Run(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("classify pass finished", "succeeded", report.Succeeded, "total", report.Total)

	r.publish(ctx, logger, events.PassReport{
		RunID:      runID,
		Kind:       events.KindClassify,
		StartedAt:  started,
		FinishedAt: r.now().UTC(),
		Succeeded:  report.Succeeded,
		Total:      report.Total,
		Categories: report.Categories,
	})
	return report, nil
}

// GenerateCategories replaces the configured category set with one proposed
// by the AI collaborator and writes it back to the config file. A failed
// request leaves the file untouched.
func (r *Runner) GenerateCategories(ctx context.Context, ai CategoryGenerator) (*models.CategorySet, error) {
	if err := r.cfg.RequireOpenAI(); err != nil {
		return nil, err
	}
	keys, err := credential.NewRotator(r.cfg.OpenAI.APIKeys)
	if err != nil {
		return nil, err
	}

	set, err := GenerateCategories(ctx, r.store, ai, keys)
	if err != nil {
		return nil, err
	}

	path := r.cfg.Path
	if path == "" {
		path = config.DefaultPath
	}
	if err := config.SaveCategories(path, set.Categories); err != nil {
		return nil, fmt.Errorf("saving categories: %w", err)
	}
	r.cfg.Categories = set.Categories
	r.logger.Info("categories updated", "count", len(set.Categories), "path", path)
	return set, nil
}

func (r *Runner) publish(ctx context.Context, logger *slog.Logger, report events.PassReport) {
	if err := r.events.Publish(ctx, report); err != nil {
		logger.Warn("publishing pass report failed", "err", err)
	}
}
