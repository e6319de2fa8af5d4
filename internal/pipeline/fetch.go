package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/kevinmichaelchen/star-catalog/internal/models"
	"github.com/kevinmichaelchen/star-catalog/internal/store"
	"github.com/kevinmichaelchen/star-catalog/internal/workerpool"
)

// FetchStore is the part of the storage gateway a fetch pass uses.
type FetchStore interface {
	Save(ctx context.Context, r models.RepoUpsert) (created bool, err error)
	EvictStale(ctx context.Context, watermark time.Time, grace time.Duration) (deleted, retained int, err error)
}

type FetchReport struct {
	Watermark time.Time
	Succeeded int
	Total     int
	// New counts repositories stored for the first time.
	New      int
	Deleted  int
	Retained int
}

type FetchOptions struct {
	Workers       int
	ExcerptLength int
	Grace         time.Duration
	Logger        *slog.Logger
	// Now is the watermark clock. It must agree with the store's clock.
	Now func() time.Time
}

// Fetcher refreshes stored records from a listing of starred repositories
// and evicts the ones that stopped appearing.
type Fetcher struct {
	store   FetchStore
	evictor *Evictor
	opts    FetchOptions
	logger  *slog.Logger
}

func NewFetcher(st FetchStore, opts FetchOptions) *Fetcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Fetcher{
		store:   st,
		evictor: NewEvictor(st, opts.Grace, opts.Logger),
		opts:    opts,
		logger:  opts.Logger,
	}
}

// Run dispatches one task per listed repository and blocks until all have
// finished. Eviction runs only when the whole listing was read.
func (f *Fetcher) Run(ctx context.Context, listing iter.Seq2[models.Descriptor, error]) (*FetchReport, error) {
	watermark := f.opts.Now().UTC()
	report := &FetchReport{Watermark: watermark}

	pool := workerpool.New(ctx, f.opts.Workers)
	var created, done atomic.Int64

	var listErr error
	for d, err := range listing {
		if err != nil {
			listErr = err
			break
		}
		pool.Submit(d.Name, func(ctx context.Context) error {
			isNew, err := f.fetchOne(ctx, d)
			if err != nil {
				return err
			}
			if isNew {
				created.Add(1)
			}
			if n := done.Add(1); n%50 == 0 {
				f.logger.Info("fetch progress", "stored", n)
			}
			return nil
		})
	}

	sum := pool.Drain()
	report.Total = sum.Total
	report.Succeeded = sum.Succeeded
	report.New = int(created.Load())
	logFailures(f.logger, "fetch", sum.Failures)

	if listErr != nil {
		f.logger.Warn("listing incomplete, skipping eviction", "err", listErr)
		return report, fmt.Errorf("listing repositories: %w", listErr)
	}

	deleted, retained, err := f.evictor.Evict(ctx, watermark)
	if err != nil {
		return report, err
	}
	report.Deleted, report.Retained = deleted, retained
	return report, nil
}

var errNoName = errors.New("descriptor has no name")

func (f *Fetcher) fetchOne(ctx context.Context, d models.Descriptor) (bool, error) {
	if d.Name == "" {
		return false, &TaskFailure{Repo: d.URL, Kind: KindDecode, Err: errNoName}
	}

	if !store.ValidTopics(d.Topics) {
		return false, &TaskFailure{Repo: d.Name, Kind: KindDecode, Err: store.ErrInvalidTopics}
	}

	created, err := f.store.Save(ctx, models.RepoUpsert{
		Name:          d.Name,
		Description:   d.Description,
		Language:      d.Language,
		Topics:        d.Topics,
		URL:           d.URL,
		ReadmeExcerpt: f.excerpt(ctx, d),
	})
	if err != nil {
		return false, &TaskFailure{Repo: d.Name, Kind: KindStorage, Err: err}
	}
	return created, nil
}

// excerpt never fails: a missing or undecodable readme yields "".
func (f *Fetcher) excerpt(ctx context.Context, d models.Descriptor) string {
	if d.Readme == nil {
		return ""
	}
	text, err := d.Readme(ctx)
	if err != nil {
		f.logger.Debug("readme unavailable", "repo", d.Name, "err", err)
		return ""
	}
	if !utf8.ValidString(text) {
		f.logger.Debug("readme is not valid UTF-8", "repo", d.Name)
		return ""
	}
	return truncate(text, f.opts.ExcerptLength)
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func logFailures(logger *slog.Logger, pass string, failures []workerpool.Failure) {
	for _, f := range failures {
		tf := asTaskFailure(f)
		logger.Warn(pass+" task failed", "repo", tf.Repo, "kind", string(tf.Kind), "err", tf.Err)
	}
}
