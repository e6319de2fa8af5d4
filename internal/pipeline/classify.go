package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/kevinmichaelchen/star-catalog/internal/credential"
	"github.com/kevinmichaelchen/star-catalog/internal/models"
	"github.com/kevinmichaelchen/star-catalog/internal/workerpool"
)

// ClassifyStore is the part of the storage gateway a classify pass uses.
type ClassifyStore interface {
	ListAll(ctx context.Context) ([]models.Repo, error)
	SetClassification(ctx context.Context, name, category, summary string) error
}

// Completer is the AI collaborator used for classification.
type Completer interface {
	Classify(ctx context.Context, apiKey string, req models.ClassifyRequest) (*models.ClassifyResult, error)
}

type ClassifyOptions struct {
	Workers int
	// UncategorizedOnly limits the pass to records without a category or
	// with the fallback category.
	UncategorizedOnly bool
	Logger            *slog.Logger
}

type ClassifyReport struct {
	Succeeded int
	Total     int
	// Categories counts the categories assigned during this pass.
	Categories map[string]int
}

type Classifier struct {
	store      ClassifyStore
	ai         Completer
	keys       *credential.Rotator
	categories []string
	allowed    map[string]bool
	opts       ClassifyOptions
	logger     *slog.Logger

	mu    sync.Mutex
	tally map[string]int
}

func NewClassifier(st ClassifyStore, ai Completer, keys *credential.Rotator, categories []string, opts ClassifyOptions) *Classifier {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	allowed := make(map[string]bool, len(categories))
	for _, c := range categories {
		allowed[c] = true
	}
	return &Classifier{
		store:      st,
		ai:         ai,
		keys:       keys,
		categories: append([]string(nil), categories...),
		allowed:    allowed,
		opts:       opts,
		logger:     opts.Logger,
	}
}

// Run classifies every selected record and blocks until all tasks finish.
// Only a failure to read the records is returned; per-record failures are
// logged and counted.
func (c *Classifier) Run(ctx context.Context) (*ClassifyReport, error) {
	repos, err := c.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading repositories: %w", err)
	}
	if c.opts.UncategorizedOnly {
		repos = filterUncategorized(repos)
	}

	c.mu.Lock()
	c.tally = make(map[string]int)
	c.mu.Unlock()

	pool := workerpool.New(ctx, c.opts.Workers)
	for _, r := range repos {
		pool.Submit(r.Name, func(ctx context.Context) error {
			return c.classifyOne(ctx, r)
		})
	}
	sum := pool.Drain()
	logFailures(c.logger, "classify", sum.Failures)

	c.mu.Lock()
	tally := maps.Clone(c.tally)
	c.mu.Unlock()

	return &ClassifyReport{
		Succeeded:  sum.Succeeded,
		Total:      sum.Total,
		Categories: tally,
	}, nil
}

func filterUncategorized(repos []models.Repo) []models.Repo {
	var out []models.Repo
	for _, r := range repos {
		if r.NeedsClassification() {
			out = append(out, r)
		}
	}
	return out
}

func (c *Classifier) classifyOne(ctx context.Context, r models.Repo) error {
	req := models.ClassifyRequest{
		Name:          r.Name,
		Description:   r.Description,
		Language:      r.Language,
		Topics:        r.Topics,
		ReadmeExcerpt: r.ReadmeExcerpt,
		Categories:    c.categories,
	}

	res, err := c.ai.Classify(ctx, c.keys.Next(), req)
	if err != nil {
		return &TaskFailure{Repo: r.Name, Kind: kindOf(err), Err: err}
	}
	if res == nil {
		return &TaskFailure{Repo: r.Name, Kind: KindMalformedResponse, Err: errors.New("empty result")}
	}

	category := c.clamp(res.Category)
	if category != res.Category {
		c.logger.Debug("category outside configured set", "repo", r.Name, "category", res.Category)
	}

	if err := c.store.SetClassification(ctx, r.Name, category, res.Summary); err != nil {
		return &TaskFailure{Repo: r.Name, Kind: KindStorage, Err: err}
	}

	c.mu.Lock()
	c.tally[category]++
	c.mu.Unlock()

	c.logger.Debug("classified", "repo", r.Name, "category", category)
	return nil
}

// clamp maps any category outside the configured set to the fallback.
func (c *Classifier) clamp(category string) string {
	if c.allowed[category] {
		return category
	}
	return models.FallbackCategory
}
