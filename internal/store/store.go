// Package store is the only way the rest of the program touches persisted
// repository records.
//
// The underlying stores are not safe for concurrent writers, so Gateway
// serializes every mutation behind one process-wide lock. Reads share the
// lock with each other but never run alongside a write. The backend handle
// is never exposed, so callers cannot bypass the locking.
package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kevinmichaelchen/star-catalog/internal/models"
)

// Backend is a single-table record store keyed by repository name.
// Implementations need not be safe for concurrent use.
type Backend interface {
	Exists(ctx context.Context, name string) (bool, error)
	// Upsert inserts with created_at = updated_at = now, or refreshes the
	// mutable fields and updated_at of an existing record.
	Upsert(ctx context.Context, r models.RepoUpsert, now time.Time) error
	ListAll(ctx context.Context) ([]models.Repo, error)
	ListByCategory(ctx context.Context, category string) ([]models.Repo, error)
	SetCategory(ctx context.Context, name, category string, now time.Time) error
	SetSummary(ctx context.Context, name, summary string, now time.Time) error
	// EvictStale deletes records with updated_at < cutoff and counts those
	// with cutoff <= updated_at < watermark.
	EvictStale(ctx context.Context, watermark, cutoff time.Time) (deleted, retained int, err error)
	Close() error
}

// Gateway wraps a Backend with the locking discipline and error taxonomy.
type Gateway struct {
	mu      sync.RWMutex
	backend Backend
	now     func() time.Time
}

type Option func(*Gateway)

// WithClock overrides the timestamp source used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func New(b Backend, opts ...Option) *Gateway {
	g := &Gateway{backend: b, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Exists(ctx context.Context, name string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ok, err := g.backend.Exists(ctx, name)
	if err != nil {
		return false, wrap("exists", name, err)
	}
	return ok, nil
}

func (g *Gateway) Upsert(ctx context.Context, r models.RepoUpsert) error {
	_, err := g.Save(ctx, r)
	return err
}

// Save upserts r and reports whether it created the record. The existence
// check and the write share one critical section.
func (g *Gateway) Save(ctx context.Context, r models.RepoUpsert) (created bool, err error) {
	if !ValidTopics(r.Topics) {
		return false, wrap("upsert", r.Name, ErrInvalidTopics)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	existed, err := g.backend.Exists(ctx, r.Name)
	if err != nil {
		return false, wrap("upsert", r.Name, err)
	}
	if err := g.backend.Upsert(ctx, r, g.now().UTC()); err != nil {
		return false, wrap("upsert", r.Name, err)
	}
	return !existed, nil
}

func (g *Gateway) ListAll(ctx context.Context) ([]models.Repo, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	repos, err := g.backend.ListAll(ctx)
	if err != nil {
		return nil, wrap("list_all", "", err)
	}
	return repos, nil
}

func (g *Gateway) ListByCategory(ctx context.Context, category string) ([]models.Repo, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	repos, err := g.backend.ListByCategory(ctx, category)
	if err != nil {
		return nil, wrap("list_by_category", category, err)
	}
	return repos, nil
}

// SetCategory stores category as given; membership in the configured set is
// the caller's concern.
func (g *Gateway) SetCategory(ctx context.Context, name, category string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.backend.SetCategory(ctx, name, category, g.now().UTC()); err != nil {
		return wrap("set_category", name, err)
	}
	return nil
}

func (g *Gateway) SetSummary(ctx context.Context, name, summary string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.backend.SetSummary(ctx, name, summary, g.now().UTC()); err != nil {
		return wrap("set_summary", name, err)
	}
	return nil
}

// SetClassification writes category and summary inside one critical section
// so no other writer observes the record half-classified.
func (g *Gateway) SetClassification(ctx context.Context, name, category, summary string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now().UTC()
	if err := g.backend.SetCategory(ctx, name, category, now); err != nil {
		return wrap("set_category", name, err)
	}
	if err := g.backend.SetSummary(ctx, name, summary, now); err != nil {
		return wrap("set_summary", name, err)
	}
	return nil
}

// EvictStale deletes records last updated before watermark-grace and counts
// the ones updated before watermark but still inside the grace window.
func (g *Gateway) EvictStale(ctx context.Context, watermark time.Time, grace time.Duration) (deleted, retained int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	watermark = watermark.UTC()
	deleted, retained, err = g.backend.EvictStale(ctx, watermark, watermark.Add(-grace))
	if err != nil {
		return 0, 0, wrap("evict_stale", "", err)
	}
	return deleted, retained, nil
}

func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.backend.Close(); err != nil {
		return wrap("close", "", err)
	}
	return nil
}

// ValidTopics reports whether every topic is valid UTF-8. Only such lists
// round-trip through EncodeTopics unchanged.
func ValidTopics(topics []string) bool {
	for _, t := range topics {
		if !utf8.ValidString(t) {
			return false
		}
	}
	return true
}

// EncodeTopics is the persisted form of a topic list. Invalid UTF-8 is
// replaced with U+FFFD; the Gateway rejects such lists before they get here.
func EncodeTopics(topics []string) string {
	if topics == nil {
		topics = []string{}
	}
	b, err := json.Marshal(topics)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// DecodeTopics reverses EncodeTopics. A corrupt value reads as an empty
// list, never an error.
func DecodeTopics(s string) []string {
	var topics []string
	if err := json.Unmarshal([]byte(s), &topics); err != nil || topics == nil {
		return []string{}
	}
	return topics
}

// TimeLayout is fixed width so persisted timestamps order lexically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func ParseTime(s string) time.Time {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		// Rows written by hand or an older layout.
		if t, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}
