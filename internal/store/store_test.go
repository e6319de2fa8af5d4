package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinmichaelchen/star-catalog/internal/models"
)

// recordingBackend tracks overlap between calls and returns a canned error.
type recordingBackend struct {
	err error

	active    atomic.Int32
	maxActive atomic.Int32

	mu             sync.Mutex
	lastNow        time.Time
	lastWatermark  time.Time
	lastCutoff     time.Time
	categoryWrites int
	summaryWrites  int
}

func (b *recordingBackend) enter() func() {
	n := b.active.Add(1)
	for {
		m := b.maxActive.Load()
		if n <= m || b.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return func() { b.active.Add(-1) }
}

func (b *recordingBackend) Exists(context.Context, string) (bool, error) {
	defer b.enter()()
	return true, b.err
}

func (b *recordingBackend) Upsert(_ context.Context, _ models.RepoUpsert, now time.Time) error {
	defer b.enter()()
	b.mu.Lock()
	b.lastNow = now
	b.mu.Unlock()
	return b.err
}

func (b *recordingBackend) ListAll(context.Context) ([]models.Repo, error) {
	defer b.enter()()
	return nil, b.err
}

func (b *recordingBackend) ListByCategory(context.Context, string) ([]models.Repo, error) {
	defer b.enter()()
	return nil, b.err
}

func (b *recordingBackend) SetCategory(context.Context, string, string, time.Time) error {
	defer b.enter()()
	b.mu.Lock()
	b.categoryWrites++
	b.mu.Unlock()
	return b.err
}

func (b *recordingBackend) SetSummary(context.Context, string, string, time.Time) error {
	defer b.enter()()
	b.mu.Lock()
	b.summaryWrites++
	b.mu.Unlock()
	return b.err
}

func (b *recordingBackend) EvictStale(_ context.Context, watermark, cutoff time.Time) (int, int, error) {
	defer b.enter()()
	b.mu.Lock()
	b.lastWatermark, b.lastCutoff = watermark, cutoff
	b.mu.Unlock()
	return 2, 3, b.err
}

func (b *recordingBackend) Close() error { return b.err }

func TestGatewaySerializesWrites(t *testing.T) {
	b := &recordingBackend{}
	g := New(b)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 4 {
			case 0:
				_ = g.Upsert(ctx, models.RepoUpsert{Name: "a/b"})
			case 1:
				_ = g.SetCategory(ctx, "a/b", "x")
			case 2:
				_ = g.SetSummary(ctx, "a/b", "y")
			default:
				_, _, _ = g.EvictStale(ctx, time.Now(), time.Hour)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), b.maxActive.Load(), "writes must never overlap")
}

func TestGatewayReadsShareLock(t *testing.T) {
	b := &recordingBackend{}
	g := New(b)
	ctx := context.Background()

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 20; j++ {
				_, _ = g.ListAll(ctx)
			}
		}()
	}
	close(start)
	wg.Wait()

	// Concurrent reads are allowed, not required; only assert they all ran.
	assert.GreaterOrEqual(t, b.maxActive.Load(), int32(1))
}

func TestGatewayWrapsBackendErrors(t *testing.T) {
	cause := errors.New("disk I/O error")
	g := New(&recordingBackend{err: cause})
	ctx := context.Background()

	checks := map[string]error{
		"upsert":       g.Upsert(ctx, models.RepoUpsert{Name: "a/b"}),
		"set_category": g.SetCategory(ctx, "a/b", "x"),
		"set_summary":  g.SetSummary(ctx, "a/b", "y"),
		"close":        g.Close(),
	}
	_, err := g.Exists(ctx, "a/b")
	checks["exists"] = err
	_, err = g.ListAll(ctx)
	checks["list_all"] = err
	_, err = g.ListByCategory(ctx, "x")
	checks["list_by_category"] = err
	_, _, err = g.EvictStale(ctx, time.Now(), time.Hour)
	checks["evict_stale"] = err

	for op, err := range checks {
		var se *StorageError
		require.True(t, errors.As(err, &se), op)
		assert.Equal(t, op, se.Op)
		assert.ErrorIs(t, err, cause, op)
	}
}

func TestGatewayRejectsInvalidTopics(t *testing.T) {
	b := &recordingBackend{}
	g := New(b)

	err := g.Upsert(context.Background(), models.RepoUpsert{Name: "a/b", Topics: []string{"ok", "bad\xff"}})
	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "upsert", se.Op)
	assert.ErrorIs(t, err, ErrInvalidTopics)
	assert.True(t, b.lastNow.IsZero(), "backend must not be written")

	assert.True(t, ValidTopics([]string{"go", "日本語"}))
	assert.False(t, ValidTopics([]string{"\xfe"}))
}

func TestGatewayEvictComputesCutoff(t *testing.T) {
	b := &recordingBackend{}
	g := New(b)

	loc := time.FixedZone("UTC+2", 2*60*60)
	watermark := time.Date(2025, 5, 10, 14, 0, 0, 0, loc)
	deleted, retained, err := g.EvictStale(context.Background(), watermark, 7*24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 2, deleted)
	assert.Equal(t, 3, retained)
	assert.Equal(t, time.UTC, b.lastWatermark.Location())
	assert.True(t, b.lastWatermark.Equal(watermark))
	assert.True(t, b.lastCutoff.Equal(watermark.Add(-7*24*time.Hour)))
}

func TestGatewayClockIsUTC(t *testing.T) {
	b := &recordingBackend{}
	loc := time.FixedZone("UTC-5", -5*60*60)
	fixed := time.Date(2025, 1, 1, 8, 0, 0, 0, loc)
	g := New(b, WithClock(func() time.Time { return fixed }))

	require.NoError(t, g.Upsert(context.Background(), models.RepoUpsert{Name: "a/b"}))
	assert.Equal(t, time.UTC, b.lastNow.Location())
	assert.True(t, b.lastNow.Equal(fixed))
}

func TestSetClassificationWritesBoth(t *testing.T) {
	b := &recordingBackend{}
	g := New(b)

	require.NoError(t, g.SetClassification(context.Background(), "a/b", "Tools", "A tool."))
	assert.Equal(t, 1, b.categoryWrites)
	assert.Equal(t, 1, b.summaryWrites)
}

func TestTopicsCodec(t *testing.T) {
	tests := []struct {
		name string
		in   []string
	}{
		{"ordered", []string{"b", "a", "c"}},
		{"duplicates", []string{"x", "x"}},
		{"quotes", []string{`he said "hi"`, `back\slash`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.in, DecodeTopics(EncodeTopics(tt.in)))
		})
	}

	assert.Equal(t, "[]", EncodeTopics(nil))
	for _, corrupt := range []string{"", "{", "null", `"string"`, "[1,2]"} {
		got := DecodeTopics(corrupt)
		assert.NotNil(t, got, corrupt)
		assert.Empty(t, got, corrupt)
	}
}

func TestTimeCodecOrdersLexically(t *testing.T) {
	a := time.Date(2025, 1, 1, 0, 0, 0, 5, time.UTC)
	b := time.Date(2025, 1, 1, 0, 0, 0, 500_000_000, time.UTC)
	assert.Less(t, FormatTime(a), FormatTime(b))
	assert.True(t, ParseTime(FormatTime(a)).Equal(a))
	assert.True(t, ParseTime("2025-01-01T00:00:00Z").Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, ParseTime("garbage").IsZero())
}
