package pipeline

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinmichaelchen/star-catalog/internal/config"
	"github.com/kevinmichaelchen/star-catalog/internal/events"
	"github.com/kevinmichaelchen/star-catalog/internal/models"
)

type sliceSource struct {
	listID string
	repos  []models.Descriptor
}

func (s *sliceSource) Listing(_ context.Context, listID string) iter.Seq2[models.Descriptor, error] {
	s.listID = listID
	return listing(s.repos...)
}

type recordingPublisher struct {
	mu      sync.Mutex
	reports []events.PassReport
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, r events.PassReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, r)
	return p.err
}

func (p *recordingPublisher) Close() {}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Path:       filepath.Join(t.TempDir(), "config.yaml"),
		Categories: []string{"Libraries", "Tools"},
	}
	cfg.GitHub.StarListID = "UL_42"
	cfg.GitHub.ReadmeExcerptLength = 500
	cfg.Database.Cleanup.ThresholdDays = 7
	cfg.Concurrency.Fetch.MaxWorkers = 2
	cfg.Concurrency.Classify.MaxWorkers = 2
	cfg.OpenAI.APIKeys = []string{"k1", "k2"}
	return cfg
}

func TestRunnerFetchPublishesReport(t *testing.T) {
	ctx := context.Background()
	g, clock := newGateway(t)
	pub := &recordingPublisher{}
	cfg := testConfig(t)

	r := NewRunner(cfg, g, pub, quietLogger(), WithRunnerClock(clock.Now))
	src := &sliceSource{repos: []models.Descriptor{descriptor("a/one"), descriptor("a/two")}}

	report, err := r.Fetch(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, "UL_42", src.listID)
	assert.Equal(t, 2, report.Succeeded)

	require.Len(t, pub.reports, 1)
	got := pub.reports[0]
	assert.Equal(t, events.KindFetch, got.Kind)
	assert.NotEmpty(t, got.RunID)
	assert.Equal(t, t0, got.StartedAt)
	assert.Equal(t, 2, got.Total)
}

func TestRunnerPublishFailureDoesNotFailPass(t *testing.T) {
	g, clock := newGateway(t)
	pub := &recordingPublisher{err: errors.New("nats down")}

	r := NewRunner(testConfig(t), g, pub, quietLogger(), WithRunnerClock(clock.Now))
	_, err := r.Fetch(context.Background(), &sliceSource{repos: []models.Descriptor{descriptor("a/one")}})
	assert.NoError(t, err)
}

func TestRunnerClassify(t *testing.T) {
	ctx := context.Background()
	g, _ := newGateway(t)
	require.NoError(t, g.Upsert(ctx, models.RepoUpsert{Name: "a/one"}))
	pub := &recordingPublisher{}

	r := NewRunner(testConfig(t), g, pub, quietLogger())
	report, err := r.Classify(ctx, &fakeAI{}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	require.Len(t, pub.reports, 1)
	assert.Equal(t, events.KindClassify, pub.reports[0].Kind)
	assert.Equal(t, map[string]int{"Tools": 1}, pub.reports[0].Categories)
}

func TestRunnerClassifySetupErrors(t *testing.T) {
	g, _ := newGateway(t)

	noKeys := testConfig(t)
	noKeys.OpenAI.APIKeys = nil
	_, err := NewRunner(noKeys, g, nil, quietLogger()).Classify(context.Background(), &fakeAI{}, false)
	var cerr *config.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "openai.api_keys", cerr.Field)

	noCats := testConfig(t)
	noCats.Categories = nil
	_, err = NewRunner(noCats, g, nil, quietLogger()).Classify(context.Background(), &fakeAI{}, false)
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "categories", cerr.Field)
}

func TestRunnerGenerateCategoriesRewritesConfig(t *testing.T) {
	ctx := context.Background()
	g, _ := newGateway(t)
	require.NoError(t, g.Upsert(ctx, models.RepoUpsert{Name: "a/one", Description: "web framework"}))

	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Path, []byte("# mine\ngithub:\n  token: abc\ncategories:\n  - Old\n"), 0o644))

	ai := &fakeAI{set: &models.CategorySet{
		Categories:   []string{"Web", "CLI"},
		Descriptions: map[string]string{"Web": "web things"},
	}}
	set, err := NewRunner(cfg, g, nil, quietLogger()).GenerateCategories(ctx, ai)
	require.NoError(t, err)
	assert.Equal(t, []string{"Web", "CLI"}, set.Categories)
	assert.Equal(t, []string{"Web", "CLI"}, cfg.Categories)

	data, err := os.ReadFile(cfg.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "token: abc")
	assert.Contains(t, string(data), "- Web")
	assert.NotContains(t, string(data), "Old")
}

func TestRunnerGenerateCategoriesFailureLeavesConfig(t *testing.T) {
	ctx := context.Background()
	g, _ := newGateway(t)
	require.NoError(t, g.Upsert(ctx, models.RepoUpsert{Name: "a/one"}))

	cfg := testConfig(t)
	original := []byte("categories:\n  - Old\n")
	require.NoError(t, os.WriteFile(cfg.Path, original, 0o644))

	_, err := NewRunner(cfg, g, nil, quietLogger()).GenerateCategories(ctx, &fakeAI{setErr: errors.New("malformed")})
	require.Error(t, err)

	data, err := os.ReadFile(cfg.Path)
	require.NoError(t, err)
	assert.Equal(t, original, data)
}

func TestOpenStoreSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "nested", "stars.db")

	g, err := OpenStore(context.Background(), cfg)
	require.NoError(t, err)
	defer g.Close()

	_, err = os.Stat(cfg.Database.Path)
	assert.NoError(t, err)
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "mysql"

	_, err := OpenStore(context.Background(), cfg)
	var cerr *config.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "database.driver", cerr.Field)
}
