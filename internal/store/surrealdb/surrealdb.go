// Package surrealdb stores repository records in a SurrealDB table, as an
// alternative to the embedded SQLite file.
package surrealdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/surrealdb/surrealdb.go"

	"github.com/kevinmichaelchen/star-catalog/internal/config"
	"github.com/kevinmichaelchen/star-catalog/internal/models"
	"github.com/kevinmichaelchen/star-catalog/internal/store"
)

type Client struct {
	db *sdk.DB
}

var _ store.Backend = (*Client)(nil)

func NewClient(ctx context.Context, cfg config.SurrealDBConfig) (*Client, error) {
	// The SDK appends /rpc automatically
	url := strings.TrimSuffix(cfg.URL, "/rpc")
	url = strings.TrimSuffix(url, "/")

	db, err := sdk.FromEndpointURLString(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to SurrealDB: %w", err)
	}

	if cfg.Username != "" {
		if _, err := db.SignIn(ctx, sdk.Auth{
			Namespace: cfg.Namespace,
			Database:  cfg.Database,
			Username:  cfg.Username,
			Password:  cfg.Password,
		}); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("signing in: %w", err)
		}
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("selecting ns/db: %w", err)
	}

	c := &Client{db: db}
	if err := c.InitSchema(ctx); err != nil {
		_ = db.Close(ctx)
		return nil, err
	}
	return c, nil
}

func (c *Client) Close() error {
	return c.db.Close(context.Background())
}

// Timestamps are stored in store.TimeLayout strings so that comparisons in
// queries order the same way as in SQLite. Topics are stored serialized.
func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
DEFINE TABLE IF NOT EXISTS repository SCHEMAFULL;

DEFINE FIELD IF NOT EXISTS name           ON TABLE repository TYPE string;
DEFINE FIELD IF NOT EXISTS description    ON TABLE repository TYPE string;
DEFINE FIELD IF NOT EXISTS language       ON TABLE repository TYPE string;
DEFINE FIELD IF NOT EXISTS topics         ON TABLE repository TYPE string;
DEFINE FIELD IF NOT EXISTS url            ON TABLE repository TYPE string;
DEFINE FIELD IF NOT EXISTS readme_excerpt ON TABLE repository TYPE string;
DEFINE FIELD IF NOT EXISTS category       ON TABLE repository TYPE option<string>;
DEFINE FIELD IF NOT EXISTS ai_summary     ON TABLE repository TYPE option<string>;
DEFINE FIELD IF NOT EXISTS created_at     ON TABLE repository TYPE option<string>;
DEFINE FIELD IF NOT EXISTS updated_at     ON TABLE repository TYPE option<string>;

DEFINE INDEX IF NOT EXISTS idx_name       ON TABLE repository FIELDS name UNIQUE;
DEFINE INDEX IF NOT EXISTS idx_category   ON TABLE repository FIELDS category;
DEFINE INDEX IF NOT EXISTS idx_updated_at ON TABLE repository FIELDS updated_at;
`
	_, err := sdk.Query[any](ctx, c.db, schema, nil)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

func recordID(name string) string {
	return strings.ReplaceAll(name, "/", "__")
}

func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	results, err := sdk.Query[[]string](ctx, c.db,
		`SELECT VALUE name FROM repository WHERE name = $name LIMIT 1`,
		map[string]any{"name": name})
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", name, err)
	}
	return len(*results) > 0 && len((*results)[0].Result) > 0, nil
}

func (c *Client) Upsert(ctx context.Context, r models.RepoUpsert, now time.Time) error {
	data := map[string]any{
		"name":           r.Name,
		"description":    r.Description,
		"language":       r.Language,
		"topics":         store.EncodeTopics(r.Topics),
		"url":            r.URL,
		"readme_excerpt": r.ReadmeExcerpt,
	}

	_, err := sdk.Query[any](ctx, c.db, `
UPSERT type::thing("repository", $id) MERGE $data;
UPDATE type::thing("repository", $id) SET
	created_at = IF created_at IS NONE THEN $now ELSE created_at END,
	updated_at = IF updated_at IS NONE OR updated_at < $now THEN $now ELSE updated_at END;`,
		map[string]any{
			"id":   recordID(r.Name),
			"data": data,
			"now":  store.FormatTime(now),
		})
	if err != nil {
		return fmt.Errorf("upserting %s: %w", r.Name, err)
	}
	return nil
}

type row struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Language      string  `json:"language"`
	Topics        string  `json:"topics"`
	URL           string  `json:"url"`
	ReadmeExcerpt string  `json:"readme_excerpt"`
	Category      *string `json:"category"`
	AISummary     *string `json:"ai_summary"`
	CreatedAt     *string `json:"created_at"`
	UpdatedAt     *string `json:"updated_at"`
}

func (r row) toRepo() models.Repo {
	repo := models.Repo{
		Name:          r.Name,
		Description:   r.Description,
		Language:      r.Language,
		Topics:        store.DecodeTopics(r.Topics),
		URL:           r.URL,
		ReadmeExcerpt: r.ReadmeExcerpt,
		Category:      r.Category,
		AISummary:     r.AISummary,
	}
	if r.CreatedAt != nil {
		repo.CreatedAt = store.ParseTime(*r.CreatedAt)
	}
	if r.UpdatedAt != nil {
		repo.UpdatedAt = store.ParseTime(*r.UpdatedAt)
	}
	return repo
}

func (c *Client) ListAll(ctx context.Context) ([]models.Repo, error) {
	return c.selectRepos(ctx, `SELECT * FROM repository ORDER BY name`, nil)
}

func (c *Client) ListByCategory(ctx context.Context, category string) ([]models.Repo, error) {
	return c.selectRepos(ctx, `SELECT * FROM repository WHERE category = $category ORDER BY name`,
		map[string]any{"category": category})
}

func (c *Client) selectRepos(ctx context.Context, q string, vars map[string]any) ([]models.Repo, error) {
	results, err := sdk.Query[[]row](ctx, c.db, q, vars)
	if err != nil {
		return nil, fmt.Errorf("querying repositories: %w", err)
	}
	if len(*results) == 0 {
		return nil, nil
	}
	rows := (*results)[0].Result
	repos := make([]models.Repo, 0, len(rows))
	for _, r := range rows {
		repos = append(repos, r.toRepo())
	}
	return repos, nil
}

func (c *Client) SetCategory(ctx context.Context, name, category string, now time.Time) error {
	return c.setField(ctx, "category", name, category, now)
}

func (c *Client) SetSummary(ctx context.Context, name, summary string, now time.Time) error {
	return c.setField(ctx, "ai_summary", name, summary, now)
}

// setField is only called with the field names above.
func (c *Client) setField(ctx context.Context, field, name, value string, now time.Time) error {
	results, err := sdk.Query[[]row](ctx, c.db,
		`UPDATE repository SET
			`+field+` = $value,
			updated_at = IF updated_at IS NONE OR updated_at < $now THEN $now ELSE updated_at END
		WHERE name = $name RETURN AFTER`,
		map[string]any{
			"name":  name,
			"value": value,
			"now":   store.FormatTime(now),
		})
	if err != nil {
		return fmt.Errorf("updating %s of %s: %w", field, name, err)
	}
	if len(*results) == 0 || len((*results)[0].Result) == 0 {
		return fmt.Errorf("updating %s of %s: %w", field, name, store.ErrNotFound)
	}
	return nil
}

func (c *Client) EvictStale(ctx context.Context, watermark, cutoff time.Time) (int, int, error) {
	counted, err := sdk.Query[[]map[string]any](ctx, c.db,
		`SELECT count() AS n FROM repository
		WHERE updated_at >= $cutoff AND updated_at < $watermark GROUP ALL`,
		map[string]any{
			"cutoff":    store.FormatTime(cutoff),
			"watermark": store.FormatTime(watermark),
		})
	if err != nil {
		return 0, 0, fmt.Errorf("counting retained: %w", err)
	}
	retained := 0
	if len(*counted) > 0 && len((*counted)[0].Result) > 0 {
		retained = toInt((*counted)[0].Result[0]["n"])
	}

	removed, err := sdk.Query[[]row](ctx, c.db,
		`DELETE repository WHERE updated_at < $cutoff RETURN BEFORE`,
		map[string]any{"cutoff": store.FormatTime(cutoff)})
	if err != nil {
		return 0, 0, fmt.Errorf("deleting stale: %w", err)
	}
	deleted := 0
	if len(*removed) > 0 {
		deleted = len((*removed)[0].Result)
	}
	return deleted, retained, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	default:
		return 0
	}
}
