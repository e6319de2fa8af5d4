// Package sqlite is the default record store: one SQLite file, schema
// managed by goose migrations.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/kevinmichaelchen/star-catalog/internal/models"
	"github.com/kevinmichaelchen/star-catalog/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Repository implements store.Backend on SQLite.
type Repository struct {
	db *sql.DB
}

var _ store.Backend = (*Repository)(nil)

// New opens (creating if needed) the database at path and migrates it.
func New(ctx context.Context, path string) (*Repository, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	repo := &Repository{db: db}
	if err := repo.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return repo, nil
}

func (r *Repository) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, r.db, fsys)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Exists(ctx context.Context, name string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM repositories WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("counting %s: %w", name, err)
	}
	return n > 0, nil
}

func (r *Repository) Upsert(ctx context.Context, u models.RepoUpsert, now time.Time) error {
	ts := store.FormatTime(now)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO repositories (name, description, language, topics, url, readme, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			language    = excluded.language,
			topics      = excluded.topics,
			url         = excluded.url,
			readme      = excluded.readme,
			updated_at  = MAX(repositories.updated_at, excluded.updated_at)`,
		u.Name, u.Description, u.Language, store.EncodeTopics(u.Topics), u.URL, u.ReadmeExcerpt, ts, ts)
	if err != nil {
		return fmt.Errorf("upserting %s: %w", u.Name, err)
	}
	return nil
}

const selectColumns = `SELECT name, description, language, topics, url, readme, category, ai_summary, created_at, updated_at FROM repositories`

func (r *Repository) ListAll(ctx context.Context) ([]models.Repo, error) {
	return r.query(ctx, selectColumns+` ORDER BY name`)
}

func (r *Repository) ListByCategory(ctx context.Context, category string) ([]models.Repo, error) {
	return r.query(ctx, selectColumns+` WHERE category = ? ORDER BY name`, category)
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]models.Repo, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying repositories: %w", err)
	}
	defer rows.Close()

	var repos []models.Repo
	for rows.Next() {
		var (
			repo                 models.Repo
			topics               string
			category, summary    sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&repo.Name, &repo.Description, &repo.Language, &topics, &repo.URL,
			&repo.ReadmeExcerpt, &category, &summary, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning repository: %w", err)
		}
		repo.Topics = store.DecodeTopics(topics)
		repo.Category = nullToPtr(category)
		repo.AISummary = nullToPtr(summary)
		repo.CreatedAt = store.ParseTime(createdAt)
		repo.UpdatedAt = store.ParseTime(updatedAt)
		repos = append(repos, repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating repositories: %w", err)
	}
	return repos, nil
}

func (r *Repository) SetCategory(ctx context.Context, name, category string, now time.Time) error {
	return r.setField(ctx, "category", name, category, now)
}

func (r *Repository) SetSummary(ctx context.Context, name, summary string, now time.Time) error {
	return r.setField(ctx, "ai_summary", name, summary, now)
}

// setField is only called with the column names above.
func (r *Repository) setField(ctx context.Context, column, name, value string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE repositories SET `+column+` = ?, updated_at = MAX(updated_at, ?) WHERE name = ?`,
		value, store.FormatTime(now), name)
	if err != nil {
		return fmt.Errorf("updating %s of %s: %w", column, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating %s of %s: %w", column, name, err)
	}
	if n == 0 {
		return fmt.Errorf("updating %s of %s: %w", column, name, store.ErrNotFound)
	}
	return nil
}

func (r *Repository) EvictStale(ctx context.Context, watermark, cutoff time.Time) (int, int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning eviction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var retained int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM repositories WHERE updated_at >= ? AND updated_at < ?`,
		store.FormatTime(cutoff), store.FormatTime(watermark)).Scan(&retained); err != nil {
		return 0, 0, fmt.Errorf("counting retained: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM repositories WHERE updated_at < ?`, store.FormatTime(cutoff))
	if err != nil {
		return 0, 0, fmt.Errorf("deleting stale: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("deleting stale: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing eviction: %w", err)
	}
	return int(deleted), retained, nil
}

func nullToPtr(ns sql.NullString) *string {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	s := ns.String
	return &s
}
