package models

import (
	"context"
	"time"
)

// FallbackCategory is assigned when the AI returns a category outside the
// configured set.
const FallbackCategory = "other"

// UnclassifiedHeading groups records that have never been classified.
const UnclassifiedHeading = "unclassified"

// Repo is one cataloged repository, keyed by Name.
type Repo struct {
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Language      string    `json:"language"`
	Topics        []string  `json:"topics"`
	URL           string    `json:"url"`
	ReadmeExcerpt string    `json:"readme_excerpt"`
	Category      *string   `json:"category"`
	AISummary     *string   `json:"ai_summary"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NeedsClassification reports whether the record has no category yet or was
// clamped to the fallback on a previous pass.
func (r Repo) NeedsClassification() bool {
	return r.Category == nil || *r.Category == "" || *r.Category == FallbackCategory
}

// RepoUpsert carries the fields a fetch pass refreshes.
type RepoUpsert struct {
	Name          string
	Description   string
	Language      string
	Topics        []string
	URL           string
	ReadmeExcerpt string
}

// ReadmeFunc fetches the full readme text of one repository.
type ReadmeFunc func(ctx context.Context) (string, error)

// Descriptor is what the listing collaborator yields per starred repository.
type Descriptor struct {
	Name        string
	Description string
	Language    string
	Topics      []string
	URL         string
	Readme      ReadmeFunc
}
