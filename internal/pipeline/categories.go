package pipeline

import (
	"context"
	"fmt"

	"github.com/kevinmichaelchen/star-catalog/internal/credential"
	"github.com/kevinmichaelchen/star-catalog/internal/models"
)

// briefDescriptionLength bounds the description sent per repository so the
// whole catalog fits in one prompt.
const briefDescriptionLength = 50

type CategoryGenerator interface {
	GenerateCategories(ctx context.Context, apiKey string, repos []models.RepoBrief) (*models.CategorySet, error)
}

type Lister interface {
	ListAll(ctx context.Context) ([]models.Repo, error)
}

// GenerateCategories asks the AI collaborator for a category set covering
// every stored repository.
func GenerateCategories(ctx context.Context, st Lister, ai CategoryGenerator, keys *credential.Rotator) (*models.CategorySet, error) {
	repos, err := st.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading repositories: %w", err)
	}
	if len(repos) == 0 {
		return nil, fmt.Errorf("no repositories stored; run fetch first")
	}

	briefs := make([]models.RepoBrief, 0, len(repos))
	for _, r := range repos {
		briefs = append(briefs, models.RepoBrief{
			Name:        r.Name,
			Description: truncate(r.Description, briefDescriptionLength),
		})
	}

	set, err := ai.GenerateCategories(ctx, keys.Next(), briefs)
	if err != nil {
		return nil, err
	}
	return set, nil
}
