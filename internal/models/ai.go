package models

// ClassifyRequest is the record data sent to the AI collaborator for
// classification. Categories is the allowed set in force for this pass.
type ClassifyRequest struct {
	Name          string
	Description   string
	Language      string
	Topics        []string
	ReadmeExcerpt string
	Categories    []string
}

// ClassifyResult is the expected classification payload. Category is
// required; Summary may be empty.
type ClassifyResult struct {
	Category string `json:"category"`
	Summary  string `json:"summary"`
}

// RepoBrief is the per-repository input for category generation.
type RepoBrief struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CategorySet is the expected category-generation payload.
type CategorySet struct {
	Categories   []string          `json:"categories"`
	Descriptions map[string]string `json:"category_descriptions"`
}
