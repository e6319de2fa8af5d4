// Package credential hands out API credentials round-robin to concurrent
// workers.
package credential

import (
	"sync"

	"github.com/kevinmichaelchen/star-catalog/internal/config"
)

// Rotator cycles through a fixed, non-empty pool of credentials.
type Rotator struct {
	mu     sync.Mutex
	keys   []string
	cursor int
}

// NewRotator copies keys into a new pool. An empty pool is a configuration
// error.
func NewRotator(keys []string) (*Rotator, error) {
	if len(keys) == 0 {
		return nil, &config.Error{Field: "openai.api_keys", Reason: "at least one API key is required"}
	}
	pool := make([]string, len(keys))
	copy(pool, keys)
	return &Rotator{keys: pool}, nil
}

// Next returns the credential at the cursor and advances it.
func (r *Rotator) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.keys[r.cursor]
	r.cursor = (r.cursor + 1) % len(r.keys)
	return key
}

// Len is the pool size.
func (r *Rotator) Len() int {
	return len(r.keys)
}
