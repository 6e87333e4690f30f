package scheduler

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
)

// ErrCatalogExhausted is returned when every task in the catalog already
// has an active job
var ErrCatalogExhausted = errors.New("no unused task left in catalog")

// Catalog picks the next synthetic task
type Catalog interface {
	Next(exclude []string) (string, error)
}

// StaticCatalog draws uniformly from a fixed list of task ids
type StaticCatalog struct {
	tasks []string
	rng   *rand.Rand
	mu    sync.Mutex
}

// NewStaticCatalog creates a catalog. Ids are lowercased and deduplicated.
func NewStaticCatalog(tasks []string, seed int64) *StaticCatalog {
	seen := make(map[string]bool, len(tasks))
	clean := make([]string, 0, len(tasks))
	for _, t := range tasks {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		clean = append(clean, t)
	}
	return &StaticCatalog{tasks: clean, rng: rand.New(rand.NewSource(seed))}
}

// Next returns a random task id not present in exclude
func (c *StaticCatalog) Next(exclude []string) (string, error) {
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[strings.ToLower(e)] = true
	}

	candidates := make([]string, 0, len(c.tasks))
	for _, t := range c.tasks {
		if !skip[t] {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return "", ErrCatalogExhausted
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return candidates[c.rng.Intn(len(candidates))], nil
}

// Len returns the catalog size
func (c *StaticCatalog) Len() int {
	return len(c.tasks)
}
