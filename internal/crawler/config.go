package crawler

import "fmt"

// Config bounds a single seed crawl.
type Config struct {
	// MaxDepth is the largest hop distance from the seed that is admitted.
	MaxDepth int
	// MaxNodes caps the number of nodes in one subgraph, seed included.
	MaxNodes int
	// Concurrency caps the node fetches issued at once within a BFS level.
	Concurrency int
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("max depth must be >= 0, got %d", c.MaxDepth)
	}
	if c.MaxNodes < 1 {
		return fmt.Errorf("max nodes must be >= 1, got %d", c.MaxNodes)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	return nil
}
