package vectorindex

import "time"

const (
	defaultTopK          int32 = 5
	defaultMinSimilarity       = float32(0.6)
	defaultSearchTimeout       = 10 * time.Second
)

type searchConfig struct {
	topK          int32
	minSimilarity float32
	timeout       time.Duration
}

// SearchOption configures a Search call.
type SearchOption func(*searchConfig)

// WithTopK sets the maximum number of results.
func WithTopK(k int32) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithMinSimilarity sets the cosine-similarity floor for hits.
func WithMinSimilarity(threshold float32) SearchOption {
	return func(c *searchConfig) {
		c.minSimilarity = threshold
	}
}

// WithTimeout overrides the per-search timeout.
func WithTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func buildSearchConfig(opts []SearchOption) searchConfig {
	cfg := searchConfig{
		topK:          defaultTopK,
		minSimilarity: defaultMinSimilarity,
		timeout:       defaultSearchTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
