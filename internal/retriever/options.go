package retriever

import "github.com/google/uuid"

const (
	// DefaultTopK is the result bound when none is given.
	DefaultTopK = 5

	// DefaultThreshold is the cosine similarity floor.
	DefaultThreshold = 0.7

	// DefaultExpansion is the paraphrase count when expansion is enabled
	// without an explicit n.
	DefaultExpansion = 3

	// Default hybrid weights.
	DefaultVectorWeight  = 0.7
	DefaultKeywordWeight = 0.3
)

// options collects per-call retrieval settings.
type options struct {
	topK          int
	threshold     float64
	documentID    uuid.UUID
	expansion     int
	hybrid        bool
	vectorWeight  float64
	keywordWeight float64
	rerank        bool
}

// Option customizes a single Retrieve call.
type Option func(*options)

func defaultOptions() options {
	return options{
		topK:          DefaultTopK,
		threshold:     DefaultThreshold,
		vectorWeight:  DefaultVectorWeight,
		keywordWeight: DefaultKeywordWeight,
	}
}

// WithTopK bounds the number of results. Non-positive values keep the
// default.
func WithTopK(k int) Option {
	return func(o *options) {
		if k > 0 {
			o.topK = k
		}
	}
}

// WithThreshold sets the similarity floor for the vector leg.
func WithThreshold(t float64) Option {
	return func(o *options) {
		if t >= 0 && t <= 1 {
			o.threshold = t
		}
	}
}

// WithDocument restricts retrieval to one document.
func WithDocument(id uuid.UUID) Option {
	return func(o *options) { o.documentID = id }
}

// WithExpansion enables query expansion with n paraphrases. n <= 0 uses the
// default count.
func WithExpansion(n int) Option {
	return func(o *options) {
		if n <= 0 {
			n = DefaultExpansion
		}
		o.expansion = n
	}
}

// WithHybrid enables the parallel keyword leg. Non-positive weights keep the
// defaults.
func WithHybrid(vectorWeight, keywordWeight float64) Option {
	return func(o *options) {
		o.hybrid = true
		if vectorWeight > 0 {
			o.vectorWeight = vectorWeight
		}
		if keywordWeight > 0 {
			o.keywordWeight = keywordWeight
		}
	}
}

// WithRerank enables LLM reranking of the merged candidates.
func WithRerank() Option {
	return func(o *options) { o.rerank = true }
}
