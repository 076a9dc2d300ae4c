// Package retriever finds the chunks most relevant to a query.
//
// The base pipeline embeds the query and runs cosine search. On top of that,
// per-call options add query expansion (paraphrase fan-out), a hybrid
// keyword leg, and LLM reranking. Every optional stage degrades instead of
// failing: a broken paraphrase call falls back to the base query and a
// malformed rerank response keeps the pre-rerank order.
package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/corvid-labs/corvus/internal/vecstore"
)

// ErrRerankParse indicates the rerank model response held no usable index
// array. Retrieval falls back to the pre-rerank order instead of surfacing
// it.
var ErrRerankParse = errors.New("rerank response parse error")

// Embedder turns a query into a vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the slice of the vector store retrieval needs.
type Searcher interface {
	Query(ctx context.Context, vector []float32, opts vecstore.QueryOptions) ([]vecstore.Match, error)
	Keyword(ctx context.Context, query string, opts vecstore.QueryOptions) ([]vecstore.Match, error)
}

// Generator produces text for expansion and reranking. May be nil, which
// disables both stages.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Match couples a retrieved chunk with the score used for final ranking.
// Similarity on the embedded match stays the cosine similarity of the vector
// leg; Score folds in the keyword bonus when hybrid search is on. A chunk
// found only by the keyword leg has Similarity zero.
type Match struct {
	vecstore.Match
	Score float64
}

// Result is an ordered set of retrieved chunks.
type Result struct {
	Query   string
	Matches []Match

	// Threshold is the similarity floor the vector leg was run with.
	// Callers use it to separate vector-grounded matches from keyword-only
	// ones.
	Threshold float64
}

// Retriever executes retrieval pipelines.
//
// Retriever is safe for concurrent use by multiple goroutines.
type Retriever struct {
	embedder  Embedder
	store     Searcher
	generator Generator
	logger    *slog.Logger
}

// New creates a Retriever. generator may be nil; expansion and rerank then
// silently stay off.
func New(embedder Embedder, store Searcher, generator Generator, logger *slog.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, store: store, generator: generator, logger: logger}, nil
}

// Retrieve returns at most topK chunks relevant to query, ordered by score
// descending with chunk id breaking ties. An empty candidate set is an empty
// Result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query, owner string, opts ...Option) (*Result, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	queries := []string{query}
	if o.expansion > 0 && r.generator != nil {
		queries = append(queries, r.expandQuery(ctx, query, o.expansion)...)
	}

	// The keyword leg runs alongside the vector fan-out and joins at the
	// merge. The channel is buffered so an early error return never strands
	// the goroutine.
	type keywordResult struct {
		matches []vecstore.Match
		err     error
	}
	var keywordCh chan keywordResult
	if o.hybrid {
		keywordCh = make(chan keywordResult, 1)
		go func() {
			matches, err := r.store.Keyword(ctx, query, vecstore.QueryOptions{
				TopK:       o.topK,
				Owner:      owner,
				DocumentID: o.documentID,
			})
			keywordCh <- keywordResult{matches: matches, err: err}
		}()
	}

	vectorScores, err := r.vectorLeg(ctx, queries, owner, o)
	if err != nil {
		return nil, err
	}

	merged := vectorScores
	if o.hybrid {
		keyword := <-keywordCh
		if keyword.err != nil {
			return nil, keyword.err
		}
		merged = combineHybrid(vectorScores, keyword.matches, o.vectorWeight, o.keywordWeight)
	}

	sortByScore(merged)

	// Rerank runs on the full merged set; topK truncation follows.
	if o.rerank && r.generator != nil && len(merged) > 1 {
		merged = r.rerank(ctx, query, merged)
	}
	if len(merged) > o.topK {
		merged = merged[:o.topK]
	}

	r.logger.Debug("retrieved chunks",
		"query_count", len(queries),
		"matches", len(merged),
		"hybrid", o.hybrid,
		"rerank", o.rerank)

	return &Result{Query: query, Matches: merged, Threshold: o.threshold}, nil
}

// vectorLeg embeds each query variant and searches concurrently, deduping by
// chunk id and keeping the best similarity per chunk.
func (r *Retriever) vectorLeg(ctx context.Context, queries []string, owner string, o options) ([]Match, error) {
	type legResult struct {
		matches []vecstore.Match
		err     error
	}

	results := make(chan legResult, len(queries))
	var wg sync.WaitGroup
	for _, q := range queries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			matches, err := r.searchOne(ctx, q, owner, o)
			results <- legResult{matches: matches, err: err}
		}()
	}
	wg.Wait()
	close(results)

	best := make(map[string]vecstore.Match)
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		for _, m := range res.matches {
			key := m.ID.String()
			if prev, ok := best[key]; !ok || m.Similarity > prev.Similarity {
				best[key] = m
			}
		}
	}
	// Expanded variants may fail individually; only a total failure is an
	// error.
	if len(best) == 0 && firstErr != nil {
		return nil, firstErr
	}

	matches := make([]Match, 0, len(best))
	for _, m := range best {
		matches = append(matches, Match{Match: m, Score: m.Similarity})
	}
	return matches, nil
}

func (r *Retriever) searchOne(ctx context.Context, query, owner string, o options) ([]vecstore.Match, error) {
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.store.Query(ctx, vector, vecstore.QueryOptions{
		TopK:       o.topK,
		Threshold:  o.threshold,
		Owner:      owner,
		DocumentID: o.documentID,
	})
}

// expandQuery asks the model for n paraphrases. Any failure returns nil so
// retrieval continues with the original query alone.
func (r *Retriever) expandQuery(ctx context.Context, query string, n int) []string {
	prompt := fmt.Sprintf(
		"Rephrase the following search query %d different ways, keeping the meaning. "+
			"Return one rephrasing per line with no numbering or commentary.\n\nQuery: %s", n, query)

	resp, err := r.generator.Generate(ctx, prompt)
	if err != nil {
		r.logger.Debug("query expansion failed, using base query", "error", err)
		return nil
	}

	var variants []string
	for line := range strings.SplitSeq(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == query {
			continue
		}
		variants = append(variants, line)
		if len(variants) == n {
			break
		}
	}
	return variants
}

// combineHybrid merges the vector and keyword legs:
//
//	score = vw * vectorSimilarity + kw * 1/(keywordRank+1)
//
// A chunk present in only one leg contributes zero for the other. Similarity
// keeps the vector leg's cosine value; keyword-only chunks get zero so
// callers can tell them apart from vector-grounded ones.
func combineHybrid(vector []Match, keyword []vecstore.Match, vw, kw float64) []Match {
	combined := make(map[string]Match, len(vector)+len(keyword))

	for _, m := range vector {
		m.Score = vw * m.Similarity
		combined[m.ID.String()] = m
	}
	for rank, m := range keyword {
		bonus := kw / float64(rank+1)
		if prev, ok := combined[m.ID.String()]; ok {
			prev.Score += bonus
			combined[m.ID.String()] = prev
			continue
		}
		m.Similarity = 0
		combined[m.ID.String()] = Match{Match: m, Score: bonus}
	}

	merged := make([]Match, 0, len(combined))
	for _, m := range combined {
		merged = append(merged, m)
	}
	return merged
}

// rerankIndexPattern matches the first JSON integer array in a model
// response.
var rerankIndexPattern = regexp.MustCompile(`\[\s*\d+(?:\s*,\s*\d+)*\s*\]`)

// rerank asks the model to reorder matches by relevance. On any parse
// problem the input order is returned unchanged.
func (r *Retriever) rerank(ctx context.Context, query string, matches []Match) []Match {
	var b strings.Builder
	fmt.Fprintf(&b, "Rank the following passages by relevance to the query.\n")
	fmt.Fprintf(&b, "Respond with only a JSON array of the passage numbers, most relevant first.\n\n")
	fmt.Fprintf(&b, "Query: %s\n\n", query)
	for i, m := range matches {
		fmt.Fprintf(&b, "Passage %d:\n%s\n\n", i+1, m.Content)
	}

	resp, err := r.generator.Generate(ctx, b.String())
	if err != nil {
		r.logger.Debug("rerank call failed, keeping original order", "error", err)
		return matches
	}

	order, err := parseRerankIndices(resp, len(matches))
	if err != nil {
		r.logger.Debug("rerank response unusable, keeping original order", "error", err)
		return matches
	}

	reordered := make([]Match, 0, len(matches))
	for _, idx := range order {
		reordered = append(reordered, matches[idx])
	}
	return reordered
}

// parseRerankIndices extracts a permutation of [0, n) from a model response
// containing 1-based passage numbers. Out-of-range and duplicate entries are
// dropped; passages the model omitted keep their original relative order at
// the end.
func parseRerankIndices(resp string, n int) ([]int, error) {
	raw := rerankIndexPattern.FindString(resp)
	if raw == "" {
		return nil, fmt.Errorf("%w: no index array in %q", ErrRerankParse, truncate(resp, 120))
	}

	var indices []int
	if err := json.Unmarshal([]byte(raw), &indices); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRerankParse, err)
	}

	seen := make(map[int]bool, n)
	var order []int
	for _, idx := range indices {
		idx-- // model speaks 1-based
		if idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		order = append(order, idx)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: no valid indices", ErrRerankParse)
	}

	for i := range n {
		if !seen[i] {
			order = append(order, i)
		}
	}
	return order, nil
}

// sortByScore orders matches by score descending, chunk id ascending on
// ties.
func sortByScore(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return bytes.Compare(matches[i].ID[:], matches[j].ID[:]) < 0
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
