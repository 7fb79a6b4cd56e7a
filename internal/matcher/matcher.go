// Package matcher finds brand mentions in fetched page content. An
// Aho-Corasick automaton decides in one pass which brand terms occur at all;
// a per-term scan then locates every occurrence and cuts the context window
// the classifier rules evaluate. An optional semantic step consults the
// vector index for pages that mention the brand without using its exact name.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	ahocorasick "github.com/cloudflare/ahocorasick"
	"github.com/google/uuid"

	"github.com/urlshield/urlshield/internal/common"
	"github.com/urlshield/urlshield/internal/model"
	"github.com/urlshield/urlshield/internal/vector"
)

const defaultContextWindow = 100

// Index is the subset of the vector client the semantic step needs.
type Index interface {
	vector.Embedder
	QueryNearest(ctx context.Context, embedding []float64, topK int) ([]vector.Neighbor, error)
}

// SemanticConfig enables the vector-index step.
type SemanticConfig struct {
	Index Index
	// Threshold is the minimum similarity score counted as a match.
	Threshold float64
	// TopK bounds how many neighbors are considered.
	TopK int
}

// Config configures the matcher.
type Config struct {
	// Terms are the brand terms to find, matched case-insensitively.
	Terms []string
	// ContextWindow is how many characters of context are kept on each
	// side of a match.
	ContextWindow int
	// Semantic enables the vector-index step when non-nil.
	Semantic *SemanticConfig
}

// Matcher finds brand term occurrences and their contexts.
type Matcher struct {
	trie     *ahocorasick.Matcher
	semantic *SemanticConfig
	terms    []string
	window   int
}

// New builds a matcher over the configured brand terms.
func New(cfg Config) (*Matcher, error) {
	if len(cfg.Terms) == 0 {
		return nil, fmt.Errorf("%w: no brand terms configured", common.ErrInvalidConfig)
	}

	terms := make([]string, 0, len(cfg.Terms))
	for _, term := range cfg.Terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			terms = append(terms, term)
		}
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: no usable brand terms", common.ErrInvalidConfig)
	}

	window := cfg.ContextWindow
	if window <= 0 {
		window = defaultContextWindow
	}
	if cfg.Semantic != nil {
		if cfg.Semantic.Threshold <= 0 {
			cfg.Semantic.Threshold = 0.8
		}
		if cfg.Semantic.TopK <= 0 {
			cfg.Semantic.TopK = 5
		}
	}

	return &Matcher{
		trie:     ahocorasick.NewStringMatcher(terms),
		terms:    terms,
		window:   window,
		semantic: cfg.Semantic,
	}, nil
}

// Match returns every brand mention in the content, pattern hits first, then
// semantic hits. An empty result means the page never mentions the brand.
// Semantic step failures are logged and ignored so index downtime cannot
// block the pipeline.
func (m *Matcher) Match(ctx context.Context, content *model.ContentRecord) ([]model.MatchResult, error) {
	text := content.Title + "\n" + content.Text
	matches := m.patternMatches(content.ID, text)

	if m.semantic != nil {
		semantic, err := m.semanticMatches(ctx, content)
		if err != nil {
			slog.Warn("semantic matching unavailable",
				"url", content.URL,
				"error", err)
		} else {
			matches = append(matches, semantic...)
		}
	}
	return matches, nil
}

// patternMatches locates every occurrence of every term the automaton found
// in the text. Offsets and windows are in runes so multibyte content cuts
// cleanly.
func (m *Matcher) patternMatches(contentID, text string) []model.MatchResult {
	lowered := strings.ToLower(text)
	hits := m.trie.Match([]byte(lowered))
	if len(hits) == 0 {
		return nil
	}

	runes := []rune(text)
	lowRunes := []rune(lowered)
	if len(lowRunes) != len(runes) {
		// Case folding changed the rune count, so original-text offsets
		// are unreliable. Work on the folded text throughout.
		runes = lowRunes
	}

	var results []model.MatchResult
	for _, hit := range hits {
		term := []rune(m.terms[hit])
		for from := 0; ; {
			offset := runeIndex(lowRunes, term, from)
			if offset < 0 {
				break
			}
			results = append(results, m.result(contentID, runes, offset, len(term)))
			from = offset + len(term)
		}
	}
	return results
}

func (m *Matcher) result(contentID string, runes []rune, offset, length int) model.MatchResult {
	before := offset - m.window
	if before < 0 {
		before = 0
	}
	after := offset + length + m.window
	if after > len(runes) {
		after = len(runes)
	}

	return model.MatchResult{
		ID:            uuid.NewString(),
		ContentID:     contentID,
		Text:          string(runes[offset : offset+length]),
		ContextBefore: string(runes[before:offset]),
		ContextAfter:  string(runes[offset+length : after]),
		Offset:        offset,
	}
}

func (m *Matcher) semanticMatches(ctx context.Context, content *model.ContentRecord) ([]model.MatchResult, error) {
	embedding, err := m.semantic.Index.Embed(ctx, content.Text)
	if err != nil {
		return nil, err
	}
	neighbors, err := m.semantic.Index.QueryNearest(ctx, embedding, m.semantic.TopK)
	if err != nil {
		return nil, err
	}

	var results []model.MatchResult
	for _, n := range neighbors {
		if n.Score < m.semantic.Threshold {
			continue
		}
		results = append(results, model.MatchResult{
			ID:          uuid.NewString(),
			ContentID:   content.ID,
			Text:        n.Text,
			EmbeddingID: n.ID,
			Similarity:  n.Score,
			Semantic:    true,
		})
	}
	return results, nil
}

// runeIndex returns the first occurrence of needle in haystack at or after
// from, or -1.
func runeIndex(haystack, needle []rune, from int) int {
	for i := from; i+len(needle) <= len(haystack); i++ {
		found := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				found = false
				break
			}
		}
		if found {
			return i
		}
	}
	return -1
}
