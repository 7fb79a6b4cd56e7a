package matcher

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urlshield/urlshield/internal/common"
	"github.com/urlshield/urlshield/internal/model"
	"github.com/urlshield/urlshield/internal/vector"
)

type fakeIndex struct {
	neighbors []vector.Neighbor
	embedErr  error
	queryErr  error
}

func (f *fakeIndex) Embed(context.Context, string) ([]float64, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return []float64{1, 0, 0}, nil
}

func (f *fakeIndex) QueryNearest(context.Context, []float64, int) ([]vector.Neighbor, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.neighbors, nil
}

func content(text string) *model.ContentRecord {
	return &model.ContentRecord{ID: "content-1", URL: "https://a.example.com/", Text: text}
}

func TestMatchFindsAllOccurrences(t *testing.T) {
	m, err := New(Config{Terms: []string{"Acme"}})
	require.NoError(t, err)

	matches, err := m.Match(context.Background(), content("Buy ACME products. Acme is trusted."))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "ACME", matches[0].Text)
	assert.Equal(t, "Acme", matches[1].Text)
	assert.Less(t, matches[0].Offset, matches[1].Offset)
}

func TestMatchContextWindows(t *testing.T) {
	m, err := New(Config{Terms: []string{"acme"}, ContextWindow: 10})
	require.NoError(t, err)

	text := strings.Repeat("x", 30) + " acme " + strings.Repeat("y", 30)
	matches, err := m.Match(context.Background(), content(text))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "xxxxxxxxx ", matches[0].ContextBefore)
	assert.Equal(t, " yyyyyyyyy", matches[0].ContextAfter)
	assert.Equal(t, matches[0].ContextBefore+"acme"+matches[0].ContextAfter, matches[0].Context())
}

func TestMatchWindowTruncatedAtEdges(t *testing.T) {
	m, err := New(Config{Terms: []string{"acme"}, ContextWindow: 100})
	require.NoError(t, err)

	matches, err := m.Match(context.Background(), content("acme only"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	// Only the title separator precedes the match; the window clamps to
	// the start of the text instead of overrunning it.
	assert.Equal(t, "\n", matches[0].ContextBefore)
	assert.Equal(t, " only", matches[0].ContextAfter)
}

func TestMatchRuneOffsets(t *testing.T) {
	m, err := New(Config{Terms: []string{"acme"}})
	require.NoError(t, err)

	// Multibyte characters before the match.
	matches, err := m.Match(context.Background(), content("日本語テキスト acme"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 9, matches[0].Offset) // newline + 7 runes + space
	assert.Equal(t, "acme", matches[0].Text)
}

func TestMatchNoMentions(t *testing.T) {
	m, err := New(Config{Terms: []string{"acme"}})
	require.NoError(t, err)

	matches, err := m.Match(context.Background(), content("nothing relevant here"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatchSemanticAboveThreshold(t *testing.T) {
	index := &fakeIndex{neighbors: []vector.Neighbor{
		{ID: "n1", Text: "brand reseller page", Score: 0.93},
		{ID: "n2", Text: "unrelated", Score: 0.40},
	}}
	m, err := New(Config{
		Terms:    []string{"acme"},
		Semantic: &SemanticConfig{Index: index, Threshold: 0.8},
	})
	require.NoError(t, err)

	matches, err := m.Match(context.Background(), content("no literal mention"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.True(t, matches[0].Semantic)
	assert.Equal(t, "n1", matches[0].EmbeddingID)
	assert.InDelta(t, 0.93, matches[0].Similarity, 1e-9)
}

func TestMatchSemanticFailureIsNotFatal(t *testing.T) {
	index := &fakeIndex{embedErr: errors.New("index down")}
	m, err := New(Config{
		Terms:    []string{"acme"},
		Semantic: &SemanticConfig{Index: index},
	})
	require.NoError(t, err)

	matches, err := m.Match(context.Background(), content("Acme is mentioned"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.False(t, matches[0].Semantic)
}

func TestNewRejectsEmptyTerms(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	_, err = New(Config{Terms: []string{"  ", ""}})
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}
