package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/urlshield/urlshield/internal/model"
)

// Input is what an escalation client sees about one URL.
type Input struct {
	URL      string
	Title    string
	Contexts []string
	RuleHits []RuleMatch
}

// Analysis is an escalation client's verdict.
type Analysis struct {
	Category    model.Category
	Explanation string
	Issues      []string
	Confidence  float64
}

// Client is one escalation provider. Implementations must be safe for
// concurrent use.
type Client interface {
	Name() string
	Analyze(ctx context.Context, input Input) (*Analysis, error)
}

// parseAnalysis extracts the verdict from a model response. Models wrap JSON
// in prose or markdown fences often enough that a failed parse retries on the
// outermost brace pair.
func parseAnalysis(content string) (*Analysis, error) {
	var raw struct {
		Category         string   `json:"category"`
		Explanation      string   `json:"explanation"`
		ComplianceIssues []string `json:"compliance_issues"`
		Confidence       float64  `json:"confidence"`
	}

	trimmed := strings.TrimSpace(content)
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		start := strings.Index(trimmed, "{")
		end := strings.LastIndex(trimmed, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("no JSON object in response: %q", content)
		}
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &raw); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
	}

	var category model.Category
	switch strings.ToUpper(strings.TrimSpace(raw.Category)) {
	case "BLACKLIST":
		category = model.CategoryBlacklist
	case "WHITELIST":
		category = model.CategoryWhitelist
	default:
		category = model.CategoryReview
	}

	confidence := raw.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &Analysis{
		Category:    category,
		Confidence:  confidence,
		Explanation: raw.Explanation,
		Issues:      raw.ComplianceIssues,
	}, nil
}
