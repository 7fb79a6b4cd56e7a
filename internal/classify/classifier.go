package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/urlshield/urlshield/internal/common"
	"github.com/urlshield/urlshield/internal/model"
)

// negativeKeywords in an escalation explanation flip the verdict to
// blacklist: a page warning readers away from the brand is as damaging as a
// non-compliant promotion.
var negativeKeywords = []string{
	"negative review", "scam", "terrible", "awful", "poor service",
	"unreliable", "bad experience", "not recommended", "avoid",
	"complaint", "dissatisfied", "bad reviews",
}

// Outcome is the classifier's final verdict for one URL.
type Outcome struct {
	Category    model.Category
	Method      model.AnalysisMethod
	Provider    string
	Explanation string
	Issues      []string
	RuleHits    []RuleMatch
	Confidence  float64
}

// Classifier combines the rule set with an escalation chain.
type Classifier struct {
	rules *RuleSet
	chain []Client
}

// New creates a classifier. The chain is tried in order; it may be empty, in
// which case inconclusive cases degrade immediately.
func New(rules *RuleSet, chain ...Client) *Classifier {
	return &Classifier{rules: rules, chain: chain}
}

// Classify decides the category for a URL from its brand mentions.
//
// Decision order:
//  1. no mentions at all: whitelist
//  2. critical or high severity rule hit: blacklist, no escalation
//  3. escalation verdict merged with remaining rule hits, conservatively
//  4. escalation unavailable: blacklist when rules hit, otherwise degrade
//     to review with zero confidence
func (c *Classifier) Classify(ctx context.Context, content *model.ContentRecord, matches []model.MatchResult) (*Outcome, error) {
	if len(matches) == 0 {
		return &Outcome{
			Category:    model.CategoryWhitelist,
			Confidence:  1,
			Method:      model.MethodPattern,
			Explanation: "no brand mentions found",
		}, nil
	}

	hits := c.evaluateRules(matches)
	for _, hit := range hits {
		if hit.Severity.decisive() {
			return &Outcome{
				Category:    model.CategoryBlacklist,
				Confidence:  0.95,
				Method:      model.MethodPattern,
				Explanation: fmt.Sprintf("%s rule matched: %q", hit.RuleName, hit.Text),
				Issues:      issueList(hits),
				RuleHits:    hits,
			}, nil
		}
	}

	analysis, provider := c.escalate(ctx, content, matches, hits)
	if analysis == nil {
		if len(hits) > 0 {
			return &Outcome{
				Category:    model.CategoryBlacklist,
				Confidence:  0.8,
				Method:      model.MethodPattern,
				Explanation: "compliance rules matched and escalation was unavailable",
				Issues:      issueList(hits),
				RuleHits:    hits,
			}, nil
		}
		slog.Warn("downgrading to review",
			"url", content.URL, "error", common.ErrEscalationUnavailable)
		return &Outcome{
			Category:    model.CategoryReview,
			Confidence:  0,
			Method:      model.MethodDegraded,
			Explanation: common.ErrEscalationUnavailable.Error(),
			RuleHits:    hits,
		}, nil
	}

	return c.merge(analysis, provider, hits), nil
}

// evaluateRules runs the rule set over each distinct match context.
func (c *Classifier) evaluateRules(matches []model.MatchResult) []RuleMatch {
	seen := make(map[string]struct{})
	var hits []RuleMatch
	for _, m := range matches {
		window := m.Context()
		if window == "" {
			continue
		}
		if _, dup := seen[window]; dup {
			continue
		}
		seen[window] = struct{}{}
		hits = append(hits, c.rules.Evaluate(window)...)
	}
	return hits
}

// escalate walks the provider chain and returns the first verdict, or nil
// when every provider fails.
func (c *Classifier) escalate(ctx context.Context, content *model.ContentRecord, matches []model.MatchResult, hits []RuleMatch) (*Analysis, string) {
	input := Input{
		URL:      content.URL,
		Title:    content.Title,
		Contexts: contexts(matches),
		RuleHits: hits,
	}

	for _, client := range c.chain {
		if ctx.Err() != nil {
			return nil, ""
		}
		analysis, err := client.Analyze(ctx, input)
		if err != nil {
			slog.Warn("escalation provider failed",
				"provider", client.Name(),
				"url", content.URL,
				"error", err)
			continue
		}
		return analysis, client.Name()
	}
	return nil, ""
}

// merge folds an escalation verdict together with the rule hits.
func (c *Classifier) merge(analysis *Analysis, provider string, hits []RuleMatch) *Outcome {
	out := &Outcome{
		Category:    analysis.Category,
		Confidence:  analysis.Confidence,
		Method:      model.MethodLLM,
		Provider:    provider,
		Explanation: analysis.Explanation,
		Issues:      append(issueList(hits), analysis.Issues...),
		RuleHits:    hits,
	}

	switch {
	case analysis.Category == model.CategoryBlacklist:
		// verdict stands
	case analysis.Category == model.CategoryReview && len(analysis.Issues) > 0:
		out.Category = model.CategoryBlacklist
	case hasNegativeSentiment(analysis):
		out.Category = model.CategoryBlacklist
		out.Explanation = "negative brand coverage: " + analysis.Explanation
	case analysis.Category == model.CategoryWhitelist && len(hits) == 0:
		// verdict stands
	case len(hits) > 0:
		// Rules hit and the escalation verdict does not clear the page.
		out.Category = model.CategoryBlacklist
	}
	return out
}

func hasNegativeSentiment(analysis *Analysis) bool {
	text := strings.ToLower(analysis.Explanation + " " + strings.Join(analysis.Issues, " "))
	for _, keyword := range negativeKeywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

func contexts(matches []model.MatchResult) []string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if window := m.Context(); window != "" {
			out = append(out, window)
		}
	}
	return out
}

func issueList(hits []RuleMatch) []string {
	seen := make(map[string]struct{})
	var issues []string
	for _, hit := range hits {
		if _, dup := seen[hit.RuleID]; dup {
			continue
		}
		seen[hit.RuleID] = struct{}{}
		issues = append(issues, strings.ToLower(hit.RuleID))
	}
	return issues
}
