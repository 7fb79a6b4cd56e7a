// Package classify assigns a compliance category to a URL from its brand
// mentions. A deterministic regex rule set runs first; when it cannot decide
// on its own, the case escalates to an LLM classifier chain. When every
// escalation provider is down the URL degrades to review rather than
// guessing.
package classify

import (
	"regexp"
)

// Severity ranks how damning a rule hit is.
type Severity string

// Rule severities.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// decisive reports whether a hit of this severity blacklists without
// escalation.
func (s Severity) decisive() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Rule is one compliance pattern evaluated against match contexts.
type Rule struct {
	regex       *regexp.Regexp
	ID          string
	Name        string
	Pattern     string
	Description string
	Severity    Severity
}

// RuleMatch is one rule hit inside a match context.
type RuleMatch struct {
	RuleID   string
	RuleName string
	Severity Severity
	Text     string
	Context  string
}

// RuleSet evaluates a fixed set of rules.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet compiles the given rules. Patterns are case-insensitive.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	compiled := make([]Rule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, err
		}
		r.regex = re
		compiled[i] = r
	}
	return &RuleSet{rules: compiled}, nil
}

// Evaluate runs every rule over the text and returns all hits.
func (s *RuleSet) Evaluate(text string) []RuleMatch {
	var hits []RuleMatch
	for _, rule := range s.rules {
		for _, loc := range rule.regex.FindAllStringIndex(text, -1) {
			hits = append(hits, RuleMatch{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				Severity: rule.Severity,
				Text:     text[loc[0]:loc[1]],
				Context:  text,
			})
		}
	}
	return hits
}

// DefaultRules is the built-in financial compliance rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "MISLEADING_INFO",
			Name:        "Misleading Information",
			Pattern:     `(guaranteed profit|100% success|risk[-\s]free trading|no loss|always profitable|never lose|certain return)`,
			Description: "Claims that suggest guaranteed profits or risk-free trading",
			Severity:    SeverityHigh,
		},
		{
			ID:          "UNAUTHORIZED_OFFER",
			Name:        "Unauthorized Offer",
			Pattern:     `(special offer|exclusive bonus|deposit bonus|trading bonus|free money|promotion code|special deal)`,
			Description: "Unauthorized offers or bonuses that may violate regulations",
			Severity:    SeverityMedium,
		},
		{
			ID:          "FALSE_REPRESENTATION",
			Name:        "False Representation",
			Pattern:     `(official partner|endorsed by|approved by|regulated by|certified by|authorized dealer|official broker)`,
			Description: "False claims about partnerships or regulatory approval",
			Severity:    SeverityHigh,
		},
		{
			ID:          "REGULATORY_ISSUES",
			Name:        "Regulatory Issues",
			Pattern:     `(unregulated|offshore|tax[-\s]free|evade taxes|circumvent regulations|bypass restrictions|avoid compliance)`,
			Description: "Content suggesting regulatory evasion or non-compliance",
			Severity:    SeverityCritical,
		},
		{
			ID:          "INAPPROPRIATE_MARKETING",
			Name:        "Inappropriate Marketing",
			Pattern:     `(get rich|quick money|easy money|fast cash|overnight success|become millionaire|trading secrets)`,
			Description: "Inappropriate marketing tactics",
			Severity:    SeverityMedium,
		},
		{
			ID:          "INVESTMENT_GUARANTEES",
			Name:        "Investment Guarantees",
			Pattern:     `(guaranteed investment|secure investment|risk-free investment|safe haven|assured returns|protected capital)`,
			Description: "Claims about guaranteed investment returns or safety",
			Severity:    SeverityHigh,
		},
		{
			ID:          "LEVERAGE_MISREPRESENTATION",
			Name:        "Leverage Misrepresentation",
			Pattern:     `(unlimited leverage|no margin call|no stop out|trade without limits|infinite margin)`,
			Description: "Misrepresentation of leverage or margin trading conditions",
			Severity:    SeverityHigh,
		},
		{
			ID:          "UNREALISTIC_RETURNS",
			Name:        "Unrealistic Returns",
			Pattern:     `(\d{2,}% (per|a) (day|week|month)|double your money|triple your investment|1000% profit|exponential growth)`,
			Description: "Claims about unrealistic investment returns",
			Severity:    SeverityHigh,
		},
		{
			ID:          "REGULATED_PRODUCTS_MISUSE",
			Name:        "Regulated Products Misuse",
			Pattern:     `(no KYC|anonymous trading|hidden accounts|secret trading|bypass verification)`,
			Description: "Suggestions of bypassing regulations for trading",
			Severity:    SeverityCritical,
		},
		{
			ID:          "NO_RISK_DISCLOSURE",
			Name:        "No Risk Disclosure",
			Pattern:     `(no risk disclosure|hidden fees|undisclosed commissions|secret costs|hidden charges)`,
			Description: "Lack of proper risk disclosure or hidden fees",
			Severity:    SeverityHigh,
		},
	}
}
