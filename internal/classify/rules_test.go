package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultRuleSet(t *testing.T) *RuleSet {
	t.Helper()
	rules, err := NewRuleSet(DefaultRules())
	require.NoError(t, err)
	return rules
}

func TestRulesMatchKnownPhrases(t *testing.T) {
	tests := []struct {
		text     string
		ruleID   string
		severity Severity
	}{
		{"Join now for guaranteed profit every month!", "MISLEADING_INFO", SeverityHigh},
		{"Claim your exclusive bonus today", "UNAUTHORIZED_OFFER", SeverityMedium},
		{"We are the official partner of the broker", "FALSE_REPRESENTATION", SeverityHigh},
		{"Trade offshore and keep it tax-free", "REGULATORY_ISSUES", SeverityCritical},
		{"Get rich with our trading secrets", "INAPPROPRIATE_MARKETING", SeverityMedium},
		{"Enjoy unlimited leverage with no margin call", "LEVERAGE_MISREPRESENTATION", SeverityHigh},
		{"Earn 25% per week, double your money fast", "UNREALISTIC_RETURNS", SeverityHigh},
		{"No KYC needed, anonymous trading for everyone", "REGULATED_PRODUCTS_MISUSE", SeverityCritical},
		{"Watch out for hidden fees in the fine print", "NO_RISK_DISCLOSURE", SeverityHigh},
	}

	rules := defaultRuleSet(t)
	for _, tt := range tests {
		t.Run(tt.ruleID, func(t *testing.T) {
			hits := rules.Evaluate(tt.text)
			require.NotEmpty(t, hits)

			found := false
			for _, hit := range hits {
				if hit.RuleID == tt.ruleID {
					found = true
					assert.Equal(t, tt.severity, hit.Severity)
					assert.Contains(t, tt.text, hit.Text)
				}
			}
			assert.True(t, found, "expected %s to hit", tt.ruleID)
		})
	}
}

func TestRulesAreCaseInsensitive(t *testing.T) {
	hits := defaultRuleSet(t).Evaluate("GUARANTEED PROFIT for all members")
	require.Len(t, hits, 1)
	assert.Equal(t, "MISLEADING_INFO", hits[0].RuleID)
	assert.Equal(t, "GUARANTEED PROFIT", hits[0].Text)
}

func TestRulesCleanTextHasNoHits(t *testing.T) {
	hits := defaultRuleSet(t).Evaluate(
		"Trading involves significant risk. Past performance does not guarantee future results.")
	assert.Empty(t, hits)
}

func TestSeverityDecisive(t *testing.T) {
	assert.False(t, SeverityLow.decisive())
	assert.False(t, SeverityMedium.decisive())
	assert.True(t, SeverityHigh.decisive())
	assert.True(t, SeverityCritical.decisive())
}

func TestNewRuleSetRejectsBadPattern(t *testing.T) {
	_, err := NewRuleSet([]Rule{{ID: "BROKEN", Pattern: "(unclosed"}})
	assert.Error(t, err)
}
