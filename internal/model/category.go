// Package model defines the core domain types shared across the pipeline.
package model

// Category is the compliance outcome assigned to a URL.
type Category string

// URL categories.
const (
	CategoryUnknown   Category = "unknown"
	CategoryBlacklist Category = "blacklist"
	CategoryWhitelist Category = "whitelist"
	CategoryReview    Category = "review"
)

// Valid reports whether c is one of the assignable categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryBlacklist, CategoryWhitelist, CategoryReview:
		return true
	}
	return false
}

// AnalysisMethod records how a URL's category was produced.
type AnalysisMethod string

// Analysis methods.
const (
	// MethodPattern means the deterministic rule set decided on its own.
	MethodPattern AnalysisMethod = "pattern"
	// MethodLLM means the escalation classifier made the call.
	MethodLLM AnalysisMethod = "llm"
	// MethodDegraded means escalation was unavailable and the URL was
	// downgraded to review.
	MethodDegraded AnalysisMethod = "degraded"
)
