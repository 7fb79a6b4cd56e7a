package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/urlshield/urlshield/internal/model"
	"github.com/urlshield/urlshield/internal/service"
)

func TestAccumulate(t *testing.T) {
	var total service.CompletionStats
	accumulate(&total, &service.CompletionStats{Total: 100, Processed: 100, Blacklisted: 5, Whitelisted: 80, Review: 5, FilteredOut: 7, Errored: 3})
	accumulate(&total, &service.CompletionStats{Total: 50, Processed: 40, Blacklisted: 2, CacheHits: 10})

	assert.Equal(t, 150, total.Total)
	assert.Equal(t, 140, total.Processed)
	assert.Equal(t, 7, total.Blacklisted)
	assert.Equal(t, 80, total.Whitelisted)
	assert.Equal(t, 10, total.CacheHits)
}

func TestCategoryBadge(t *testing.T) {
	assert.Contains(t, categoryBadge(model.CategoryBlacklist), "BLACK")
	assert.Contains(t, categoryBadge(model.CategoryWhitelist), "WHITE")
	assert.Contains(t, categoryBadge(model.CategoryReview), "REVIEW")
}
