package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		url      string
		snippet  string
		expected string
	}{
		{"youtube link", "Go Concurrency Crash Course", "https://www.youtube.com/watch?v=abc", "", TypeVideo},
		{"course platform", "System Design Bootcamp", "https://www.udemy.com/course/sd", "complete course", TypeCourse},
		{"official docs", "net/http reference", "https://pkg.go.dev/docs/net-http", "documentation", TypeDocumentation},
		{"book", "Designing Data-Intensive Applications", "https://www.oreilly.com/library", "the big ideas book", TypeBook},
		{"plain article", "How I passed my interview", "https://example.com/post", "a personal story", TypeArticle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.title, tt.url, tt.snippet))
		})
	}
}

func TestScorePrefersTitleMatches(t *testing.T) {
	inTitle := Score("Kubernetes networking deep dive", "https://example.com", "", "kubernetes", "intermediate")
	inSnippet := Score("Networking deep dive", "https://example.com", "covers kubernetes", "kubernetes", "intermediate")
	neither := Score("Cooking pasta", "https://example.com", "boil water", "kubernetes", "intermediate")

	assert.Greater(t, inTitle, inSnippet)
	assert.Greater(t, inSnippet, neither)
	assert.LessOrEqual(t, inTitle, 1.0)
}

func TestBuildQuery(t *testing.T) {
	assert.Equal(t, "sql intermediate tutorial learn Data Analyst",
		BuildQuery("sql", "intermediate", "Data Analyst"))
	assert.Equal(t, "sql beginner tutorial learn",
		BuildQuery("sql", "beginner", ""))
}

func TestFallbacksAlwaysReturnResources(t *testing.T) {
	got := Fallbacks("system design", "intermediate")
	assert.Len(t, got, 3)
	for _, r := range got {
		assert.NotEmpty(t, r.Title)
		assert.NotEmpty(t, r.URL)
		assert.NotEmpty(t, r.Type)
	}
}
