package search

import (
	"fmt"
	"strings"
)

// Resource type tags attached to classified results.
const (
	TypeVideo         = "video"
	TypeCourse        = "course"
	TypeDocumentation = "documentation"
	TypeBook          = "book"
	TypeArticle       = "article"
)

// Classify derives a resource type tag from the title, url, and snippet.
func Classify(title, url, snippet string) string {
	text := strings.ToLower(title + " " + url + " " + snippet)
	switch {
	case containsAny(text, "youtube.com", "vimeo.com", "video", "watch"):
		return TypeVideo
	case containsAny(text, "coursera", "udemy", "edx", "pluralsight", "course", "bootcamp"):
		return TypeCourse
	case containsAny(text, "docs.", "documentation", "reference", "/docs/"):
		return TypeDocumentation
	case containsAny(text, "book", "o'reilly", "oreilly", "manning", "packt"):
		return TypeBook
	default:
		return TypeArticle
	}
}

// Score ranks a result's relevance to a skill at a proficiency level.
// The heuristic favors skill mentions in the title, then snippet, with a
// small bonus for well-known learning domains.
func Score(title, url, snippet, skill, level string) float64 {
	score := 0.0
	lowTitle := strings.ToLower(title)
	lowSnippet := strings.ToLower(snippet)
	lowSkill := strings.ToLower(skill)

	if strings.Contains(lowTitle, lowSkill) {
		score += 0.5
	}
	if strings.Contains(lowSnippet, lowSkill) {
		score += 0.2
	}
	if strings.Contains(lowTitle+lowSnippet, strings.ToLower(level)) {
		score += 0.1
	}
	score += domainQuality(url) * 0.2
	if score > 1.0 {
		score = 1.0
	}
	return score
}

var qualityDomains = []string{
	"developer.mozilla.org", "freecodecamp.org", "coursera.org", "udemy.com",
	"edx.org", "youtube.com", "github.com", "stackoverflow.com", "medium.com",
	"dev.to", "pluralsight.com", "oreilly.com",
}

func domainQuality(url string) float64 {
	low := strings.ToLower(url)
	for _, d := range qualityDomains {
		if strings.Contains(low, d) {
			return 1.0
		}
	}
	return 0.4
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// BuildQuery composes the search query for a skill at a proficiency level,
// optionally scoped to a job role.
func BuildQuery(skill, level, jobRole string) string {
	parts := []string{skill, level, "tutorial", "learn"}
	if jobRole != "" {
		parts = append(parts, jobRole)
	}
	return strings.Join(parts, " ")
}

// Fallbacks returns deterministic resources for a skill, used when the
// search provider is unavailable. The client still gets actionable links.
func Fallbacks(skill, level string) []Result {
	q := strings.ReplaceAll(strings.TrimSpace(skill), " ", "+")
	return []Result{
		{
			Title:   fmt.Sprintf("%s tutorials on freeCodeCamp", skill),
			URL:     "https://www.freecodecamp.org/news/search/?query=" + q,
			Snippet: fmt.Sprintf("Free hands-on articles and tutorials covering %s for %s learners.", skill, level),
			Type:    TypeArticle,
		},
		{
			Title:   fmt.Sprintf("%s courses on Coursera", skill),
			URL:     "https://www.coursera.org/search?query=" + q,
			Snippet: fmt.Sprintf("Structured %s courses with certificates, filterable by difficulty.", skill),
			Type:    TypeCourse,
		},
		{
			Title:   fmt.Sprintf("%s video guides on YouTube", skill),
			URL:     "https://www.youtube.com/results?search_query=" + q + "+tutorial",
			Snippet: fmt.Sprintf("Video walkthroughs and crash courses on %s.", skill),
			Type:    TypeVideo,
		},
	}
}
