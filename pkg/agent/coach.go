package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/pkg/llm"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/search"
)

const (
	maxSearchTopics  = 3
	maxResources     = 6
	resultsPerSearch = 4
)

// Coach grades answers and produces the final summary with resource
// recommendations. Constructed per session.
type Coach struct {
	llm    llm.Client
	search search.Client
	cfg    models.SessionConfig
}

// NewCoach constructs a per-session coach. searchClient may be nil; resource
// recommendation then uses fallbacks only.
func NewCoach(client llm.Client, searchClient search.Client, cfg models.SessionConfig) *Coach {
	return &Coach{llm: client, search: searchClient, cfg: cfg}
}

// EvaluateAnswer grades one question/answer pair and returns a feedback
// string.
func (c *Coach) EvaluateAnswer(ctx context.Context, question, answer string) (string, error) {
	text, err := c.llm.Generate(ctx, llm.Request{
		SystemPrompt: evaluationPrompt(c.cfg, question, answer),
		Messages:     []llm.Message{{Role: "user", Content: "Evaluate this answer."}},
	})
	if err != nil {
		return "", fmt.Errorf("coach evaluation: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// SummarizeSession produces the final summary from the full conversation.
// RecommendedResources is left empty; RecommendResources fills it.
func (c *Coach) SummarizeSession(ctx context.Context, history []models.Turn, feedback []models.FeedbackEntry) (*models.FinalSummary, error) {
	transcript := renderTranscript(history, feedback)
	raw, err := c.llm.Generate(ctx, llm.Request{
		SystemPrompt: summaryPrompt(c.cfg, transcript),
		Messages:     []llm.Message{{Role: "user", Content: "Write the final report."}},
	})
	if err != nil {
		return nil, fmt.Errorf("coach summary: %w", err)
	}

	var summary models.FinalSummary
	cleaned := stripFences(raw)
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("coach summary: model returned no JSON object")
	}
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &summary); err != nil {
		return nil, fmt.Errorf("coach summary: failed to parse report: %w", err)
	}

	if len(summary.SearchTopics) > maxSearchTopics {
		summary.SearchTopics = summary.SearchTopics[:maxSearchTopics]
	}
	// A summary with no topics still gets resources: fall back to the
	// top improvement areas.
	if len(summary.SearchTopics) == 0 {
		for i, area := range summary.ImprovementFocusAreas {
			if i == maxSearchTopics {
				break
			}
			summary.SearchTopics = append(summary.SearchTopics, area)
		}
	}
	return &summary, nil
}

// RecommendResources searches the summary's topics and attaches up to six
// classified, scored resources. Search failures degrade to deterministic
// fallback resources rather than failing the summary.
func (c *Coach) RecommendResources(ctx context.Context, summary *models.FinalSummary) {
	level := c.proficiencyLevel(summary)

	var resources []models.Resource
	for _, topic := range summary.SearchTopics {
		if len(resources) >= maxResources {
			break
		}
		resources = append(resources, c.resourcesForTopic(ctx, topic, level)...)
	}

	if len(resources) > maxResources {
		resources = resources[:maxResources]
	}
	summary.RecommendedResources = resources
}

func (c *Coach) resourcesForTopic(ctx context.Context, topic, level string) []models.Resource {
	results := c.searchTopic(ctx, topic, level)

	out := make([]models.Resource, 0, len(results))
	for _, r := range results {
		rtype := r.Type
		if rtype == "" {
			rtype = search.Classify(r.Title, r.URL, r.Snippet)
		}
		out = append(out, models.Resource{
			Title:        r.Title,
			URL:          r.URL,
			Description:  r.Snippet,
			ResourceType: rtype,
			Relevance:    search.Score(r.Title, r.URL, r.Snippet, topic, level),
			Reasoning: fmt.Sprintf("Recommended to strengthen %s, identified as an improvement area in your %s interview.",
				topic, c.cfg.JobRole),
		})
	}
	return out
}

func (c *Coach) searchTopic(ctx context.Context, topic, level string) []search.Result {
	if c.search == nil {
		return search.Fallbacks(topic, level)
	}
	results, err := c.search.Search(ctx, search.BuildQuery(topic, level, c.cfg.JobRole), resultsPerSearch)
	if err != nil || len(results) == 0 {
		slog.Warn("Resource search failed, using fallbacks", "topic", topic, "error", err)
		return search.Fallbacks(topic, level)
	}
	if len(results) > resultsPerSearch {
		results = results[:resultsPerSearch]
	}
	return results
}

// proficiencyLevel estimates the candidate's level from the configured
// difficulty and the strength/weakness balance of the summary.
func (c *Coach) proficiencyLevel(summary *models.FinalSummary) string {
	base := 1 // intermediate
	switch c.cfg.Difficulty {
	case models.DifficultyEasy:
		base = 0
	case models.DifficultyHard:
		base = 2
	}
	if len(summary.Weaknesses) > len(summary.Strengths)+1 && base > 0 {
		base--
	} else if len(summary.Strengths) > len(summary.Weaknesses)+1 && base < 2 {
		base++
	}
	return [...]string{"beginner", "intermediate", "advanced"}[base]
}

func renderTranscript(history []models.Turn, feedback []models.FeedbackEntry) string {
	var b strings.Builder
	for _, t := range history {
		switch {
		case t.Role == models.RoleUser:
			fmt.Fprintf(&b, "Candidate: %s\n", t.Content)
		case t.Agent == models.AgentInterviewer:
			fmt.Fprintf(&b, "Interviewer: %s\n", t.Content)
		}
	}
	if len(feedback) > 0 {
		b.WriteString("\nPer-answer coach notes:\n")
		for _, f := range feedback {
			if f.Feedback != "" {
				fmt.Fprintf(&b, "- %s\n", f.Feedback)
			}
		}
	}
	return b.String()
}
