package models

// SummaryStatus tracks the terminal coach summary lifecycle.
type SummaryStatus string

const (
	SummaryNotStarted SummaryStatus = "not_started"
	SummaryGenerating SummaryStatus = "generating"
	SummaryCompleted  SummaryStatus = "completed"
	SummaryError      SummaryStatus = "error"
)

// Resource is one recommended external learning resource.
type Resource struct {
	Title        string  `json:"title"`
	URL          string  `json:"url"`
	Description  string  `json:"description"`
	ResourceType string  `json:"resource_type"`
	Reasoning    string  `json:"reasoning,omitempty"`
	Relevance    float64 `json:"relevance_score,omitempty"`
}

// FinalSummary is the terminal coach artifact, generated once per completed
// session.
type FinalSummary struct {
	PatternsTendencies    string     `json:"patterns_tendencies"`
	Strengths             []string   `json:"strengths"`
	Weaknesses            []string   `json:"weaknesses"`
	ImprovementFocusAreas []string   `json:"improvement_focus_areas"`
	SearchTopics          []string   `json:"resource_search_topics"`
	RecommendedResources  []Resource `json:"recommended_resources"`
}

// SummaryRecord is the persisted final-summary blob with its status.
type SummaryRecord struct {
	SessionID    string        `json:"session_id"`
	Status       SummaryStatus `json:"status"`
	Summary      *FinalSummary `json:"summary,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}
