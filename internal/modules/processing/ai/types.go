package ai

// Exchange is one answered question of an interview.
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// FollowUpInput is the interview so far.
type FollowUpInput struct {
	History  []Exchange
	Mode     string
	Category string
	Themes   []string
	Persona  string
	Language string
}

// FollowUp is the next question. Done means the interview should end.
type FollowUp struct {
	Question    string   `json:"question"`
	Suggestions []string `json:"suggestions"`
	Topic       string   `json:"topic"`
	Done        bool     `json:"done"`
}

// ChapterDraft is one generated chapter of a session.
type ChapterDraft struct {
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	OverallSummary string   `json:"overall_summary"`
	Quotes         []string `json:"quotes"`
	ImageHints     []string `json:"image_hints"`
}

// StoryDraft is a narrative assembled from chapters.
type StoryDraft struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}
