package models

// Table names shared by the generic row store and the cascade.
const (
	TableBooks           = "story_groups"
	TableSessions        = "sessions"
	TableTurns           = "turns"
	TableRecordings      = "recordings"
	TableTranscripts     = "transcripts"
	TableChapters        = "chapters"
	TableStories         = "stories"
	TableStoryImages     = "story_images"
	TableStoryEmbeddings = "story_embeddings"
)

// All lists every model in migration order.
func All() []any {
	return []any{
		&Book{},
		&Session{},
		&Turn{},
		&Recording{},
		&Transcript{},
		&Chapter{},
		&Story{},
		&StoryImage{},
		&StoryEmbedding{},
	}
}

// Prototype returns a zero value of the model stored in table.
func Prototype(table string) (any, bool) {
	switch table {
	case TableBooks:
		return &Book{}, true
	case TableSessions:
		return &Session{}, true
	case TableTurns:
		return &Turn{}, true
	case TableRecordings:
		return &Recording{}, true
	case TableTranscripts:
		return &Transcript{}, true
	case TableChapters:
		return &Chapter{}, true
	case TableStories:
		return &Story{}, true
	case TableStoryImages:
		return &StoryImage{}, true
	case TableStoryEmbeddings:
		return &StoryEmbedding{}, true
	}
	return nil, false
}
