package orchestrator

import (
	"sort"

	"github.com/storyloom/core/internal/models"
)

// Replay rebuilds the conversation from persisted turns: one AI message per
// turn and one user message per answered turn.
func Replay(turns []models.Turn) []Message {
	sorted := append([]models.Turn(nil), turns...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OrdinalIndex < sorted[j].OrdinalIndex
	})

	out := make([]Message, 0, 2*len(sorted))
	for _, t := range sorted {
		out = append(out, promptMessage(t))
		if t.Answered() {
			out = append(out, answerMessage(t))
		}
	}
	return out
}

func promptMessage(t models.Turn) Message {
	m := Message{
		ID:           aiMessageID(t.ID),
		Role:         RoleAI,
		Content:      t.PromptText,
		Alternatives: append([]string(nil), t.FollowUps...),
		TurnID:       t.ID,
		RecordingID:  deref(t.SourceRecordingID),
		TTS:          TTSNone,
	}
	m.Topic = deref(t.Topic)
	return m
}

func answerMessage(t models.Turn) Message {
	m := Message{
		ID:          userMessageID(t.ID),
		Role:        RoleUser,
		Content:     *t.AnswerText,
		TurnID:      t.ID,
		RecordingID: deref(t.RecordingID),
		TTS:         TTSNone,
	}
	if m.Content == "" {
		m.Content = PendingTranscript
		m.Pending = true
	}
	return m
}

func aiMessageID(turnID string) string   { return "ai-" + turnID }
func userMessageID(turnID string) string { return "user-" + turnID }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// lastPrompt returns the most recent AI message.
func lastPrompt(msgs []Message) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAI {
			return msgs[i], true
		}
	}
	return Message{}, false
}
