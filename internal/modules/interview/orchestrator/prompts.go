package orchestrator

import (
	"strings"

	"github.com/storyloom/core/internal/models"
)

const openEndedPrompt = "Tell me about a moment from your life you would like to remember. Start wherever feels right."

var categoryPrompts = map[string]string{
	"childhood": "Let's start at the beginning. What is one of your earliest memories from childhood?",
	"family":    "Tell me about your family. Who did you grow up with, and what were they like?",
	"career":    "Let's talk about your work. How did you get started in your first job?",
	"love":      "Tell me about someone you have loved. How did you first meet?",
	"travel":    "Think of a place you traveled to that stayed with you. Where was it, and why did you go?",
	"wisdom":    "What is a lesson life taught you that you would want to pass on?",
	"places":    "Describe a home you lived in that mattered to you. What did it look like?",
}

// OpeningPrompt is the first question of a new session. Guided sessions
// open on their category; anything else gets an open-ended prompt.
func OpeningPrompt(mode models.SessionMode, category string) string {
	if mode == models.ModeGuided {
		if p, ok := categoryPrompts[strings.ToLower(strings.TrimSpace(category))]; ok {
			return p
		}
	}
	return openEndedPrompt
}
