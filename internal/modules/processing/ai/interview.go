package ai

import (
	"context"
	"errors"
	"strings"
)

// FollowUp proposes the next interview question.
func (c *Client) FollowUp(ctx context.Context, in FollowUpInput) (*FollowUp, error) {
	system, prompt := buildFollowUpPrompt(in)
	raw, err := c.generateText(ctx, system, prompt, 400)
	if err != nil {
		return nil, err
	}
	return parseFollowUp(raw)
}

func parseFollowUp(raw string) (*FollowUp, error) {
	var out FollowUp
	if err := unmarshalAIJSON(raw, &out); err != nil {
		return nil, err
	}
	out.Question = strings.TrimSpace(out.Question)
	if out.Done {
		out.Question = ""
		out.Suggestions = nil
		return &out, nil
	}
	if out.Question == "" {
		return nil, errors.New("question is empty in AI response")
	}
	suggestions := out.Suggestions[:0]
	for _, s := range out.Suggestions {
		if s = strings.TrimSpace(s); s != "" && s != out.Question {
			suggestions = append(suggestions, s)
		}
	}
	if len(suggestions) > 3 {
		suggestions = suggestions[:3]
	}
	out.Suggestions = suggestions
	return &out, nil
}

// Chapters drafts the chapters of a finished interview.
func (c *Client) Chapters(ctx context.Context, history []Exchange, lang string) ([]ChapterDraft, error) {
	if len(history) == 0 {
		return nil, nil
	}
	system, prompt := buildChapterPrompt(history, lang)
	raw, err := c.generateText(ctx, system, prompt, 2000)
	if err != nil {
		return nil, err
	}
	return parseChapters(raw)
}

func parseChapters(raw string) ([]ChapterDraft, error) {
	var out struct {
		Chapters []ChapterDraft `json:"chapters"`
	}
	if err := unmarshalAIJSON(raw, &out); err != nil {
		return nil, err
	}
	chapters := make([]ChapterDraft, 0, len(out.Chapters))
	for _, ch := range out.Chapters {
		ch.Title = strings.TrimSpace(ch.Title)
		if ch.Title == "" && strings.TrimSpace(ch.Summary) == "" {
			continue
		}
		chapters = append(chapters, ch)
	}
	if len(chapters) == 0 {
		return nil, errors.New("no chapters in AI response")
	}
	if len(chapters) > maxChapters {
		chapters = chapters[:maxChapters]
	}
	return chapters, nil
}

// AssembleStory writes a narrative from chapter drafts.
func (c *Client) AssembleStory(ctx context.Context, chapters []ChapterDraft, lang string) (*StoryDraft, error) {
	if len(chapters) == 0 {
		return nil, errors.New("no chapters to assemble")
	}
	system, prompt := buildStoryPrompt(chapters, lang)
	raw, err := c.generateText(ctx, system, prompt, 4000)
	if err != nil {
		return nil, err
	}
	var out StoryDraft
	if err := unmarshalAIJSON(raw, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Text) == "" {
		return nil, errors.New("story text is empty in AI response")
	}
	return &out, nil
}
