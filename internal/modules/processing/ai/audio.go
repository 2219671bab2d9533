package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/storyloom/core/internal/store"
	openaiclient "github.com/openai/openai-go/v2"
)

// Transcribe converts recorded speech to text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, contentType, lang string) (string, error) {
	model := c.provider.TranscriptionModel
	if model == "" {
		model = "whisper-1"
	}
	params := openaiclient.AudioTranscriptionNewParams{
		File:  openaiclient.File(bytes.NewReader(audio), "answer"+store.ExtensionFor(contentType), contentType),
		Model: openaiclient.AudioModel(model),
	}
	if code := languageCode(lang); code != "" {
		params.Language = openaiclient.String(code)
	}
	res, err := c.openai.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}

// Speak synthesizes text and returns MP3 audio.
func (c *Client) Speak(ctx context.Context, text string) ([]byte, string, error) {
	model := c.provider.SpeechModel
	if model == "" {
		model = "tts-1"
	}
	voice := c.provider.Voice
	if voice == "" {
		voice = "alloy"
	}
	resp, err := c.openai.Audio.Speech.New(ctx, openaiclient.AudioSpeechNewParams{
		Input:          truncateText(text, 4000),
		Model:          openaiclient.SpeechModel(model),
		Voice:          openaiclient.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openaiclient.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, "", fmt.Errorf("synthesize speech: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", errors.New("empty speech response")
	}
	return data, "audio/mpeg", nil
}

// Embed returns the embedding vector of text and the model that produced it.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, string, error) {
	model := c.provider.EmbeddingModel
	if model == "" {
		model = "text-embedding-3-small"
	}
	res, err := c.openai.Embeddings.New(ctx, openaiclient.EmbeddingNewParams{
		Input: openaiclient.EmbeddingNewParamsInputUnion{OfString: openaiclient.String(truncateText(text, 8000))},
		Model: openaiclient.EmbeddingModel(model),
	})
	if err != nil {
		return nil, "", fmt.Errorf("embed: %w", err)
	}
	if len(res.Data) == 0 {
		return nil, "", errors.New("empty embedding response")
	}
	vec := make([]float32, len(res.Data[0].Embedding))
	for i, v := range res.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, model, nil
}

func languageCode(lang string) string {
	code := strings.ToLower(strings.TrimSpace(lang))
	if idx := strings.IndexAny(code, "-_"); idx >= 0 {
		code = code[:idx]
	}
	if len(code) != 2 {
		return ""
	}
	return code
}
