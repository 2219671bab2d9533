// Package ai is the inference backend of the processing pipeline: speech to
// text, follow-up questions, chapter drafts, story assembly, speech
// synthesis and embeddings.
package ai

import (
	"errors"
	"net/http"
	"strings"
	"time"

	appcfg "github.com/storyloom/core/internal/config"
	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
	jetapi "go.jetify.com/ai/api"
)

// ErrNotConfigured is returned when no API key is configured.
var ErrNotConfigured = errors.New("AI provider api key is empty")

// Client calls the configured providers. Text generation goes through the
// language model of the configured provider type; audio and embeddings
// always use the OpenAI API.
type Client struct {
	provider appcfg.AIProvider
	model    jetapi.LanguageModel
	openai   openaiclient.Client
	http     *http.Client
}

func NewClient(provider appcfg.AIProvider) (*Client, error) {
	if strings.TrimSpace(provider.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	c := &Client{
		provider: provider,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
	if !isOpenAICompatibleProviderType(provider.Type) {
		model, err := buildLanguageModel(&provider)
		if err != nil {
			return nil, err
		}
		c.model = model
	}

	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(strings.TrimSpace(provider.APIKey)),
		openaioption.WithMaxRetries(1),
	}
	if !isAnthropicProviderType(provider.Type) {
		if base := normalizeOpenAIBaseURL(provider.Endpoint); base != "" {
			opts = append(opts, openaioption.WithBaseURL(base+"/"))
		}
	}
	c.openai = openaiclient.NewClient(opts...)
	return c, nil
}
