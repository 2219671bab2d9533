package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/storyloom/core/internal/modules/interview/recorder"
	"github.com/storyloom/core/internal/pkg/apperr"
	"github.com/storyloom/core/internal/store"
)

const maxResponseBytes = 1 << 20

// Client talks to the processing pipeline over HTTP.
type Client struct {
	baseURL string
	blobs   store.Blobs
	bucket  string
	http    *http.Client
}

// NewClient uploads answers into bucket and calls the pipeline at baseURL.
func NewClient(baseURL string, blobs store.Blobs, audioBucket string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		blobs:   blobs,
		bucket:  audioBucket,
		http:    httpClient,
	}
}

// StoragePath is where a capture is uploaded. It depends only on the
// capture id, so a retried upload overwrites the same object.
func StoragePath(userID, sessionID string, c *recorder.Capture) string {
	return path.Join(userID, sessionID, c.ID+store.ExtensionFor(c.ContentType))
}

// UploadAndProcess stores the capture and asks the pipeline to process it.
func (c *Client) UploadAndProcess(ctx context.Context, token string, capture *recorder.Capture, turn Turn) (*ProcessResponse, error) {
	if token == "" {
		return nil, apperr.ErrAuthentication
	}
	key := StoragePath(turn.UserID, turn.SessionID, capture)
	if err := c.blobs.Upload(ctx, c.bucket, key, capture.Data, capture.ContentType); err != nil {
		return nil, apperr.Network("upload audio", err)
	}

	body := ProcessRequest{
		SessionID:       turn.SessionID,
		StoragePath:     key,
		ContentType:     capture.ContentType,
		DurationSeconds: capture.Duration.Seconds(),
		Prompt:          turn.Prompt,
		Language:        turn.Language,
		Persona:         turn.Persona,
		Mode:            turn.Mode,
		Category:        turn.Category,
	}
	var out ProcessResponse
	if err := c.post(ctx, token, "/upload-and-process", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateChapters queues chapter generation for a completed session.
func (c *Client) GenerateChapters(ctx context.Context, token, sessionID string) (*ChapterJob, error) {
	if token == "" {
		return nil, apperr.ErrAuthentication
	}
	var out ChapterJob
	if err := c.post(ctx, token, "/generate-chapters", ChapterRequest{SessionID: sessionID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestSpeech asks the pipeline to synthesize the prompt of turnID.
func (c *Client) RequestSpeech(ctx context.Context, token, sessionID, turnID string) (*SpeechJob, error) {
	if token == "" {
		return nil, apperr.ErrAuthentication
	}
	var out SpeechJob
	if err := c.post(ctx, token, "/speech", SpeechRequest{SessionID: sessionID, TurnID: turnID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type errorBody struct {
	Message string `json:"message"`
}

func (c *Client) post(ctx context.Context, token, endpoint string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return apperr.Network(endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperr.Network(endpoint, err)
	}
	if err := statusError(endpoint, resp.StatusCode, data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

func statusError(endpoint string, status int, body []byte) error {
	if status < 300 {
		return nil
	}
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	msg := eb.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w: %s", endpoint, apperr.ErrAuthentication, msg)
	case status == http.StatusForbidden:
		return fmt.Errorf("%s: %w: %s", endpoint, apperr.ErrAuthorization, msg)
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w: %s", endpoint, apperr.ErrNotFound, msg)
	case status == http.StatusConflict:
		return fmt.Errorf("%s: %w: %s", endpoint, apperr.ErrConflict, msg)
	case status >= 500 || status == http.StatusTooManyRequests:
		return apperr.Network(endpoint, fmt.Errorf("status %d: %s", status, msg))
	}
	return fmt.Errorf("%s: %w: %s", endpoint, apperr.ErrInvalid, msg)
}
