package processor_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/storyloom/core/internal/modules/interview/processor"
	"github.com/storyloom/core/internal/modules/interview/recorder"
	"github.com/storyloom/core/internal/pkg/apperr"
	"github.com/storyloom/core/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture() *recorder.Capture {
	return &recorder.Capture{ID: "cap-1", Data: []byte("RIFF"), ContentType: "audio/wav", Duration: 4 * time.Second}
}

func turn() processor.Turn {
	return processor.Turn{UserID: "u1", SessionID: "s1", Prompt: "Where did you grow up?", Mode: "guided", Category: "childhood"}
}

func TestUploadAndProcess(t *testing.T) {
	blobs := storetest.NewLocal(t)
	var got processor.ProcessRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload-and-process", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(processor.ProcessResponse{
			Transcript:  "In a small town.",
			FollowUp:    processor.FollowUp{Question: "What was the town like?", Suggestions: []string{"Who were your friends?"}},
			RecordingID: "rec-1",
			TurnID:      "turn-1",
		})
	}))
	defer srv.Close()

	c := processor.NewClient(srv.URL+"/", blobs, "recordings", srv.Client())
	res, err := c.UploadAndProcess(context.Background(), "tok", capture(), turn())
	require.NoError(t, err)

	assert.Equal(t, "u1/s1/cap-1.wav", got.StoragePath)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "audio/wav", got.ContentType)
	assert.InDelta(t, 4.0, got.DurationSeconds, 0.001)
	assert.True(t, storetest.Exists(t, blobs, "recordings", "u1/s1/cap-1.wav"))

	assert.Equal(t, "In a small town.", res.Transcript)
	assert.Equal(t, "rec-1", res.RecordingID)
	assert.False(t, res.Concluded())
}

func TestUploadAndProcessStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, apperr.ErrAuthentication},
		{http.StatusForbidden, apperr.ErrAuthorization},
		{http.StatusNotFound, apperr.ErrNotFound},
		{http.StatusConflict, apperr.ErrConflict},
		{http.StatusBadRequest, apperr.ErrInvalid},
		{http.StatusInternalServerError, apperr.ErrNetwork},
		{http.StatusBadGateway, apperr.ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"ok":0,"message":"nope"}`))
			}))
			defer srv.Close()

			c := processor.NewClient(srv.URL, storetest.NewLocal(t), "recordings", srv.Client())
			_, err := c.UploadAndProcess(context.Background(), "tok", capture(), turn())
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorContains(t, err, "nope")
		})
	}
}

func TestUploadAndProcessTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := processor.NewClient(url, storetest.NewLocal(t), "recordings", nil)
	_, err := c.UploadAndProcess(context.Background(), "tok", capture(), turn())
	assert.ErrorIs(t, err, apperr.ErrNetwork)
	assert.True(t, apperr.Retryable(err))
}

func TestUploadFailureIsNetwork(t *testing.T) {
	blobs := storetest.WrapBlobs(storetest.NewLocal(t))
	blobs.FailUpload(errors.New("bucket offline"))

	c := processor.NewClient("http://unused", blobs, "recordings", nil)
	_, err := c.UploadAndProcess(context.Background(), "tok", capture(), turn())
	assert.ErrorIs(t, err, apperr.ErrNetwork)
	assert.ErrorContains(t, err, "bucket offline")
}

func TestMissingTokenIsAuthentication(t *testing.T) {
	c := processor.NewClient("http://unused", storetest.NewLocal(t), "recordings", nil)
	_, err := c.UploadAndProcess(context.Background(), "", capture(), turn())
	assert.ErrorIs(t, err, apperr.ErrAuthentication)
	_, err = c.GenerateChapters(context.Background(), "", "s1")
	assert.ErrorIs(t, err, apperr.ErrAuthentication)
}

func TestGenerateChapters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate-chapters", r.URL.Path)
		var body processor.ChapterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "s1", body.SessionID)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"task_id":"t-9","status":"pending"}`))
	}))
	defer srv.Close()

	c := processor.NewClient(srv.URL, storetest.NewLocal(t), "recordings", srv.Client())
	job, err := c.GenerateChapters(context.Background(), "tok", "s1")
	require.NoError(t, err)
	assert.Equal(t, "t-9", job.TaskID)
}

func TestRequestSpeech(t *testing.T) {
	var got processor.SpeechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/speech", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(processor.SpeechJob{TurnID: got.TurnID})
	}))
	defer srv.Close()

	c := processor.NewClient(srv.URL, storetest.NewLocal(t), "recordings", srv.Client())
	job, err := c.RequestSpeech(context.Background(), "tok", "s1", "turn-0")
	require.NoError(t, err)
	assert.Equal(t, processor.SpeechRequest{SessionID: "s1", TurnID: "turn-0"}, got)
	assert.Equal(t, "turn-0", job.TurnID)
	assert.False(t, job.Ready)

	_, err = c.RequestSpeech(context.Background(), "", "s1", "turn-0")
	assert.ErrorIs(t, err, apperr.ErrAuthentication)
}
