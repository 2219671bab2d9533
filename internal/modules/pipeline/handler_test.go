package pipeline_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/storyloom/core/internal/middleware"
	"github.com/storyloom/core/internal/modules/interview/processor"
	"github.com/storyloom/core/internal/modules/interview/recorder"
	"github.com/storyloom/core/internal/modules/pipeline"
	"github.com/storyloom/core/internal/pkg/apperr"
	"github.com/storyloom/core/internal/pkg/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, f *fixture) *httptest.Server {
	gin.SetMode(gin.TestMode)
	jwt.SetSecret("pipeline-handler-test")
	r := gin.New()
	pipeline.NewHandler(f.svc).RegisterRoutes(r.Group(""), middleware.Auth())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func token(t *testing.T, userID string) string {
	tok, err := jwt.Sign(userID, time.Minute)
	require.NoError(t, err)
	return tok
}

func TestClientAgainstPipeline(t *testing.T) {
	f := newFixture(t, 10)
	f.infer.questions = []string{"Who taught you to cook?"}
	f.infer.transcripts = []string{"My grandmother's kitchen."}
	sess := f.session("u1")
	srv := serve(t, f)

	client := processor.NewClient(srv.URL, f.blobs, "recordings", srv.Client())
	capture := &recorder.Capture{ID: "c1", Data: []byte("webm-bytes"), ContentType: "audio/webm", Duration: 2 * time.Second}
	turn := processor.Turn{UserID: "u1", SessionID: sess.ID, Prompt: "Where did you grow up?"}

	res, err := client.UploadAndProcess(context.Background(), token(t, "u1"), capture, turn)
	require.NoError(t, err)
	assert.Equal(t, "My grandmother's kitchen.", res.Transcript)
	assert.Equal(t, "Who taught you to cook?", res.FollowUp.Question)
	assert.Equal(t, processor.StoragePath("u1", sess.ID, capture), res.StoragePath)

	// the same capture again is answered from the stored result
	again, err := client.UploadAndProcess(context.Background(), token(t, "u1"), capture, turn)
	require.NoError(t, err)
	assert.Equal(t, res.NextTurnID, again.NextTurnID)

	_, err = client.UploadAndProcess(context.Background(), "garbage", capture, turn)
	assert.ErrorIs(t, err, apperr.ErrAuthentication)

	other := processor.Turn{UserID: "u2", SessionID: sess.ID}
	_, err = client.UploadAndProcess(context.Background(), token(t, "u2"), capture, other)
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	_, err = client.GenerateChapters(context.Background(), token(t, "u1"), sess.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	job, err := client.RequestSpeech(context.Background(), token(t, "u1"), sess.ID, res.NextTurnID)
	require.NoError(t, err)
	assert.False(t, job.Ready)
	_, err = client.RequestSpeech(context.Background(), token(t, "u1"), sess.ID, res.TurnID)
	assert.ErrorIs(t, err, apperr.ErrConflict, "answered prompts are not spoken")
}

func TestChapterEndpoints(t *testing.T) {
	f := newFixture(t, 10)
	sess := f.session("u1")
	_, err := f.svc.Process(context.Background(), "u1", f.upload(sess, "a1", "hello"))
	require.NoError(t, err)
	completeSession(t, f, sess)
	srv := serve(t, f)

	client := processor.NewClient(srv.URL, f.blobs, "recordings", srv.Client())
	job, err := client.GenerateChapters(context.Background(), token(t, "u1"), sess.ID)
	require.NoError(t, err)
	require.NotEmpty(t, job.TaskID)
	f.svc.Wait()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/tasks/"+job.TaskID, nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "u1"))
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req.Header.Set("Authorization", "Bearer "+token(t, "u2"))
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
