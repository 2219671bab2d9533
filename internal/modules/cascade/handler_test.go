package cascade_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/storyloom/core/internal/middleware"
	"github.com/storyloom/core/internal/modules/cascade"
	"github.com/storyloom/core/internal/pkg/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(svc *cascade.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	jwt.SetSecret("cascade-handler-test")
	r := gin.New()
	cascade.NewHandler(svc).RegisterRoutes(r.Group(""), middleware.Auth())
	return r
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.Sign(userID, time.Minute)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestDeleteBookDeepEndpoint(t *testing.T) {
	f := newFixture(t)
	ex := f.seedExample("owner")
	r := newRouter(f.service())

	tests := []struct {
		name   string
		auth   string
		body   string
		status int
	}{
		{name: "no token", body: `{"storyGroupId":"` + ex.book.ID + `"}`, status: http.StatusUnauthorized},
		{name: "bad token", auth: "Bearer junk", body: `{"storyGroupId":"` + ex.book.ID + `"}`, status: http.StatusUnauthorized},
		{name: "missing body field", auth: bearer(t, "owner"), body: `{}`, status: http.StatusBadRequest},
		{name: "unknown book", auth: bearer(t, "owner"), body: `{"storyGroupId":"nope"}`, status: http.StatusNotFound},
		{name: "not owner", auth: bearer(t, "intruder"), body: `{"storyGroupId":"` + ex.book.ID + `"}`, status: http.StatusForbidden},
		{name: "owner", auth: bearer(t, "owner"), body: `{"storyGroupId":"` + ex.book.ID + `"}`, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/delete-book-deep", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/delete-book-deep", strings.NewReader(`{"storyGroupId":"`+ex.book.ID+`"}`))
	req.Header.Set("Authorization", bearer(t, "owner"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success       bool             `json:"success"`
		DeletedCounts map[string]int64 `json:"deletedCounts"`
		Errors        []string         `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.NotNil(t, body.Errors)
	assert.Zero(t, body.DeletedCounts[cascade.KeySessions])
	assert.Contains(t, w.Body.String(), `"errors":[]`)
}

func TestDeleteSessionDeepEndpoint(t *testing.T) {
	f := newFixture(t)
	ex := f.seedExample("owner")
	r := newRouter(f.service())

	do := func(auth, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/delete-session-deep", strings.NewReader(body))
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, do("", `{"sessionId":"`+ex.s1.ID+`"}`).Code)
	assert.Equal(t, http.StatusNotFound, do(bearer(t, "owner"), `{"sessionId":"missing"}`).Code)
	assert.Equal(t, http.StatusForbidden, do(bearer(t, "intruder"), `{"sessionId":"`+ex.s1.ID+`"}`).Code)

	w := do(bearer(t, "owner"), `{"sessionId":"`+ex.s1.ID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var report cascade.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.Success)
	assert.EqualValues(t, 2, report.DeletedCounts[cascade.KeyTurns])
	assert.EqualValues(t, 1, report.DeletedCounts[cascade.KeySession])
}
