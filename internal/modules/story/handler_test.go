package story_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/storyloom/core/internal/middleware"
	"github.com/storyloom/core/internal/models"
	"github.com/storyloom/core/internal/modules/story"
	"github.com/storyloom/core/internal/pkg/jwt"
	"github.com/storyloom/core/internal/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T, svc *story.Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwt.SetSecret("story-handler-test")
	r := gin.New()
	story.NewHandler(svc).RegisterRoutes(r.Group(""), middleware.Auth())
	return r
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.Sign(userID, time.Minute)
	require.NoError(t, err)
	return "Bearer " + token
}

func serve(r *gin.Engine, req *http.Request, auth string) *httptest.ResponseRecorder {
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestBookEndpoints(t *testing.T) {
	f := newFixture(t)
	r := newRouter(t, f.svc)

	w := serve(r, httptest.NewRequest(http.MethodPost, "/books", strings.NewReader(`{"title":"Grandma"}`)), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/books", strings.NewReader(`{}`)), bearer(t, "alice"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/books", strings.NewReader(`{"title":"Grandma"}`)), bearer(t, "alice"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var book models.Book
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &book))
	assert.Equal(t, "alice", book.UserID)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/books", nil), bearer(t, "alice"))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data       []models.Book       `json:"data"`
		Pagination response.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, book.ID, list.Data[0].ID)
	assert.EqualValues(t, 1, list.Pagination.Total)
	assert.False(t, list.Pagination.HasNextPage)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/books/"+book.ID+"/stories", nil), bearer(t, "bob"))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAssembleAndRenderEndpoints(t *testing.T) {
	f := newFixture(t)
	r := newRouter(t, f.svc)
	b := f.book("alice")
	f.session("alice", &b.ID, models.SessionCompleted, "Childhood")

	w := serve(r, httptest.NewRequest(http.MethodPost, "/stories/assemble", strings.NewReader(`{"story_group_id":"`+b.ID+`"}`)), bearer(t, "alice"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var st models.Story
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))

	w = serve(r, httptest.NewRequest(http.MethodPatch, "/stories/"+st.ID, strings.NewReader(`{"approved":true}`)), bearer(t, "alice"))
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/stories/"+st.ID+"/html", nil), bearer(t, "alice"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "<h1>A life in Childhood</h1>")
	assert.Contains(t, w.Body.String(), "<footer>Approved")

	w = serve(r, httptest.NewRequest(http.MethodGet, "/stories/missing", nil), bearer(t, "alice"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func multipartImage(t *testing.T, fields map[string]string, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/story-images", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestStoryImageEndpoints(t *testing.T) {
	f := newFixture(t)
	r := newRouter(t, f.svc)
	_, st := f.assembled("alice")

	w := serve(r, multipartImage(t, map[string]string{"story_id": st.ID}, "", nil), bearer(t, "alice"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, multipartImage(t, nil, "a.png", pngBytes), bearer(t, "alice"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, multipartImage(t, map[string]string{"story_id": st.ID}, "a.png", pngBytes), bearer(t, "bob"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(r, multipartImage(t, map[string]string{"story_id": st.ID, "caption": "At the pier"}, "a.png", pngBytes), bearer(t, "alice"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var img story.Image
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &img))
	assert.Equal(t, "At the pier", img.Caption)
	assert.NotEmpty(t, img.URL)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/stories/"+st.ID+"/images", nil), bearer(t, "alice"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), img.ID)

	w = serve(r, httptest.NewRequest(http.MethodDelete, "/story-images/"+img.ID, nil), bearer(t, "alice"))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
