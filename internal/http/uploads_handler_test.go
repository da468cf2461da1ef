package httpserver

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Clark-Hu/hidden-spots/internal/imagehost"
	"github.com/Clark-Hu/hidden-spots/internal/repository"
)

// buildServerWithImageHost wires a real image host client to handler.
func buildServerWithImageHost(t *testing.T, handler http.HandlerFunc) *testServer {
	t.Helper()
	host := httptest.NewServer(handler)
	t.Cleanup(host.Close)

	client, err := imagehost.NewHTTPClient(host.URL, "key", 5*time.Second, zap.NewNop())
	require.NoError(t, err)
	repo := repository.NewMemory(repository.Options{})
	return &testServer{Server: New(testConfig(), nil, repo, client, nil, zap.NewNop())}
}

func spotFormFields() map[string]string {
	return map[string]string{
		"title":       "Rooftop Garden",
		"description": "Take the back stairs",
		"latitude":    "52.52",
		"longitude":   "13.405",
		"type":        "park",
	}
}

func TestHandleCreateSpot_OversizedImage(t *testing.T) {
	hostCalled := false
	srv := buildServerWithImageHost(t, func(w http.ResponseWriter, r *http.Request) {
		hostCalled = true
		w.WriteHeader(http.StatusCreated)
	})

	big := make([]byte, imagehost.MaxImageBytes+1)
	copy(big, pngBytes)
	rec := srv.doMultipart(t, http.MethodPost, "/spots", spotFormFields(), []formFile{{field: "image", filename: "big.png", data: big}})
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	env := decodeBody[errorEnvelope](t, rec)
	assert.Equal(t, codeValidation, env.Error.Code)
	assert.Equal(t, []interface{}{"image"}, env.Error.Details.(map[string]interface{})["fields"])
	assert.False(t, hostCalled)

	rec = srv.do(t, http.MethodGet, "/spots", nil)
	assert.Empty(t, decodeBody[spotListResponse](t, rec).Items)
}

func TestHandleCreateSpot_ImageHostDown(t *testing.T) {
	srv := buildServerWithImageHost(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	})

	rec := srv.doMultipart(t, http.MethodPost, "/spots", spotFormFields(), []formFile{{field: "image", filename: "a.png", data: pngBytes}})
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	env := decodeBody[errorEnvelope](t, rec)
	assert.Equal(t, codeInternal, env.Error.Code)
	assert.Equal(t, "Image host unavailable", env.Error.Message)

	rec = srv.do(t, http.MethodGet, "/spots", nil)
	assert.Empty(t, decodeBody[spotListResponse](t, rec).Items)
}

func TestUploads_NothingStoredForRejectedRequests(t *testing.T) {
	srv := buildTestServer(t)
	spot := mustCreateSpot(t, srv, nil)
	file := []formFile{{field: "image", filename: "orphan.png", data: pngBytes}}
	storyFile := []formFile{{field: "images", filename: "orphan.png", data: pngBytes}}

	story := decodeBody[storyResponse](t, srv.do(t, http.MethodPost, fmt.Sprintf("/spots/%s/stories", spot.ID),
		map[string]string{"title": "Dawn", "content": "Quiet"}))

	missingTitle := spotFormFields()
	delete(missingTitle, "title")

	cases := []struct {
		name   string
		method string
		path   string
		fields map[string]string
		files  []formFile
		status int
	}{
		{name: "create with missing title", method: http.MethodPost, path: "/spots", fields: missingTitle, files: file, status: http.StatusBadRequest},
		{name: "gallery of unknown spot", method: http.MethodPost, path: "/spots/missing/gallery", files: file, status: http.StatusNotFound},
		{name: "story without content", method: http.MethodPost, path: fmt.Sprintf("/spots/%s/stories", spot.ID),
			fields: map[string]string{"title": "No body"}, files: storyFile, status: http.StatusBadRequest},
		{name: "story of unknown spot", method: http.MethodPost, path: "/spots/missing/stories",
			fields: map[string]string{"title": "t", "content": "c"}, files: storyFile, status: http.StatusNotFound},
		{name: "unknown story", method: http.MethodPut, path: fmt.Sprintf("/spots/%s/stories/nope", spot.ID), files: storyFile, status: http.StatusNotFound},
		{name: "blank story title", method: http.MethodPut, path: fmt.Sprintf("/spots/%s/stories/%s", spot.ID, story.ID),
			fields: map[string]string{"title": " "}, files: storyFile, status: http.StatusBadRequest},
		{name: "edit unknown spot", method: http.MethodPut, path: "/spots/missing", files: file, status: http.StatusNotFound},
		{name: "edit with bad type", method: http.MethodPut, path: "/spots/" + spot.ID,
			fields: map[string]string{"type": "volcano"}, files: file, status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := srv.doMultipart(t, tc.method, tc.path, tc.fields, tc.files)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
	assert.Empty(t, srv.images.filenames, "rejected requests must not upload files")
}
