package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ops-gateway/internal/logging"
	"ops-gateway/internal/models"
)

func TestNewRejectsInvalidURL(t *testing.T) {
	_, err := New(map[string]string{"users": "://bad"}, logging.NewNop())
	assert.Error(t, err)
}

func TestForwardRewritesPathAndInjectsIdentity(t *testing.T) {
	var gotPath, gotUser string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser = r.Header.Get("X-User-Id")
		io.WriteString(w, "ok")
	}))
	defer backend.Close()

	router, err := New(map[string]string{"users": backend.URL}, logging.NewNop())
	require.NoError(t, err)
	assert.True(t, router.Has("users"))

	req := httptest.NewRequest(http.MethodGet, "http://gateway/services/users/profiles/42", nil)
	rec := httptest.NewRecorder()
	router.Forward(rec, req, "users", "/profiles/42", "user-7")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/profiles/42", gotPath)
	assert.Equal(t, "user-7", gotUser)
}

func TestForwardStripsUntrustedIdentityHeader(t *testing.T) {
	var gotUser string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get("X-User-Id")
	}))
	defer backend.Close()

	router, err := New(map[string]string{"users": backend.URL}, logging.NewNop())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://gateway/services/users/me", nil)
	req.Header.Set("X-User-Id", "forged-admin")
	rec := httptest.NewRecorder()
	router.Forward(rec, req, "users", "/me", "")

	assert.Empty(t, gotUser)
}

func TestForwardUnknownService(t *testing.T) {
	router, err := New(nil, logging.NewNop())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://gateway/services/ghost/x", nil)
	rec := httptest.NewRecorder()
	router.Forward(rec, req, "ghost", "/x", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body models.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Service not found", body.Error)
	assert.Equal(t, http.StatusNotFound, body.StatusCode)
}

func TestForwardUnreachableBackendYields502(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	backend.Close()

	router, err := New(map[string]string{"users": backend.URL}, logging.NewNop())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://gateway/services/users/me", nil)
	rec := httptest.NewRecorder()
	router.Forward(rec, req, "users", "/me", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body models.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Upstream unavailable", body.Error)
}
