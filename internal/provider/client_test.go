package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:        baseURL,
		APIKey:         "key-1",
		APISecret:      "secret-1",
		RequestTimeout: 5 * time.Second,
	}, nil)
}

func TestTokenSignedAndCached(t *testing.T) {
	c := newTestClient("http://unused")

	tok1, err := c.Token()
	require.NoError(t, err)
	tok2, err := c.Token()
	require.NoError(t, err)
	assert.Equal(t, tok1, tok2, "token should be cached until near expiry")

	parsed, err := jwt.ParseWithClaims(tok1, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
		return []byte("secret-1"), nil
	})
	require.NoError(t, err)
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	assert.Equal(t, "key-1", claims.Issuer)
	assert.True(t, claims.ExpiresAt.After(time.Now()))
}

func TestListRecordingArtifacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/sess-9/recordings", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"artifacts":[{"id":"a1","kind":"video","duration_seconds":120,"byte_size":2048,"download_url":"http://dl/a1"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	artifacts, err := c.ListRecordingArtifacts(context.Background(), "sess-9")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "a1", artifacts[0].ID)
	assert.Equal(t, int64(2048), artifacts[0].ByteSize)
}

func TestResolveArtifactNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	ok, err := c.ResolveArtifact(context.Background(), "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteArtifactNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.DeleteArtifact(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestFetchArtifactStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("media-bytes"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	rc, length, err := c.FetchArtifactStream(context.Background(), srv.URL+"/dl/a1")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int64(len("media-bytes")), length)
}

func TestFetchArtifactStreamOutlivesRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("chunk-1/"))
		w.(http.Flusher).Flush()
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("chunk-2"))
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL:        srv.URL,
		APIKey:         "key-1",
		APISecret:      "secret-1",
		RequestTimeout: 50 * time.Millisecond,
	}, nil)
	rc, _, err := c.FetchArtifactStream(context.Background(), srv.URL+"/dl/a1")
	require.NoError(t, err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	require.NoError(t, err, "a transfer longer than the API timeout must still complete")
	assert.Equal(t, "chunk-1/chunk-2", string(body))
}
