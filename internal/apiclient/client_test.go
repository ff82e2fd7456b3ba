package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/filesync-core/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoginDecodesTokenResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wire.TokenResponseDTO{AccessToken: "access-1", RefreshToken: "refresh-1", TokenType: "Bearer"})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), nil, testLogger())

	tok, err := c.Login(context.Background(), "alice", "correct-horse-battery-staple")
	require.NoError(t, err)
	require.Equal(t, "access-1", tok.AccessToken)
	require.Equal(t, "refresh-1", tok.RefreshToken)
}

func TestDoSendsBearerTokenFromSource(t *testing.T) {
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), NewStaticToken("my-token"), testLogger())

	_, err := c.ListFiles(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Bearer my-token", gotAuth)
}

func TestDownloadUnknownFileReturnsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), NewStaticToken("tok"), testLogger())

	_, err := c.Download(context.Background(), "missing-id")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestRetriesOn503ThenSucceeds(t *testing.T) {
	attempts := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), NewStaticToken("tok"), testLogger())
	c.sleepFunc = func(ctx context.Context, d time.Duration) error { return nil }

	files, err := c.ListFiles(context.Background())
	require.NoError(t, err)
	require.Empty(t, files)
	require.Equal(t, 3, attempts)
}

func TestUploadSendsMultipartFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "client-A", r.FormValue("client_id"))
		require.Equal(t, "/docs/a.txt", r.FormValue("path"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wire.SyncResultDTO{Result: "SUCCESS"})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), NewStaticToken("tok"), testLogger())

	vv := wire.VersionVectorDTO{Vectors: map[string]int64{"client-A": 1}}
	result, err := c.Upload(context.Background(), "/docs/a.txt", "client-A", vv, "a.txt", []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "SUCCESS", result.Result)
}
