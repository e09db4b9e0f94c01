package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeCursorStore struct {
	tokens map[string]*string
	err    error
}

func (f *fakeCursorStore) Get(_ context.Context, streamID string) (*string, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	token, ok := f.tokens[streamID]
	return token, ok, nil
}

func (f *fakeCursorStore) Save(_ context.Context, streamID string, token *string) error {
	f.tokens[streamID] = token
	return nil
}

func (f *fakeCursorStore) Exists(_ context.Context, streamID string) (bool, error) {
	_, ok := f.tokens[streamID]
	return ok, nil
}

func getJSON(t *testing.T, handler http.Handler, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestServerHealthz(t *testing.T) {
	t.Parallel()

	srv := NewServer(0, &fakeCursorStore{}, nil)
	code, body := getJSON(t, srv.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
}

func TestProgressUnstarted(t *testing.T) {
	t.Parallel()

	srv := NewServer(0, &fakeCursorStore{tokens: map[string]*string{}}, nil)
	code, body := getJSON(t, srv.Handler(), "/v1/progress/vid-1")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "unstarted", body["state"])
	require.Equal(t, "vid-1", body["stream"])
}

func TestProgressCaughtUp(t *testing.T) {
	t.Parallel()

	store := &fakeCursorStore{tokens: map[string]*string{"vid-1": nil}}
	srv := NewServer(0, store, nil)
	code, body := getJSON(t, srv.Handler(), "/v1/progress/vid-1")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "caught_up", body["state"])
	require.NotContains(t, body, "page_token")
}

func TestProgressInProgress(t *testing.T) {
	t.Parallel()

	token := "page-4"
	store := &fakeCursorStore{tokens: map[string]*string{"vid-1": &token}}
	srv := NewServer(0, store, nil)
	code, body := getJSON(t, srv.Handler(), "/v1/progress/vid-1")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "in_progress", body["state"])
	require.Equal(t, "page-4", body["page_token"])
}

func TestProgressStoreError(t *testing.T) {
	t.Parallel()

	store := &fakeCursorStore{err: fmt.Errorf("connection refused")}
	srv := NewServer(0, store, nil)
	code, body := getJSON(t, srv.Handler(), "/v1/progress/vid-1")
	require.Equal(t, http.StatusInternalServerError, code)
	require.Contains(t, body["error"], "failed to read progress")
}

func TestRequestIDHeaderSet(t *testing.T) {
	t.Parallel()

	srv := NewServer(0, &fakeCursorStore{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
