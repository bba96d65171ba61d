package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["meeting_id"] == "full" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"code":"BUSY","message":"maximum concurrent sessions reached"}`))
			return
		}
		assert.Equal(t, true, body["record_audio"])
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"session_id":"s-1","status":"joining","attached":false}`))
	})
	mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("active"))
		_, _ = w.Write([]byte(`{"sessions":[{"session_id":"s-1","meeting_id":"m-1","status":"recording","chunk_count":3,"created_at":"2026-01-02T03:04:05Z"}]}`))
	})
	mux.HandleFunc("GET /sessions/s-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"session_id":"s-1","meeting_id":"m-1","status":"completed","end_reason":"leave","has_transcript":true,"created_at":"2026-01-02T03:04:05Z"}`))
	})
	mux.HandleFunc("GET /sessions/s-1/transcript", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"session_id":"s-1","entries":[{"start_time":65,"end_time":70,"speaker_id":"Alice","text":"Let's start."}],"duration_seconds":70,"summary":"Kickoff."}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL, "--token", "tok"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestJoinCommand(t *testing.T) {
	srv := fakeServer(t)

	out, err := run(t, srv, "join", "m-1", "https://meet.example/abc", "--record")
	require.NoError(t, err)
	assert.Equal(t, "Session s-1 started (status joining)\n", out)

	_, err = run(t, srv, "join", "full", "https://meet.example/abc", "--record")
	require.Error(t, err)
	var ae *apiError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusTooManyRequests, ae.Status)
	assert.Equal(t, "BUSY", ae.Code)

	_, err = run(t, srv, "join", "only-one-arg")
	assert.Error(t, err)
}

func TestStatusCommand(t *testing.T) {
	srv := fakeServer(t)

	out, err := run(t, srv, "status", "s-1")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "leave")

	out, err = run(t, srv, "status", "s-1", "-o", "json")
	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, "s-1", v["session_id"])

	_, err = run(t, srv, "status", "missing")
	assert.Error(t, err)

	_, err = run(t, srv, "status", "s-1", "-o", "xml")
	assert.Error(t, err)
}

func TestListCommand(t *testing.T) {
	srv := fakeServer(t)

	out, err := run(t, srv, "list", "--active")
	require.NoError(t, err)
	assert.Contains(t, out, "SESSION")
	assert.Contains(t, out, "recording")

	out, err = run(t, srv, "ls", "--active", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "count: 1")
}

func TestTranscriptCommand(t *testing.T) {
	srv := fakeServer(t)

	out, err := run(t, srv, "transcript", "s-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Summary:\nKickoff.")
	assert.Contains(t, out, "[01:05] Alice: Let's start.")
}
