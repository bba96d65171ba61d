package stt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/meetbot/internal/models"
)

func TestHTTPServiceTranscribe(t *testing.T) {
	var gotNames []speakerName
	var gotFile []byte
	var gotFilename string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transcribe", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		require.NoError(t, json.Unmarshal([]byte(r.FormValue("speaker_names")), &gotNames))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		gotFilename = hdr.Filename
		gotFile, _ = io.ReadAll(f)

		_ = json.NewEncoder(w).Encode(serviceResponse{
			Status: "completed",
			Transcript: []serviceEntry{
				{StartTime: 0.5, EndTime: 2, Text: " hello "},
				{StartTime: 12, EndTime: 14, SpeakerID: "SPEAKER_01", Text: "bye"},
			},
			Duration: 14,
		})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "merged.pcm")
	require.NoError(t, os.WriteFile(path, make([]byte, 320), 0o644))

	speakers := []models.SpeakerEvent{{Name: "Alice", ElapsedSeconds: 0}}
	res, err := NewHTTPService(srv.URL+"/").Transcribe(context.Background(), Artifact{Path: path, Format: "pcm"}, speakers)
	require.NoError(t, err)

	assert.Equal(t, "merged.wav", gotFilename)
	assert.Len(t, gotFile, 44+320)
	assert.Equal(t, []speakerName{{Name: "Alice", Timestamp: 0}}, gotNames)

	require.Len(t, res.Entries, 2)
	assert.Equal(t, "Alice", res.Entries[0].Speaker)
	assert.Equal(t, "hello", res.Entries[0].Text)
	assert.Equal(t, "SPEAKER_01", res.Entries[1].Speaker)
	assert.Equal(t, 14.0, res.DurationSeconds)
}

func TestHTTPServiceEmptyArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, int64(44), hdr.Size)
		_, _ = w.Write([]byte(`{"status":"completed","transcript":[],"duration":0}`))
	}))
	defer srv.Close()

	res, err := NewHTTPService(srv.URL).Transcribe(context.Background(), Artifact{}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
}

func TestHTTPServiceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPService(srv.URL).Transcribe(context.Background(), Artifact{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model not loaded")
}
