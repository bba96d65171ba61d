package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yoockh/meetbot/internal/models"
)

// apiClient talks to the meetbot control API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(server, token string, timeout time.Duration) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(server, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

// apiError mirrors the server's error body.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		ae := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, ae)
		return ae
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

type joinRequest struct {
	MeetingID   string `json:"meeting_id"`
	JoinURL     string `json:"join_url"`
	DisplayName string `json:"display_name,omitempty"`
	RecordAudio bool   `json:"record_audio"`
}

type joinResult struct {
	SessionID string        `json:"session_id" yaml:"session_id"`
	Status    models.Status `json:"status" yaml:"status"`
	Attached  bool          `json:"attached" yaml:"attached"`
}

func (c *apiClient) Join(ctx context.Context, req joinRequest) (*joinResult, error) {
	var out joinResult
	if err := c.do(ctx, http.MethodPost, "/sessions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Leave(ctx context.Context, sessionID string) (*models.SessionView, error) {
	var out models.SessionView
	if err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/leave", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Get(ctx context.Context, sessionID string) (*models.SessionView, error) {
	var out models.SessionView
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) GetByMeeting(ctx context.Context, meetingID string) (*models.SessionView, error) {
	var out models.SessionView
	if err := c.do(ctx, http.MethodGet, "/meetings/"+url.PathEscape(meetingID)+"/session", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) List(ctx context.Context, activeOnly bool) ([]models.SessionView, error) {
	path := "/sessions"
	if activeOnly {
		path += "?active=true"
	}
	var out struct {
		Sessions []models.SessionView `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

type transcript struct {
	SessionID       string                   `json:"session_id" yaml:"session_id"`
	Entries         []models.TranscriptEntry `json:"entries" yaml:"entries"`
	DurationSeconds float64                  `json:"duration_seconds" yaml:"duration_seconds"`
	Placeholder     bool                     `json:"placeholder" yaml:"placeholder"`
	Summary         string                   `json:"summary,omitempty" yaml:"summary,omitempty"`
}

func (c *apiClient) Transcript(ctx context.Context, sessionID string) (*transcript, error) {
	var out transcript
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/transcript", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
