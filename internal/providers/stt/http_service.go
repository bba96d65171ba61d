package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yoockh/meetbot/internal/audio"
	"github.com/yoockh/meetbot/internal/models"
)

// HTTPService calls the self-hosted whisper service (POST /transcribe).
type HTTPService struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPService(baseURL string) *HTTPService {
	return &HTTPService{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Minute},
	}
}

type serviceEntry struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	SpeakerID string  `json:"speaker_id"`
	Text      string  `json:"text"`
}

type serviceResponse struct {
	MeetingID  string         `json:"meeting_id"`
	Status     string         `json:"status"`
	Transcript []serviceEntry `json:"transcript"`
	Duration   float64        `json:"duration"`
}

type speakerName struct {
	Name      string  `json:"name"`
	Timestamp float64 `json:"timestamp"`
}

func (s *HTTPService) Transcribe(ctx context.Context, a Artifact, speakers []models.SpeakerEvent) (*models.TranscriptResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := s.writeAudio(writer, a); err != nil {
		return nil, err
	}

	if len(speakers) > 0 {
		names := make([]speakerName, 0, len(speakers))
		for _, e := range speakers {
			names = append(names, speakerName{Name: e.Name, Timestamp: e.ElapsedSeconds})
		}
		b, err := json.Marshal(names)
		if err != nil {
			return nil, err
		}
		if err := writer.WriteField("speaker_names", string(b)); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/transcribe", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling stt service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("reading stt response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stt service error (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out serviceResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("parsing stt response: %w", err)
	}

	res := &models.TranscriptResult{
		Entries:         make([]models.TranscriptEntry, 0, len(out.Transcript)),
		DurationSeconds: out.Duration,
	}
	for _, e := range out.Transcript {
		speaker := e.SpeakerID
		if speaker == "" {
			speaker = SpeakerAt(speakers, e.StartTime)
		}
		res.Entries = append(res.Entries, models.TranscriptEntry{
			Start:   e.StartTime,
			End:     e.EndTime,
			Speaker: speaker,
			Text:    strings.TrimSpace(e.Text),
		})
	}
	return res, nil
}

// writeAudio attaches the artifact as "file". Raw PCM is wrapped in a WAV
// header; a missing artifact becomes an empty WAV.
func (s *HTTPService) writeAudio(w *multipart.Writer, a Artifact) error {
	if a.Path == "" {
		part, err := w.CreateFormFile("file", "empty.wav")
		if err != nil {
			return err
		}
		_, err = part.Write(audio.WAVHeader(audio.DefaultPCM, 0))
		return err
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return fmt.Errorf("opening audio artifact: %w", err)
	}
	defer f.Close()

	name := filepath.Base(a.Path)
	var src io.Reader = f
	if a.Format == "pcm" {
		st, err := f.Stat()
		if err != nil {
			return err
		}
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".wav"
		src = audio.WAVReader(audio.DefaultPCM, f, st.Size())
	}

	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, src)
	return err
}
