package stt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/yoockh/meetbot/internal/audio"
	"github.com/yoockh/meetbot/internal/models"
	"github.com/yoockh/meetbot/internal/storage"
)

// inline audio above this size must go through Cloud Storage
const maxInlineBytes = 10 << 20

type GoogleSpeech struct {
	c *speech.Client

	Language string
	// Uploader stages large artifacts in a bucket; it must return gs:// URIs.
	Uploader storage.Uploader
}

func NewGoogleSpeech(ctx context.Context, language string, uploader storage.Uploader) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	if language == "" {
		language = "en-US"
	}
	return &GoogleSpeech{c: c, Language: language, Uploader: uploader}, nil
}

func (g *GoogleSpeech) Close() error { return g.c.Close() }

func recognitionConfig(format, language string) *speechpb.RecognitionConfig {
	cfg := &speechpb.RecognitionConfig{
		LanguageCode:               language,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
	}
	switch format {
	case "pcm":
		cfg.Encoding = speechpb.RecognitionConfig_LINEAR16
		cfg.SampleRateHertz = int32(audio.DefaultPCM.SampleRate)
	case "webm":
		cfg.Encoding = speechpb.RecognitionConfig_WEBM_OPUS
		cfg.SampleRateHertz = 48000
	case "ogg":
		cfg.Encoding = speechpb.RecognitionConfig_OGG_OPUS
		cfg.SampleRateHertz = 48000
	default:
		// wav and flac carry their own header
		cfg.Encoding = speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
	return cfg
}

func (g *GoogleSpeech) recognitionAudio(ctx context.Context, a Artifact) (*speechpb.RecognitionAudio, error) {
	if a.Path == "" {
		return &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: []byte{}}}, nil
	}

	if a.Bytes > maxInlineBytes && g.Uploader != nil {
		f, err := os.Open(a.Path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		object := "stt/" + filepath.Base(filepath.Dir(a.Path)) + "/" + filepath.Base(a.Path)
		uri, err := g.Uploader.Upload(ctx, object, "application/octet-stream", f)
		if err != nil {
			return nil, fmt.Errorf("staging audio: %w", err)
		}
		return &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Uri{Uri: uri}}, nil
	}

	b, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, err
	}
	return &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: b}}, nil
}

func (g *GoogleSpeech) Transcribe(ctx context.Context, a Artifact, speakers []models.SpeakerEvent) (*models.TranscriptResult, error) {
	ra, err := g.recognitionAudio(ctx, a)
	if err != nil {
		return nil, err
	}
	if c, ok := ra.AudioSource.(*speechpb.RecognitionAudio_Content); ok && len(c.Content) == 0 {
		return &models.TranscriptResult{Entries: []models.TranscriptEntry{}}, nil
	}

	op, err := g.c.LongRunningRecognize(ctx, &speechpb.LongRunningRecognizeRequest{
		Config: recognitionConfig(a.Format, g.Language),
		Audio:  ra,
	})
	if err != nil {
		return nil, err
	}
	resp, err := op.Wait(ctx)
	if err != nil {
		return nil, err
	}

	return resultsToTranscript(resp.GetResults(), speakers), nil
}

func resultsToTranscript(results []*speechpb.SpeechRecognitionResult, speakers []models.SpeakerEvent) *models.TranscriptResult {
	out := &models.TranscriptResult{Entries: make([]models.TranscriptEntry, 0, len(results))}

	var prevEnd float64
	for _, r := range results {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		text := strings.TrimSpace(alt.GetTranscript())
		if text == "" {
			continue
		}

		start, end := prevEnd, prevEnd
		if r.GetResultEndTime() != nil {
			end = r.GetResultEndTime().AsDuration().Seconds()
		}
		if words := alt.GetWords(); len(words) > 0 {
			start = words[0].GetStartTime().AsDuration().Seconds()
			end = words[len(words)-1].GetEndTime().AsDuration().Seconds()
		}

		out.Entries = append(out.Entries, models.TranscriptEntry{
			Start:   start,
			End:     end,
			Speaker: SpeakerAt(speakers, start),
			Text:    text,
		})
		prevEnd = end
	}
	out.DurationSeconds = prevEnd
	return out
}
