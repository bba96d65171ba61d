package stt

import (
	"testing"
	"time"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/meetbot/internal/models"
	"google.golang.org/protobuf/types/known/durationpb"
)

func TestRecognitionConfigEncoding(t *testing.T) {
	cfg := recognitionConfig("pcm", "en-US")
	assert.Equal(t, speechpb.RecognitionConfig_LINEAR16, cfg.Encoding)
	assert.Equal(t, int32(16000), cfg.SampleRateHertz)
	assert.True(t, cfg.EnableWordTimeOffsets)

	assert.Equal(t, speechpb.RecognitionConfig_WEBM_OPUS, recognitionConfig("webm", "en-US").Encoding)
	assert.Equal(t, speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, recognitionConfig("wav", "en-US").Encoding)
}

func TestResultsToTranscript(t *testing.T) {
	word := func(start, end time.Duration) *speechpb.WordInfo {
		return &speechpb.WordInfo{StartTime: durationpb.New(start), EndTime: durationpb.New(end)}
	}
	results := []*speechpb.SpeechRecognitionResult{
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{
			Transcript: "good morning",
			Words:      []*speechpb.WordInfo{word(time.Second, 2*time.Second), word(2*time.Second, 3*time.Second)},
		}}},
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "  "}}},
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{
			Transcript: "status update",
			Words:      []*speechpb.WordInfo{word(20*time.Second, 22*time.Second)},
		}}},
	}
	speakers := []models.SpeakerEvent{{Name: "Alice", ElapsedSeconds: 0}, {Name: "Bob", ElapsedSeconds: 15}}

	out := resultsToTranscript(results, speakers)
	require.Len(t, out.Entries, 2)
	assert.Equal(t, models.TranscriptEntry{Start: 1, End: 3, Speaker: "Alice", Text: "good morning"}, out.Entries[0])
	assert.Equal(t, "Bob", out.Entries[1].Speaker)
	assert.Equal(t, 22.0, out.DurationSeconds)
}
