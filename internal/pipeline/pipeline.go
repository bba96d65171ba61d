// Package pipeline turns the chunks of a finished recording into a single
// artifact, transcribes it and decides what happens to the chunk files.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/meetbot/internal/metrics"
	"github.com/yoockh/meetbot/internal/models"
	"github.com/yoockh/meetbot/internal/providers/stt"
	"github.com/yoockh/meetbot/internal/recording"
	"github.com/yoockh/meetbot/internal/storage"
)

const (
	NoAudioText     = "No audio was captured for this meeting."
	UnavailableText = "Transcription unavailable for this meeting."
	SystemSpeaker   = "System"
)

// Placeholder is the transcript stored when there is nothing real to store.
func Placeholder(text string, durationSeconds float64) *models.TranscriptResult {
	return &models.TranscriptResult{
		Entries: []models.TranscriptEntry{{
			Start:   0,
			End:     durationSeconds,
			Speaker: SystemSpeaker,
			Text:    text,
		}},
		DurationSeconds: durationSeconds,
		Placeholder:     true,
	}
}

type Input struct {
	SessionID  string
	MeetingID  string
	Dir        string
	SpeakerLog []models.SpeakerEvent
	// RecordedSeconds is used as the placeholder duration.
	RecordedSeconds float64
}

type Result struct {
	Transcript *models.TranscriptResult
	Chunks     int
	Artifact   string // merged or single chunk path, empty without audio
	ArchiveURI string
	Retained   bool // chunk dir kept on disk
}

type Pipeline struct {
	Ext          string
	Merger       Merger
	Transcriber  stt.Transcriber
	Archive      storage.Uploader // optional
	RetainChunks bool

	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
}

func (p *Pipeline) log() logrus.FieldLogger {
	if p.Log == nil {
		return logrus.StandardLogger()
	}
	return p.Log
}

func (p *Pipeline) ext() string {
	if p.Ext == "" {
		return "pcm"
	}
	return p.Ext
}

// Complete runs merge and transcription for one session. The only error
// it returns wraps ErrMerge; every other failure degrades to a placeholder.
func (p *Pipeline) Complete(ctx context.Context, in Input) (res Result, err error) {
	started := time.Now()
	defer func() {
		if p.Metrics == nil {
			return
		}
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "merge_failed"
		case res.Transcript != nil && res.Transcript.Placeholder:
			outcome = "placeholder"
		}
		p.Metrics.PipelineSeconds.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	}()

	log := p.log().WithFields(logrus.Fields{"session_id": in.SessionID, "meeting_id": in.MeetingID})

	var chunks []string
	if in.Dir != "" {
		chunks, err = recording.ListChunks(in.Dir, p.ext())
		if err != nil {
			return res, fmt.Errorf("%w: listing chunks: %v", ErrMerge, err)
		}
	}
	res.Chunks = len(chunks)

	if len(chunks) == 0 {
		log.Info("no audio chunks, storing placeholder transcript")
		res.Transcript = Placeholder(NoAudioText, in.RecordedSeconds)
		p.removeDir(log, in.Dir)
		return res, nil
	}

	artifact := chunks[0]
	if len(chunks) > 1 {
		artifact = filepath.Join(in.Dir, "merged."+p.ext())
		merger := p.Merger
		if merger == nil {
			merger = ConcatMerger{}
		}
		if mergeErr := merger.Merge(ctx, chunks, artifact); mergeErr != nil {
			log.WithError(mergeErr).WithField("chunks", len(chunks)).Error("merging chunks failed")
			res.Retained = true
			return res, fmt.Errorf("%w: %v", ErrMerge, mergeErr)
		}
	}
	res.Artifact = artifact

	st, statErr := os.Stat(artifact)
	if statErr != nil {
		return res, fmt.Errorf("%w: %v", ErrMerge, statErr)
	}

	tr, trErr := p.transcribe(ctx, stt.Artifact{Path: artifact, Format: p.ext(), Bytes: st.Size()}, in.SpeakerLog)
	if trErr != nil {
		log.WithError(trErr).Warn("transcription failed, keeping chunks and storing placeholder")
		res.Transcript = Placeholder(UnavailableText, in.RecordedSeconds)
		res.Retained = true
		return res, nil
	}
	res.Transcript = tr

	if p.Archive != nil {
		uri, archErr := p.archive(ctx, in, artifact)
		if archErr != nil {
			log.WithError(archErr).Warn("archiving recording failed")
		}
		res.ArchiveURI = uri
	}

	if p.RetainChunks {
		res.Retained = true
	} else {
		p.removeDir(log, in.Dir)
	}

	log.WithFields(logrus.Fields{"chunks": len(chunks), "entries": len(tr.Entries)}).Info("recording processed")
	return res, nil
}

func (p *Pipeline) transcribe(ctx context.Context, a stt.Artifact, speakers []models.SpeakerEvent) (*models.TranscriptResult, error) {
	if p.Transcriber == nil {
		return nil, fmt.Errorf("no transcriber configured")
	}
	tr, err := p.Transcriber.Transcribe(ctx, a, speakers)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, fmt.Errorf("transcriber returned no result")
	}
	if tr.Entries == nil {
		tr.Entries = []models.TranscriptEntry{}
	}
	return tr, nil
}

func (p *Pipeline) archive(ctx context.Context, in Input, artifact string) (string, error) {
	f, err := os.Open(artifact)
	if err != nil {
		return "", err
	}
	defer f.Close()

	object := fmt.Sprintf("recordings/%s/%s%s", in.MeetingID, in.SessionID, filepath.Ext(artifact))
	return p.Archive.Upload(ctx, object, "application/octet-stream", f)
}

func (p *Pipeline) removeDir(log logrus.FieldLogger, dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		log.WithError(err).Warn("removing chunk dir")
	}
}
