package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yoockh/meetbot/internal/models"
)

type Provider interface {
	// StreamAnswer returns a stream of text chunks (incremental).
	StreamAnswer(ctx context.Context, prompt string) (chunks <-chan string, errs <-chan error)
	Close() error
}

// maxPromptChars bounds the transcript text sent for summarisation.
const maxPromptChars = 200_000

// SummaryPrompt renders a transcript as "[mm:ss] Speaker: text" lines.
func SummaryPrompt(tr *models.TranscriptResult) string {
	var b strings.Builder
	b.WriteString("Summarize this meeting transcript. List the key decisions, ")
	b.WriteString("the action items with their owners, and open questions.\n\nTranscript:\n")
	for _, e := range tr.Entries {
		line := fmt.Sprintf("[%02d:%02d] %s: %s\n", int(e.Start)/60, int(e.Start)%60, e.Speaker, e.Text)
		if b.Len()+len(line) > maxPromptChars {
			b.WriteString("[transcript truncated]\n")
			break
		}
		b.WriteString(line)
	}
	return b.String()
}

// Summarize collects the streamed answer for a transcript summary.
func Summarize(ctx context.Context, p Provider, tr *models.TranscriptResult) (string, error) {
	if tr == nil || len(tr.Entries) == 0 {
		return "", errors.New("empty transcript")
	}
	chunks, errs := p.StreamAnswer(ctx, SummaryPrompt(tr))

	var full strings.Builder
	for c := range chunks {
		full.WriteString(c)
	}
	if err := <-errs; err != nil {
		return "", err
	}
	return strings.TrimSpace(full.String()), nil
}
