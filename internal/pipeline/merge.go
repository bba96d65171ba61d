package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrMerge marks a failure to combine chunks. It is fatal for the session.
var ErrMerge = errors.New("merge failed")

// Merger combines chunk files, in the given order, into output.
type Merger interface {
	Merge(ctx context.Context, inputs []string, output string) error
}

// ConcatMerger appends chunk bytes. Valid for headerless formats such as raw PCM.
type ConcatMerger struct{}

func (ConcatMerger) Merge(ctx context.Context, inputs []string, output string) error {
	out, err := os.Create(output)
	if err != nil {
		return err
	}

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			_ = out.Close()
			return err
		}
		if err := appendFile(out, in); err != nil {
			_ = out.Close()
			return err
		}
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func appendFile(dst io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(dst, f)
	return err
}

// FFmpegMerger uses the ffmpeg concat demuxer, for containers like webm or
// ogg where byte concatenation would corrupt the stream.
type FFmpegMerger struct {
	Binary string
}

func (m FFmpegMerger) Merge(ctx context.Context, inputs []string, output string) error {
	bin := m.Binary
	if bin == "" {
		bin = "ffmpeg"
	}

	list := filepath.Join(filepath.Dir(output), "concat.txt")
	var b strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(list, []byte(b.String()), 0o644); err != nil {
		return err
	}
	defer os.Remove(list)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0", "-i", list, "-c", "copy", "-y", output)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
