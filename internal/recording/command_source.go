package recording

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// CommandSource captures audio with ffmpeg from a per-session PulseAudio
// monitor device on the bot host, emitting 16 kHz mono s16le on stdout.
type CommandSource struct {
	Binary string
	// Device is the input device; "{session}" is replaced by the session id.
	Device string
	Format string // ffmpeg input format, "pulse" by default
}

func (c *CommandSource) args(sessionID string) []string {
	format := c.Format
	if format == "" {
		format = "pulse"
	}
	device := strings.ReplaceAll(c.Device, "{session}", sessionID)
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", format,
		"-i", device,
		"-ac", "1",
		"-ar", "16000",
		"-f", "s16le",
		"pipe:1",
	}
}

func (c *CommandSource) Open(ctx context.Context, sessionID string) (io.ReadCloser, error) {
	bin := c.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("%s not found: %w", bin, err)
	}
	if c.Device == "" {
		return nil, fmt.Errorf("no capture device configured")
	}

	cmd := exec.CommandContext(ctx, bin, c.args(sessionID)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting capture: %w", err)
	}
	return &cmdReader{cmd: cmd, r: stdout}, nil
}

type cmdReader struct {
	cmd *exec.Cmd
	r   io.ReadCloser
}

func (c *cmdReader) Read(p []byte) (int, error) { return c.r.Read(p) }

func (c *cmdReader) Close() error {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	// Wait closes stdout; the kill makes its exit status meaningless.
	_ = c.cmd.Wait()
	return nil
}
