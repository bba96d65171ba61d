package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotConfigured means the backend's env vars are absent; callers treat
// that backend as disabled.
var ErrNotConfigured = errors.New("not configured")

// BotConfig holds the orchestrator settings. Values come from defaults, then
// the YAML file named by BOT_CONFIG_FILE, then env vars.
type BotConfig struct {
	MaxConcurrentSessions int           `yaml:"max_concurrent_sessions"`
	ChunkInterval         time.Duration `yaml:"chunk_interval"`
	JoinTimeout           time.Duration `yaml:"join_timeout"`
	MaxSessionDuration    time.Duration `yaml:"max_session_duration"`
	DisplayName           string        `yaml:"display_name"`

	RecordingsDir string `yaml:"recordings_dir"`
	ChunkFormat   string `yaml:"chunk_format"` // pcm, webm, ogg
	RetainChunks  bool   `yaml:"retain_chunks"`

	// AudioSource is "websocket" (bot streams to us), "ffmpeg" (local
	// capture device) or "none".
	AudioSource   string `yaml:"audio_source"`
	FFmpegBinary  string `yaml:"ffmpeg_binary"`
	CaptureDevice string `yaml:"capture_device"`
	CaptureFormat string `yaml:"capture_format"`

	BotWorkerURL   string `yaml:"bot_worker_url"`
	BotWorkerToken string `yaml:"-"`

	STTProvider string `yaml:"stt_provider"` // http, google, none
	STTURL      string `yaml:"stt_url"`
	STTLanguage string `yaml:"stt_language"`

	ArchiveBucket string `yaml:"archive_bucket"`
	ArchivePrefix string `yaml:"archive_prefix"`
	ArchiveDir    string `yaml:"archive_dir"`

	WebhookURL     string `yaml:"webhook_url"`
	WebhookSecret  string `yaml:"-"`
	WebhookWorkers int    `yaml:"webhook_workers"`
	EventStream    string `yaml:"event_stream"`

	StateFile string `yaml:"state_file"`

	VertexProject  string `yaml:"vertex_project"`
	VertexLocation string `yaml:"vertex_location"`
	VertexModel    string `yaml:"vertex_model"`
}

func DefaultBotConfig() BotConfig {
	return BotConfig{
		MaxConcurrentSessions: 5,
		ChunkInterval:         5 * time.Minute,
		JoinTimeout:           60 * time.Second,
		MaxSessionDuration:    4 * time.Hour,
		DisplayName:           "Meeting Notes Bot",
		RecordingsDir:         "/tmp/meetbot/recordings",
		ChunkFormat:           "pcm",
		AudioSource:           "websocket",
		FFmpegBinary:          "ffmpeg",
		STTProvider:           "http",
		STTLanguage:           "en-US",
		WebhookWorkers:        4,
		EventStream:           "bot:events",
		VertexLocation:        "us-central1",
	}
}

// LoadBot resolves the bot configuration.
func LoadBot() (BotConfig, error) {
	cfg := DefaultBotConfig()

	if path := os.Getenv("BOT_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *BotConfig) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading bot config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parsing bot config %s: %w", path, err)
	}
	return nil
}

func (c *BotConfig) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	num("BOT_MAX_CONCURRENT_SESSIONS", &c.MaxConcurrentSessions)
	dur("BOT_CHUNK_INTERVAL", &c.ChunkInterval)
	dur("BOT_JOIN_TIMEOUT", &c.JoinTimeout)
	dur("BOT_MAX_SESSION_DURATION", &c.MaxSessionDuration)
	str("BOT_DISPLAY_NAME", &c.DisplayName)

	str("BOT_RECORDINGS_DIR", &c.RecordingsDir)
	str("BOT_CHUNK_FORMAT", &c.ChunkFormat)
	flag("BOT_RETAIN_CHUNKS", &c.RetainChunks)

	str("BOT_AUDIO_SOURCE", &c.AudioSource)
	str("BOT_FFMPEG_BIN", &c.FFmpegBinary)
	str("BOT_CAPTURE_DEVICE", &c.CaptureDevice)
	str("BOT_CAPTURE_FORMAT", &c.CaptureFormat)

	str("BOT_WORKER_URL", &c.BotWorkerURL)
	str("BOT_WORKER_TOKEN", &c.BotWorkerToken)

	str("STT_PROVIDER", &c.STTProvider)
	str("STT_SERVICE_URL", &c.STTURL)
	str("STT_LANGUAGE", &c.STTLanguage)

	str("GCS_BUCKET", &c.ArchiveBucket)
	str("ARCHIVE_PREFIX", &c.ArchivePrefix)
	str("ARCHIVE_DIR", &c.ArchiveDir)

	str("WEBHOOK_URL", &c.WebhookURL)
	str("WEBHOOK_SECRET", &c.WebhookSecret)
	num("WEBHOOK_WORKERS", &c.WebhookWorkers)
	str("BOT_EVENT_STREAM", &c.EventStream)

	str("BOT_STATE_FILE", &c.StateFile)

	str("VERTEX_PROJECT_ID", &c.VertexProject)
	str("VERTEX_LOCATION", &c.VertexLocation)
	str("VERTEX_MODEL", &c.VertexModel)

	return errors.Join(errs...)
}

func (c BotConfig) Validate() error {
	var errs []error
	if c.MaxConcurrentSessions < 0 {
		errs = append(errs, errors.New("max_concurrent_sessions must be >= 0"))
	}
	if c.ChunkInterval < time.Second {
		errs = append(errs, errors.New("chunk_interval must be at least 1s"))
	}
	if c.JoinTimeout <= 0 || c.MaxSessionDuration <= 0 {
		errs = append(errs, errors.New("join_timeout and max_session_duration must be positive"))
	}
	switch c.ChunkFormat {
	case "pcm", "webm", "ogg":
	default:
		errs = append(errs, fmt.Errorf("unsupported chunk_format %q", c.ChunkFormat))
	}
	switch c.AudioSource {
	case "websocket", "ffmpeg", "none":
	default:
		errs = append(errs, fmt.Errorf("unsupported audio_source %q", c.AudioSource))
	}
	switch c.STTProvider {
	case "http":
		if c.STTURL == "" {
			errs = append(errs, errors.New("stt_provider http needs STT_SERVICE_URL"))
		}
	case "google", "none":
	default:
		errs = append(errs, fmt.Errorf("unsupported stt_provider %q", c.STTProvider))
	}
	if c.BotWorkerURL == "" {
		errs = append(errs, errors.New("BOT_WORKER_URL is required"))
	}
	return errors.Join(errs...)
}
