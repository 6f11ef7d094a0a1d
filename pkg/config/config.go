package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EndpointAnalyzeAudio  = "/api/audio-analysis/analyze-audio"
	EndpointAnalyzeSurvey = "/api/audio-analysis/analyze"
	EndpointHealthCheck   = "/api/audio-analysis/health"

	defaultBaseURL = "http://localhost:5000"
)

var (
	ErrUnsupportedType = errors.New("unsupported audio type")
	ErrFileTooLarge    = errors.New("audio file too large")
)

type Config struct {
	Server    ServerConfig
	API       APIConfig
	Upload    UploadConfig
	Recording RecordingConfig
	Report    ReportConfig
	Export    ExportConfig
	Storage   StorageConfig
	LogLevel  string
}

type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// SessionIdleTimeout closes sessions no request has touched for this
	// long; SweepInterval is how often that is checked.
	SessionIdleTimeout time.Duration
	SweepInterval      time.Duration
}

type APIConfig struct {
	BaseURL    string
	Endpoints  Endpoints
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

type Endpoints struct {
	AnalyzeAudio  string
	AnalyzeSurvey string
	HealthCheck   string
}

type UploadConfig struct {
	MaxFileSize       int64
	AllowedAudioTypes []string
	AllowedExtensions []string
}

type RecordingConfig struct {
	MaxDuration      time.Duration
	TickInterval     time.Duration
	ProgressInterval time.Duration
	FFmpegPath       string
	InputDevice      string
}

type ReportConfig struct {
	OutputDir string
	Variant   string
}

type ExportConfig struct {
	Workers int
	Timeout time.Duration
}

type StorageConfig struct {
	// Path is empty for an in-memory store.
	Path string
	// TTL expires stored reports; zero keeps them until deleted.
	TTL time.Duration
}

// Load applies envFiles (default ".env") and the environment over Default.
// Missing env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := Default()

	if v := firstEnv("VIBE_API_URL", "NEXT_PUBLIC_API_URL"); v != "" {
		cfg.API.BaseURL = strings.TrimRight(v, "/")
	}
	cfg.API.Timeout = durationEnv("VIBE_TIMEOUT", cfg.API.Timeout)
	cfg.API.MaxRetries = intEnv("VIBE_MAX_RETRIES", cfg.API.MaxRetries)
	cfg.API.RetryDelay = durationEnv("VIBE_RETRY_DELAY", cfg.API.RetryDelay)

	if secs := intEnv("VIBE_MAX_RECORDING_SECONDS", 0); secs > 0 {
		cfg.Recording.MaxDuration = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("VIBE_FFMPEG_PATH"); v != "" {
		cfg.Recording.FFmpegPath = v
	}
	cfg.Recording.InputDevice = os.Getenv("VIBE_INPUT_DEVICE")

	if v := os.Getenv("VIBE_REPORT_DIR"); v != "" {
		cfg.Report.OutputDir = v
	}
	if v := os.Getenv("VIBE_REPORT_VARIANT"); v != "" {
		cfg.Report.Variant = v
	}

	cfg.Storage.Path = os.Getenv("VIBE_STORE_PATH")
	cfg.Storage.TTL = durationEnv("VIBE_STORE_TTL", cfg.Storage.TTL)
	cfg.Export.Workers = intEnv("VIBE_EXPORT_WORKERS", cfg.Export.Workers)

	if v := os.Getenv("VIBE_ADDR"); v != "" {
		cfg.Server.Address = v
	}
	cfg.Server.SessionIdleTimeout = durationEnv("VIBE_SESSION_IDLE", cfg.Server.SessionIdleTimeout)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

// Default returns the configuration without any environment overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:            ":8080",
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       150 * time.Second,
			SessionIdleTimeout: 30 * time.Minute,
			SweepInterval:      time.Minute,
		},
		API: APIConfig{
			BaseURL: defaultBaseURL,
			Endpoints: Endpoints{
				AnalyzeAudio:  EndpointAnalyzeAudio,
				AnalyzeSurvey: EndpointAnalyzeSurvey,
				HealthCheck:   EndpointHealthCheck,
			},
			Timeout:    120 * time.Second,
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
		Upload: UploadConfig{
			MaxFileSize: 50 << 20,
			AllowedAudioTypes: []string{
				"audio/webm",
				"audio/mp3",
				"audio/wav",
				"audio/m4a",
				"audio/ogg",
			},
			AllowedExtensions: []string{".webm", ".mp3", ".wav", ".m4a", ".ogg"},
		},
		Recording: RecordingConfig{
			MaxDuration:      30 * time.Second,
			TickInterval:     time.Second,
			ProgressInterval: 100 * time.Millisecond,
			FFmpegPath:       "ffmpeg",
		},
		Report: ReportConfig{
			OutputDir: ".",
			Variant:   "professional",
		},
		Export: ExportConfig{
			Workers: 2,
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			TTL: 24 * time.Hour,
		},
		LogLevel: "info",
	}
}

// URL joins the base URL and an endpoint path.
func (c APIConfig) URL(endpoint string) string {
	return c.BaseURL + endpoint
}

// MaxDurationSeconds is the recording cap in whole ticks.
func (c RecordingConfig) MaxDurationSeconds() int {
	if c.TickInterval <= 0 {
		return int(c.MaxDuration / time.Second)
	}
	return int(c.MaxDuration / c.TickInterval)
}

// IsAllowedAudioType accepts a file whose MIME type or extension is listed.
func (c UploadConfig) IsAllowedAudioType(filename, mimeType string) bool {
	base := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	for _, t := range c.AllowedAudioTypes {
		if base == t {
			return true
		}
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range c.AllowedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ValidateAudioFile is advisory: it mirrors what the browser checked before upload.
func (c UploadConfig) ValidateAudioFile(filename, mimeType string, size int64) error {
	if !c.IsAllowedAudioType(filename, mimeType) {
		return fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, filename, mimeType)
	}
	if size > c.MaxFileSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, size, c.MaxFileSize)
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func intEnv(key string, def int) int {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}

// durationEnv accepts Go durations ("90s") or plain milliseconds ("120000").
func durationEnv(key string, def time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def
	}
	if ms, err := strconv.Atoi(s); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}
