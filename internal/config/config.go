package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":5002"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5m"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	CORSOrigins  []string      `env:"CORS_ORIGINS" envSeparator:","`
	MaxUploadMB  int64         `env:"MAX_UPLOAD_MB" envDefault:"500"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	UploadDir       string        `env:"UPLOAD_DIR" envDefault:"./uploads"`
	UploadRetention time.Duration `env:"UPLOAD_RETENTION" envDefault:"0s"`

	// Speech-to-text
	STTProvider        string        `env:"STT_PROVIDER" envDefault:"whisper"`
	WhisperURL         string        `env:"WHISPER_URL" envDefault:"http://localhost:8000/v1/audio/transcriptions"`
	WhisperModel       string        `env:"WHISPER_MODEL" envDefault:"large-v3"`
	WhisperTimeout     time.Duration `env:"WHISPER_TIMEOUT" envDefault:"30m"`
	WhisperTemperature float64       `env:"WHISPER_TEMPERATURE" envDefault:"0"`
	DeepInfraAPIKey    string        `env:"DEEPINFRA_API_KEY"`
	DeepInfraModel     string        `env:"DEEPINFRA_MODEL" envDefault:"openai/whisper-large-v3"`
	ElevenLabsAPIKey   string        `env:"ELEVENLABS_API_KEY"`
	ElevenLabsModel    string        `env:"ELEVENLABS_MODEL" envDefault:"scribe_v1"`
	PreferredLanguage  string        `env:"PREFERRED_LANGUAGE" envDefault:"fr"`
	PreprocessAudio    bool          `env:"PREPROCESS_AUDIO" envDefault:"false"`

	// Diarization
	DiarizationBackend string        `env:"DIARIZATION_BACKEND" envDefault:"none"`
	DiarizationURL     string        `env:"DIARIZATION_URL"` // base URL; /diarize and /health are appended
	DiarizationScript  string        `env:"DIARIZATION_SCRIPT" envDefault:"./scripts/pyannote_diarize.py"`
	DiarizationPython  string        `env:"DIARIZATION_PYTHON" envDefault:"python3"`
	DiarizationTimeout time.Duration `env:"DIARIZATION_TIMEOUT" envDefault:"30m"`
	HFAuthToken        string        `env:"HF_AUTH_TOKEN"`

	// Async jobs
	JobWorkers   int           `env:"JOB_WORKERS" envDefault:"1"`
	JobQueueSize int           `env:"JOB_QUEUE_SIZE" envDefault:"16"`
	JobRetention time.Duration `env:"JOB_RETENTION" envDefault:"1h"`

	// Watch folder
	WatchDir       string `env:"WATCH_DIR"`
	WatchOutputDir string `env:"WATCH_OUTPUT_DIR"`
	WatchBackfill  bool   `env:"WATCH_BACKFILL" envDefault:"true"`

	S3   S3Config
	MQTT MQTTConfig
}

// S3Config holds S3-compatible object storage settings for uploaded audio.
type S3Config struct {
	Bucket    string `env:"S3_BUCKET"`
	Endpoint  string `env:"S3_ENDPOINT"`
	Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	Prefix    string `env:"S3_PREFIX"`
}

// Enabled reports whether S3 storage is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// MQTTConfig holds the optional job event publisher settings.
type MQTTConfig struct {
	BrokerURL   string `env:"MQTT_BROKER_URL"`
	ClientID    string `env:"MQTT_CLIENT_ID" envDefault:"diarist"`
	TopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"diarist"`
	Username    string `env:"MQTT_USERNAME"`
	Password    string `env:"MQTT_PASSWORD"`
}

// Enabled reports whether an MQTT broker is configured.
func (c MQTTConfig) Enabled() bool { return c.BrokerURL != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile   string
	HTTPAddr  string
	LogLevel  string
	UploadDir string
	WatchDir  string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.UploadDir != "" {
		cfg.UploadDir = overrides.UploadDir
	}
	if overrides.WatchDir != "" {
		cfg.WatchDir = overrides.WatchDir
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.STTProvider = strings.ToLower(strings.TrimSpace(c.STTProvider))
	switch c.STTProvider {
	case "whisper":
		if c.WhisperURL == "" {
			return fmt.Errorf("STT_PROVIDER=whisper requires WHISPER_URL")
		}
	case "deepinfra":
		if c.DeepInfraAPIKey == "" {
			return fmt.Errorf("STT_PROVIDER=deepinfra requires DEEPINFRA_API_KEY")
		}
	case "elevenlabs":
		if c.ElevenLabsAPIKey == "" {
			return fmt.Errorf("STT_PROVIDER=elevenlabs requires ELEVENLABS_API_KEY")
		}
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q (want whisper, deepinfra or elevenlabs)", c.STTProvider)
	}

	c.DiarizationBackend = strings.ToLower(strings.TrimSpace(c.DiarizationBackend))
	switch c.DiarizationBackend {
	case "", "none":
		c.DiarizationBackend = "none"
	case "service":
		if c.DiarizationURL == "" {
			return fmt.Errorf("DIARIZATION_BACKEND=service requires DIARIZATION_URL")
		}
	case "script":
		if c.DiarizationScript == "" {
			return fmt.Errorf("DIARIZATION_BACKEND=script requires DIARIZATION_SCRIPT")
		}
	default:
		return fmt.Errorf("unknown DIARIZATION_BACKEND %q (want none, service or script)", c.DiarizationBackend)
	}

	if c.JobWorkers < 1 {
		c.JobWorkers = 1
	}
	if c.JobQueueSize < 1 {
		c.JobQueueSize = 1
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = 500
	}
	return nil
}
