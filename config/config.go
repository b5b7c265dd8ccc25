package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Capture  CaptureConfig
	Messages MessagesConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/trainermatch?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int // 0 keeps the pgxpool default
}

// RedisConfig holds Redis connection settings. Empty Addr disables pub/sub and the archive queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the bucket that archived messages go to.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	PresignExpireMinutes int
}

// CaptureConfig holds camera session settings.
type CaptureConfig struct {
	FFmpegPath     string
	InputFormat    string // ffmpeg -f value for video input, e.g. v4l2 or avfoundation
	FrontDevice    string
	BackDevice     string
	AudioFormat    string
	AudioDevice    string // empty = record without audio
	TempDir        string // where takes are written before commit
	CountdownTick  time.Duration
	DefaultSeconds int // countdown used when the client does not send one
}

// MessagesConfig holds message store and media library settings.
type MessagesConfig struct {
	Backend     string // "file" or "postgres"
	File        string // JSON store location for the file backend
	MediaDir    string // permanent media library
	SeedDemo    bool   // fall back to the demo seed set instead of an empty store
	FFProbePath string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	tick, err := time.ParseDuration(getEnv("CAPTURE_COUNTDOWN_TICK", "1s"))
	if err != nil {
		return nil, fmt.Errorf("parse CAPTURE_COUNTDOWN_TICK: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "trainermatch"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 0),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", "trainermatch-messages"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Capture: CaptureConfig{
			FFmpegPath:     getEnv("FFMPEG_PATH", "ffmpeg"),
			InputFormat:    getEnv("CAPTURE_INPUT_FORMAT", "v4l2"),
			FrontDevice:    getEnv("CAPTURE_FRONT_DEVICE", "/dev/video1"),
			BackDevice:     getEnv("CAPTURE_BACK_DEVICE", "/dev/video0"),
			AudioFormat:    getEnv("CAPTURE_AUDIO_FORMAT", "alsa"),
			AudioDevice:    getEnv("CAPTURE_AUDIO_DEVICE", "default"),
			TempDir:        getEnv("CAPTURE_TEMP_DIR", os.TempDir()),
			CountdownTick:  tick,
			DefaultSeconds: getEnvInt("CAPTURE_COUNTDOWN_SECONDS", 3),
		},
		Messages: MessagesConfig{
			Backend:     strings.ToLower(getEnv("MESSAGE_BACKEND", "file")),
			File:        getEnv("MESSAGES_FILE", "data/video_messages.json"),
			MediaDir:    getEnv("MEDIA_DIR", "data/media"),
			SeedDemo:    getEnvBool("MESSAGES_SEED_DEMO", false),
			FFProbePath: getEnv("FFPROBE_PATH", "ffprobe"),
		},
	}

	switch cfg.Messages.Backend {
	case "file", "postgres":
	default:
		return nil, fmt.Errorf("unknown MESSAGE_BACKEND %q", cfg.Messages.Backend)
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
