package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	AWS           AWSConfig
	Transcode     TranscodeConfig
	Transcription TranscriptionConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	PublicBaseURL      string // external base URL used when rewriting manifest references
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings. Tokens are issued by the
// external account service; this backend only validates them.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials, the media bucket and ECS task settings.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	MediaBucket          string
	PresignExpireMinutes int // TTL for gateway-issued segment URLs
	UploadExpireMinutes  int // TTL for client upload URLs
	ECSCluster           string
	ECSTaskDefinition    string
	ECSContainerName     string
	ECSSubnets           []string
	ECSSecurityGroup     string
}

// TranscodeConfig holds encoder and pipeline policy settings.
type TranscodeConfig struct {
	FFmpegPath      string
	FFprobePath     string
	Preset          string  // x264 preset; veryfast favors throughput over compression
	SegmentSeconds  int     // HLS segment duration
	MaxParallel     int     // hard ceiling on concurrent rendition encodes
	AdmissionLimit  int     // max in-flight transcodes per user
	BandwidthFactor float64 // bandwidth estimate = width * height * factor
	ScratchDir      string  // working directory for downloads and encodes; empty = os.TempDir()
}

// TranscriptionConfig holds settings for the speech-to-text service.
type TranscriptionConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	BaseLanguage   string // captions are always attempted in this language
	TimeoutSeconds int
}

// DSN returns the PostgreSQL connection string.
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
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			PublicBaseURL:      getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "clipstream"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			MediaBucket:          getEnv("AWS_S3_MEDIA_BUCKET", "clipstream-media"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
			UploadExpireMinutes:  getEnvInt("AWS_UPLOAD_EXPIRE_MINUTES", 60),
			ECSCluster:           getEnv("ECS_CLUSTER", "video-transcoder"),
			ECSTaskDefinition:    getEnv("ECS_TASK_DEFINITION", "video-transcoder-task"),
			ECSContainerName:     getEnv("ECS_CONTAINER_NAME", "video-transcoder-image"),
			ECSSubnets:           splitTrim(getEnv("ECS_SUBNETS", ""), ","),
			ECSSecurityGroup:     getEnv("ECS_SECURITY_GROUP", ""),
		},
		Transcode: TranscodeConfig{
			FFmpegPath:      getEnv("FFMPEG_PATH", "ffmpeg"),
			FFprobePath:     getEnv("FFPROBE_PATH", "ffprobe"),
			Preset:          getEnv("FFMPEG_PRESET", "veryfast"),
			SegmentSeconds:  getEnvInt("HLS_SEGMENT_SECONDS", 6),
			MaxParallel:     getEnvInt("TRANSCODE_MAX_PARALLEL", 4),
			AdmissionLimit:  getEnvInt("TRANSCODE_ADMISSION_LIMIT", 5),
			BandwidthFactor: getEnvFloat("MANIFEST_BANDWIDTH_FACTOR", 0.07),
			ScratchDir:      getEnv("TRANSCODE_SCRATCH_DIR", ""),
		},
		Transcription: TranscriptionConfig{
			BaseURL:        getEnv("TRANSCRIPTION_BASE_URL", "https://api.openai.com/v1"),
			APIKey:         getEnv("TRANSCRIPTION_API_KEY", ""),
			Model:          getEnv("TRANSCRIPTION_MODEL", "whisper-1"),
			BaseLanguage:   getEnv("TRANSCRIPTION_BASE_LANGUAGE", "en"),
			TimeoutSeconds: getEnvInt("TRANSCRIPTION_TIMEOUT_SEC", 300),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
