package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers accepted by store.driver.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName  string
	AppEnv   string
	AppPort  string
	LogLevel string

	StoreDriver  string
	DatabaseURL  string
	SQLitePath   string
	RedisURL     string
	RedisChannel string
	ResultTTL    time.Duration
	NATSURL      string

	JWTSecret string

	AIProvider   string
	OpenAIAPIKey string
	OpenAIModel  string
	OpenAIURL    string
	GeminiAPIKey string
	GeminiModel  string
	GeminiURL    string

	CallTimeout        time.Duration
	StudentConcurrency int
	EventBufferSize    int
	EventReplaySize    int
	StreamKeepAlive    time.Duration
	UploadMaxMB        int

	ExtractionMode   string
	ExtractionImage  string
	PDFToTextBinary  string
	DockerHost       string
	SandboxMemoryMB  int
	SandboxCPUShares int

	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string

	FollowUpRateLimit int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// CloudinaryEnabled reports whether uploaded documents should be archived.
func (c Config) CloudinaryEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GRADER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Exam Grader API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("sqlite.path", "grader.db")
	v.SetDefault("redis.channel", "grader")
	v.SetDefault("result.ttl", "0s")
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("gemini.model", "gemini-1.5-flash")
	v.SetDefault("grading.call_timeout", "60s")
	v.SetDefault("grading.student_concurrency", 1)
	v.SetDefault("events.buffer_size", 64)
	v.SetDefault("events.replay_size", 0)
	v.SetDefault("stream.keepalive", "30s")
	v.SetDefault("upload.max_mb", 20)
	v.SetDefault("extraction.mode", "local")
	v.SetDefault("extraction.docker_image", "minidocks/poppler")
	v.SetDefault("extraction.pdftotext", "pdftotext")
	v.SetDefault("sandbox.memory_mb", 256)
	v.SetDefault("sandbox.cpu_shares", 512)
	v.SetDefault("cloudinary.folder", "grader/documents")
	v.SetDefault("followup.rate_limit", 20)

	callTimeout, err := parseDuration(v, "grading.call_timeout")
	if err != nil {
		return Config{}, err
	}
	keepAlive, err := parseDuration(v, "stream.keepalive")
	if err != nil {
		return Config{}, err
	}
	resultTTL, err := parseDuration(v, "result.ttl")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:  v.GetString("app.name"),
		AppEnv:   v.GetString("app.env"),
		AppPort:  v.GetString("app.port"),
		LogLevel: strings.ToLower(v.GetString("log.level")),

		StoreDriver:  strings.ToLower(v.GetString("store.driver")),
		DatabaseURL:  v.GetString("database.url"),
		SQLitePath:   v.GetString("sqlite.path"),
		RedisURL:     v.GetString("redis.url"),
		RedisChannel: v.GetString("redis.channel"),
		ResultTTL:    resultTTL,
		NATSURL:      v.GetString("nats.url"),

		JWTSecret: v.GetString("jwt.secret"),

		AIProvider:   strings.ToLower(v.GetString("ai.provider")),
		OpenAIAPIKey: v.GetString("openai_api_key"),
		OpenAIModel:  v.GetString("openai.model"),
		OpenAIURL:    v.GetString("openai.base_url"),
		GeminiAPIKey: v.GetString("gemini_api_key"),
		GeminiModel:  v.GetString("gemini.model"),
		GeminiURL:    v.GetString("gemini.base_url"),

		CallTimeout:        callTimeout,
		StudentConcurrency: v.GetInt("grading.student_concurrency"),
		EventBufferSize:    v.GetInt("events.buffer_size"),
		EventReplaySize:    v.GetInt("events.replay_size"),
		StreamKeepAlive:    keepAlive,
		UploadMaxMB:        v.GetInt("upload.max_mb"),

		ExtractionMode:   strings.ToLower(v.GetString("extraction.mode")),
		ExtractionImage:  v.GetString("extraction.docker_image"),
		PDFToTextBinary:  v.GetString("extraction.pdftotext"),
		DockerHost:       v.GetString("docker_host"),
		SandboxMemoryMB:  v.GetInt("sandbox.memory_mb"),
		SandboxCPUShares: v.GetInt("sandbox.cpu_shares"),

		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),

		FollowUpRateLimit: v.GetInt("followup.rate_limit"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case StoreMemory, StoreSQLite:
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis.url is required for the redis store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database.url is required for the postgres store")
		}
	default:
		return fmt.Errorf("unsupported store driver %q", c.StoreDriver)
	}

	switch c.AIProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key must be provided")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("gemini_api_key must be provided")
		}
	default:
		return fmt.Errorf("unsupported ai provider %q", c.AIProvider)
	}

	switch c.ExtractionMode {
	case "local", "pdftotext", "docker":
	default:
		return fmt.Errorf("unsupported extraction mode %q", c.ExtractionMode)
	}

	if c.StudentConcurrency <= 0 {
		return fmt.Errorf("grading.student_concurrency must be positive")
	}
	if c.UploadMaxMB <= 0 {
		return fmt.Errorf("upload.max_mb must be positive")
	}

	return nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return duration, nil
}
