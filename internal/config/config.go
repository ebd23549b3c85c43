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

// ConfigPath is the default config file location, relative to the
// working directory of the server binary.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL  string `yaml:"databaseURL"`
	EmbeddingDim int    `yaml:"embeddingDim"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	JWTSecret  string `yaml:"jwtSecret"`
	SessionTTL string `yaml:"sessionTTL"`

	MistralAPIKey          string `yaml:"mistralAPIKey"`
	MistralBaseURL         string `yaml:"mistralBaseURL"`
	MistralGenerationModel string `yaml:"mistralGenerationModel"`
	MistralEmbeddingModel  string `yaml:"mistralEmbeddingModel"`

	GitHubToken     string `yaml:"githubToken"`
	YouTubeLanguage string `yaml:"youtubeLanguage"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	TrustedProxyCIDRs        []string `yaml:"trustedProxyCidrs"`
	SignupRateLimitPerMinute int      `yaml:"signupRateLimitPerMinute"`
	SigninRateLimitPerMinute int      `yaml:"signinRateLimitPerMinute"`
	MaxUploadBytes           int64    `yaml:"maxUploadBytes"`

	TitleWaitSeconds int `yaml:"titleWaitSeconds"`
	RetrievalK       int `yaml:"retrievalK"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("MISTRAL_API_KEY"); v != "" {
		cfg.MistralAPIKey = v
	}
	if v := os.Getenv("MISTRAL_BASE_URL"); v != "" {
		cfg.MistralBaseURL = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.GitHubToken = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("RAGCHAT_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("RAGCHAT_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("RAGCHAT_SIGNUP_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SignupRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("RAGCHAT_SIGNIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SigninRateLimitPerMinute = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or JWT_SECRET)")
	}
	if cfg.EmbeddingDim < 0 {
		return errors.New("config: embeddingDim must be >= 0")
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.SigninRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.SessionTTL != "" {
		if _, err := time.ParseDuration(cfg.SessionTTL); err != nil {
			return fmt.Errorf("config: invalid sessionTTL duration: %w", err)
		}
	}
	return nil
}

// ParseSessionTTL parses the optional session TTL, defaulting to 30 days.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		return 30 * 24 * time.Hour, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid sessionTTL duration: %w", err)
	}
	return dur, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
