package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/mcuadros/go-defaults"
)

// Config is the capture station configuration. Values come from the
// struct defaults, then the optional TOML file, then the environment.
// Command line flags are applied on top by the caller.
type Config struct {
	Addr        string `toml:"addr" default:":8080"`
	DatabaseURL string `toml:"database_url"`
	DataDir     string `toml:"data_dir" default:"data"`
	ZipDir      string `toml:"zip_dir" default:"zip"`
	LogDir      string `toml:"log_dir" default:"storage/logs"`
	LogLevel    string `toml:"log_level" default:"info"`
	AppEnv      string `toml:"app_env" default:"development"`

	Camera CameraConfig `toml:"camera"`
	S3     S3Config     `toml:"s3"`
}

// CameraConfig selects the two camera inputs.
type CameraConfig struct {
	Front       string `toml:"front" default:"/dev/video0"`
	Back        string `toml:"back" default:"/dev/video1"`
	InputFormat string `toml:"input_format" default:"v4l2"`
	FrameRate   int    `toml:"frame_rate" default:"30"`
	Loop        bool   `toml:"loop"`
}

// S3Config enables archive uploads when Bucket is set.
type S3Config struct {
	Region    string `toml:"region" default:"us-east-1"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix" default:"sessions"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Endpoint  string `toml:"endpoint"`
}

// Enabled reports whether uploads are configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// LoadDotEnv reads .env files into the process environment. With no paths,
// ".env" is used. A missing file is not an error worth stopping for, so
// callers usually ignore the result.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// Load builds a Config. path may be empty to skip the TOML file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	defaults.SetDefaults(cfg)

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = databaseURLFromEnv()
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Addr = GetEnv("FINGERCAP_ADDR", c.Addr)
	c.DatabaseURL = GetEnv("FINGERCAP_DB", c.DatabaseURL)
	c.DataDir = GetEnv("FINGERCAP_DATA_DIR", c.DataDir)
	c.ZipDir = GetEnv("FINGERCAP_ZIP_DIR", c.ZipDir)
	c.LogDir = GetEnv("FINGERCAP_LOG_DIR", c.LogDir)
	c.LogLevel = GetEnv("LOG_LEVEL", c.LogLevel)
	c.AppEnv = GetEnv("APP_ENV", c.AppEnv)

	c.Camera.Front = GetEnv("FINGERCAP_FRONT", c.Camera.Front)
	c.Camera.Back = GetEnv("FINGERCAP_BACK", c.Camera.Back)
	c.Camera.InputFormat = GetEnv("FINGERCAP_INPUT_FORMAT", c.Camera.InputFormat)
	c.Camera.FrameRate = GetEnvInt("FINGERCAP_FRAME_RATE", c.Camera.FrameRate)

	c.S3.Region = GetEnv("AWS_REGION", c.S3.Region)
	c.S3.Bucket = GetEnv("FINGERCAP_S3_BUCKET", c.S3.Bucket)
	c.S3.Prefix = GetEnv("FINGERCAP_S3_PREFIX", c.S3.Prefix)
	c.S3.AccessKey = GetEnv("AWS_ACCESS_KEY_ID", c.S3.AccessKey)
	c.S3.SecretKey = GetEnv("AWS_SECRET_ACCESS_KEY", c.S3.SecretKey)
	c.S3.Endpoint = GetEnv("AWS_ENDPOINT", c.S3.Endpoint)
}

// databaseURLFromEnv builds the connection string from the POSTGRES_*
// variables, falling back to a local default.
func databaseURLFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return "postgres://localhost:5432/fingercap"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		host,
		GetEnv("POSTGRES_PORT", "5432"),
		os.Getenv("POSTGRES_DB"),
	)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}
