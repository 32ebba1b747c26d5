// Package config provides environment-variable-first configuration loading
// with an optional YAML base file and .env support.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// defaultMaxAttachmentSize is 10 MB in bytes.
	defaultMaxAttachmentSize = 10 * 1024 * 1024
	// defaultMaxBodySize is 64 MB in bytes.
	defaultMaxBodySize = 64 * 1024 * 1024
)

// Config holds the complete application configuration.
type Config struct {
	Provider string        `yaml:"provider"`
	Sender   SenderConfig  `yaml:"sender"`
	Graph    GraphConfig   `yaml:"graph"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	SES      SESConfig     `yaml:"ses"`
	Storage  StorageConfig `yaml:"storage"`
	HTTP     HTTPConfig    `yaml:"http"`
	Limits   LimitsConfig  `yaml:"limits"`
	Logging  LoggingConfig `yaml:"logging"`
}

// SenderConfig is the From identity used by the MIME transports.
type SenderConfig struct {
	Email string `yaml:"email"`
	Name  string `yaml:"name"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID         string `yaml:"tenant_id"`
	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret"`
	User             string `yaml:"user"`
	Endpoint         string `yaml:"endpoint"`
	RefreshTokenFile string `yaml:"refresh_token_file"`
}

// SMTPConfig holds the outbound SMTP relay configuration.
type SMTPConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	LocalName          string        `yaml:"local_name"`
	Timeout            time.Duration `yaml:"timeout"`
	CAFile             string        `yaml:"ca_file"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// StorageConfig selects where templates and stored attachments live.
type StorageConfig struct {
	// Backend is "file" or "s3".
	Backend       string   `yaml:"backend"`
	TemplateDir   string   `yaml:"template_dir"`
	AttachmentDir string   `yaml:"attachment_dir"`
	S3            S3Config `yaml:"s3"`
}

// S3Config holds the bucket layout for the s3 storage backend.
type S3Config struct {
	Bucket           string `yaml:"bucket"`
	Region           string `yaml:"region"`
	Endpoint         string `yaml:"endpoint"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	UsePathStyle     bool   `yaml:"use_path_style"`
	TemplatePrefix   string `yaml:"template_prefix"`
	AttachmentPrefix string `yaml:"attachment_prefix"`
}

// HTTPConfig holds the API listener configuration.
type HTTPConfig struct {
	Listen         string        `yaml:"listen"`
	MaxBodySize    int64         `yaml:"max_body_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LimitsConfig holds message limits.
type LimitsConfig struct {
	MaxAttachmentSize int `yaml:"max_attachment_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// A .env file in the working directory is read first when present; variables
// already set in the environment win over it.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load .env: %w", err)
}

// GraphConfigured returns true if all three Graph client credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != ""
}

// SMTPConfigured returns true if the relay host and login are set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != "" && c.SMTP.Username != "" && c.SMTP.Password != ""
}

// SESConfigured returns true if the SES region and a sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.Sender.Email != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Provider = "smtp"
	c.Graph.TenantID = "consumers"
	c.SMTP.Port = 587
	c.SMTP.Timeout = 60 * time.Second
	c.Storage.Backend = "file"
	c.Storage.TemplateDir = "templates"
	c.Storage.AttachmentDir = "attachments"
	c.HTTP.Listen = ":8080"
	c.HTTP.MaxBodySize = defaultMaxBodySize
	c.HTTP.RequestTimeout = 2 * time.Minute
	c.Limits.MaxAttachmentSize = defaultMaxAttachmentSize
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	setString(&c.Sender.Email, "SENDER_EMAIL")
	setString(&c.Sender.Name, "SENDER_NAME")

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")
	setString(&c.Graph.User, "GRAPH_USER")
	setString(&c.Graph.Endpoint, "GRAPH_ENDPOINT")
	setString(&c.Graph.RefreshTokenFile, "GRAPH_REFRESH_TOKEN_FILE")

	setString(&c.SMTP.Host, "SMTP_HOST")
	setInt(&c.SMTP.Port, "SMTP_PORT")
	setString(&c.SMTP.Username, "SMTP_USERNAME")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	setString(&c.SMTP.LocalName, "SMTP_LOCAL_NAME")
	setDuration(&c.SMTP.Timeout, "SMTP_TIMEOUT")
	setString(&c.SMTP.CAFile, "SMTP_CA_FILE")
	setBool(&c.SMTP.InsecureSkipVerify, "SMTP_INSECURE_SKIP_VERIFY")

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")

	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = strings.ToLower(v)
	}
	setString(&c.Storage.TemplateDir, "TEMPLATE_DIR")
	setString(&c.Storage.AttachmentDir, "ATTACHMENT_DIR")
	setString(&c.Storage.S3.Bucket, "S3_BUCKET")
	setString(&c.Storage.S3.Region, "S3_REGION")
	setString(&c.Storage.S3.Endpoint, "S3_ENDPOINT")
	setString(&c.Storage.S3.AccessKeyID, "S3_ACCESS_KEY_ID")
	setString(&c.Storage.S3.SecretAccessKey, "S3_SECRET_ACCESS_KEY")
	setBool(&c.Storage.S3.UsePathStyle, "S3_USE_PATH_STYLE")
	setString(&c.Storage.S3.TemplatePrefix, "S3_TEMPLATE_PREFIX")
	setString(&c.Storage.S3.AttachmentPrefix, "S3_ATTACHMENT_PREFIX")

	setString(&c.HTTP.Listen, "HTTP_LISTEN")
	if v := os.Getenv("HTTP_MAX_BODY_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.HTTP.MaxBodySize = size
		}
	}
	setDuration(&c.HTTP.RequestTimeout, "HTTP_REQUEST_TIMEOUT")

	setInt(&c.Limits.MaxAttachmentSize, "MAX_ATTACHMENT_SIZE")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration accepts Go durations ("90s") or whole seconds ("90").
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
	}
}
