// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the form mail relay.
package config

import (
	"fmt"
	"net/mail"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultMaxUploadSize is 25 MB in bytes.
const defaultMaxUploadSize = 26214400

// Delivery backends understood by DELIVERY_BACKEND.
const (
	BackendSMTP   = "smtp"
	BackendSES    = "ses"
	BackendGraph  = "graph"
	BackendStdout = "stdout"
)

// Config holds the complete application configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Delivery DeliveryConfig `yaml:"delivery"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	SES      SESConfig      `yaml:"ses"`
	Graph    GraphConfig    `yaml:"graph"`
	Message  MessageConfig  `yaml:"message"`
	Sink     SinkConfig     `yaml:"sink"`
	TLS      TLSConfig      `yaml:"tls"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig holds the form endpoint settings.
type HTTPConfig struct {
	Listen         string   `yaml:"listen"`
	MaxUploadSize  int64    `yaml:"max_upload_size"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DeliveryConfig selects the outbound mail backend.
type DeliveryConfig struct {
	Backend string `yaml:"backend"`
}

// SMTPConfig holds the outbound SMTP relay settings. The relay is always
// reached over implicit TLS.
type SMTPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	CAFile             string `yaml:"ca_file"`
}

// SESConfig holds AWS SES v2 configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GraphConfig holds Microsoft Graph application credentials. Sender
// defaults to MESSAGE_FROM.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// MessageConfig holds the trusted header values of every outgoing message.
// None of these are ever taken from a form submission.
type MessageConfig struct {
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	Subject string `yaml:"subject"`
	Locale  string `yaml:"locale"`
}

// SinkConfig holds the development SMTP sink settings.
type SinkConfig struct {
	Listen   string `yaml:"listen"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TLSConfig holds TLS certificate file paths for the SMTP sink.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ConfigurationError reports settings that prevent the service from
// starting. It is never produced per request.
type ConfigurationError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required settings: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid settings: "+strings.Join(e.Invalid, ", "))
	}
	return "configuration error: " + strings.Join(parts, "; ")
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that everything the form service needs at runtime is
// present. The returned error is a *ConfigurationError.
func (c *Config) Validate() error {
	cerr := &ConfigurationError{}

	require := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			cerr.Missing = append(cerr.Missing, name)
		}
	}

	switch c.Delivery.Backend {
	case BackendSMTP:
		require("SMTP_HOST", c.SMTP.Host)
		require("SMTP_USERNAME", c.SMTP.Username)
		require("SMTP_PASSWORD", c.SMTP.Password)
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			cerr.Invalid = append(cerr.Invalid, "SMTP_PORT")
		}
	case BackendSES:
		require("SES_REGION", c.SES.Region)
	case BackendGraph:
		require("GRAPH_TENANT_ID", c.Graph.TenantID)
		require("GRAPH_CLIENT_ID", c.Graph.ClientID)
		require("GRAPH_CLIENT_SECRET", c.Graph.ClientSecret)
		if _, err := mail.ParseAddress(c.GraphSender()); err != nil {
			cerr.Invalid = append(cerr.Invalid, "GRAPH_SENDER")
		}
	case BackendStdout:
	default:
		cerr.Invalid = append(cerr.Invalid, "DELIVERY_BACKEND")
	}

	require("MESSAGE_FROM", c.Message.From)
	require("MESSAGE_TO", c.Message.To)
	require("MESSAGE_SUBJECT", c.Message.Subject)

	if c.HTTP.MaxUploadSize <= 0 {
		cerr.Invalid = append(cerr.Invalid, "MAX_UPLOAD_SIZE")
	}

	if len(cerr.Missing) > 0 || len(cerr.Invalid) > 0 {
		return cerr
	}
	return nil
}

// GraphSender returns the bare address of the mailbox Graph sends as:
// GRAPH_SENDER, or MESSAGE_FROM when unset. A display name is stripped.
func (c *Config) GraphSender() string {
	raw := c.Graph.Sender
	if raw == "" {
		raw = c.Message.From
	}
	if addr, err := mail.ParseAddress(raw); err == nil {
		return addr.Address
	}
	return raw
}

// SinkAuthEnabled returns true if both sink username and password are set.
func (c *Config) SinkAuthEnabled() bool {
	return c.Sink.Username != "" && c.Sink.Password != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.HTTP.Listen = ":8000"
	c.HTTP.MaxUploadSize = defaultMaxUploadSize
	c.Delivery.Backend = BackendSMTP
	c.SMTP.Port = 465
	c.Message.Locale = "ru"
	c.Sink.Listen = ":2465"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	if v := os.Getenv("HTTP_LISTEN"); v != "" {
		c.HTTP.Listen = v
	}
	if v := os.Getenv("MAX_UPLOAD_SIZE"); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return &ConfigurationError{Invalid: []string{"MAX_UPLOAD_SIZE"}}
		}
		c.HTTP.MaxUploadSize = size
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.HTTP.AllowedOrigins = splitList(v)
	}

	if v := os.Getenv("DELIVERY_BACKEND"); v != "" {
		c.Delivery.Backend = strings.ToLower(v)
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigurationError{Invalid: []string{"SMTP_PORT"}}
		}
		c.SMTP.Port = port
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_INSECURE_SKIP_VERIFY"); v != "" {
		skip, err := strconv.ParseBool(v)
		if err != nil {
			return &ConfigurationError{Invalid: []string{"SMTP_INSECURE_SKIP_VERIFY"}}
		}
		c.SMTP.InsecureSkipVerify = skip
	}
	if v := os.Getenv("SMTP_CA_FILE"); v != "" {
		c.SMTP.CAFile = v
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_SENDER"); v != "" {
		c.Graph.Sender = v
	}

	if v := os.Getenv("MESSAGE_FROM"); v != "" {
		c.Message.From = v
	}
	if v := os.Getenv("MESSAGE_TO"); v != "" {
		c.Message.To = v
	}
	if v := os.Getenv("MESSAGE_SUBJECT"); v != "" {
		c.Message.Subject = v
	}
	if v := os.Getenv("MESSAGE_LOCALE"); v != "" {
		c.Message.Locale = v
	}

	if v := os.Getenv("SINK_LISTEN"); v != "" {
		c.Sink.Listen = v
	}
	if v := os.Getenv("SINK_USERNAME"); v != "" {
		c.Sink.Username = v
	}
	if v := os.Getenv("SINK_PASSWORD"); v != "" {
		c.Sink.Password = v
	}

	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
