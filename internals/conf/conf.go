package conf

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/parsers/zjson"
)

const FileName = "higgsfield.json"

type Config struct {
	Server  ServerConfig  `json:"server" zog:"server"`
	Runner  RunnerConfig  `json:"runner" zog:"runner"`
	Webhook WebhookConfig `json:"webhook" zog:"webhook"`
	Queue   QueueConfig   `json:"queue" zog:"queue"`
	Log     LogConfig     `json:"log" zog:"log"`
}

type ServerConfig struct {
	DataDir string `json:"data_dir" zog:"data_dir"`
}

type RunnerConfig struct {
	BaseURL        string `json:"base_url" zog:"base_url"`
	TokenURL       string `json:"token_url" zog:"token_url"`
	StartTimeout   string `json:"start_timeout" zog:"start_timeout"`
	RequestTimeout string `json:"request_timeout" zog:"request_timeout"`
	PollInterval   string `json:"poll_interval" zog:"poll_interval"`
	PollAttempts   int    `json:"poll_attempts" zog:"poll_attempts"`
	MaxAuthRetries int    `json:"max_auth_retries" zog:"max_auth_retries"`
	FailFast       bool   `json:"fail_fast" zog:"fail_fast"`
}

type WebhookConfig struct {
	Timeout   string `json:"timeout" zog:"timeout"`
	OnFailure string `json:"on_failure" zog:"on_failure"`
}

type QueueConfig struct {
	Backend  string `json:"backend" zog:"backend"`
	Workers  int    `json:"workers" zog:"workers"`
	RetryMax int    `json:"retry_max" zog:"retry_max"`
}

type LogConfig struct {
	Level  string `json:"level" zog:"level"`
	Format string `json:"format" zog:"format"`
}

const (
	QueueBackendSQLite = "sqlite"
	QueueBackendMemory = "memory"
)

var serverSchema = z.Struct(z.Shape{
	"DataDir": z.String().Default("~/.higgsfield").Trim().Transform(expandPathTransform),
})

var runnerSchema = z.Struct(z.Shape{
	"BaseURL":        z.String().Default("https://platform.higgsfield.ai").Trim().URL(),
	"TokenURL":       z.String().Default("https://platform.higgsfield.ai/oauth/token").Trim().URL(),
	"StartTimeout":   durationSchema("300s"),
	"RequestTimeout": durationSchema("30s"),
	"PollInterval":   durationSchema("1s"),
	"PollAttempts":   z.Int().Default(300).GT(0),
	"MaxAuthRetries": z.Int().Default(3).GTE(0),
	"FailFast":       z.Bool().Default(false),
})

var webhookSchema = z.Struct(z.Shape{
	"Timeout":   durationSchema("10s"),
	"OnFailure": z.String().Default("log").OneOf([]string{"log", "fail"}),
})

var queueSchema = z.Struct(z.Shape{
	"Backend":  z.String().Default(QueueBackendSQLite).OneOf([]string{QueueBackendSQLite, QueueBackendMemory}),
	"Workers":  z.Int().Default(4).GT(0),
	"RetryMax": z.Int().Default(0).GTE(0),
})

var logSchema = z.Struct(z.Shape{
	"Level":  z.String().Default("info").Trim().OneOf([]string{"debug", "info", "warn", "error"}),
	"Format": z.String().Default("text").OneOf([]string{"text", "json"}),
})

var ConfigSchema = z.Struct(z.Shape{
	"Server":  serverSchema,
	"Runner":  runnerSchema,
	"Webhook": webhookSchema,
	"Queue":   queueSchema,
	"Log":     logSchema,
})

func durationSchema(def string) *z.StringSchema[string] {
	return z.String().Default(def).Trim().TestFunc(func(val *string, ctx z.Ctx) bool {
		d, err := time.ParseDuration(*val)
		return err == nil && d > 0
	}, z.Message("must be a positive duration such as 1s or 5m"))
}

// Defaults returns the configuration used when no config file exists.
func Defaults() (*Config, error) {
	cfg := &Config{}
	if issues := ConfigSchema.Parse(map[string]any{}, cfg); len(issues) > 0 {
		return nil, fmt.Errorf("invalid default config:\n%s", z.Issues.Prettify(issues))
	}
	return cfg, nil
}

// Load reads the config file at path. An empty path means FileName inside
// the default data dir. A missing or empty file yields the defaults.
func Load(path string) (*Config, error) {
	defaults, err := Defaults()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = filepath.Join(defaults.Server.DataDir, FileName)
	}
	path, err = expandPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return defaults, nil
	}

	cfg := &Config{}
	if issues := ConfigSchema.Parse(zjson.Decode(bytes.NewReader(data)), cfg); len(issues) > 0 {
		return nil, fmt.Errorf("invalid config file %s:\n%s", path, z.Issues.Prettify(issues))
	}
	return cfg, nil
}

func (c RunnerConfig) StartTimeoutDuration() time.Duration {
	return mustDuration(c.StartTimeout)
}

func (c RunnerConfig) RequestTimeoutDuration() time.Duration {
	return mustDuration(c.RequestTimeout)
}

func (c RunnerConfig) PollIntervalDuration() time.Duration {
	return mustDuration(c.PollInterval)
}

func (c WebhookConfig) TimeoutDuration() time.Duration {
	return mustDuration(c.Timeout)
}

// mustDuration is only used on values the schema already validated.
func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func expandPathTransform(ptr *string, c z.Ctx) error {
	expanded, err := expandPath(*ptr)
	*ptr = expanded
	return err
}

func expandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}
