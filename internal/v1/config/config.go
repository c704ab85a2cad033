package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the validated server configuration.
type Config struct {
	// Required fields
	NumberOfAdditionalThreads int
	Listener                  ListenerConfig

	// Optional with defaults
	Logger         LoggerConfig
	Redis          RedisConfig
	Tracing        TracingConfig
	RateLimitWsIP  string
	AllowedOrigins []string
	DevelopmentMode bool
}

// ListenerConfig describes the TCP endpoint the server binds.
type ListenerConfig struct {
	Interface            string
	Port                 uint16
	MaxQueuedConnections int
}

// Addr returns the listener endpoint in host:port form.
func (l ListenerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Interface, l.Port)
}

// LoggerConfig mirrors the optional "logger" object of the config file.
type LoggerConfig struct {
	Root              string
	Extension         string
	Level             string
	Pattern           string
	RegisterByDefault bool
	FlushEvery        time.Duration
}

// FilePath returns the log file path, or empty when file logging is off.
func (l LoggerConfig) FilePath() string {
	if l.Root == "" {
		return ""
	}
	ext := l.Extension
	if ext == "" {
		ext = "log"
	}
	return l.Root + "/server." + strings.TrimPrefix(ext, ".")
}

// RedisConfig enables the optional cross-instance broadcast bus.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
}

// TracingConfig enables the optional OTLP trace exporter.
type TracingConfig struct {
	Enabled       bool
	CollectorAddr string
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true,
	"warn": true, "error": true, "critical": true, "none": true,
}

// rawConfig is the wire shape of the file. Pointer fields distinguish a
// missing mandatory field from its zero value.
type rawConfig struct {
	NumberOfAdditionalThreads *int         `json:"number_of_additional_threads"`
	Listener                  *rawListener `json:"listener"`
	Logger                    *rawLogger   `json:"logger"`
	Redis                     *rawRedis    `json:"redis"`
	Tracing                   *rawTracing  `json:"tracing"`
	RateLimitWsIP             string       `json:"rate_limit_ws_ip"`
	AllowedOrigins            []string     `json:"allowed_origins"`
	DevelopmentMode           bool         `json:"development_mode"`
}

type rawListener struct {
	Interface            *string `json:"interface"`
	Port                 *int    `json:"port"`
	MaxQueuedConnections *int    `json:"max_queued_connections"`
}

type rawLogger struct {
	Root              string  `json:"root"`
	Extension         string  `json:"extension"`
	Level             string  `json:"level"`
	Pattern           string  `json:"pattern"`
	RegisterByDefault bool    `json:"register_by_default"`
	FlushEvery        float64 `json:"flush_every"`
}

type rawRedis struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
}

type rawTracing struct {
	Enabled       bool   `json:"enabled"`
	CollectorAddr string `json:"collector_addr"`
}

// Load reads and validates the JSON configuration file. All validation
// failures are reported together so a broken file can be fixed in one pass.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse validates raw JSON configuration bytes.
func Parse(data []byte) (*Config, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()

	var raw rawConfig
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("config is not valid JSON: %w", err)
	}

	cfg := &Config{}
	var errs []string

	if raw.NumberOfAdditionalThreads == nil {
		errs = append(errs, "number_of_additional_threads is required")
	} else if *raw.NumberOfAdditionalThreads < 0 {
		errs = append(errs, fmt.Sprintf("number_of_additional_threads must be >= 0 (got %d)", *raw.NumberOfAdditionalThreads))
	} else {
		cfg.NumberOfAdditionalThreads = *raw.NumberOfAdditionalThreads
	}

	if raw.Listener == nil {
		errs = append(errs, "listener is required")
	} else {
		if raw.Listener.Interface == nil || *raw.Listener.Interface == "" {
			errs = append(errs, "listener.interface is required")
		} else {
			cfg.Listener.Interface = *raw.Listener.Interface
		}
		if raw.Listener.Port == nil {
			errs = append(errs, "listener.port is required")
		} else if *raw.Listener.Port < 1 || *raw.Listener.Port > 65535 {
			errs = append(errs, fmt.Sprintf("listener.port must be between 1 and 65535 (got %d)", *raw.Listener.Port))
		} else {
			cfg.Listener.Port = uint16(*raw.Listener.Port)
		}
		if raw.Listener.MaxQueuedConnections == nil {
			errs = append(errs, "listener.max_queued_connections is required")
		} else if *raw.Listener.MaxQueuedConnections < 0 {
			errs = append(errs, fmt.Sprintf("listener.max_queued_connections must be >= 0 (got %d)", *raw.Listener.MaxQueuedConnections))
		} else {
			cfg.Listener.MaxQueuedConnections = *raw.Listener.MaxQueuedConnections
		}
	}

	cfg.Logger = LoggerConfig{Level: "info"}
	if raw.Logger != nil {
		cfg.Logger = LoggerConfig{
			Root:              raw.Logger.Root,
			Extension:         raw.Logger.Extension,
			Level:             raw.Logger.Level,
			Pattern:           raw.Logger.Pattern,
			RegisterByDefault: raw.Logger.RegisterByDefault,
			FlushEvery:        time.Duration(raw.Logger.FlushEvery * float64(time.Second)),
		}
		if cfg.Logger.Level == "" {
			cfg.Logger.Level = "info"
		}
		if !validLogLevels[cfg.Logger.Level] {
			errs = append(errs, fmt.Sprintf("logger.level must be one of trace, debug, info, warn, error, critical, none (got %q)", raw.Logger.Level))
		}
		if raw.Logger.FlushEvery < 0 {
			errs = append(errs, fmt.Sprintf("logger.flush_every must be >= 0 (got %v)", raw.Logger.FlushEvery))
		}
	}

	if raw.Redis != nil {
		cfg.Redis = RedisConfig{
			Enabled:  raw.Redis.Enabled,
			Addr:     raw.Redis.Addr,
			Password: raw.Redis.Password,
		}
		if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
			cfg.Redis.Addr = "localhost:6379"
		}
	}
	// Secrets may come from the environment instead of the file.
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}

	if raw.Tracing != nil {
		cfg.Tracing = TracingConfig{
			Enabled:       raw.Tracing.Enabled,
			CollectorAddr: raw.Tracing.CollectorAddr,
		}
		if cfg.Tracing.Enabled && cfg.Tracing.CollectorAddr == "" {
			errs = append(errs, "tracing.collector_addr is required when tracing is enabled")
		}
	}

	cfg.RateLimitWsIP = raw.RateLimitWsIP
	if cfg.RateLimitWsIP == "" {
		cfg.RateLimitWsIP = "100-M"
	}

	cfg.AllowedOrigins = raw.AllowedOrigins
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:3000"}
	}

	cfg.DevelopmentMode = raw.DevelopmentMode

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return cfg, nil
}
