package main

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/memsql/errors"
	"gopkg.in/yaml.v3"

	"github.com/singlestore-labs/dispatch"
	"github.com/singlestore-labs/dispatch/dispatchmodels"
	"github.com/singlestore-labs/dispatch/kafkalog"
)

type Config struct {
	Consumer    dispatch.Config `yaml:"consumer"`
	Kafka       kafkalog.Config `yaml:"kafka"`
	Target      TargetConfig    `yaml:"target"`
	MetricsAddr string          `yaml:"metricsAddr"`
	LogLevel    string          `yaml:"logLevel"`
}

type TargetConfig struct {
	// Kind is "http" or "sql"
	Kind string `yaml:"kind"`

	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`

	// Driver is "mysql" or "postgres"
	Driver           string `yaml:"driver"`
	DSN              string `yaml:"dsn"`
	Table            string `yaml:"table"`
	IgnoreDuplicates bool   `yaml:"ignoreDuplicates"`

	// MaxConcurrency limits simultaneous deliveries when positive
	MaxConcurrency int `yaml:"maxConcurrency"`
}

// loadConfig reads the YAML file at path, if any, and then applies
// DISPATCH_* environment overrides.
func loadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := Config{
		MetricsAddr: ":9090",
		LogLevel:    "info",
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Errorf("read config file (%s): %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Errorf("parse config file (%s): %w", path, err)
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("DISPATCH_TOPICS"); v != "" {
		cfg.Consumer.Topics = splitList(v)
	}
	if v := getenv("DISPATCH_DELIVERY_ORDER"); v != "" {
		if err := cfg.Consumer.DeliveryOrder.UnmarshalText([]byte(v)); err != nil {
			return errors.Errorf("DISPATCH_DELIVERY_ORDER: %w", err)
		}
	}
	if v := getenv("DISPATCH_GROUP_BY"); v != "" {
		var groupBy dispatchmodels.GroupBy
		if err := groupBy.UnmarshalText([]byte(v)); err != nil {
			return errors.Errorf("DISPATCH_GROUP_BY: %w", err)
		}
		cfg.Consumer.GroupBy = groupBy
	}
	for name, field := range map[string]*time.Duration{
		"DISPATCH_POLL_TIMEOUT":  &cfg.Consumer.PollTimeout,
		"DISPATCH_BACKOFF_DELAY": &cfg.Consumer.BackoffDelay,
		"DISPATCH_DRAIN_TIMEOUT": &cfg.Consumer.DrainTimeout,
	} {
		if v := getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return errors.Errorf("%s: %w", name, err)
			}
			*field = d
		}
	}
	if v := getenv("DISPATCH_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := getenv("DISPATCH_KAFKA_GROUP"); v != "" {
		cfg.Kafka.GroupID = v
	}
	if v := getenv("DISPATCH_KAFKA_SASL"); v != "" {
		if err := cfg.Kafka.SASL.UnmarshalText([]byte(v)); err != nil {
			return errors.Errorf("DISPATCH_KAFKA_SASL: %w", err)
		}
	}
	if v := getenv("DISPATCH_KAFKA_TLS"); v != "" {
		var tc kafkalog.TLSConfig
		if err := json.Unmarshal([]byte(v), &tc); err != nil {
			return errors.Errorf("DISPATCH_KAFKA_TLS: %w", err)
		}
		cfg.Kafka.TLS = &tc
	}
	if v := getenv("DISPATCH_TARGET_URL"); v != "" {
		cfg.Target.URL = v
	}
	if v := getenv("DISPATCH_TARGET_DSN"); v != "" {
		cfg.Target.DSN = v
	}
	if v := getenv("DISPATCH_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := getenv("DISPATCH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' '
	})
}

func (cfg Config) Validate() error {
	if err := cfg.Consumer.Validate(); err != nil {
		return err
	}
	if err := cfg.Kafka.Validate(); err != nil {
		return err
	}
	switch cfg.Target.Kind {
	case "http":
		if cfg.Target.URL == "" {
			return errors.Errorf("http target requires a url")
		}
	case "sql":
		if cfg.Target.Driver != "mysql" && cfg.Target.Driver != "postgres" {
			return errors.Errorf("sql target driver (%s) must be 'mysql' or 'postgres'", cfg.Target.Driver)
		}
		if cfg.Target.DSN == "" || cfg.Target.Table == "" {
			return errors.Errorf("sql target requires a dsn and a table")
		}
	default:
		return errors.Errorf("target kind (%s) must be 'http' or 'sql'", cfg.Target.Kind)
	}
	return nil
}
