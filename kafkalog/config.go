package kafkalog

import (
	"time"

	"github.com/memsql/errors"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultMaxPollRecords = 500
	DefaultMaxBytes       = 1 << 20
	DefaultLinger         = 50 * time.Millisecond
)

// Config is everything needed to consume one set of topics as a member of a
// consumer group.
type Config struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"groupID"`
	// MaxPollRecords bounds the size of a batch
	MaxPollRecords int `yaml:"maxPollRecords"`
	// MaxBytes is passed to the reader as the largest fetch response
	MaxBytes int `yaml:"maxBytes"`
	// Linger is how long Poll keeps collecting after the first message
	// arrives, bounded by the poll timeout
	Linger time.Duration `yaml:"linger"`
	// StartAt is "earliest" or "latest" and applies only to partitions that
	// have no committed offset for the group. The default is "earliest".
	StartAt string     `yaml:"startAt"`
	SASL    SASLConfig `yaml:"sasl"`
	TLS     *TLSConfig `yaml:"tls"`
}

func (cfg Config) Validate() error {
	if len(cfg.Brokers) == 0 {
		return errors.Errorf("kafka log requires at least one broker")
	}
	if cfg.GroupID == "" {
		return errors.Errorf("kafka log requires a consumer group id")
	}
	if cfg.MaxPollRecords < 0 || cfg.MaxBytes < 0 || cfg.Linger < 0 {
		return errors.Errorf("kafka log limits may not be negative: max poll records (%d) max bytes (%d) linger (%s)",
			cfg.MaxPollRecords, cfg.MaxBytes, cfg.Linger)
	}
	if _, err := cfg.startOffset(); err != nil {
		return err
	}
	return nil
}

func (cfg Config) startOffset() (int64, error) {
	switch cfg.StartAt {
	case "earliest", "":
		return kafka.FirstOffset, nil
	case "latest":
		return kafka.LastOffset, nil
	default:
		return 0, errors.Errorf("kafka log invalid start at (%s), must be 'earliest' or 'latest'", cfg.StartAt)
	}
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxPollRecords == 0 {
		cfg.MaxPollRecords = DefaultMaxPollRecords
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Linger == 0 {
		cfg.Linger = DefaultLinger
	}
	return cfg
}
