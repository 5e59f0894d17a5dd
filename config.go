package dispatch

import (
	"time"

	"github.com/memsql/errors"

	"github.com/singlestore-labs/dispatch/dispatchmodels"
)

// Config is the serializable form of the Consumer options. Zero values mean
// the defaults.
type Config struct {
	Name          string                       `yaml:"name"`
	Topics        []string                     `yaml:"topics"`
	DeliveryOrder dispatchmodels.DeliveryOrder `yaml:"deliveryOrder"`
	GroupBy       dispatchmodels.GroupBy       `yaml:"groupBy"`
	PollTimeout   time.Duration                `yaml:"pollTimeout"`
	BackoffDelay  time.Duration                `yaml:"backoffDelay"`
	DrainTimeout  time.Duration                `yaml:"drainTimeout"`
}

func (cfg Config) Validate() error {
	if len(uniqueTopics(cfg.Topics)) == 0 {
		return dispatchmodels.ErrNoTopics.Errorf("dispatch config has no topics")
	}
	if cfg.PollTimeout < 0 || cfg.BackoffDelay < 0 || cfg.DrainTimeout < 0 {
		return errors.Errorf("dispatch config timings may not be negative: poll timeout (%s) backoff delay (%s) drain timeout (%s)",
			cfg.PollTimeout, cfg.BackoffDelay, cfg.DrainTimeout)
	}
	if _, err := cfg.DeliveryOrder.MarshalText(); err != nil {
		return errors.Errorf("dispatch config: %w", err)
	}
	var groupBy dispatchmodels.GroupBy
	if err := groupBy.UnmarshalText([]byte(cfg.GroupBy)); err != nil {
		return errors.Errorf("dispatch config: %w", err)
	}
	return nil
}

// Options converts the config to Consumer options. Validate first.
func (cfg Config) Options() []Opt {
	opts := []Opt{WithDeliveryOrder(cfg.DeliveryOrder)}
	if cfg.Name != "" {
		opts = append(opts, WithName(cfg.Name))
	}
	if cfg.DeliveryOrder == dispatchmodels.Ordered {
		opts = append(opts, WithGroupKey(cfg.GroupBy.Key()))
	}
	if cfg.PollTimeout > 0 {
		opts = append(opts, WithPollTimeout(cfg.PollTimeout))
	}
	if cfg.BackoffDelay > 0 {
		opts = append(opts, WithBackoffDelay(cfg.BackoffDelay))
	}
	if cfg.DrainTimeout > 0 {
		opts = append(opts, WithDrainTimeout(cfg.DrainTimeout))
	}
	return opts
}
