// Package config loads the proxy's YAML configuration into the
// immutable descriptors the rest of the module is built from.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pocnet/arbiter/chain"
	"github.com/pocnet/arbiter/errs"
)

// ChainConfig is the YAML shape of one entry under "chains:".
type ChainConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Color    string `yaml:"color"`
	Priority int    `yaml:"priority"`
	Enabled  bool   `yaml:"enabled"`

	IsPool   bool `yaml:"is_pool"`
	IsBHD    bool `yaml:"is_bhd"`
	IsHPool  bool `yaml:"is_hpool"`
	IsHDPool bool `yaml:"is_hdpool"`

	AccountKey               string `yaml:"account_key"`
	MinerName                string `yaml:"miner_name"`
	AppendVersionToMinerName bool   `yaml:"append_version_to_miner_name"`

	TargetDeadline        uint64 `yaml:"target_deadline"`
	UseDynamicDeadlines   bool   `yaml:"use_dynamic_deadlines"`
	AllowLowerHeights     bool   `yaml:"allow_lower_heights"`
	RequeueInterrupted    bool   `yaml:"requeue_interrupted"`
	MaximumRequeueTimes   int    `yaml:"maximum_requeue_times"`
	GetMiningInfoInterval int    `yaml:"get_mining_info_interval"`

	NumericIDToPassphrase   map[uint64]string `yaml:"numeric_id_to_passphrase"`
	PerAccountTargetDeadline map[uint64]uint64 `yaml:"per_account_target_deadline"`
}

// Config is the root YAML document.
type Config struct {
	PriorityMode           bool          `yaml:"priority_mode"`
	InterruptLowerPriority bool          `yaml:"interrupt_lower_priority_blocks"`
	GracePeriodSeconds     int           `yaml:"grace_period_seconds"`
	StartupDelaySeconds    int           `yaml:"startup_delay_seconds"`
	MinerUpdateTimeoutSecs int           `yaml:"miner_update_timeout_seconds"`
	InitialPlotSizeTiB     float64       `yaml:"initial_plot_size_tib"`
	BestDeadlineRetention  int           `yaml:"best_deadline_retention"`
	MaskAccountIDsInConsole bool         `yaml:"mask_account_ids_in_console"`
	UserAgent              string        `yaml:"user_agent"`
	ListenAddress          string        `yaml:"listen_address"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	LogJSON  bool   `yaml:"log_json"`

	Chains []ChainConfig `yaml:"chains"`
}

func defaults() Config {
	return Config{
		PriorityMode:            true,
		InterruptLowerPriority:  true,
		GracePeriodSeconds:      10,
		StartupDelaySeconds:     7,
		MinerUpdateTimeoutSecs:  1800,
		InitialPlotSizeTiB:      1,
		BestDeadlineRetention:   64,
		UserAgent:               "pocarbiter",
		ListenAddress:           ":8124",
		LogLevel:                "info",
	}
}

// Load reads and validates a YAML config file, defaulting unset fields
// per §6.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		e := errs.Config("read %s", path)
		e.Err = err
		return nil, e
	}
	cfg := defaults()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		e := errs.Config("parse %s", path)
		e.Err = err
		return nil, e
	}
	if len(cfg.Chains) == 0 {
		return nil, errs.Config("no chains configured")
	}
	for i := range cfg.Chains {
		if cfg.Chains[i].GetMiningInfoInterval == 0 {
			cfg.Chains[i].GetMiningInfoInterval = 3
		}
	}
	return &cfg, nil
}

// GracePeriod converts the configured seconds into a time.Duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// StartupDelay converts the configured seconds into a time.Duration.
func (c *Config) StartupDelay() time.Duration {
	return time.Duration(c.StartupDelaySeconds) * time.Second
}

// MinerUpdateTimeout converts the configured seconds into a
// time.Duration for the capacity tracker's TTL.
func (c *Config) MinerUpdateTimeout() time.Duration {
	return time.Duration(c.MinerUpdateTimeoutSecs) * time.Second
}

// Descriptors builds the chain.Registry input from the parsed config.
// Validation beyond "is this YAML well-formed" (duplicate priorities,
// missing URLs, empty passphrase maps) is deliberately left to
// chain.NewRegistry so there is exactly one place that enforces it.
func (c *Config) Descriptors() []chain.Descriptor {
	out := make([]chain.Descriptor, len(c.Chains))
	for i, cc := range c.Chains {
		out[i] = chain.Descriptor{
			Name:                     cc.Name,
			URL:                      cc.URL,
			Color:                    cc.Color,
			Priority:                 cc.Priority,
			Enabled:                  cc.Enabled,
			IsPool:                   cc.IsPool,
			IsBHD:                    cc.IsBHD,
			IsHPool:                  cc.IsHPool,
			IsHDPool:                 cc.IsHDPool,
			AccountKey:               cc.AccountKey,
			MinerName:                cc.MinerName,
			AppendVersionToMinerName: cc.AppendVersionToMinerName,
			TargetDeadline:           cc.TargetDeadline,
			UseDynamicDeadlines:      cc.UseDynamicDeadlines,
			AllowLowerHeights:        cc.AllowLowerHeights,
			RequeueInterrupted:       cc.RequeueInterrupted,
			MaximumRequeueTimes:      cc.MaximumRequeueTimes,
			GetMiningInfoInterval:    cc.GetMiningInfoInterval,
			NumericIDToPassphrase:    cc.NumericIDToPassphrase,
			PerAccountTargetDeadline: cc.PerAccountTargetDeadline,
		}
	}
	return out
}
