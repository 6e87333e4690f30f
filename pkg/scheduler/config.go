package scheduler

import (
	"time"
)

// Config holds the scheduler loop configuration
type Config struct {
	QueueSize  int `mapstructure:"queue_size"`  // active jobs kept in flight
	SampleSize int `mapstructure:"sample_size"` // workers dispatched per cycle, 0 for all

	// Per-job defaults
	UpdateInterval  time.Duration `mapstructure:"update_interval"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
	DefaultPriority float64       `mapstructure:"default_priority"`

	// Loop intervals
	CreationInterval time.Duration `mapstructure:"creation_interval"`
	UpdateLoopPeriod time.Duration `mapstructure:"update_loop_period"`
	RewardInterval   time.Duration `mapstructure:"reward_interval"`
	SyncInterval     time.Duration `mapstructure:"sync_interval"`
	DrainInterval    time.Duration `mapstructure:"drain_interval"`
	MonitorInterval  time.Duration `mapstructure:"monitor_interval"`

	// LivenessWindow is how long the validator may go without creating a
	// job before the monitor requests a restart
	LivenessWindow time.Duration `mapstructure:"liveness_window"`

	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	SetupTimeout    time.Duration `mapstructure:"setup_timeout"`

	// StatePath is where credibility and scores are persisted. Empty
	// disables persistence.
	StatePath string `mapstructure:"state_path"`

	// Tasks is the synthetic task catalog
	Tasks []string `mapstructure:"tasks"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		QueueSize:        4,
		SampleSize:       0,
		UpdateInterval:   5 * time.Minute,
		MaxLifetime:      2 * time.Hour,
		DefaultPriority:  1,
		CreationInterval: time.Minute,
		UpdateLoopPeriod: 30 * time.Second,
		RewardInterval:   time.Minute,
		SyncInterval:     12 * time.Minute,
		DrainInterval:    100 * time.Millisecond,
		MonitorInterval:  time.Hour,
		LivenessWindow:   12 * time.Hour,
		DispatchTimeout:  45 * time.Second,
		SetupTimeout:     10 * time.Minute,
		StatePath:        "validator_state.json",
	}
}

// withDefaults fills every unset duration and size from DefaultConfig
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.SampleSize < 0 {
		c.SampleSize = 0
	}
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = def.UpdateInterval
	}
	if c.MaxLifetime < 0 {
		c.MaxLifetime = 0
	}
	if c.DefaultPriority <= 0 {
		c.DefaultPriority = def.DefaultPriority
	}
	durations := []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&c.CreationInterval, def.CreationInterval},
		{&c.UpdateLoopPeriod, def.UpdateLoopPeriod},
		{&c.RewardInterval, def.RewardInterval},
		{&c.SyncInterval, def.SyncInterval},
		{&c.DrainInterval, def.DrainInterval},
		{&c.MonitorInterval, def.MonitorInterval},
		{&c.LivenessWindow, def.LivenessWindow},
		{&c.DispatchTimeout, def.DispatchTimeout},
		{&c.SetupTimeout, def.SetupTimeout},
	}
	for _, d := range durations {
		if *d.v <= 0 {
			*d.v = d.def
		}
	}
	return c
}
