// Package config loads the validator configuration from a YAML file with
// FOLD_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/psantana5/fold-orchestrator/pkg/artifacts"
	"github.com/psantana5/fold-orchestrator/pkg/cleanup"
	"github.com/psantana5/fold-orchestrator/pkg/credibility"
	"github.com/psantana5/fold-orchestrator/pkg/directory"
	"github.com/psantana5/fold-orchestrator/pkg/engine"
	"github.com/psantana5/fold-orchestrator/pkg/evaluate"
	"github.com/psantana5/fold-orchestrator/pkg/organic"
	"github.com/psantana5/fold-orchestrator/pkg/reward"
	"github.com/psantana5/fold-orchestrator/pkg/scheduler"
	"github.com/psantana5/fold-orchestrator/pkg/store"
	"github.com/psantana5/fold-orchestrator/pkg/tls"
	"github.com/psantana5/fold-orchestrator/pkg/tracing"
)

// EnvPrefix prefixes every environment override, e.g. FOLD_API_LISTEN_ADDR
const EnvPrefix = "FOLD"

// Config is the complete validator configuration
type Config struct {
	Logging     Logging            `mapstructure:"logging"`
	API         API                `mapstructure:"api"`
	TLS         tls.Config         `mapstructure:"tls"`
	Store       store.Config       `mapstructure:"store"`
	Artifacts   artifacts.Config   `mapstructure:"artifacts"`
	Engine      engine.Config      `mapstructure:"engine"`
	Directory   directory.Config   `mapstructure:"directory"`
	Credibility credibility.Config `mapstructure:"credibility"`
	Evaluate    evaluate.Config    `mapstructure:"evaluate"`
	Reward      reward.Config      `mapstructure:"reward"`
	Scheduler   scheduler.Config   `mapstructure:"scheduler"`
	Organic     Organic            `mapstructure:"organic"`
	Tracing     tracing.Config     `mapstructure:"tracing"`
	Cleanup     cleanup.Config     `mapstructure:"cleanup"`
}

// Logging selects level, format and file output
type Logging struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn warning error fatal"`
	JSON  bool   `mapstructure:"json"`
	File  bool   `mapstructure:"file"` // also write under the log directory
}

// API configures the inspection and metrics server
type API struct {
	ListenAddr  string `mapstructure:"listen_addr" validate:"required"`
	MetricsPath string `mapstructure:"metrics_path" validate:"required,startswith=/"`
	// Keys maps key names to bcrypt hashes. Empty disables authentication.
	Keys      map[string]string `mapstructure:"keys"`
	RateLimit float64           `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst int               `mapstructure:"rate_burst" validate:"gte=0"`
}

// Organic configures the intake process and its supervision
type Organic struct {
	Enabled     bool                 `mapstructure:"enabled"`
	GracePeriod time.Duration        `mapstructure:"grace_period"`
	Buffer      int                  `mapstructure:"buffer" validate:"gte=0"`
	Intake      organic.IntakeConfig `mapstructure:"intake"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Logging: Logging{Level: "info"},
		API: API{
			ListenAddr:  ":8080",
			MetricsPath: "/metrics",
			RateLimit:   20,
			RateBurst:   40,
		},
		Store:       store.Config{Type: "sqlite", Path: "validator.db", MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute},
		Artifacts:   artifacts.Config{Type: "file", Root: "artifacts"},
		Engine:      engine.Config{URL: "http://localhost:8700", Timeout: 10 * time.Minute},
		Directory:   directory.DefaultConfig(),
		Credibility: credibility.DefaultConfig(),
		Evaluate:    evaluate.DefaultConfig(),
		Reward:      reward.DefaultConfig(),
		Scheduler:   scheduler.DefaultConfig(),
		Organic: Organic{
			Enabled:     false,
			GracePeriod: 5 * time.Second,
			Buffer:      64,
			Intake:      organic.DefaultIntakeConfig(),
		},
		Tracing: tracing.Config{
			ServiceName: "fold-validator",
			Environment: "production",
			SampleRatio: 1,
		},
		Cleanup: cleanup.DefaultConfig(),
	}
}

// Load reads path (optional) and the environment into a Config. Keys not
// set anywhere keep their Default value.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// New returns a viper instance primed with defaults and env overrides
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	return v
}

// setDefaults registers every scalar default so env overrides resolve
func setDefaults(v *viper.Viper, d Config) {
	defaults := map[string]interface{}{
		"logging.level": d.Logging.Level,
		"logging.json":  d.Logging.JSON,
		"logging.file":  d.Logging.File,

		"api.listen_addr":  d.API.ListenAddr,
		"api.metrics_path": d.API.MetricsPath,
		"api.rate_limit":   d.API.RateLimit,
		"api.rate_burst":   d.API.RateBurst,

		"tls.cert_file":           d.TLS.CertFile,
		"tls.key_file":            d.TLS.KeyFile,
		"tls.ca_file":             d.TLS.CAFile,
		"tls.require_client_cert": d.TLS.RequireClientCert,

		"store.type":               d.Store.Type,
		"store.dsn":                d.Store.DSN,
		"store.path":               d.Store.Path,
		"store.max_open_conns":     d.Store.MaxOpenConns,
		"store.max_idle_conns":     d.Store.MaxIdleConns,
		"store.conn_max_lifetime":  d.Store.ConnMaxLifetime,
		"store.conn_max_idle_time": d.Store.ConnMaxIdleTime,

		"artifacts.type":              d.Artifacts.Type,
		"artifacts.bucket":            d.Artifacts.Bucket,
		"artifacts.region":            d.Artifacts.Region,
		"artifacts.endpoint":          d.Artifacts.Endpoint,
		"artifacts.access_key_id":     d.Artifacts.AccessKeyID,
		"artifacts.secret_access_key": d.Artifacts.SecretAccessKey,
		"artifacts.root":              d.Artifacts.Root,
		"artifacts.base_url":          d.Artifacts.BaseURL,

		"engine.url":     d.Engine.URL,
		"engine.token":   d.Engine.Token,
		"engine.timeout": d.Engine.Timeout,

		"directory.registry_url":     d.Directory.RegistryURL,
		"directory.token":            d.Directory.Token,
		"directory.max_stake":        d.Directory.MaxStake,
		"directory.request_timeout":  d.Directory.RequestTimeout,
		"directory.breaker_failures": d.Directory.BreakerFailures,
		"directory.breaker_timeout":  d.Directory.BreakerTimeout,

		"credibility.window":      d.Credibility.Window,
		"credibility.min_samples": d.Credibility.MinSamples,
		"credibility.floor":       d.Credibility.Floor,

		"evaluate.top_k":               d.Evaluate.TopK,
		"evaluate.energy_window":       d.Evaluate.EnergyWindow,
		"evaluate.anomaly_threshold":   d.Evaluate.AnomalyThreshold,
		"evaluate.duplicate_threshold": d.Evaluate.DuplicateThreshold,

		"reward.top_reward":        d.Reward.TopReward,
		"reward.history_threshold": d.Reward.HistoryThreshold,
		"reward.alpha":             d.Reward.Alpha,

		"scheduler.queue_size":         d.Scheduler.QueueSize,
		"scheduler.sample_size":        d.Scheduler.SampleSize,
		"scheduler.update_interval":    d.Scheduler.UpdateInterval,
		"scheduler.max_lifetime":       d.Scheduler.MaxLifetime,
		"scheduler.default_priority":   d.Scheduler.DefaultPriority,
		"scheduler.creation_interval":  d.Scheduler.CreationInterval,
		"scheduler.update_loop_period": d.Scheduler.UpdateLoopPeriod,
		"scheduler.reward_interval":    d.Scheduler.RewardInterval,
		"scheduler.sync_interval":      d.Scheduler.SyncInterval,
		"scheduler.drain_interval":     d.Scheduler.DrainInterval,
		"scheduler.monitor_interval":   d.Scheduler.MonitorInterval,
		"scheduler.liveness_window":    d.Scheduler.LivenessWindow,
		"scheduler.dispatch_timeout":   d.Scheduler.DispatchTimeout,
		"scheduler.setup_timeout":      d.Scheduler.SetupTimeout,
		"scheduler.state_path":         d.Scheduler.StatePath,

		"organic.enabled":               d.Organic.Enabled,
		"organic.grace_period":          d.Organic.GracePeriod,
		"organic.buffer":                d.Organic.Buffer,
		"organic.intake.listen_addr":    d.Organic.Intake.ListenAddr,
		"organic.intake.queue_size":     d.Organic.Intake.QueueSize,
		"organic.intake.flush_interval": d.Organic.Intake.FlushInterval,
		"organic.intake.rate_limit":     d.Organic.Intake.RateLimit,
		"organic.intake.rate_burst":     d.Organic.Intake.RateBurst,

		"tracing.service_name":    d.Tracing.ServiceName,
		"tracing.service_version": d.Tracing.ServiceVersion,
		"tracing.environment":     d.Tracing.Environment,
		"tracing.otlp_endpoint":   d.Tracing.OTLPEndpoint,
		"tracing.insecure":        d.Tracing.Insecure,
		"tracing.sample_ratio":    d.Tracing.SampleRatio,
		"tracing.enabled":         d.Tracing.Enabled,

		"cleanup.enabled":         d.Cleanup.Enabled,
		"cleanup.retention":       d.Cleanup.Retention,
		"cleanup.interval":        d.Cleanup.CleanupInterval,
		"cleanup.vacuum_interval": d.Cleanup.VacuumInterval,
		"cleanup.initial_delay":   d.Cleanup.InitialDelay,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	for _, part := range []interface{}{c.Logging, c.API, c.Organic} {
		if err := validate.Struct(part); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	var errs []error
	switch c.Store.Type {
	case "memory", "sqlite", "postgres", "postgresql", "":
	default:
		errs = append(errs, fmt.Errorf("store.type %q is not one of memory, sqlite, postgres", c.Store.Type))
	}
	if (c.Store.Type == "postgres" || c.Store.Type == "postgresql") && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required for postgres"))
	}
	switch c.Artifacts.Type {
	case "file", "":
	case "s3":
		if c.Artifacts.Bucket == "" {
			errs = append(errs, errors.New("artifacts.bucket is required for s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("artifacts.type %q is not one of file, s3", c.Artifacts.Type))
	}
	if c.TLS.CertFile != "" && c.TLS.KeyFile == "" || c.TLS.CertFile == "" && c.TLS.KeyFile != "" {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}
	if c.Reward.Alpha <= 0 || c.Reward.Alpha > 1 {
		errs = append(errs, fmt.Errorf("reward.alpha must be in (0,1], got %g", c.Reward.Alpha))
	}
	if c.Reward.TopReward < 0 || c.Reward.TopReward > 1 {
		errs = append(errs, fmt.Errorf("reward.top_reward must be in [0,1], got %g", c.Reward.TopReward))
	}
	if c.Tracing.Enabled && c.Tracing.OTLPEndpoint == "" {
		errs = append(errs, errors.New("tracing.otlp_endpoint is required when tracing is enabled"))
	}
	if c.Organic.Enabled && c.Organic.Intake.ListenAddr == "" {
		errs = append(errs, errors.New("organic.intake.listen_addr is required when organic intake is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
