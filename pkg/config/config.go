package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rahul/botfleet/internal/agent"
	fleeterrors "github.com/rahul/botfleet/internal/errors"
)

// EnvPrefix is prepended to every environment override, e.g.
// BOTFLEET_STORE_PATH.
const EnvPrefix = "BOTFLEET"

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Store     StoreConfig     `mapstructure:"store"`
	Log       LogConfig       `mapstructure:"log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Agents    []agent.Agent   `mapstructure:"agents"`
	Policy    PolicyConfig    `mapstructure:"policy"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type StoreConfig struct {
	Path     string `mapstructure:"path"`
	PageSize int    `mapstructure:"page_size"`
}

type LogConfig struct {
	Path      string `mapstructure:"path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	// Quiet suppresses the event stream on the terminal; the file sink
	// still receives everything.
	Quiet     bool   `mapstructure:"quiet"`
}

type SchedulerConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	SuccessThreshold float64       `mapstructure:"success_threshold"`
}

type PolicyConfig struct {
	DeniedAgents   []string `mapstructure:"denied_agents"`
	// DeniedPatterns replaces the built-in destructive-command patterns
	// when set.
	DeniedPatterns []string `mapstructure:"denied_patterns"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "botfleet")
	v.SetDefault("store.path", "botfleet.db")
	v.SetDefault("store.page_size", 64)
	v.SetDefault("log.path", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.quiet", true)
	v.SetDefault("scheduler.interval", agent.DefaultInterval)
	v.SetDefault("scheduler.success_threshold", agent.DefaultSuccessThreshold)
}

// Load reads configuration from path, or from botfleet.{yaml,json} in the
// working directory or $HOME/.botfleet when path is empty. A missing
// default file is not an error. Environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// keys without a default are invisible to AutomaticEnv; values are
	// comma separated
	for _, key := range []string{"policy.denied_agents", "policy.denied_patterns"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("botfleet")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.botfleet")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	if len(cfg.Agents) == 0 {
		cfg.Agents = agent.DefaultAgents()
	}
	for i := range cfg.Agents {
		if cfg.Agents[i].SubAgents == 0 {
			cfg.Agents[i].SubAgents = agent.DefaultSubAgents
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and the agent roster.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.Path) == "" {
		return fleeterrors.NewValidation("store.path", "must not be empty")
	}
	if c.Store.PageSize < 1 {
		return fleeterrors.NewValidation("store.page_size", "must be positive, got %d", c.Store.PageSize)
	}
	if c.Log.MaxSizeMB < 1 {
		return fleeterrors.NewValidation("log.max_size_mb", "must be positive, got %d", c.Log.MaxSizeMB)
	}
	if c.Scheduler.Interval < time.Second {
		return fleeterrors.NewValidation("scheduler.interval", "must be at least 1s, got %s", c.Scheduler.Interval)
	}
	if t := c.Scheduler.SuccessThreshold; t <= 0 || t > 1 {
		return fleeterrors.NewValidation("scheduler.success_threshold", "must be in (0, 1], got %g", t)
	}
	_, err := c.Roster()
	return err
}

// Roster builds the agent roster described by the configuration.
func (c *Config) Roster() (*agent.Roster, error) {
	return agent.NewRoster(c.Agents)
}
