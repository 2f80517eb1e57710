// Package config loads the orchestrator's configuration: XDG user
// config, project-level overrides under <state_dir>/config.yaml, and
// environment variables, merged through viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/bmatcuk/doublestar/v4"
)

// Config is the orchestrator's fully resolved configuration.
type Config struct {
	// Scope is the multi-tenant tag injected into every store call.
	// Required: Load returns an error if it is empty.
	Scope string `mapstructure:"scope"`

	BaseBranch string `mapstructure:"base_branch"`

	QueueLimits    QueueLimits              `mapstructure:"queue_limits"`
	Hooks          HookPoints               `mapstructure:"hooks"`
	TaskTypes      map[string]TaskType      `mapstructure:"task_types"`
	Commands       map[string][]string      `mapstructure:"commands"`
	FileOperations FileOperations           `mapstructure:"file_operations"`
	Server         ServerConfig             `mapstructure:"server"`
	Agents         map[string]AgentBlueprint `mapstructure:"agents"`
	// Fleet is the legacy list form; entries are folded into Agents at
	// load time using their Name field as the blueprint key.
	Fleet []AgentBlueprint `mapstructure:"fleet"`

	BurnoutTurnsThreshold int           `mapstructure:"burnout_turns_threshold"`
	MaxBreakdownDepth     int           `mapstructure:"max_breakdown_depth"`
	MaxRejections         int           `mapstructure:"max_rejections"`
	RebaseCooldown        time.Duration `mapstructure:"rebase_cooldown"`
	ZombieGrace           time.Duration `mapstructure:"zombie_grace"`
	TickInterval          time.Duration `mapstructure:"tick_interval"`
	LeaseDuration         time.Duration `mapstructure:"lease_duration"`
}

// QueueLimits bounds how many tasks may occupy each queue concurrently.
type QueueLimits struct {
	MaxIncoming    int `mapstructure:"max_incoming"`
	MaxClaimed     int `mapstructure:"max_claimed"`
	MaxProvisional int `mapstructure:"max_provisional"`
	MaxOpenPRs     int `mapstructure:"max_open_prs"`
}

// HookPoints maps a lifecycle point to the ordered hook names that run
// at it, at the project level.
type HookPoints struct {
	BeforeSubmit []string `mapstructure:"before_submit"`
	BeforeMerge  []string `mapstructure:"before_merge"`
}

// TaskType carries a per-type hook override, taking precedence over the
// project-level HookPoints during hook resolution.
type TaskType struct {
	Hooks HookPoints `mapstructure:"hooks"`
}

// FileOperations lists the glob patterns an agent may read or write.
type FileOperations struct {
	Read  []string `mapstructure:"read"`
	Write []string `mapstructure:"write"`
}

// MatchesRead reports whether path matches any configured read glob.
func (f FileOperations) MatchesRead(path string) bool {
	return matchesAny(f.Read, path)
}

// MatchesWrite reports whether path matches any configured write glob.
func (f FileOperations) MatchesWrite(path string) bool {
	return matchesAny(f.Write, path)
}

func matchesAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, path); err == nil && ok {
			return true
		}
	}
	return false
}

// ServerConfig describes the remote task store endpoint.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	APIKey  string `mapstructure:"api_key"`
	Scope   string `mapstructure:"scope"`
}

// AgentBlueprint describes one scheduler-managed agent slot.
type AgentBlueprint struct {
	Name            string `mapstructure:"name"`
	Type            string `mapstructure:"type"`
	Role            string `mapstructure:"role"`
	MaxInstances    int    `mapstructure:"max_instances"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	Paused          bool   `mapstructure:"paused"`
	AgentDir        string `mapstructure:"agent_dir"`
}

// Load reads configuration from the user's XDG config directory, then
// merges project-level overrides found at <state_dir>/config.yaml, then
// applies environment variable overrides. Scope must resolve to a
// non-empty value afterward or Load fails: the scheduler must not run
// without a scope.
func Load(stateDir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read user config: %w", err)
		}
	}

	if stateDir != "" {
		projectPath := filepath.Join(stateDir, "config.yaml")
		if _, err := os.Stat(projectPath); err == nil {
			projectViper := viper.New()
			projectViper.SetConfigFile(projectPath)
			if err := projectViper.ReadInConfig(); err == nil {
				if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
					return nil, fmt.Errorf("config: merge project config: %w", err)
				}
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("TASKCTL")
	_ = v.BindEnv("scope", "TASKCTL_SCOPE")
	_ = v.BindEnv("server.api_key", "TASKCTL_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.Server.APIKey = os.ExpandEnv(cfg.Server.APIKey)
	foldFleet(cfg)

	if cfg.Scope == "" {
		return nil, fmt.Errorf("config: scope is required and was not set; the scheduler must not run without one")
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a single explicit file, bypassing
// the XDG/project search. Used by tests and one-off CLI invocations.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}

	cfg.Server.APIKey = os.ExpandEnv(cfg.Server.APIKey)
	foldFleet(cfg)

	if cfg.Scope == "" {
		return nil, fmt.Errorf("config: scope is required and was not set in %s", path)
	}

	return cfg, nil
}

// foldFleet merges the legacy Fleet list form into Agents, keyed by each
// entry's Name. Agents entries with the same key take precedence.
func foldFleet(cfg *Config) {
	if len(cfg.Fleet) == 0 {
		return
	}
	if cfg.Agents == nil {
		cfg.Agents = make(map[string]AgentBlueprint, len(cfg.Fleet))
	}
	for _, bp := range cfg.Fleet {
		if _, exists := cfg.Agents[bp.Name]; !exists {
			cfg.Agents[bp.Name] = bp
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_branch", "main")

	v.SetDefault("queue_limits.max_incoming", 50)
	v.SetDefault("queue_limits.max_claimed", 5)
	v.SetDefault("queue_limits.max_provisional", 10)
	v.SetDefault("queue_limits.max_open_prs", 10)

	v.SetDefault("hooks.before_submit", []string{"create_pr"})
	v.SetDefault("hooks.before_merge", []string{"merge_pr"})

	v.SetDefault("burnout_turns_threshold", 60)
	v.SetDefault("max_breakdown_depth", 3)
	v.SetDefault("max_rejections", 3)
	v.SetDefault("rebase_cooldown", "10m")
	v.SetDefault("zombie_grace", "5m")
	v.SetDefault("tick_interval", "60s")
	v.SetDefault("lease_duration", "20m")
}

// getUserConfigDir returns the XDG config directory for the orchestrator.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "taskctl")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "taskctl")
	}
	return filepath.Join(home, ".config", "taskctl")
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}
