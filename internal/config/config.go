package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/jnoller/condamcp/internal/env"
	"github.com/jnoller/condamcp/internal/logger"
)

// FileConfig represents the top-level TOML structure.
//
//	env = ["CONDA_VERBOSITY=1"]
//	env_files = ["conda.env"]
//	use_os_env = true
//
//	[runner]
//	log_dir = "/var/log/condamcp"
//	shell = false
//	tracking = true
//
//	[log]
//	level = "info"
//	file = "/var/log/condamcp/condamcp.log"
//
//	[history]
//	enabled = true
//	dsn = "sqlite:///var/lib/condamcp/history.db"
//
//	[metrics]
//	enabled = true
type FileConfig struct {
	Env      []string      `toml:"env" mapstructure:"env"`
	EnvFiles []string      `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool          `toml:"use_os_env" mapstructure:"use_os_env"`
	Runner   RunnerConfig  `toml:"runner" mapstructure:"runner"`
	Log      logger.Config `toml:"log" mapstructure:"log"`
	History  HistoryConfig `toml:"history" mapstructure:"history"`
	Metrics  MetricsConfig `toml:"metrics" mapstructure:"metrics"`
}

// RunnerConfig mirrors runner.Config for file-based construction.
type RunnerConfig struct {
	LogDir    string `toml:"log_dir" mapstructure:"log_dir"`
	Shell     bool   `toml:"shell" mapstructure:"shell"`
	ShellPath string `toml:"shell_path" mapstructure:"shell_path"`
	Split     bool   `toml:"split" mapstructure:"split"`
	Tracking  bool   `toml:"tracking" mapstructure:"tracking"`
}

// HistoryConfig selects an invocation-history sink by DSN.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	DSN     string `toml:"dsn" mapstructure:"dsn"`
}

// MetricsConfig toggles Prometheus collector registration.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

// Load reads and validates a TOML config file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Validate rejects configurations the runner cannot honor.
func (fc *FileConfig) Validate() error {
	if fc.History.Enabled && strings.TrimSpace(fc.History.DSN) == "" {
		return fmt.Errorf("history is enabled but dsn is empty")
	}
	for i, kv := range fc.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("env[%d] %q is invalid, must be in KEY=VALUE format", i, kv)
		}
	}
	return nil
}

// BuildEnv composes the spawn environment from the config: OS env when
// enabled as the base, then env_files contents, then the top-level env list
// last. Returns nil when nothing is configured, which lets the spawned
// process inherit the runner's environment untouched.
func (fc *FileConfig) BuildEnv() []string {
	var overrides []string
	for _, f := range fc.EnvFiles {
		pairs, err := loadEnvFile(f)
		if err != nil {
			continue
		}
		overrides = append(overrides, pairs...)
	}
	overrides = append(overrides, fc.Env...)

	if fc.UseOSEnv {
		e := env.New()
		e.FromOS()
		return e.Merge(overrides)
	}
	if len(overrides) == 0 {
		return nil
	}
	// No OS base: last occurrence of a key wins, order preserved otherwise.
	seen := make(map[string]int)
	var out []string
	for _, kv := range overrides {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		k := kv[:i]
		if at, ok := seen[k]; ok {
			out[at] = kv
			continue
		}
		seen[k] = len(out)
		out = append(out, kv)
	}
	return out
}

// loadEnvFile parses a file of KEY=VALUE lines; blank lines and #-comments
// are skipped.
func loadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(line, "=") {
			out = append(out, line)
		}
	}
	return out, nil
}
