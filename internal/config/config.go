// Package config loads tsync settings from config.yaml, TSYNC_* environment
// variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DirName is the per-project directory holding config.yaml and the database.
const DirName = ".tsync"

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Precedence: project .tsync/config.yaml > ~/.config/tsync/config.yaml
	configFileSet := false
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, DirName, "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "tsync", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// TSYNC_PERSIST_TIMEOUT maps to persist.timeout, TSYNC_LOG_MAX_SIZE_MB to log.max-size-mb.
	v.SetEnvPrefix("TSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db", filepath.Join(DirName, "tasks.db"))
	v.SetDefault("memory", false)
	v.SetDefault("json", false)

	v.SetDefault("persist.timeout", "30s")
	v.SetDefault("shutdown.timeout", "10s")
	v.SetDefault("events.buffer", 64)
	v.SetDefault("loop.buffer", 256)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max-size-mb", 10)
	v.SetDefault("log.max-backups", 3)
	v.SetDefault("log.max-age-days", 28)

	v.SetDefault("dashboard.addr", "127.0.0.1:7777")
	v.SetDefault("watch.dir", filepath.Join(DirName, "inbox"))
	v.SetDefault("watch.debounce", "500ms")
}

// ResetForTesting clears the config state, allowing Initialize() to be called again.
// Not safe for concurrent use.
func ResetForTesting() {
	v = nil
}

func ensure() *viper.Viper {
	if v == nil {
		v = viper.New()
		setDefaults(v)
	}
	return v
}

// BindFlag makes a command-line flag override key when the flag is set.
func BindFlag(key string, flag *pflag.Flag) error {
	return ensure().BindPFlag(key, flag)
}

// GetString retrieves a string configuration value
func GetString(key string) string { return ensure().GetString(key) }

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool { return ensure().GetBool(key) }

// GetInt retrieves an integer configuration value
func GetInt(key string) int { return ensure().GetInt(key) }

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration { return ensure().GetDuration(key) }

// Set sets a configuration value
func Set(key string, value any) { ensure().Set(key, value) }

// ConfigFileUsed returns the path of the loaded config file, or "".
func ConfigFileUsed() string { return ensure().ConfigFileUsed() }

// Settings is the typed view of the effective configuration.
type Settings struct {
	DB     string `yaml:"db"`
	Memory bool   `yaml:"memory"`
	JSON   bool   `yaml:"json"`

	PersistTimeout  time.Duration `yaml:"persist_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	EventBuffer     int           `yaml:"event_buffer"`
	LoopBuffer      int           `yaml:"loop_buffer"`

	Log       LogSettings   `yaml:"log"`
	Dashboard string        `yaml:"dashboard_addr"`
	Watch     WatchSettings `yaml:"watch"`
}

// LogSettings configures the logger.
type LogSettings struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// WatchSettings configures the drop-directory importer.
type WatchSettings struct {
	Dir      string        `yaml:"dir"`
	Debounce time.Duration `yaml:"debounce"`
}

// Load returns the effective settings.
func Load() Settings {
	v := ensure()
	return Settings{
		DB:              v.GetString("db"),
		Memory:          v.GetBool("memory"),
		JSON:            v.GetBool("json"),
		PersistTimeout:  v.GetDuration("persist.timeout"),
		ShutdownTimeout: v.GetDuration("shutdown.timeout"),
		EventBuffer:     v.GetInt("events.buffer"),
		LoopBuffer:      v.GetInt("loop.buffer"),
		Log: LogSettings{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max-size-mb"),
			MaxBackups: v.GetInt("log.max-backups"),
			MaxAgeDays: v.GetInt("log.max-age-days"),
		},
		Dashboard: v.GetString("dashboard.addr"),
		Watch: WatchSettings{
			Dir:      v.GetString("watch.dir"),
			Debounce: v.GetDuration("watch.debounce"),
		},
	}
}

// Validate checks values that would otherwise fail late.
func (s Settings) Validate() error {
	if !s.Memory && s.DB == "" {
		return fmt.Errorf("db path is required unless memory is set")
	}
	if s.PersistTimeout <= 0 {
		return fmt.Errorf("persist.timeout must be positive (got %s)", s.PersistTimeout)
	}
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown.timeout must be positive (got %s)", s.ShutdownTimeout)
	}
	switch s.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json (got %q)", s.Log.Format)
	}
	return nil
}

// YAML renders the settings as they would appear in config.yaml.
func (s Settings) YAML() ([]byte, error) {
	out, err := yaml.Marshal(map[string]any{
		"db":     s.DB,
		"memory": s.Memory,
		"json":   s.JSON,
		"persist": map[string]any{
			"timeout": s.PersistTimeout.String(),
		},
		"shutdown": map[string]any{
			"timeout": s.ShutdownTimeout.String(),
		},
		"events": map[string]any{"buffer": s.EventBuffer},
		"loop":   map[string]any{"buffer": s.LoopBuffer},
		"log": map[string]any{
			"level":        s.Log.Level,
			"format":       s.Log.Format,
			"file":         s.Log.File,
			"max-size-mb":  s.Log.MaxSizeMB,
			"max-backups":  s.Log.MaxBackups,
			"max-age-days": s.Log.MaxAgeDays,
		},
		"dashboard": map[string]any{"addr": s.Dashboard},
		"watch": map[string]any{
			"dir":      s.Watch.Dir,
			"debounce": s.Watch.Debounce.String(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}
