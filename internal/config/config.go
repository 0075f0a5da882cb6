package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/logger"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/scheduler"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. DAYZ_SERVER_PORT.
const EnvPrefix = "DAYZ"

// Config is an immutable snapshot of launcher settings. Callers must treat a
// loaded *Config as read-only; a reload produces a new value.
type Config struct {
	LockFile string        `mapstructure:"lock_file"`
	Server   ServerConfig  `mapstructure:"server"`
	Restart  RestartConfig `mapstructure:"restart"`
	Log      logger.Config `mapstructure:"log"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
	History  HistoryConfig `mapstructure:"history"`
	API      APIConfig     `mapstructure:"api"`

	// Path is the file the snapshot was read from.
	Path string `mapstructure:"-"`
}

// ServerConfig holds the launch parameters of the dedicated server.
type ServerConfig struct {
	Executable   string   `mapstructure:"executable"`
	ConfigFile   string   `mapstructure:"config_file"`
	ProfilesDir  string   `mapstructure:"profiles_dir"`
	CompanionDir string   `mapstructure:"companion_dir"`
	Port         int      `mapstructure:"port"`
	CPUCount     int      `mapstructure:"cpu_count"`
	MemoryMB     int      `mapstructure:"memory_mb"`
	ClientMods   string   `mapstructure:"client_mods"`
	ServerMods   string   `mapstructure:"server_mods"`
	LogOutput    bool     `mapstructure:"log_output"`
	Env          []string `mapstructure:"env"`
	EnvFiles     []string `mapstructure:"env_files"`
	UseOSEnv     bool     `mapstructure:"use_os_env"`
}

// RestartConfig drives the supervisor's relaunch delay and the scheduler.
type RestartConfig struct {
	DelaySeconds   int           `mapstructure:"delay_seconds"`
	Times          []string      `mapstructure:"times"`
	WarningMinutes int           `mapstructure:"warning_minutes"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
}

type MetricsConfig struct {
	Listen           string        `mapstructure:"listen"`
	ResourceInterval time.Duration `mapstructure:"resource_interval"`
}

type HistoryConfig struct {
	DSN     []string      `mapstructure:"dsn"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type APIConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

// Delay returns the post-exit pause before relaunch.
func (r RestartConfig) Delay() time.Duration {
	return time.Duration(r.DelaySeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("lock_file", "")
	v.SetDefault("server.executable", "")
	v.SetDefault("server.config_file", "")
	v.SetDefault("server.profiles_dir", "profiles")
	v.SetDefault("server.companion_dir", "addons")
	v.SetDefault("server.port", 2302)
	v.SetDefault("server.cpu_count", 0)
	v.SetDefault("server.memory_mb", 0)
	v.SetDefault("server.client_mods", "")
	v.SetDefault("server.server_mods", "")
	v.SetDefault("server.log_output", false)
	v.SetDefault("server.env", []string{})
	v.SetDefault("server.env_files", []string{})
	v.SetDefault("server.use_os_env", true)
	v.SetDefault("restart.delay_seconds", 10)
	v.SetDefault("restart.times", []string{})
	v.SetDefault("restart.warning_minutes", 5)
	v.SetDefault("restart.poll_interval", "30s")
	v.SetDefault("restart.stop_timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.color", true)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.resource_interval", "15s")
	v.SetDefault("history.dsn", []string{})
	v.SetDefault("history.timeout", "2s")
	v.SetDefault("api.listen", "")
	v.SetDefault("api.base_path", "/api")
}

// Loader reads a config file through viper and can watch it for changes.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader prepares a loader for path. The format is taken from the file
// extension (toml, json, yaml, ...).
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Loader{v: v, path: path}
}

// Load reads and validates the file. It is the only way a Config is produced.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var c Config
	if err := l.v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", l.path, err)
	}
	c.Path = l.path
	if c.LockFile == "" {
		c.LockFile = strings.TrimSuffix(l.path, filepath.Ext(l.path)) + ".lock"
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Watch re-reads the file whenever it is written and passes the new snapshot
// (or the decode/validation error) to fn. Load must have succeeded first.
func (l *Loader) Watch(fn func(*Config, error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		fn(l.decode())
	})
	l.v.WatchConfig()
}

// Load is a shortcut for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Validate checks the fields the launcher cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Executable) == "" {
		errs = append(errs, errors.New("server.executable is required"))
	}
	if strings.TrimSpace(c.Server.ConfigFile) == "" {
		errs = append(errs, errors.New("server.config_file is required"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range 1-65535", c.Server.Port))
	}
	if c.Server.CPUCount < 0 {
		errs = append(errs, fmt.Errorf("server.cpu_count cannot be negative"))
	}
	if c.Server.MemoryMB < 0 {
		errs = append(errs, fmt.Errorf("server.memory_mb cannot be negative"))
	}
	if c.Restart.DelaySeconds < 0 {
		errs = append(errs, fmt.Errorf("restart.delay_seconds cannot be negative"))
	}
	if c.Restart.WarningMinutes < 0 {
		errs = append(errs, fmt.Errorf("restart.warning_minutes cannot be negative"))
	}
	if c.Restart.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("restart.stop_timeout must be positive"))
	}
	for i, s := range c.Restart.Times {
		if _, err := scheduler.ParseTimeOfDay(s); err != nil {
			errs = append(errs, fmt.Errorf("restart.times[%d]: %w", i, err))
		}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ExecutableDir is the directory relative server paths are resolved against.
func (s ServerConfig) ExecutableDir() string {
	return filepath.Dir(s.Executable)
}

// Resolve returns p unchanged when absolute, otherwise joined to the
// executable's directory.
func (s ServerConfig) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.ExecutableDir(), p)
}
