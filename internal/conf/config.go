// config.go: settings for the Auto Scouter pipeline. Defines the Settings
// struct and the functions to load and persist it.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LogConfig contains settings for a rotating log file.
type LogConfig struct {
	Enabled  bool   // true to enable this log
	Path     string // path to log file
	Rotation string // rotation type, "daily", "weekly" or "size"
	MaxSize  int64  // max size in bytes for size rotation
}

// Rotation types for log files.
const (
	RotationDaily  = "daily"
	RotationWeekly = "weekly"
	RotationSize   = "size"
)

// SQLiteSettings contains settings for the SQLite database.
type SQLiteSettings struct {
	Enabled bool   // true to enable SQLite
	Path    string // path to SQLite database file
}

// MySQLSettings contains settings for the MySQL database.
type MySQLSettings struct {
	Enabled  bool   // true to enable MySQL
	Username string // username for MySQL
	Password string // password for MySQL
	Database string // database name
	Host     string // host for MySQL
	Port     string // port for MySQL
}

// OutputSettings selects the persistent store backend.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// DedupSettings controls the deduplication engine.
type DedupSettings struct {
	GraceWindow     time.Duration // active listings not seen within this window are swept inactive
	ConflictRetries int           // optimistic lock retries before skipping a listing
	MileageBucketKm int           // mileage bucket size used by the content hash
}

// MatcherSettings controls the alert matching engine.
type MatcherSettings struct {
	GeoCacheTTL time.Duration // TTL for resolved city coordinates
}

// NotifySettings controls the notification throttler and dispatcher handoff.
type NotifySettings struct {
	DefaultMaxPerDay int           // daily cap applied to alerts without an explicit cap
	CapWindow        time.Duration // rolling window for the per-alert cap
	DispatchPerMin   int           // dispatcher handoff rate, notifications per minute
	DispatchBurst    int           // dispatcher handoff burst size
	LookasideTTL     time.Duration // TTL for the emitted-pair lookaside cache
	DefaultRetries   int           // max delivery retries recorded on new notifications
}

// PipelineSettings controls pass execution.
type PipelineSettings struct {
	Workers     int           // worker pool size for per-listing processing
	PassTimeout time.Duration // upper bound for a full pass, 0 for no limit
}

// Settings contains all configuration for the application.
type Settings struct {
	Debug bool // true to enable debug logging

	Main struct {
		Name string    // name of this node, used for identification
		Log  LogConfig // main log settings
	}

	Output   OutputSettings
	Dedup    DedupSettings
	Matcher  MatcherSettings
	Notify   NotifySettings
	Pipeline PipelineSettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration into the package singleton and returns it.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	// Initialize viper and read config
	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with defaults and reads the configuration file,
// creating a default one if none exists.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("autoscout")
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("fatal error reading config file: %w", err)
		}
		return createDefaultConfig(configPaths[0])
	}
	return nil
}

// createDefaultConfig renders the default settings as YAML into the first
// config path so the user has a file to edit.
func createDefaultConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	configPath := filepath.Join(dir, "config.yaml")

	defaults := &Settings{}
	if err := viper.Unmarshal(defaults); err != nil {
		return fmt.Errorf("error materializing default settings: %w", err)
	}

	data, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("error marshaling default settings: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}
	return nil
}

// GetDefaultConfigPaths returns the config search paths in priority order:
// current working directory first, then the user config directory.
func GetDefaultConfigPaths() ([]string, error) {
	paths := []string{"."}
	configDir, err := os.UserConfigDir()
	if err == nil {
		paths = append(paths, filepath.Join(configDir, "autoscout"))
	}
	return paths, nil
}

// Setting returns the current settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		settingsMutex.RLock()
		loaded := settingsInstance != nil
		settingsMutex.RUnlock()
		if !loaded {
			if _, err := Load(); err != nil {
				panic(fmt.Sprintf("error loading settings: %v", err))
			}
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// GetBasePath expands a relative path against the current working directory
// and ensures the directory exists.
func GetBasePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	basePath := filepath.Join(wd, path)
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return path
	}
	return basePath
}
