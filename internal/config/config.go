package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"crmsync/internal/utils"
)

//go:embed config.sample.yaml
var sampleConfig []byte

const (
	CONFIG_FILE_NAME = "config"
	CONFIG_FILE_PATH = "config.yaml"
	DB_FILE_NAME     = "crmsync.db"
	CONFIG_DIR_PERM  = 0755
	CONFIG_FILE_PERM = 0600

	// EnvPrefix is prepended to every environment override.
	EnvPrefix = "CRMSYNC"
)

var customConfigPath string // Custom config path set via --config flag

// Config represents the application configuration.
type Config struct {
	Profile  string         `mapstructure:"profile" yaml:"profile" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	HubSpot  HubSpotConfig  `mapstructure:"hubspot" yaml:"hubspot"`
	Sync     SyncConfig     `mapstructure:"sync" yaml:"sync"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`

	// Path of the file the config was read from, empty when only defaults
	// and environment were used.
	Source string `mapstructure:"-" yaml:"-"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

type HubSpotConfig struct {
	BaseURL  string        `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`
	Token    string        `mapstructure:"token" yaml:"-"`
	PageSize int           `mapstructure:"page_size" yaml:"page_size" validate:"min=1,max=100"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	Demo     bool          `mapstructure:"demo" yaml:"demo"`
}

type SyncConfig struct {
	ProbeInterval     time.Duration `mapstructure:"probe_interval" yaml:"probe_interval" validate:"gte=1s"`
	PassTimeout       time.Duration `mapstructure:"pass_timeout" yaml:"pass_timeout" validate:"gt=0"`
	BackgroundOnWrite bool          `mapstructure:"background_on_write" yaml:"background_on_write"`
}

type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"min=1"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" validate:"min=0"`
	Verbose    bool   `mapstructure:"verbose" yaml:"verbose"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" validate:"omitempty,hostname_port"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("profile", "hubspot")
	v.SetDefault("database.path", "")
	v.SetDefault("hubspot.base_url", "https://api.hubapi.com")
	v.SetDefault("hubspot.token", "")
	v.SetDefault("hubspot.page_size", 100)
	v.SetDefault("hubspot.timeout", 30*time.Second)
	v.SetDefault("hubspot.demo", false)
	v.SetDefault("sync.probe_interval", 30*time.Second)
	v.SetDefault("sync.pass_timeout", 5*time.Minute)
	v.SetDefault("sync.background_on_write", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.verbose", false)
	v.SetDefault("metrics.addr", "")
}

// Load reads configuration from path, or from the user config directory when
// path is empty. A missing default file is not an error; a missing explicit
// file is. CRMSYNC_* environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, utils.ErrConfigFileNotFound(path)
		}
		v.SetConfigFile(path)
	} else {
		dir, err := utils.ConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user config dir: %w", err)
		}
		v.SetConfigName(CONFIG_FILE_NAME)
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		utils.Debugf("No config file found, using defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Source = v.ConfigFileUsed()

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolvePaths() error {
	if c.Database.Path == "" {
		dir, err := utils.DataDir()
		if err != nil {
			return fmt.Errorf("failed to get user data dir: %w", err)
		}
		c.Database.Path = filepath.Join(dir, DB_FILE_NAME)
	}
	var err error
	if c.Database.Path, err = utils.ExpandPath(c.Database.Path); err != nil {
		return fmt.Errorf("failed to expand database path: %w", err)
	}
	if c.Log.File, err = utils.ExpandPath(c.Log.File); err != nil {
		return fmt.Errorf("failed to expand log path: %w", err)
	}
	return nil
}

// Validate checks field constraints and reports the first failing field.
func (c Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return utils.ErrInvalidConfig(fieldKey(fe.Namespace()), describe(fe))
		}
		return err
	}
	return nil
}

// fieldKey maps "Config.HubSpot.PageSize" to the config key "hubspot.page_size".
func fieldKey(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	switch s {
	case "HubSpot":
		return "hubspot"
	case "BaseURL":
		return "base_url"
	case "MaxSizeMB":
		return "max_size_mb"
	}
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a URL"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be positive"
	case "gte":
		return "must be at least " + fe.Param()
	case "hostname_port":
		return "must be host:port"
	}
	return fmt.Sprintf("failed %q check", fe.Tag())
}

// SetCustomConfigPath sets a custom config path to use instead of the default user config directory.
// If path is a directory, it looks for "config.yaml" inside it.
// This must be called before GetConfig() is called for the first time.
func SetCustomConfigPath(path string) {
	if path == "" {
		customConfigPath = ""
		return
	}
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		customConfigPath = filepath.Join(path, CONFIG_FILE_PATH)
	} else {
		customConfigPath = path
	}
}

// LoadCurrent loads from the path set with SetCustomConfigPath, or searches
// the default location when none is set.
func LoadCurrent() (*Config, error) {
	return Load(customConfigPath)
}

// GetConfigPath returns where the config file is read from and written to.
func GetConfigPath() (string, error) {
	if customConfigPath != "" {
		return customConfigPath, nil
	}
	dir, err := utils.ConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config dir: %w", err)
	}
	return filepath.Join(dir, CONFIG_FILE_PATH), nil
}

// WriteSample writes the commented sample config to path. An existing file
// is kept unless overwrite is set.
func WriteSample(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), CONFIG_DIR_PERM); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, sampleConfig, CONFIG_FILE_PERM); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
