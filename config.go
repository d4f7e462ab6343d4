package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	configDirName  = ".remote-shell"
	configFileName = "config.yaml"
	envPrefix      = "REMOTE_SHELL"

	defaultServer       = "http://localhost:8000"
	defaultScrollback   = 1000
	defaultToolbarWidth = 100
	defaultTouchRowPx   = 10.0
)

// Toolbar modes.
const (
	toolbarAuto   = "auto"
	toolbarAlways = "always"
	toolbarNever  = "never"
)

// Config is the persisted client configuration.
type Config struct {
	Server       string  `mapstructure:"server" yaml:"server"`
	Token        string  `mapstructure:"token" yaml:"token,omitempty"`
	Theme        string  `mapstructure:"theme" yaml:"theme"`
	Toolbar      string  `mapstructure:"toolbar" yaml:"toolbar"`
	ToolbarWidth int     `mapstructure:"toolbar_width" yaml:"toolbar_width"`
	Scrollback   int     `mapstructure:"scrollback" yaml:"scrollback"`
	TouchRowPx   float64 `mapstructure:"touch_row_px" yaml:"touch_row_px"`
	LogFile      string  `mapstructure:"log_file" yaml:"log_file"`
	LogLevel     string  `mapstructure:"log_level" yaml:"log_level"`
	Themes       []Theme `mapstructure:"themes" yaml:"themes,omitempty"`
}

// configPathOverride allows tests to redirect config to a temp directory
var configPathOverride string

func getConfigDir() (string, error) {
	if configPathOverride != "" {
		return filepath.Dir(configPathOverride), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, configDirName), nil
}

func getConfigPath() (string, error) {
	if configPathOverride != "" {
		return configPathOverride, nil
	}
	dir, err := getConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

func defaultConfig() Config {
	logFile := ""
	if dir, err := getConfigDir(); err == nil {
		logFile = filepath.Join(dir, "remote-shell.log")
	}
	return Config{
		Server:       defaultServer,
		Theme:        defaultTheme.ID,
		Toolbar:      toolbarAuto,
		ToolbarWidth: defaultToolbarWidth,
		Scrollback:   defaultScrollback,
		TouchRowPx:   defaultTouchRowPx,
		LogFile:      logFile,
		LogLevel:     "info",
	}
}

// newConfigViper returns a viper instance with defaults, the config file
// and REMOTE_SHELL_* environment overrides registered.
func newConfigViper() (*viper.Viper, error) {
	path, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	defaults := defaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server", defaults.Server)
	v.SetDefault("token", defaults.Token)
	v.SetDefault("theme", defaults.Theme)
	v.SetDefault("toolbar", defaults.Toolbar)
	v.SetDefault("toolbar_width", defaults.ToolbarWidth)
	v.SetDefault("scrollback", defaults.Scrollback)
	v.SetDefault("touch_row_px", defaults.TouchRowPx)
	v.SetDefault("log_file", defaults.LogFile)
	v.SetDefault("log_level", defaults.LogLevel)
	return v, nil
}

// loadConfig reads the config file, if any, and applies defaults and
// environment overrides. A missing file is not an error.
func loadConfig(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) validate() error {
	switch c.Toolbar {
	case toolbarAuto, toolbarAlways, toolbarNever:
	default:
		return fmt.Errorf("toolbar must be %s, %s or %s, got %q", toolbarAuto, toolbarAlways, toolbarNever, c.Toolbar)
	}
	if c.ToolbarWidth < 0 {
		return fmt.Errorf("toolbar_width must not be negative")
	}
	if c.TouchRowPx <= 0 {
		return fmt.Errorf("touch_row_px must be positive")
	}
	if c.Scrollback < 0 {
		return fmt.Errorf("scrollback must not be negative")
	}
	for _, theme := range c.Themes {
		if err := theme.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// saveConfig writes the config file, creating its directory. The file
// holds the session token, so both are private to the user.
func saveConfig(config Config) error {
	path, err := getConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
