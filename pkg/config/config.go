package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/haolipeng/audisp_filter/pkg/classifier"
)

// FilterConfig is fixed for the process lifetime: set once from the command
// line at startup and never mutated afterward.
type FilterConfig struct {
	Mode       classifier.Mode
	ConfigFile string
	Binary     string
	BinaryArgs []string
	OnlyCheck  bool
}

// ParseArgs parses either `--check <config-file>` or
// `<allowlist|blocklist> <config-file> <consumer-binary> [consumer-args...]`.
// args is the full os.Args slice including the program name.
func ParseArgs(args []string) (*FilterConfig, error) {
	if len(args) == 3 && args[1] == "--check" {
		return &FilterConfig{ConfigFile: args[2], OnlyCheck: true}, nil
	}

	if len(args) <= 3 {
		return nil, fmt.Errorf("not enough command line arguments")
	}

	mode, err := classifier.ParseMode(args[1])
	if err != nil {
		return nil, err
	}

	return &FilterConfig{
		Mode:       mode,
		ConfigFile: args[2],
		Binary:     args[3],
		BinaryArgs: args[4:],
	}, nil
}

// SettingsEnv overrides the settings file location.
const SettingsEnv = "AUDISP_FILTER_SETTINGS"

// DefaultSettingsPath is where the optional settings file normally lives.
const DefaultSettingsPath = "/etc/audit/audisp-filter.yaml"

// Settings carries the ambient concerns that don't belong on the dispatcher
// command line: logging, the admin API and a few tunables. All fields have
// working defaults; the file itself is optional.
type Settings struct {
	Log struct {
		Level       string `yaml:"level"`
		Dir         string `yaml:"dir"`
		Filename    string `yaml:"filename"`
		MaxAgeHours int    `yaml:"max_age_hours"`
		RotateHours int    `yaml:"rotate_hours"`
	} `yaml:"log"`

	API struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
	} `yaml:"api"`

	Source struct {
		BufferSize int `yaml:"buffer_size"`
	} `yaml:"source"`

	Rules struct {
		MaxLineLen int `yaml:"max_line_len"`
	} `yaml:"rules"`
}

func DefaultSettings() *Settings {
	s := &Settings{}
	s.Log.Level = "WARN"
	s.Log.Dir = "/var/log/audisp-filter"
	s.Log.Filename = "audisp-filter.log"
	s.Log.MaxAgeHours = 24
	s.Log.RotateHours = 1
	s.API.Host = "127.0.0.1"
	s.API.Port = "8090"
	s.Source.BufferSize = 128
	s.Rules.MaxLineLen = 1024
	return s
}

func (s *Settings) Validate() error {
	if s.Source.BufferSize <= 0 {
		return fmt.Errorf("source buffer size must be positive")
	}
	if s.Rules.MaxLineLen <= 0 {
		return fmt.Errorf("rule max line length must be positive")
	}
	if s.API.Enabled && s.API.Port == "" {
		return fmt.Errorf("api port is required when the api is enabled")
	}
	return nil
}

// SettingsPath resolves the settings file location from the environment.
func SettingsPath() string {
	if p := os.Getenv(SettingsEnv); p != "" {
		return p
	}
	return DefaultSettingsPath
}

// LoadSettings reads the settings file at path. A missing file yields the
// defaults; a present but malformed file is an error.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	return s, nil
}
