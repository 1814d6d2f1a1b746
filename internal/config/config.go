// Package config loads and persists the receiver configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/function-store/RpiSimpleNDI/internal/logger"
)

// Config is the receiver configuration.
type Config struct {
	// Source selection
	SourceName     string `json:"source_name" yaml:"source_name"`         // exact-name startup target, optional
	SourcePattern  string `json:"source_pattern" yaml:"source_pattern"`   // regex over logical names
	CaseSensitive  bool   `json:"case_sensitive" yaml:"case_sensitive"`
	PluralHandling bool   `json:"plural_handling" yaml:"plural_handling"` // projector also matches projectors

	// Timing (seconds)
	ScanTimeoutSec     int `json:"scan_timeout_sec" yaml:"scan_timeout_sec"`
	PollIntervalSec    int `json:"poll_interval_sec" yaml:"poll_interval_sec"`
	CheckIntervalSec   int `json:"check_interval_sec" yaml:"check_interval_sec"`
	LivenessTimeoutSec int `json:"liveness_timeout_sec" yaml:"liveness_timeout_sec"`
	ConnectBackoffSec  int `json:"connect_backoff_sec" yaml:"connect_backoff_sec"`

	// Control plane
	ServerPort    int    `json:"server_port" yaml:"server_port"`
	BridgeURL     string `json:"bridge_url" yaml:"bridge_url"` // optional upstream relay, e.g. ws://server:8081
	ComponentID   string `json:"component_id" yaml:"component_id"`
	ComponentName string `json:"component_name" yaml:"component_name"`

	Preview PreviewConfig `json:"preview" yaml:"preview"`

	NDI NDIConfig `json:"ndi" yaml:"ndi"`

	StateFile string `json:"state_file" yaml:"state_file"`
	LogLevel  string `json:"log_level" yaml:"log_level"`
}

// PreviewConfig configures the MJPEG preview stream.
type PreviewConfig struct {
	Enabled  bool `json:"enabled" yaml:"enabled"`
	MaxWidth int  `json:"max_width" yaml:"max_width"`
	Quality  int  `json:"quality" yaml:"quality"`
}

// NDIConfig passes SDK-level options through to the transport.
type NDIConfig struct {
	ShowLocalSources bool   `json:"show_local_sources" yaml:"show_local_sources"`
	Groups           string `json:"groups" yaml:"groups"`
	ExtraIPs         string `json:"extra_ips" yaml:"extra_ips"`
	ColorFormat      string `json:"color_format" yaml:"color_format"` // uyvy, bgra, rgba
}

// Duration helpers; the YAML stores plain seconds.

func (c *Config) ScanTimeout() time.Duration     { return time.Duration(c.ScanTimeoutSec) * time.Second }
func (c *Config) PollInterval() time.Duration    { return time.Duration(c.PollIntervalSec) * time.Second }
func (c *Config) CheckInterval() time.Duration   { return time.Duration(c.CheckIntervalSec) * time.Second }
func (c *Config) LivenessTimeout() time.Duration { return time.Duration(c.LivenessTimeoutSec) * time.Second }
func (c *Config) ConnectBackoff() time.Duration  { return time.Duration(c.ConnectBackoffSec) * time.Second }

// Manager handles configuration loading and saving.
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager loads the configuration, creating a default file when none
// exists. An explicit configFile overrides the default location.
func NewManager(configFile string) (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", "ndirecv")
	actualConfigPath := filepath.Join(configDir, "config.yaml")
	if configFile != "" {
		actualConfigPath = configFile
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{configPath: actualConfigPath}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("pattern", m.config.SourcePattern).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		SourcePattern:      `.*_led`,
		CaseSensitive:      false,
		PluralHandling:     false,
		ScanTimeoutSec:     2,
		PollIntervalSec:    15,
		CheckIntervalSec:   2,
		LivenessTimeoutSec: 5,
		ConnectBackoffSec:  5,
		ServerPort:         8080,
		ComponentName:      "NDI Receiver",
		Preview: PreviewConfig{
			Enabled:  false,
			MaxWidth: 960,
			Quality:  80,
		},
		NDI: NDIConfig{
			ShowLocalSources: true,
			ColorFormat:      "uyvy",
		},
		LogLevel: "info",
	}
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Save writes the current configuration back to disk.
func (m *Manager) Save() error {
	m.mu.RLock()
	data, err := yaml.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// GetConfigPath returns the path of the loaded config file.
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// SetPort overrides the control server port.
func (m *Manager) SetPort(port int) {
	m.mu.Lock()
	m.config.ServerPort = port
	m.mu.Unlock()
}

// SetLogLevel overrides the log level.
func (m *Manager) SetLogLevel(level string) {
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
}

// SetPattern overrides the source pattern.
func (m *Manager) SetPattern(pattern string) {
	m.mu.Lock()
	m.config.SourcePattern = pattern
	m.mu.Unlock()
}

// DefaultStateFile resolves the state file path, falling back to the
// config directory when unset.
func (m *Manager) DefaultStateFile() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config.StateFile != "" {
		return m.config.StateFile
	}
	return filepath.Join(filepath.Dir(m.configPath), "state.json")
}
