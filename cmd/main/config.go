package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/CTAG07/Lyrebird/pkg/markov"
	"github.com/CTAG07/Lyrebird/pkg/templating"
	"github.com/natefinch/atomic"
)

// ServerConfig holds the configuration for the HTTP servers.
type ServerConfig struct {
	ServerAddr     string   `json:"server_addr"`
	ApiAddr        string   `json:"api_addr"`
	LogLevel       string   `json:"log_level"`
	TrustedProxies []string `json:"trusted_proxies"`
	DataDir        string   `json:"data_dir"`
	DatabasePath   string   `json:"database_path"`
	WatchFiles     bool     `json:"watch_files"`
}

// EngineConfig holds the generation defaults and limits.
type EngineConfig struct {
	DefaultOrder  int           `json:"default_order"`
	DefaultLength int           `json:"default_length"`
	CacheSize     int           `json:"cache_size"`
	Limits        markov.Limits `json:"limits"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server    *ServerConfig              `json:"server_config"`
	Engine    *EngineConfig              `json:"engine_config"`
	Templates *templating.TemplateConfig `json:"template_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ServerAddr:     ":5000",
		ApiAddr:        ":5001",
		LogLevel:       "info",
		TrustedProxies: []string{},
		DataDir:        "./data",
		DatabasePath:   "./data/lyrebird.db",
		WatchFiles:     true,
	}
}

// DefaultEngineConfig matches the order and length the lyrics page has always used.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		DefaultOrder:  5,
		DefaultLength: 4000,
		CacheSize:     64,
		Limits:        markov.DefaultLimits(),
	}
}

// DefaultConfig returns a fully populated configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Engine:    DefaultEngineConfig(),
		Templates: templating.DefaultConfig(),
	}
}

// LoadConfig reads the configuration from a JSON file at the given path.
// If the file doesn't exist, it creates one with default values. Environment
// overrides are applied last and are never written back to disk.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		var data []byte
		data, err = json.MarshalIndent(config, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", err)
		}
		if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
			// The server can still run with defaults.
			fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
		}
	} else if err = json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Sections missing from the file keep their defaults.
	if config.Server == nil {
		config.Server = DefaultServerConfig()
	}
	if config.Engine == nil {
		config.Engine = DefaultEngineConfig()
	}
	if config.Templates == nil {
		config.Templates = templating.DefaultConfig()
	}

	applyEnvOverrides(config)
	return config, nil
}

// loadServerFile returns the server section exactly as stored in the file at
// path, without environment overrides. A missing file yields the defaults.
func loadServerFile(path string) *ServerConfig {
	onDisk := struct {
		Server *ServerConfig `json:"server_config"`
	}{Server: DefaultServerConfig()}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &onDisk)
	}
	if onDisk.Server == nil {
		return DefaultServerConfig()
	}
	return onDisk.Server
}

// withoutEnvOverrides returns a copy of server in which every field still
// holding its environment override is restored to the value in onDisk.
func withoutEnvOverrides(server, onDisk *ServerConfig) *ServerConfig {
	out := *server
	if v := os.Getenv("LYREBIRD_LOG_LEVEL"); v != "" && out.LogLevel == v {
		out.LogLevel = onDisk.LogLevel
	}
	if v := os.Getenv("LYREBIRD_SERVER_ADDR"); v != "" && out.ServerAddr == v {
		out.ServerAddr = onDisk.ServerAddr
	}
	if v := os.Getenv("LYREBIRD_API_ADDR"); v != "" && out.ApiAddr == v {
		out.ApiAddr = onDisk.ApiAddr
	}
	return &out
}

// applyEnvOverrides lets deployments adjust the listen addresses and log level
// without editing config.json. Values usually come from a .env file.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("LYREBIRD_LOG_LEVEL"); v != "" {
		config.Server.LogLevel = v
	}
	if v := os.Getenv("LYREBIRD_SERVER_ADDR"); v != "" {
		config.Server.ServerAddr = v
	}
	if v := os.Getenv("LYREBIRD_API_ADDR"); v != "" {
		config.Server.ApiAddr = v
	}
}

// parseLogLevel maps the configured level name to a slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ConfigManager handles thread-safe access to configuration and derived state
// (trusted proxies), and pushes changes to the generator and template manager.
type ConfigManager struct {
	config       *Config
	mu           sync.RWMutex
	trustedCIDRs []*net.IPNet
	trustedIPs   []net.IP
	configPath   string
	logger       *slog.Logger
	tm           *templating.TemplateManager
	gen          *markov.Generator
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err = validateConfig(*cfg); err != nil {
		return nil, err
	}

	cm := &ConfigManager{
		config:     cfg,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}
	cm.refreshCache()

	return cm, nil
}

// SetLogger sets the logger.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.logger = logger
}

// SetTemplateManager registers the template manager to receive config updates.
func (cm *ConfigManager) SetTemplateManager(tm *templating.TemplateManager) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.tm = tm
	if tm != nil {
		tm.SetConfig(cm.config.Templates)
	}
}

// SetGenerator registers the generator to receive limit updates.
func (cm *ConfigManager) SetGenerator(gen *markov.Generator) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.gen = gen
	if gen != nil {
		gen.SetLimits(cm.config.Engine.Limits)
	}
}

// Get returns a copy of the current configuration. The nested sections are
// shared pointers and must not be modified by callers.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return *cm.config
}

// Path returns the file the configuration is loaded from.
func (cm *ConfigManager) Path() string {
	return cm.configPath
}

// Update validates and applies a new configuration, then saves it to disk.
// If the file cannot be written the previous configuration is restored.
// Environment overrides are not written back.
func (cm *ConfigManager) Update(newConfig Config) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := validateConfig(newConfig); err != nil {
		return err
	}
	toWrite := newConfig
	toWrite.Server = withoutEnvOverrides(newConfig.Server, loadServerFile(cm.configPath))
	data, err := json.MarshalIndent(toWrite, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	previous := *cm.config
	if err = cm.apply(newConfig); err != nil {
		return err
	}
	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		if rbErr := cm.apply(previous); rbErr != nil {
			cm.logger.Error("Failed to restore previous configuration", "error", rbErr)
		}
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Reload re-reads the config file and applies it. It is called when the file
// changes on disk.
func (cm *ConfigManager) Reload() error {
	cfg, err := LoadConfig(cm.configPath)
	if err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if err = cm.apply(*cfg); err != nil {
		return err
	}
	cm.logger.Info("Configuration reloaded from disk", "path", cm.configPath)
	return nil
}

// validateConfig checks a configuration without applying it.
func validateConfig(newConfig Config) error {
	if newConfig.Server == nil || newConfig.Engine == nil || newConfig.Templates == nil {
		return fmt.Errorf("configuration rejected: server_config, engine_config and template_config are required")
	}
	engine := newConfig.Engine
	if engine.DefaultOrder <= 0 || engine.DefaultLength < 0 {
		return fmt.Errorf("configuration rejected: default_order must be positive and default_length must not be negative")
	}
	if limit := engine.Limits.MaxOutputLength; limit > 0 && engine.DefaultLength > limit {
		return fmt.Errorf("configuration rejected: default_length %d exceeds max_output_length %d", engine.DefaultLength, limit)
	}
	if engine.Limits.MaxCorpusLength < 0 || engine.Limits.MaxOutputLength < 0 {
		return fmt.Errorf("configuration rejected: limits must not be negative")
	}
	return nil
}

// apply installs newConfig. The caller must hold the write lock.
func (cm *ConfigManager) apply(newConfig Config) error {
	if err := validateConfig(newConfig); err != nil {
		return err
	}

	if cm.tm != nil {
		oldTmplConfig := cm.config.Templates
		cm.tm.SetConfig(newConfig.Templates)
		if err := cm.tm.Refresh(); err != nil {
			cm.tm.SetConfig(oldTmplConfig)
			_ = cm.tm.Refresh()
			return fmt.Errorf("template configuration rejected: %w", err)
		}
	}
	if cm.gen != nil {
		cm.gen.SetLimits(newConfig.Engine.Limits)
	}

	*cm.config = newConfig
	cm.refreshCache()
	return nil
}

// IsTrusted checks if an IP is in the trusted proxies list using the cache.
func (cm *ConfigManager) IsTrusted(ipAddr string) bool {
	parsedIP := net.ParseIP(ipAddr)
	if parsedIP == nil {
		return false
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, ipNet := range cm.trustedCIDRs {
		if ipNet.Contains(parsedIP) {
			return true
		}
	}
	for _, trustedIP := range cm.trustedIPs {
		if trustedIP.Equal(parsedIP) {
			return true
		}
	}
	return false
}

// refreshCache rebuilds the binary IP lists from the config strings.
func (cm *ConfigManager) refreshCache() {
	var cidrs []*net.IPNet
	var ips []net.IP

	for _, t := range cm.config.Server.TrustedProxies {
		if strings.Contains(t, "/") {
			_, ipNet, err := net.ParseCIDR(t)
			if err == nil {
				cidrs = append(cidrs, ipNet)
			} else {
				cm.logger.Warn("Failed to parse trusted proxy CIDR", "cidr", t, "error", err)
			}
		} else {
			ip := net.ParseIP(t)
			if ip != nil {
				ips = append(ips, ip)
			} else {
				cm.logger.Warn("Failed to parse trusted proxy IP", "ip", t)
			}
		}
	}
	cm.trustedCIDRs = cidrs
	cm.trustedIPs = ips
}
