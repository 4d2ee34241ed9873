package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Manager owns the configuration lifecycle: initial load, hot reload from
// the watched file, and change notification. The live config is injected
// into components; there is no global state.
type Manager struct {
	logger     *zap.Logger
	configPath string

	config   *Config
	configMu sync.RWMutex

	watcher *Watcher

	onChangeCallbacks []func(*Config)
}

// NewManager loads the configuration and returns a manager for it.
func NewManager(logger *zap.Logger, configPath string) (*Manager, error) {
	m := &Manager{
		logger:     logger.Named("config"),
		configPath: configPath,
	}
	if err := m.Reload(); err != nil {
		return nil, fmt.Errorf("initial config load failed: %w", err)
	}
	return m, nil
}

// Reload re-reads the configuration file and notifies subscribers.
func (m *Manager) Reload() error {
	cfg, err := Load(m.configPath)
	if err != nil {
		return err
	}

	m.configMu.Lock()
	m.config = cfg
	m.configMu.Unlock()

	m.notifyChange(cfg)
	m.logger.Info("Configuration loaded", zap.String("path", m.configPath))
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.configMu.RLock()
	defer m.configMu.RUnlock()
	cfgCopy := *m.config
	return &cfgCopy
}

// Save writes the current configuration to the file atomically.
func (m *Manager) Save() error {
	m.configMu.RLock()
	cfg := m.config
	m.configMu.RUnlock()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp := m.configPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := os.Rename(tmp, m.configPath); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// OnChange registers a callback run after every successful reload.
func (m *Manager) OnChange(callback func(*Config)) {
	m.configMu.Lock()
	defer m.configMu.Unlock()
	m.onChangeCallbacks = append(m.onChangeCallbacks, callback)
}

func (m *Manager) notifyChange(cfg *Config) {
	m.configMu.RLock()
	callbacks := m.onChangeCallbacks
	m.configMu.RUnlock()

	for _, cb := range callbacks {
		go cb(cfg)
	}
}

// StartWatcher begins watching the config file for hot reload.
func (m *Manager) StartWatcher() error {
	w, err := NewWatcher(m.logger, m.configPath)
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	m.watcher = w
	return w.Start(func() {
		if err := m.Reload(); err != nil {
			m.logger.Error("Failed to hot-reload configuration", zap.Error(err))
		}
	})
}

// StopWatcher stops the file watcher if one is running.
func (m *Manager) StopWatcher() {
	if m.watcher != nil {
		m.watcher.Stop()
	}
}
