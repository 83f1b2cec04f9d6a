// Package config provides configuration management for devark.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// Defaults.
const (
	DefaultWorkerPort             = 37790
	DefaultPollIntervalMs         = 5000
	DefaultProvider               = "gemini"
	DefaultModel                  = "gemini-2.5-flash"
	DefaultEnhanceIntensity       = "medium"
	DefaultCoachingMinIntervalMs  = 30000
	DefaultCoachingCooldownMs     = 300000
	DefaultCoachingMinConfidence  = 0.3
	DefaultCoachingMaxSuggestions = 3
	DefaultContextTimeoutMs       = 2000
	DefaultBackendURL             = "https://app.devark.ai/api"
	DefaultLogLevel               = "info"
)

// Provider names.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// Config holds devark settings. JSON keys match the environment variable names.
type Config struct {
	HookDir                string  `json:"DEVARK_HOOK_DIR"`
	Provider               string  `json:"DEVARK_PROVIDER"`
	Model                  string  `json:"DEVARK_MODEL"`
	APIKey                 string  `json:"DEVARK_API_KEY"`
	ProviderBaseURL        string  `json:"DEVARK_PROVIDER_BASE_URL"`
	EnhanceIntensity       string  `json:"DEVARK_ENHANCE_INTENSITY"`
	BackendURL             string  `json:"DEVARK_BACKEND_URL"`
	Token                  string  `json:"DEVARK_TOKEN"`
	CursorDB               string  `json:"DEVARK_CURSOR_DB"`
	LogLevel               string  `json:"DEVARK_LOG_LEVEL"`
	CoachingMinConfidence  float64 `json:"DEVARK_COACHING_MIN_CONFIDENCE"`
	WorkerPort             int     `json:"DEVARK_WORKER_PORT"`
	PollIntervalMs         int     `json:"DEVARK_POLL_INTERVAL_MS"`
	CoachingMinIntervalMs  int     `json:"DEVARK_COACHING_MIN_INTERVAL_MS"`
	CoachingCooldownMs     int     `json:"DEVARK_COACHING_COOLDOWN_MS"`
	CoachingMaxSuggestions int     `json:"DEVARK_COACHING_MAX_SUGGESTIONS"`
	ContextTimeoutMs       int     `json:"DEVARK_CONTEXT_TIMEOUT_MS"`
	AutoAnalyzePrompts     bool    `json:"DEVARK_AUTO_ANALYZE_PROMPTS"`
	AutoAnalyzeResponses   bool    `json:"DEVARK_AUTO_ANALYZE_RESPONSES"`
	CoachingEnabled        bool    `json:"DEVARK_COACHING_ENABLED"`
}

var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		WorkerPort:             DefaultWorkerPort,
		HookDir:                filepath.Join(os.TempDir(), "devark-hooks"),
		PollIntervalMs:         DefaultPollIntervalMs,
		Provider:               DefaultProvider,
		Model:                  DefaultModel,
		AutoAnalyzePrompts:     true,
		AutoAnalyzeResponses:   true,
		EnhanceIntensity:       DefaultEnhanceIntensity,
		CoachingEnabled:        true,
		CoachingMinIntervalMs:  DefaultCoachingMinIntervalMs,
		CoachingCooldownMs:     DefaultCoachingCooldownMs,
		CoachingMinConfidence:  DefaultCoachingMinConfidence,
		CoachingMaxSuggestions: DefaultCoachingMaxSuggestions,
		ContextTimeoutMs:       DefaultContextTimeoutMs,
		BackendURL:             DefaultBackendURL,
		CursorDB:               DefaultCursorDBPath(),
		LogLevel:               DefaultLogLevel,
	}
}

// DataDir returns the devark data directory.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".devark")
}

// DBPath returns the hook-captured session database path.
func DBPath() string {
	return filepath.Join(DataDir(), "devark.db")
}

// StatePath returns the durable global state path.
func StatePath() string {
	return filepath.Join(DataDir(), "state.bolt")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// AnalysisDir returns the on-disk prompt analysis directory.
func AnalysisDir() string {
	return filepath.Join(DataDir(), "analyses")
}

// CoachingDir returns the on-disk coaching directory.
func CoachingDir() string {
	return filepath.Join(DataDir(), "coaching")
}

// DefaultCursorDBPath returns the platform-specific location of Cursor's global state database.
func DefaultCursorDBPath() string {
	home, _ := os.UserHomeDir()
	const rel = "User/globalStorage/state.vscdb"
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Cursor", rel)
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Cursor", rel)
		}
		return filepath.Join(home, "AppData", "Roaming", "Cursor", rel)
	default:
		return filepath.Join(home, ".config", "Cursor", rel)
	}
}

// EnsureDataDir creates the data directory tree if missing.
func EnsureDataDir() error {
	for _, dir := range []string{DataDir(), AnalysisDir(), CoachingDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	cfg := Default()
	// Per-machine values are resolved at runtime; don't pin them in the file.
	cfg.HookDir = ""
	cfg.CursorDB = ""
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// EnsureAll creates the data directory and default settings.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Load reads settings.json over defaults, then applies environment overrides.
// A missing or invalid settings file yields defaults.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err == nil {
		fileCfg := *cfg
		if jsonErr := json.Unmarshal(data, &fileCfg); jsonErr == nil {
			cfg = &fileCfg
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	applyEnv(cfg)
	cfg.normalize()
	return cfg, nil
}

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	configMu.RLock()
	if globalConfig != nil {
		defer configMu.RUnlock()
		return globalConfig
	}
	configMu.RUnlock()

	configMu.Lock()
	defer configMu.Unlock()
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		globalConfig = cfg
	}
	return globalConfig
}

// Reset drops the cached configuration so the next Get reloads it.
func Reset() {
	configMu.Lock()
	globalConfig = nil
	configMu.Unlock()
}

// GetWorkerPort returns the worker port, preferring a valid DEVARK_WORKER_PORT.
func GetWorkerPort() int {
	if p, ok := envInt("DEVARK_WORKER_PORT"); ok && p > 0 && p < 65536 {
		return p
	}
	return Get().WorkerPort
}

// PollInterval returns the hook directory poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// CoachingMinInterval returns the minimum spacing between coaching generations.
func (c *Config) CoachingMinInterval() time.Duration {
	return time.Duration(c.CoachingMinIntervalMs) * time.Millisecond
}

// CoachingCooldown returns the pause applied after a dismissed suggestion.
func (c *Config) CoachingCooldown() time.Duration {
	return time.Duration(c.CoachingCooldownMs) * time.Millisecond
}

// ContextTimeout returns the context builder deadline.
func (c *Config) ContextTimeout() time.Duration {
	return time.Duration(c.ContextTimeoutMs) * time.Millisecond
}

func (c *Config) normalize() {
	if c.WorkerPort <= 0 || c.WorkerPort >= 65536 {
		c.WorkerPort = DefaultWorkerPort
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = DefaultPollIntervalMs
	}
	if c.HookDir == "" {
		c.HookDir = filepath.Join(os.TempDir(), "devark-hooks")
	}
	if c.CursorDB == "" {
		c.CursorDB = DefaultCursorDBPath()
	}
	switch c.EnhanceIntensity {
	case "light", "medium", "aggressive":
	default:
		c.EnhanceIntensity = DefaultEnhanceIntensity
	}
	switch c.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderNone:
	default:
		c.Provider = DefaultProvider
	}
	if c.CoachingMinConfidence < 0 || c.CoachingMinConfidence > 1 {
		c.CoachingMinConfidence = DefaultCoachingMinConfidence
	}
	if c.CoachingMaxSuggestions <= 0 || c.CoachingMaxSuggestions > 3 {
		c.CoachingMaxSuggestions = DefaultCoachingMaxSuggestions
	}
	if c.ContextTimeoutMs <= 0 {
		c.ContextTimeoutMs = DefaultContextTimeoutMs
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

func applyEnv(c *Config) {
	envString("DEVARK_HOOK_DIR", &c.HookDir)
	envString("DEVARK_PROVIDER", &c.Provider)
	envString("DEVARK_MODEL", &c.Model)
	envString("DEVARK_API_KEY", &c.APIKey)
	envString("DEVARK_PROVIDER_BASE_URL", &c.ProviderBaseURL)
	envString("DEVARK_ENHANCE_INTENSITY", &c.EnhanceIntensity)
	envString("DEVARK_BACKEND_URL", &c.BackendURL)
	envString("DEVARK_TOKEN", &c.Token)
	envString("DEVARK_CURSOR_DB", &c.CursorDB)
	envString("DEVARK_LOG_LEVEL", &c.LogLevel)

	if v, ok := envInt("DEVARK_WORKER_PORT"); ok {
		c.WorkerPort = v
	}
	if v, ok := envInt("DEVARK_POLL_INTERVAL_MS"); ok {
		c.PollIntervalMs = v
	}
	if v, ok := envInt("DEVARK_COACHING_MIN_INTERVAL_MS"); ok {
		c.CoachingMinIntervalMs = v
	}
	if v, ok := envInt("DEVARK_COACHING_COOLDOWN_MS"); ok {
		c.CoachingCooldownMs = v
	}
	if v, ok := envInt("DEVARK_COACHING_MAX_SUGGESTIONS"); ok {
		c.CoachingMaxSuggestions = v
	}
	if v, ok := envInt("DEVARK_CONTEXT_TIMEOUT_MS"); ok {
		c.ContextTimeoutMs = v
	}
	if v := os.Getenv("DEVARK_COACHING_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.CoachingMinConfidence = f
		}
	}
	envBool("DEVARK_AUTO_ANALYZE_PROMPTS", &c.AutoAnalyzePrompts)
	envBool("DEVARK_AUTO_ANALYZE_RESPONSES", &c.AutoAnalyzeResponses)
	envBool("DEVARK_COACHING_ENABLED", &c.CoachingEnabled)
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
