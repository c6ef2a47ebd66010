// Package config holds all agentic configuration: pools, cache, capture,
// vision, discovery and logging knobs. Config is loaded from agentic.yaml
// or .agentic/config.json under the workspace root, then environment
// overrides are applied on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all agentic configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`

	// Brand binding (discovery seeds; env wins over these)
	Brand BrandConfig `yaml:"brand" json:"brand"`

	// Transform engine behaviour
	Transform TransformConfig `yaml:"transform" json:"transform"`

	// Signature cache
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Screenshot capture
	Capture CaptureConfig `yaml:"capture" json:"capture"`

	// Vision critic
	Vision VisionConfig `yaml:"vision" json:"vision"`

	// Smart router
	Router RouterConfig `yaml:"router" json:"router"`

	// Pattern learning
	Patterns PatternsConfig `yaml:"patterns" json:"patterns"`

	// Logging
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// BrandConfig seeds discovery. All fields may be overridden by env flags.
type BrandConfig struct {
	BrandPackID  string            `yaml:"brand_pack_id" json:"brandPackId"`
	BrandVersion string            `yaml:"brand_version" json:"brandVersion"`
	ProjectID    string            `yaml:"project_id" json:"projectId"`
	Overrides    map[string]string `yaml:"overrides" json:"overrides"`
	Disable      bool              `yaml:"disable" json:"disable"`
	Strict       bool              `yaml:"strict" json:"strict"`
}

// TransformConfig configures the rule engine.
type TransformConfig struct {
	AutoApply           bool `yaml:"auto_apply" json:"autoApply"`
	AutoApplyMaxChanges int  `yaml:"auto_apply_max_changes" json:"autoApplyMaxChanges"`
	WorkerCount         int  `yaml:"worker_count" json:"workerCount"`
}

// CacheConfig configures the signature cache.
type CacheConfig struct {
	DatabasePath   string `yaml:"database_path" json:"databasePath"`
	TTLDays        int    `yaml:"ttl_days" json:"ttlDays"`
	MemoryEntries  int    `yaml:"memory_entries" json:"memoryEntries"`
	DisablePrimary bool   `yaml:"disable_primary" json:"disablePrimary"`
}

// CaptureConfig configures the headless renderer pool.
type CaptureConfig struct {
	PoolSize       int    `yaml:"pool_size" json:"poolSize"`
	QueueSize      int    `yaml:"queue_size" json:"queueSize"`
	TimeoutMs      int    `yaml:"timeout_ms" json:"timeoutMs"`
	ScreenshotDir  string `yaml:"screenshot_dir" json:"screenshotDir"`
	MaxAgeMinutes  int    `yaml:"max_age_minutes" json:"maxAgeMinutes"`
	MaxFiles       int    `yaml:"max_files" json:"maxFiles"`
	JanitorSeconds int    `yaml:"janitor_seconds" json:"janitorSeconds"`
	ChromeBin      string `yaml:"chrome_bin" json:"chromeBin"`
}

// VisionConfig configures the vision critic.
type VisionConfig struct {
	Provider      string  `yaml:"provider" json:"provider"` // gemini, openai
	APIKey        string  `yaml:"api_key" json:"apiKey"`
	Model         string  `yaml:"model" json:"model"`
	BaseURL       string  `yaml:"base_url" json:"baseURL"`
	Temperature   float64 `yaml:"temperature" json:"temperature"`
	TopP          float64 `yaml:"top_p" json:"topP"`
	RetryAttempts int     `yaml:"retry_attempts" json:"retryAttempts"`
	PoolSize      int     `yaml:"pool_size" json:"poolSize"`
	QueueSize     int     `yaml:"queue_size" json:"queueSize"`
	TimeoutMs     int     `yaml:"timeout_ms" json:"timeoutMs"`
}

// RouterConfig configures fix planning.
type RouterConfig struct {
	MaxFixesPerRun  int `yaml:"max_fixes_per_run" json:"maxFixesPerRun"`
	AcceptThreshold int `yaml:"accept_threshold" json:"acceptThreshold"`
}

// PatternsConfig configures the learned pattern store.
type PatternsConfig struct {
	DatabasePath     string  `yaml:"database_path" json:"databasePath"`
	HalfLifeDays     float64 `yaml:"half_life_days" json:"halfLifeDays"`
	MinSampleCount   int     `yaml:"min_sample_count" json:"minSampleCount"`
	SuggestionTopK   int     `yaml:"suggestion_top_k" json:"suggestionTopK"`
	SuppressBelow    float64 `yaml:"suppress_below" json:"suppressBelow"`
	AutoApplyMinConf float64 `yaml:"auto_apply_min_conf" json:"autoApplyMinConf"`
}

// LoggingConfig mirrors the logging package's file settings.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode"`
	Categories map[string]bool `yaml:"categories" json:"categories"`
	Level      string          `yaml:"level" json:"level"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Name:    "agentic",
		Version: "1.0.0",
		Transform: TransformConfig{
			AutoApply:           true,
			AutoApplyMaxChanges: 5,
			WorkerCount:         runtime.GOMAXPROCS(0),
		},
		Cache: CacheConfig{
			DatabasePath:  ".agentic/cache.db",
			TTLDays:       30,
			MemoryEntries: 512,
		},
		Capture: CaptureConfig{
			PoolSize:       4,
			QueueSize:      32,
			TimeoutMs:      15000,
			ScreenshotDir:  ".agentic/screenshots",
			MaxAgeMinutes:  60,
			MaxFiles:       200,
			JanitorSeconds: 300,
		},
		Vision: VisionConfig{
			Provider:      "gemini",
			Model:         "gemini-3-flash-preview",
			Temperature:   0.2,
			TopP:          0.9,
			RetryAttempts: 3,
			PoolSize:      8,
			QueueSize:     32,
			TimeoutMs:     60000,
		},
		Router: RouterConfig{
			MaxFixesPerRun:  10,
			AcceptThreshold: 10,
		},
		Patterns: PatternsConfig{
			DatabasePath:     ".agentic/patterns.db",
			HalfLifeDays:     30,
			MinSampleCount:   10,
			SuggestionTopK:   5,
			SuppressBelow:    0.8,
			AutoApplyMinConf: 0.9,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from the workspace root. agentic.yaml wins over
// .agentic/config.json; a missing file is not an error.
func Load(workspace string) (*Config, error) {
	cfg := Default()

	yamlPath := filepath.Join(workspace, "agentic.yaml")
	if data, err := os.ReadFile(yamlPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", yamlPath, err)
		}
	} else {
		jsonPath := filepath.Join(workspace, ".agentic", "config.json")
		if data, err := os.ReadFile(jsonPath); err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", jsonPath, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	return cfg, nil
}

// applyEnvOverrides layers the documented env flags on top of file config.
// Env always wins over files.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BRAND_PACK_ID"); v != "" {
		c.Brand.BrandPackID = v
	}
	if v := os.Getenv("BRAND_VERSION"); v != "" {
		c.Brand.BrandVersion = v
	}
	if v := os.Getenv("PROJECT_ID"); v != "" {
		c.Brand.ProjectID = v
	}
	if v := os.Getenv("DISABLE"); v == "1" || v == "true" {
		c.Brand.Disable = true
	}
	if v := os.Getenv("STRICT"); v == "1" || v == "true" {
		c.Brand.Strict = true
	}
	if v := os.Getenv("AUTO_APPLY"); v != "" {
		c.Transform.AutoApply = v == "1" || v == "true" || v == "safe"
	}
	if v := os.Getenv("AUTO_APPLY_MAX_CHANGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Transform.AutoApplyMaxChanges = n
		}
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.Vision.APIKey == "" {
		c.Vision.APIKey = v
		if c.Vision.Provider == "" {
			c.Vision.Provider = "gemini"
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Vision.APIKey == "" {
		c.Vision.APIKey = v
		c.Vision.Provider = "openai"
	}
}

// normalize clamps zero values back to defaults.
func (c *Config) normalize() {
	def := Default()
	if c.Transform.AutoApplyMaxChanges <= 0 {
		c.Transform.AutoApplyMaxChanges = def.Transform.AutoApplyMaxChanges
	}
	if c.Transform.WorkerCount <= 0 {
		c.Transform.WorkerCount = def.Transform.WorkerCount
	}
	if c.Cache.TTLDays <= 0 {
		c.Cache.TTLDays = def.Cache.TTLDays
	}
	if c.Cache.MemoryEntries <= 0 {
		c.Cache.MemoryEntries = def.Cache.MemoryEntries
	}
	if c.Capture.PoolSize <= 0 {
		c.Capture.PoolSize = def.Capture.PoolSize
	}
	if c.Capture.QueueSize <= 0 {
		c.Capture.QueueSize = def.Capture.QueueSize
	}
	if c.Capture.TimeoutMs <= 0 {
		c.Capture.TimeoutMs = def.Capture.TimeoutMs
	}
	if c.Capture.MaxFiles <= 0 {
		c.Capture.MaxFiles = def.Capture.MaxFiles
	}
	if c.Capture.MaxAgeMinutes <= 0 {
		c.Capture.MaxAgeMinutes = def.Capture.MaxAgeMinutes
	}
	if c.Vision.RetryAttempts <= 0 {
		c.Vision.RetryAttempts = def.Vision.RetryAttempts
	}
	if c.Vision.PoolSize <= 0 {
		c.Vision.PoolSize = def.Vision.PoolSize
	}
	if c.Vision.QueueSize <= 0 {
		c.Vision.QueueSize = def.Vision.QueueSize
	}
	if c.Vision.Temperature <= 0 || c.Vision.Temperature > 0.3 {
		// The critic prompt depends on low-temperature output.
		c.Vision.Temperature = def.Vision.Temperature
	}
	if c.Vision.TopP <= 0 {
		c.Vision.TopP = def.Vision.TopP
	}
	if c.Router.MaxFixesPerRun <= 0 {
		c.Router.MaxFixesPerRun = def.Router.MaxFixesPerRun
	}
	if c.Router.AcceptThreshold <= 0 {
		c.Router.AcceptThreshold = def.Router.AcceptThreshold
	}
	if c.Patterns.HalfLifeDays <= 0 {
		c.Patterns.HalfLifeDays = def.Patterns.HalfLifeDays
	}
	if c.Patterns.MinSampleCount <= 0 {
		c.Patterns.MinSampleCount = def.Patterns.MinSampleCount
	}
	if c.Patterns.SuggestionTopK <= 0 {
		c.Patterns.SuggestionTopK = def.Patterns.SuggestionTopK
	}
	if c.Patterns.SuppressBelow <= 0 {
		c.Patterns.SuppressBelow = def.Patterns.SuppressBelow
	}
	if c.Patterns.AutoApplyMinConf <= 0 {
		c.Patterns.AutoApplyMinConf = def.Patterns.AutoApplyMinConf
	}
}

// Timeout returns the per-capture deadline as a duration.
func (c CaptureConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Timeout returns the per-critique deadline as a duration.
func (v VisionConfig) Timeout() time.Duration {
	if v.TimeoutMs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(v.TimeoutMs) * time.Millisecond
}
