package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all lowforge configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Data directory (logs, screenshots, checkpoints, audit trail)
	DataDir string `yaml:"data_dir"`

	// Completion LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Vision model configuration
	Vision VisionConfig `yaml:"vision"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Browser automation settings
	Automation AutomationConfig `yaml:"automation"`

	// Target low-code platform
	Platform PlatformConfig `yaml:"platform"`

	// Persistence
	Store StoreConfig `yaml:"store"`

	// Workflow thresholds and budgets
	Workflow WorkflowConfig `yaml:"workflow"`

	// Request directory watcher
	Watch WatchConfig `yaml:"watch"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the completion client.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai, anthropic
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// VisionConfig configures the screenshot analysis client.
type VisionConfig struct {
	Enabled     bool    `yaml:"enabled"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// EmbeddingConfig configures the embedding engine used for
// knowledge-base vector search (optional).
type EmbeddingConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Provider       string `yaml:"provider"` // genai or ollama
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
}

// AutomationConfig configures the browser driver.
type AutomationConfig struct {
	Headless       bool   `yaml:"headless"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
	SlowMo         string `yaml:"slow_mo"`
	Timeout        string `yaml:"timeout"`
	ScreenshotDir  string `yaml:"screenshot_dir"`
}

// PlatformConfig identifies the low-code platform instance to drive.
type PlatformConfig struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	Driver       string `yaml:"driver"` // sqlite3 (cgo) or sqlite (pure Go)
	DatabasePath string `yaml:"database_path"`
}

// WorkflowConfig carries the orchestration thresholds. Defaults match
// the documented workflow contract; override with care.
type WorkflowConfig struct {
	MaxIterations       int     `yaml:"max_iterations"`
	AutoAcceptScore     float64 `yaml:"auto_accept_score"`
	ReviewScore         float64 `yaml:"review_score"`
	DeveloperMaxErrors  int     `yaml:"developer_max_errors"`
	ValidatorMaxErrors  int     `yaml:"validator_max_errors"`
	AcceptSuccessRate   float64 `yaml:"accept_success_rate"`
	DevConfidenceFloor  float64 `yaml:"dev_confidence_floor"`
	ValConfidenceFloor  float64 `yaml:"val_confidence_floor"`
	ValidityThreshold   float64 `yaml:"validity_threshold"`
	HumanInLoop         bool    `yaml:"human_in_loop"`
	ParallelValidations int     `yaml:"parallel_validations"`
}

// WatchConfig configures the request-directory watcher.
type WatchConfig struct {
	Dir      string `yaml:"dir"`
	Debounce string `yaml:"debounce"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Debug bool   `yaml:"debug"` // enable category file logs
	Audit bool   `yaml:"audit"` // enable JSONL audit trail
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "lowforge",
		Version: "0.3.0",
		DataDir: ".lowforge",

		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			BaseURL:     "https://api.openai.com/v1",
			Timeout:     "120s",
			MaxTokens:   4096,
			Temperature: 0.2,
		},

		Vision: VisionConfig{
			Enabled:     true,
			Model:       "gpt-4-vision-preview",
			BaseURL:     "https://api.openai.com/v1",
			Timeout:     "120s",
			MaxTokens:   4096,
			Temperature: 0.1,
		},

		Embedding: EmbeddingConfig{
			Enabled:        false,
			Provider:       "genai",
			Model:          "gemini-embedding-001",
			Dimensions:     768,
			OllamaEndpoint: "http://localhost:11434",
		},

		Automation: AutomationConfig{
			Headless:       true,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			SlowMo:         "100ms",
			Timeout:        "30s",
			ScreenshotDir:  ".lowforge/screenshots",
		},

		Platform: PlatformConfig{
			BaseURL: "http://localhost:3000",
		},

		Store: StoreConfig{
			Driver:       "sqlite3",
			DatabasePath: ".lowforge/lowforge.db",
		},

		Workflow: WorkflowConfig{
			MaxIterations:       3,
			AutoAcceptScore:     0.90,
			ReviewScore:         0.70,
			DeveloperMaxErrors:  5,
			ValidatorMaxErrors:  3,
			AcceptSuccessRate:   0.8,
			DevConfidenceFloor:  0.7,
			ValConfidenceFloor:  0.6,
			ValidityThreshold:   0.70,
			HumanInLoop:         false,
			ParallelValidations: 2,
		},

		Watch: WatchConfig{
			Dir:      "requests",
			Debounce: "500ms",
		},

		Logging: LoggingConfig{
			Level: "info",
			Debug: false,
			Audit: true,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Completion API key (provider-specific keys win over the generic one)
	if key := os.Getenv("LOWFORGE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "anthropic"
	}

	// Vision falls back to the completion key when unset
	if key := os.Getenv("LOWFORGE_VISION_API_KEY"); key != "" {
		c.Vision.APIKey = key
	}
	if c.Vision.APIKey == "" {
		c.Vision.APIKey = c.LLM.APIKey
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.APIKey = key
	}

	// Platform credentials
	if url := os.Getenv("LOWFORGE_PLATFORM_URL"); url != "" {
		c.Platform.BaseURL = url
	}
	if user := os.Getenv("LOWFORGE_PLATFORM_USERNAME"); user != "" {
		c.Platform.Username = user
	}
	if pass := os.Getenv("LOWFORGE_PLATFORM_PASSWORD"); pass != "" {
		c.Platform.Password = pass
	}

	// Database path
	if path := os.Getenv("LOWFORGE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
}

// GetLLMTimeout returns the completion timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetVisionTimeout returns the vision timeout as a duration.
func (c *Config) GetVisionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Vision.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetAutomationTimeout returns the browser operation timeout.
func (c *Config) GetAutomationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Automation.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetSlowMo returns the delay inserted between browser actions.
func (c *Config) GetSlowMo() time.Duration {
	d, err := time.ParseDuration(c.Automation.SlowMo)
	if err != nil {
		return 100 * time.Millisecond
	}
	return d
}

// GetWatchDebounce returns the watcher debounce window.
func (c *Config) GetWatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// ValidProviders lists all supported completion providers.
var ValidProviders = []string{"openai", "anthropic"}

// Validate checks the configuration for obvious misconfiguration.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("completion API key not configured (set OPENAI_API_KEY, ANTHROPIC_API_KEY, or LOWFORGE_API_KEY)")
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid completion provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform base URL not configured")
	}

	w := c.Workflow
	if w.MaxIterations < 1 {
		return fmt.Errorf("workflow.max_iterations must be at least 1, got %d", w.MaxIterations)
	}
	for name, v := range map[string]float64{
		"auto_accept_score":    w.AutoAcceptScore,
		"review_score":         w.ReviewScore,
		"accept_success_rate":  w.AcceptSuccessRate,
		"dev_confidence_floor": w.DevConfidenceFloor,
		"val_confidence_floor": w.ValConfidenceFloor,
		"validity_threshold":   w.ValidityThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("workflow.%s must be in [0,1], got %v", name, v)
		}
	}
	if w.AutoAcceptScore < w.ReviewScore {
		return fmt.Errorf("workflow.auto_accept_score (%v) must not be below workflow.review_score (%v)", w.AutoAcceptScore, w.ReviewScore)
	}

	return nil
}

// DefaultConfigPath returns the default path to lowforge.yaml.
func DefaultConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "lowforge.yaml"
	}
	return filepath.Join(cwd, "lowforge.yaml")
}
