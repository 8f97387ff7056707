// Package config loads filerecall's layered configuration: hardcoded
// defaults, an optional user/global config file, an optional
// project-local config.yaml, and finally environment variable overrides.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete filerecall configuration, consumed by the CLI
// and HTTP adapters (never by the core directly — see SPEC_FULL.md §6).
type Config struct {
	Version int `yaml:"version" json:"version"`

	// DataDir is where the SQLite store and the ANN index file live.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	Scan       ScanConfig       `yaml:"scan" json:"scan"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Ranking    RankingConfig    `yaml:"ranking" json:"ranking"`
	Activity   ActivityConfig   `yaml:"activity" json:"activity"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// ScanConfig configures the Scanner (§4.2).
type ScanConfig struct {
	// Roots are the directories scanned when none is given explicitly.
	Roots []string `yaml:"roots" json:"roots"`
	// Extensions is the allow-list of file extensions (including the dot,
	// e.g. ".go", ".md"). Empty means "allow everything admissible".
	Extensions []string `yaml:"extensions" json:"extensions"`
	// Exclude holds glob-style ignore rules, matched the way the scanner
	// matches directory and file patterns.
	Exclude []string `yaml:"exclude" json:"exclude"`
	// MaxFileBytes is the size ceiling beyond which a file is skipped.
	MaxFileBytes int64 `yaml:"max_file_bytes" json:"max_file_bytes"`
	// SnippetBytes is the prefix of decoded text stored and embedded (§3).
	SnippetBytes int `yaml:"snippet_bytes" json:"snippet_bytes"`
	// EmbedBatchSize batches Embedder.EmbedBatch calls during a scan.
	EmbedBatchSize int `yaml:"embed_batch_size" json:"embed_batch_size"`
}

// EmbeddingsConfig configures the injected Embedder (§6 collaborator
// contracts). Model choice is a configuration concern, never the core's.
type EmbeddingsConfig struct {
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
}

// RankingConfig holds the ranking weights, recency decay settings and
// recommend limit bounds (§4.5).
type RankingConfig struct {
	// SemanticWeight, RecencyWeight, CooccurrenceWeight are α, β, γ.
	// They need not sum to 1 and are not re-normalized (§4.5 step 4).
	SemanticWeight     float64 `yaml:"semantic_weight" json:"semantic_weight"`
	RecencyWeight      float64 `yaml:"recency_weight" json:"recency_weight"`
	CooccurrenceWeight float64 `yaml:"cooccurrence_weight" json:"cooccurrence_weight"`

	// ModifiedHalfLifeDays and AccessedHalfLifeDays are the recency decay
	// settings (defaults 30d/15d, see s_rec in §4.5). They are loaded,
	// merged and validated here, but the core does not pass them to the
	// Ranker, which always decays with fixed 30-day and 15-day constants.
	ModifiedHalfLifeDays float64 `yaml:"modified_half_life_days" json:"modified_half_life_days"`
	AccessedHalfLifeDays float64 `yaml:"accessed_half_life_days" json:"accessed_half_life_days"`

	// DefaultLimit and MaxLimit bound k (default 5, clamp [1,100], §4.5).
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
	MaxLimit     int `yaml:"max_limit" json:"max_limit"`
}

// ActivityConfig configures the Activity component's co-occurrence window
// (§4.4).
type ActivityConfig struct {
	// WindowSeconds is the lookback window (default 300s = 5 minutes).
	WindowSeconds int `yaml:"window_seconds" json:"window_seconds"`
}

// StoreConfig configures the embedded relational store (§4.1, §5).
type StoreConfig struct {
	// MaxOpenConns bounds the connection pool (P, default 4).
	MaxOpenConns  int `yaml:"max_open_conns" json:"max_open_conns"`
	BusyTimeoutMS int `yaml:"busy_timeout_ms" json:"busy_timeout_ms"`
	CacheSizeKB   int `yaml:"cache_size_kb" json:"cache_size_kb"`
}

// ServerConfig configures the thin HTTP adapter (out of core scope, §1/§6).
type ServerConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// defaultExcludePatterns are always excluded from scans: VCS metadata
// and build-artifact directories that are never worth indexing.
var defaultExcludePatterns = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/.filerecall/**",
}

// NewConfig returns a Config populated with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Scan: ScanConfig{
			Roots:          []string{"."},
			Extensions:     nil, // empty: allow every non-binary file under the ceiling
			Exclude:        defaultExcludePatterns,
			MaxFileBytes:   10 * 1024 * 1024,
			SnippetBytes:   8192,
			EmbedBatchSize: 32,
		},
		Embeddings: EmbeddingsConfig{
			Model:      "static-hash-384",
			Dimensions: 384,
			CacheSize:  1000,
		},
		Ranking: RankingConfig{
			SemanticWeight:       0.6,
			RecencyWeight:        0.2,
			CooccurrenceWeight:   0.15,
			ModifiedHalfLifeDays: 30,
			AccessedHalfLifeDays: 15,
			DefaultLimit:         5,
			MaxLimit:             100,
		},
		Activity: ActivityConfig{
			WindowSeconds: 300,
		},
		Store: StoreConfig{
			MaxOpenConns:  4,
			BusyTimeoutMS: 5000,
			CacheSizeKB:   65536,
		},
		Server: ServerConfig{
			Addr:     ":8765",
			LogLevel: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".filerecall")
	}
	return filepath.Join(home, ".filerecall")
}

// GetUserConfigPath returns the path to the user/global configuration
// file, following the XDG Base Directory specification.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "filerecall", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "filerecall", "config.yaml")
	}
	return filepath.Join(home, ".config", "filerecall", "config.yaml")
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load builds the final Config by applying, in order of increasing
// precedence: hardcoded defaults, the user/global config file, the
// project-local config.yaml under dir, then FILERECALL_* environment
// variables. The result is validated before being returned.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads config.yaml (or .yml) from dir, if present.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{"config.yaml", "config.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero fields from other into c, layering
// user/project overrides onto defaults (only explicitly-set fields
// should win).
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	if len(other.Scan.Roots) > 0 {
		c.Scan.Roots = other.Scan.Roots
	}
	if len(other.Scan.Extensions) > 0 {
		c.Scan.Extensions = other.Scan.Extensions
	}
	if len(other.Scan.Exclude) > 0 {
		c.Scan.Exclude = append(c.Scan.Exclude, other.Scan.Exclude...)
	}
	if other.Scan.MaxFileBytes != 0 {
		c.Scan.MaxFileBytes = other.Scan.MaxFileBytes
	}
	if other.Scan.SnippetBytes != 0 {
		c.Scan.SnippetBytes = other.Scan.SnippetBytes
	}
	if other.Scan.EmbedBatchSize != 0 {
		c.Scan.EmbedBatchSize = other.Scan.EmbedBatchSize
	}

	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.Ranking.SemanticWeight != 0 {
		c.Ranking.SemanticWeight = other.Ranking.SemanticWeight
	}
	if other.Ranking.RecencyWeight != 0 {
		c.Ranking.RecencyWeight = other.Ranking.RecencyWeight
	}
	if other.Ranking.CooccurrenceWeight != 0 {
		c.Ranking.CooccurrenceWeight = other.Ranking.CooccurrenceWeight
	}
	if other.Ranking.ModifiedHalfLifeDays != 0 {
		c.Ranking.ModifiedHalfLifeDays = other.Ranking.ModifiedHalfLifeDays
	}
	if other.Ranking.AccessedHalfLifeDays != 0 {
		c.Ranking.AccessedHalfLifeDays = other.Ranking.AccessedHalfLifeDays
	}
	if other.Ranking.DefaultLimit != 0 {
		c.Ranking.DefaultLimit = other.Ranking.DefaultLimit
	}
	if other.Ranking.MaxLimit != 0 {
		c.Ranking.MaxLimit = other.Ranking.MaxLimit
	}

	if other.Activity.WindowSeconds != 0 {
		c.Activity.WindowSeconds = other.Activity.WindowSeconds
	}

	if other.Store.MaxOpenConns != 0 {
		c.Store.MaxOpenConns = other.Store.MaxOpenConns
	}
	if other.Store.BusyTimeoutMS != 0 {
		c.Store.BusyTimeoutMS = other.Store.BusyTimeoutMS
	}
	if other.Store.CacheSizeKB != 0 {
		c.Store.CacheSizeKB = other.Store.CacheSizeKB
	}

	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies FILERECALL_* environment variable overrides,
// the highest-precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FILERECALL_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("FILERECALL_SEMANTIC_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil {
			c.Ranking.SemanticWeight = w
		}
	}
	if v := os.Getenv("FILERECALL_RECENCY_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil {
			c.Ranking.RecencyWeight = w
		}
	}
	if v := os.Getenv("FILERECALL_COOCCURRENCE_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil {
			c.Ranking.CooccurrenceWeight = w
		}
	}
	if v := os.Getenv("FILERECALL_ACTIVITY_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Activity.WindowSeconds = n
		}
	}
	if v := os.Getenv("FILERECALL_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("FILERECALL_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	if c.Scan.SnippetBytes <= 0 {
		return fmt.Errorf("scan.snippet_bytes must be positive, got %d", c.Scan.SnippetBytes)
	}
	if c.Scan.MaxFileBytes <= 0 {
		return fmt.Errorf("scan.max_file_bytes must be positive, got %d", c.Scan.MaxFileBytes)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Ranking.SemanticWeight < 0 || c.Ranking.RecencyWeight < 0 || c.Ranking.CooccurrenceWeight < 0 {
		return fmt.Errorf("ranking weights must be non-negative")
	}
	if c.Ranking.ModifiedHalfLifeDays <= 0 || c.Ranking.AccessedHalfLifeDays <= 0 {
		return fmt.Errorf("ranking half-lives must be positive")
	}
	if c.Ranking.DefaultLimit < 1 || c.Ranking.DefaultLimit > c.Ranking.MaxLimit {
		return fmt.Errorf("ranking.default_limit must be within [1, max_limit]")
	}
	if c.Activity.WindowSeconds <= 0 {
		return fmt.Errorf("activity.window_seconds must be positive, got %d", c.Activity.WindowSeconds)
	}
	if c.Store.MaxOpenConns <= 0 {
		return fmt.Errorf("store.max_open_conns must be positive, got %d", c.Store.MaxOpenConns)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be one of debug/info/warn/error, got %s", c.Server.LogLevel)
	}
	_ = math.Abs // weights are intentionally not re-normalized, see §4.5
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads the user configuration file, or returns nil, nil
// if it does not exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// NumCPU is exposed so callers can size worker pools without importing
// runtime directly.
func NumCPU() int {
	return runtime.NumCPU()
}
