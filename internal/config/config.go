package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Storage backends for the key-value persistence layer.
const (
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// Duration is a time.Duration that reads and writes as a Go duration string ("45s").
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds application configuration.
type Config struct {
	// MaxTurns bounds every simulation.
	MaxTurns int `json:"max_turns"`

	// ShortTermLimit is the number of frames the dispatcher reads as short-term memory.
	ShortTermLimit int `json:"short_term_limit"`

	// SupervisorShortTermLimit is the number of frames a supervisor tick evaluates.
	SupervisorShortTermLimit int `json:"supervisor_short_term_limit"`

	// SupervisorInterval is the period between supervisor ticks.
	SupervisorInterval Duration `json:"supervisor_interval"`

	// SupervisorMinMemoryChars is the minimum short-term text length worth evaluating.
	SupervisorMinMemoryChars int `json:"supervisor_min_memory_chars"`

	// ProfileMinChars is the length below which goals/aspirations count as missing.
	ProfileMinChars int `json:"profile_min_chars"`

	// GatewayTimeout bounds every reasoning gateway call.
	GatewayTimeout Duration `json:"gateway_timeout"`

	// GatewayModel is the model name passed to the reasoning backend.
	GatewayModel string `json:"gateway_model,omitempty"`

	// GatewayRatePerSec limits gateway calls per second. 0 disables limiting.
	GatewayRatePerSec float64 `json:"gateway_rate_per_sec,omitempty"`

	// GatewayMaxRetries is the number of retries after a failed gateway call.
	GatewayMaxRetries int `json:"gateway_max_retries,omitempty"`

	// WorkerConcurrency bounds concurrent background tasks (training records, archival ingestion).
	WorkerConcurrency int `json:"worker_concurrency"`

	// LongTermCacheTTL is how long long-term query results are cached.
	LongTermCacheTTL Duration `json:"long_term_cache_ttl"`

	// Storage selects the KV backend: "sqlite" (default) or "redis".
	Storage string `json:"storage,omitempty"`

	// RedisURL is used when Storage is "redis".
	RedisURL string `json:"redis_url,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// RolePromptsPath points to a YAML file overriding the default role instructions.
	RolePromptsPath string `json:"role_prompts_path,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// AllowedPaths is an allowlist of directories for stream export/import.
	// Paths outside ~/.overseer/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for export/import.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxTurns:                 10,
		ShortTermLimit:           3,
		SupervisorShortTermLimit: 6,
		SupervisorInterval:       Duration(45 * time.Second),
		SupervisorMinMemoryChars: 20,
		ProfileMinChars:          10,
		GatewayTimeout:           Duration(60 * time.Second),
		GatewayModel:             "gemini-2.5-flash",
		GatewayMaxRetries:        2,
		WorkerConcurrency:        4,
		LongTermCacheTTL:         Duration(time.Minute),
		Storage:                  StorageSQLite,
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.overseer.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.overseer) and repo (.overseer) directories.
// Repo config is found by walking upward from startDir to find the nearest .overseer/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .overseer/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".overseer", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw returns a zero-valued config (not defaults) if the file doesn't exist.
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	return &Config{
		MaxTurns:                 pickInt(overlay.MaxTurns, base.MaxTurns),
		ShortTermLimit:           pickInt(overlay.ShortTermLimit, base.ShortTermLimit),
		SupervisorShortTermLimit: pickInt(overlay.SupervisorShortTermLimit, base.SupervisorShortTermLimit),
		SupervisorInterval:       pickDuration(overlay.SupervisorInterval, base.SupervisorInterval),
		SupervisorMinMemoryChars: pickInt(overlay.SupervisorMinMemoryChars, base.SupervisorMinMemoryChars),
		ProfileMinChars:          pickInt(overlay.ProfileMinChars, base.ProfileMinChars),
		GatewayTimeout:           pickDuration(overlay.GatewayTimeout, base.GatewayTimeout),
		GatewayModel:             pickString(overlay.GatewayModel, base.GatewayModel),
		GatewayRatePerSec:        pickFloat(overlay.GatewayRatePerSec, base.GatewayRatePerSec),
		GatewayMaxRetries:        pickInt(overlay.GatewayMaxRetries, base.GatewayMaxRetries),
		WorkerConcurrency:        pickInt(overlay.WorkerConcurrency, base.WorkerConcurrency),
		LongTermCacheTTL:         pickDuration(overlay.LongTermCacheTTL, base.LongTermCacheTTL),
		Storage:                  pickString(overlay.Storage, base.Storage),
		RedisURL:                 pickString(overlay.RedisURL, base.RedisURL),
		DBMaxOpenConns:           pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:           pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
		RolePromptsPath:          pickString(overlay.RolePromptsPath, base.RolePromptsPath),
		DisabledTools:            mergeStringSlice(base.DisabledTools, overlay.DisabledTools),
		AllowedPaths:             mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths),
		AllowUnsafePaths:         base.AllowUnsafePaths || overlay.AllowUnsafePaths,
	}
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickFloat(overlay, base float64) float64 {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickDuration(overlay, base Duration) Duration {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
