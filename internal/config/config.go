// Package config holds the viper-backed configuration singleton shared by
// the wag CLI and the library packages it wires together. Values resolve in
// the usual precedence order: explicit Set > WAGGLE_* environment variables >
// config.yaml > built-in defaults.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/untoldecay/waggle/internal/debug"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()

	// Only config.yaml is honored; SetConfigFile keeps viper from picking
	// up stray config.json or config.toml files in the same directory.
	v.SetConfigType("yaml")

	// Precedence: project .waggle/config.yaml > ~/.config/waggle/config.yaml
	configFileSet := false

	// 1. Walk up from CWD to find the project .waggle/config.yaml.
	//    This allows commands to work from subdirectories.
	cwd, err := os.Getwd()
	if err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".waggle", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	// 2. User config directory (~/.config/waggle/config.yaml)
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "waggle", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Automatic environment variable binding; env vars take precedence
	// over the config file. E.g. WAGGLE_ACTOR, WAGGLE_DB_PATH,
	// WAGGLE_INFERENCE_API_KEY.
	v.SetEnvPrefix("WAGGLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults()

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		debug.Logf("Debug: loaded config from %s\n", v.ConfigFileUsed())
	} else {
		debug.Logf("Debug: no config.yaml found; using defaults and environment variables\n")
	}

	return nil
}

// setDefaults registers the built-in value for every known key. The numbers
// mirror the Default* constants in the owning packages (mail, reservation,
// lock, deferred, memory, inference) so a bare config behaves the same as
// calling those packages directly.
func setDefaults() {
	v.SetDefault("json", false)
	v.SetDefault("actor", "")
	v.SetDefault("db.path", "")

	v.SetDefault("mail.max_inbox_limit", 5)

	v.SetDefault("reservation.default_ttl_seconds", 3600)

	v.SetDefault("lock.default_ttl_seconds", 30)
	v.SetDefault("lock.max_retries", 10)
	v.SetDefault("lock.base_delay_ms", 50)

	v.SetDefault("deferred.poll_ms", 100)
	v.SetDefault("deferred.default_ttl_seconds", 300)

	v.SetDefault("memory.half_life_days", 90)
	v.SetDefault("memory.link_threshold", 0.75)
	v.SetDefault("memory.link_limit", 5)
	v.SetDefault("memory.upsert_top_k", 5)
	v.SetDefault("memory.upsert_floor", 0.60)
	v.SetDefault("memory.top_k", 10)

	v.SetDefault("snapshot.cells_path", "")
	v.SetDefault("snapshot.memories_path", "")

	v.SetDefault("inference.host", "http://localhost:11434")
	v.SetDefault("inference.api_key", "")
	v.SetDefault("inference.model", "claude-3-5-haiku-20241022")
	v.SetDefault("inference.embed_model", "mxbai-embed-large")
}

// ConfigSource represents where a configuration value came from.
type ConfigSource string

const (
	SourceDefault    ConfigSource = "default"
	SourceConfigFile ConfigSource = "config_file"
	SourceEnvVar     ConfigSource = "env_var"
)

// GetValueSource returns the source of a configuration value.
// Priority (highest to lowest): env var > config file > default.
func GetValueSource(key string) ConfigSource {
	if v == nil {
		return SourceDefault
	}

	envKey := "WAGGLE_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	if os.Getenv(envKey) != "" {
		return SourceEnvVar
	}

	if v.InConfig(key) {
		return SourceConfigFile
	}

	return SourceDefault
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetFloat64 retrieves a float configuration value.
func GetFloat64(key string) float64 {
	if v == nil {
		return 0
	}
	return v.GetFloat64(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map.
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// ConfigFileUsed returns the path of the loaded config file, or "" when
// running on defaults and environment variables alone.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// Dump renders the effective configuration as YAML, for `wag config show`.
func Dump() (string, error) {
	out, err := yaml.Marshal(AllSettings())
	if err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}
	return string(out), nil
}

// WaggleDir returns the nearest .waggle directory at or above the current
// working directory, or "" when the tree has none.
func WaggleDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, ".waggle")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}
	return ""
}

// DBPath resolves the database location. An explicit db.path (config file or
// WAGGLE_DB_PATH) wins; otherwise every project shares the global store under
// the user config directory.
func DBPath() (string, error) {
	if p := GetString("db.path"); p != "" {
		return expandHome(p)
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config dir: %w", err)
	}
	return filepath.Join(configDir, "waggle", "core.db"), nil
}

// LegacyDBPath returns the project-local database left behind by older
// releases (.waggle/waggle.db at or above CWD), or "" when none exists.
// Callers pass it to schema.RelocateLegacy before opening the global store.
func LegacyDBPath() string {
	dir := WaggleDir()
	if dir == "" {
		return ""
	}
	legacy := filepath.Join(dir, "waggle.db")
	if _, err := os.Stat(legacy); err != nil {
		return ""
	}
	return legacy
}

// CellsSnapshotPath resolves where cell snapshots are written. Overridable
// via snapshot.cells_path; defaults to cells.jsonl inside the project
// .waggle directory so snapshots ride along with the repository.
func CellsSnapshotPath() string {
	return snapshotPath("snapshot.cells_path", "cells.jsonl")
}

// MemoriesSnapshotPath resolves where memory snapshots are written.
func MemoriesSnapshotPath() string {
	return snapshotPath("snapshot.memories_path", "memories.jsonl")
}

func snapshotPath(key, name string) string {
	if p := GetString(key); p != "" {
		if expanded, err := expandHome(p); err == nil {
			return expanded
		}
		return p
	}
	if dir := WaggleDir(); dir != "" {
		return filepath.Join(dir, name)
	}
	return filepath.Join(".waggle", name)
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home dir: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/")), nil
	}
	return path, nil
}

// GetIdentity resolves the acting agent's name for mail, events, and audit
// fields. Priority chain:
//  1. flagValue (if non-empty, from --actor flag)
//  2. WAGGLE_ACTOR env var / config.yaml actor field (via viper)
//  3. git config user.name
//  4. hostname
func GetIdentity(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	if actor := GetString("actor"); actor != "" {
		return actor
	}

	cmd := exec.Command("git", "config", "user.name")
	if output, err := cmd.Output(); err == nil {
		if gitUser := strings.TrimSpace(string(output)); gitUser != "" {
			return gitUser
		}
	}

	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}

	return "unknown"
}
