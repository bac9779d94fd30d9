package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the engine configuration.
type Config struct {
	// PluginPaths are the directories searched for plugins, in order.
	PluginPaths []string `yaml:"plugin_paths"`

	// DisabledPlugins are plugin ids that are discovered but not registered.
	DisabledPlugins []string `yaml:"disabled_plugins"`

	LogLevel   string `yaml:"log_level"`
	ConfigFile string `yaml:"-"`

	// WasmWASI enables WASI for WebAssembly plugins.
	WasmWASI bool `yaml:"wasm_wasi"`

	// WasmCacheDir persists compiled WebAssembly modules between runs; empty keeps them in memory.
	WasmCacheDir string `yaml:"wasm_cache_dir"`
}

// SetDefaults initializes c with built-in defaults.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.PluginPaths == nil {
		c.PluginPaths = []string{"plugins"}
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("extensions.yaml")
	}
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *Config) ApplyEnv() {
	if v := GetEnv("EXTENSIONS_CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := GetEnv("EXTENSIONS_PLUGIN_PATHS", ""); v != "" {
		c.PluginPaths = splitList(v)
	}
	if v := GetEnv("EXTENSIONS_DISABLED_PLUGINS", ""); v != "" {
		c.DisabledPlugins = splitList(v)
	}
	if v := GetEnv("EXTENSIONS_WASM_WASI", ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.WasmWASI = b
		}
	}
	if v := GetEnv("EXTENSIONS_WASM_CACHE_DIR", ""); v != "" {
		c.WasmCacheDir = v
	}
}

// LoadFile populates the config from a YAML file.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// Load builds the effective configuration: the file named by EXTENSIONS_CONFIG_FILE (or path, or the default
// location) if it exists, then the environment, then defaults for whatever is still unset.
func Load(path string) (*Config, error) {
	c := &Config{ConfigFile: path}
	c.ApplyEnv()
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("extensions.yaml")
	}

	if c.ConfigFile != "" {
		if err := c.LoadFile(c.ConfigFile); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	// environment wins over the file
	c.ApplyEnv()
	c.SetDefaults()
	return c, nil
}

// IsDisabled reports whether the plugin id was disabled.
func (c *Config) IsDisabled(id string) bool {
	for _, d := range c.DisabledPlugins {
		if d == id {
			return true
		}
	}
	return false
}

// GetEnv returns the value of key or def when it is unset or empty.
func GetEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// DefaultConfigPath returns the per-user location of a config file, or "" when the user config directory is
// unknown.
func DefaultConfigPath(name string) string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ""
	}
	return filepath.Join(dir, "extensions", name)
}

// splitList splits a comma or path-list separated value.
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == os.PathListSeparator
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
