// Package config resolves the handful of paths every CLI verb needs
// (registry file, shard store root, trusted key) using the fixed order
// from §6: CLI flag > environment variable > on-disk config file >
// compiled-in default. Resolved carries only the final values; it does
// not record which source supplied each one.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	envRegistryPath  = "AXM_REGISTRY_PATH"
	envShardStore    = "AXM_SHARD_STORE"
	envTrustedKey    = "AXM_TRUSTED_KEY"
	envConfigFile    = "AXM_CONFIG_FILE"
	defaultConfigRel = ".axm/config.yaml"

	DefaultRegistryPath = "registry.json"
	DefaultShardStore   = "shards"
)

// FileConfig is the on-disk shape of the config file: a flat set of
// optional overrides, lower precedence than flags and env vars.
type FileConfig struct {
	RegistryPath string `yaml:"registry_path,omitempty"`
	ShardStore   string `yaml:"shard_store,omitempty"`
	TrustedKey   string `yaml:"trusted_key,omitempty"`
}

// Resolved is the final, merged configuration a CLI verb operates with.
type Resolved struct {
	RegistryPath string
	ShardStore   string
	TrustedKey   string
}

// Flags carries the subset of CLI flags relevant to path resolution;
// empty fields fall through to the next source.
type Flags struct {
	RegistryPath string
	ShardStore   string
	TrustedKey   string
}

// Resolve merges flags, environment variables, an on-disk config file,
// and compiled-in defaults, in that precedence order.
func Resolve(flags Flags) (Resolved, error) {
	fc, err := loadFileConfig()
	if err != nil {
		return Resolved{}, err
	}

	return Resolved{
		RegistryPath: firstNonEmpty(flags.RegistryPath, os.Getenv(envRegistryPath), fc.RegistryPath, DefaultRegistryPath),
		ShardStore:   firstNonEmpty(flags.ShardStore, os.Getenv(envShardStore), fc.ShardStore, DefaultShardStore),
		TrustedKey:   firstNonEmpty(flags.TrustedKey, os.Getenv(envTrustedKey), fc.TrustedKey, ""),
	}, nil
}

// loadFileConfig reads the on-disk config file, if one is configured and
// present. A missing file (the common case) is not an error.
func loadFileConfig() (FileConfig, error) {
	path := os.Getenv(envConfigFile)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return FileConfig{}, nil
		}
		path = filepath.Join(home, defaultConfigRel)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return fc, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
