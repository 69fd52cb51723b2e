package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"time"

	"dario.cat/mergo"
	"github.com/tidwall/jsonc"
)

// Load reads and merges configuration: defaults → user config file
// (~/.config/crabby-merge/crabby-merge.jsonc, or the explicit path when
// given) → environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		if userDir, err := os.UserConfigDir(); err == nil {
			path = filepath.Join(userDir, "crabby-merge", "crabby-merge.jsonc")
		}
	}
	if path != "" {
		if fileMap, err := loadJSONC(path); err == nil {
			if err := mergeIntoConfig(&cfg, fileMap); err != nil {
				return nil, fmt.Errorf("merging config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings the scan cycle cannot run without. Regex
// errors and a missing server URL are configuration mistakes, not
// per-candidate conditions, so they abort startup.
func (c *Config) Validate() error {
	if c.Bitbucket.URL == "" {
		return fmt.Errorf("bitbucket url is required (config file or BITBUCKET_URL)")
	}
	if _, err := regexp.Compile(c.Scan.MergeTrigger); err != nil {
		return fmt.Errorf("invalid merge_trigger pattern %q: %w", c.Scan.MergeTrigger, err)
	}
	if c.Jenkins.RetryTrigger != "" {
		if _, err := regexp.Compile(c.Jenkins.RetryTrigger); err != nil {
			return fmt.Errorf("invalid jenkins retry_trigger pattern %q: %w", c.Jenkins.RetryTrigger, err)
		}
	}
	if c.Jenkins.RetryLimit < 0 {
		return fmt.Errorf("jenkins retry_limit must not be negative, got %d", c.Jenkins.RetryLimit)
	}
	if c.Scan.CycleTimeout != "" {
		if _, err := time.ParseDuration(c.Scan.CycleTimeout); err != nil {
			return fmt.Errorf("invalid cycle_timeout %q: %w", c.Scan.CycleTimeout, err)
		}
	}
	return nil
}

// loadJSONC reads a JSONC file and returns it as a map.
func loadJSONC(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jsonData := jsonc.ToJSON(data)
	var m map[string]any
	if err := json.Unmarshal(jsonData, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// mergeIntoConfig marshals the config to a map, deep-merges the source map
// over it, then unmarshals back to the Config struct.
func mergeIntoConfig(cfg *Config, src map[string]any) error {
	cfgBytes, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var dst map[string]any
	if err := json.Unmarshal(cfgBytes, &dst); err != nil {
		return err
	}

	if err := mergo.Merge(&dst, src, mergo.WithOverride); err != nil {
		return err
	}

	merged, err := json.Marshal(dst)
	if err != nil {
		return err
	}
	return json.Unmarshal(merged, cfg)
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment wins over file values so schedulers can inject credentials
// without touching the config file. An unparseable numeric override is a
// configuration mistake and fails the load.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("BITBUCKET_URL"); v != "" {
		cfg.Bitbucket.URL = v
	}
	if v := os.Getenv("BITBUCKET_API_TOKEN"); v != "" {
		cfg.Bitbucket.APIToken = v
	}
	if v := os.Getenv("CRABBY_MERGE_TRIGGER"); v != "" {
		cfg.Scan.MergeTrigger = v
	}
	if v := os.Getenv("JENKINS_USERNAME"); v != "" {
		cfg.Jenkins.Username = v
	}
	if v := os.Getenv("JENKINS_PASSWORD"); v != "" {
		cfg.Jenkins.Password = v
	}
	if v := os.Getenv("JENKINS_RETRY_TRIGGER"); v != "" {
		cfg.Jenkins.RetryTrigger = v
	}
	if v := os.Getenv("JENKINS_RETRY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid JENKINS_RETRY_LIMIT %q: %w", v, err)
		}
		cfg.Jenkins.RetryLimit = n
	}
	return nil
}
