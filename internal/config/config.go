package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"chatfeed/internal/constants"
	"chatfeed/internal/models"
	"chatfeed/internal/validation"
)

var (
	ErrMissingAPIURL  = models.ConfigError{Message: "missing message service base URL"}
	ErrMissingGroupID = models.ConfigError{Message: "missing group ID"}
	ErrMissingUserID  = models.ConfigError{Message: "missing user ID"}
)

// LoadConfig reads, validates, and defaults a JSON configuration file.
// Environment overrides (CHATFEED_*) are applied after file validation.
func LoadConfig(path string) (*models.Config, error) {
	if err := validatePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	return &config, nil
}

func validate(c *models.Config) error {
	if c.API.BaseURL == "" {
		return ErrMissingAPIURL
	}
	if _, err := url.ParseRequestURI(c.API.BaseURL); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid message service base URL: %v", err)}
	}
	if c.Feed.GroupID == "" {
		return ErrMissingGroupID
	}
	if err := validation.GroupID(c.Feed.GroupID); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid group ID: %v", err)}
	}
	if c.Feed.UserID == "" {
		return ErrMissingUserID
	}
	if c.Cache.Enabled && c.Cache.Path == "" {
		return models.ConfigError{Message: "cache enabled but no cache path configured"}
	}
	if c.Cache.Path != "" {
		if err := validatePath(c.Cache.Path); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid cache path: %v", err)}
		}
	}
	if c.Poll.IntervalSec < 0 {
		return models.ConfigError{Message: "poll interval cannot be negative"}
	}
	return nil
}

func applyDefaults(c *models.Config) {
	if c.API.TimeoutSec <= 0 {
		c.API.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.Feed.PageSize <= 0 {
		c.Feed.PageSize = constants.DefaultPageSize
	}
	if c.Feed.MaxContentLength <= 0 {
		c.Feed.MaxContentLength = constants.DefaultMaxContentLength
	}
	if c.Poll.IntervalSec == 0 {
		c.Poll.IntervalSec = constants.DefaultPollIntervalSec
	}
	if c.Poll.RequestTimeoutSec <= 0 {
		c.Poll.RequestTimeoutSec = constants.DefaultPollTimeoutSec
	}
	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}
	if c.Cache.SeedLimit <= 0 {
		c.Cache.SeedLimit = constants.DefaultCacheSeedLimit
	}
	if c.Cache.RetentionDays <= 0 {
		c.Cache.RetentionDays = constants.DefaultCacheRetentionDays
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	if u := os.Getenv("CHATFEED_API_URL"); u != "" {
		c.API.BaseURL = u
	}

	// SECURITY: tokens should come from the environment, not the config file
	if token := os.Getenv("CHATFEED_API_TOKEN"); token != "" {
		c.API.AuthToken = token
	}

	if group := os.Getenv("CHATFEED_GROUP_ID"); group != "" {
		c.Feed.GroupID = group
	}
	if user := os.Getenv("CHATFEED_USER_ID"); user != "" {
		c.Feed.UserID = user
	}
	if path := os.Getenv("CHATFEED_CACHE_PATH"); path != "" {
		c.Cache.Path = path
		c.Cache.Enabled = true
	}
	if interval := os.Getenv("CHATFEED_POLL_INTERVAL_SEC"); interval != "" {
		if v, err := strconv.Atoi(interval); err == nil && v > 0 {
			c.Poll.IntervalSec = v
		}
	}
}

// validatePath rejects empty paths and directory traversal attempts.
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}

	return nil
}
