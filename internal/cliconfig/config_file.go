package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to keep the
// TOML friendly. Filter and rate-limit sections are separate tables.
type FileConfig struct {
	PlatformURL string `toml:"platform_url"`
	AuthToken   string `toml:"auth_token"`
	InstanceID  string `toml:"instance_id"`
	Enabled     *bool  `toml:"enabled"`

	QueueMaxSize int `toml:"queue_max_size"`

	BatchingEnabled *bool  `toml:"batching_enabled"`
	BatchMaxEvents  int    `toml:"batch_max_events"`
	BatchTimeout    string `toml:"batch_timeout"`

	AuthTimeout string `toml:"auth_timeout"`
	SendTimeout string `toml:"send_timeout"`

	BackoffBase      string `toml:"backoff_base"`
	BackoffMax       string `toml:"backoff_max"`
	FailureThreshold int    `toml:"failure_threshold"`
	Cooldown         string `toml:"cooldown"`

	RateLimit FileRateLimit `toml:"rate_limit"`
	Filter    FileFilter    `toml:"filter"`
}

// FileRateLimit is the [rate_limit] table.
type FileRateLimit struct {
	Window      string `toml:"window"`
	SubmitLimit int    `toml:"submit_limit"`
	TestLimit   int    `toml:"test_limit"`
}

// FileFilter is the [filter] table.
type FileFilter struct {
	AllowedTypes   []string `toml:"allowed_types"`
	BlockedTypes   []string `toml:"blocked_types"`
	JobIncludes    []string `toml:"job_includes"`
	JobExcludes    []string `toml:"job_excludes"`
	BranchIncludes []string `toml:"branch_includes"`
	BranchExcludes []string `toml:"branch_excludes"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.eventship/config.toml when the user home
// directory is accessible, else "".
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".eventship", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies file values to cfg, respecting explicitly set
// flags via the changed map.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("platform-url", fc.PlatformURL, &cfg.PlatformURL)
	s.setString("auth-token", fc.AuthToken, &cfg.AuthToken)
	s.setString("instance-id", fc.InstanceID, &cfg.InstanceID)
	s.setBool("enabled", fc.Enabled, &cfg.Enabled)

	s.setInt("queue-max-size", fc.QueueMaxSize, &cfg.QueueMaxSize)

	s.setBool("batching", fc.BatchingEnabled, &cfg.BatchingEnabled)
	s.setInt("batch-max-events", fc.BatchMaxEvents, &cfg.BatchMaxEvents)
	if err := s.setDuration("batch-timeout", fc.BatchTimeout, &cfg.BatchTimeout); err != nil {
		return err
	}

	if err := s.setDuration("auth-timeout", fc.AuthTimeout, &cfg.AuthTimeout); err != nil {
		return err
	}
	if err := s.setDuration("send-timeout", fc.SendTimeout, &cfg.SendTimeout); err != nil {
		return err
	}
	if err := s.setDuration("backoff-base", fc.BackoffBase, &cfg.BackoffBase); err != nil {
		return err
	}
	if err := s.setDuration("backoff-max", fc.BackoffMax, &cfg.BackoffMax); err != nil {
		return err
	}
	s.setInt("failure-threshold", fc.FailureThreshold, &cfg.FailureThreshold)
	if err := s.setDuration("cooldown", fc.Cooldown, &cfg.Cooldown); err != nil {
		return err
	}

	if err := s.setDuration("rate-window", fc.RateLimit.Window, &cfg.RateWindow); err != nil {
		return err
	}
	s.setInt("submit-limit", fc.RateLimit.SubmitLimit, &cfg.SubmitLimit)
	s.setInt("test-limit", fc.RateLimit.TestLimit, &cfg.TestLimit)

	s.setStrings("filter-allowed-types", fc.Filter.AllowedTypes, &cfg.Filter.AllowedTypes)
	s.setStrings("filter-blocked-types", fc.Filter.BlockedTypes, &cfg.Filter.BlockedTypes)
	s.setStrings("filter-job-includes", fc.Filter.JobIncludes, &cfg.Filter.JobIncludes)
	s.setStrings("filter-job-excludes", fc.Filter.JobExcludes, &cfg.Filter.JobExcludes)
	s.setStrings("filter-branch-includes", fc.Filter.BranchIncludes, &cfg.Filter.BranchIncludes)
	s.setStrings("filter-branch-excludes", fc.Filter.BranchExcludes, &cfg.Filter.BranchExcludes)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
