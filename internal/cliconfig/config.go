// Package cliconfig loads eventship configuration with the precedence
// flags > environment (EVENTSHIP_*) > TOML file > defaults, and watches
// the file for live updates to the filter and rate-limit sections.
package cliconfig

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/forgesight/eventship/internal/conn"
	"github.com/forgesight/eventship/internal/filter"
	"github.com/forgesight/eventship/internal/queue"
	"github.com/forgesight/eventship/internal/ratelimit"
)

// Config holds the full eventship configuration.
type Config struct {
	PlatformURL string
	AuthToken   string
	InstanceID  string
	Enabled     bool

	QueueMaxSize int

	BatchingEnabled bool
	BatchMaxEvents  int
	BatchTimeout    time.Duration

	AuthTimeout time.Duration
	SendTimeout time.Duration

	BackoffBase      time.Duration
	BackoffMax       time.Duration
	FailureThreshold int
	Cooldown         time.Duration

	RateWindow  time.Duration
	SubmitLimit int
	TestLimit   int

	Filter filter.Rules
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		QueueMaxSize:     queue.DefaultCapacity,
		BatchingEnabled:  true,
		BatchMaxEvents:   100,
		BatchTimeout:     5 * time.Second,
		AuthTimeout:      conn.DefaultAuthTimeout,
		SendTimeout:      conn.DefaultSendTimeout,
		BackoffBase:      conn.DefaultBackoffBase,
		BackoffMax:       conn.DefaultBackoffMax,
		FailureThreshold: conn.DefaultFailureThreshold,
		Cooldown:         conn.DefaultCooldown,
		RateWindow:       ratelimit.DefaultWindow,
		// Event submission runs hot; diagnostics are operator-triggered
		// and kept low so a stuck form cannot hammer the platform.
		SubmitLimit: 10000,
		TestLimit:   10,
	}
}

// Validate checks the configuration and sets derived defaults. The queue
// capacity and batch size are clamped rather than rejected.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.PlatformURL == "" {
		return fmt.Errorf("platform-url is required")
	}
	if _, err := conn.NormalizeURL(c.PlatformURL); err != nil {
		return fmt.Errorf("platform-url: %w", err)
	}
	if c.AuthToken == "" {
		return fmt.Errorf("auth-token is required")
	}
	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
	}

	c.QueueMaxSize = queue.ClampCapacity(c.QueueMaxSize)
	if c.BatchTimeout <= 0 {
		return fmt.Errorf("batch-timeout must be positive")
	}
	if c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("backoff-max must be at least backoff-base")
	}

	return nil
}

// RateLimits returns the per-operation limits derived from this config.
func (c *Config) RateLimits() ratelimit.Limits {
	return ratelimit.Limits{
		ratelimit.OpSubmit:         c.SubmitLimit,
		ratelimit.OpTestConnection: c.TestLimit,
	}
}

// configSetter applies configuration values while respecting flag
// precedence: a value is skipped when its flag was set explicitly.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
