package cliconfig

import "os"

// ApplyEnvConfig applies configuration from EVENTSHIP_* environment
// variables. Flags that were set explicitly (changed map) win.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("platform-url", os.Getenv("EVENTSHIP_PLATFORM_URL"), &cfg.PlatformURL)
	s.setString("auth-token", os.Getenv("EVENTSHIP_AUTH_TOKEN"), &cfg.AuthToken)
	s.setString("instance-id", os.Getenv("EVENTSHIP_INSTANCE_ID"), &cfg.InstanceID)
	s.setBoolFromString("enabled", os.Getenv("EVENTSHIP_ENABLED"), &cfg.Enabled)

	if err := s.setIntFromString("queue-max-size", os.Getenv("EVENTSHIP_QUEUE_MAX_SIZE"), &cfg.QueueMaxSize); err != nil {
		return err
	}

	s.setBoolFromString("batching", os.Getenv("EVENTSHIP_BATCHING_ENABLED"), &cfg.BatchingEnabled)
	if err := s.setIntFromString("batch-max-events", os.Getenv("EVENTSHIP_BATCH_MAX_EVENTS"), &cfg.BatchMaxEvents); err != nil {
		return err
	}
	if err := s.setDuration("batch-timeout", os.Getenv("EVENTSHIP_BATCH_TIMEOUT"), &cfg.BatchTimeout); err != nil {
		return err
	}

	if err := s.setDuration("auth-timeout", os.Getenv("EVENTSHIP_AUTH_TIMEOUT"), &cfg.AuthTimeout); err != nil {
		return err
	}
	if err := s.setDuration("send-timeout", os.Getenv("EVENTSHIP_SEND_TIMEOUT"), &cfg.SendTimeout); err != nil {
		return err
	}
	if err := s.setDuration("backoff-base", os.Getenv("EVENTSHIP_BACKOFF_BASE"), &cfg.BackoffBase); err != nil {
		return err
	}
	if err := s.setDuration("backoff-max", os.Getenv("EVENTSHIP_BACKOFF_MAX"), &cfg.BackoffMax); err != nil {
		return err
	}
	if err := s.setIntFromString("failure-threshold", os.Getenv("EVENTSHIP_FAILURE_THRESHOLD"), &cfg.FailureThreshold); err != nil {
		return err
	}
	if err := s.setDuration("cooldown", os.Getenv("EVENTSHIP_COOLDOWN"), &cfg.Cooldown); err != nil {
		return err
	}

	if err := s.setDuration("rate-window", os.Getenv("EVENTSHIP_RATE_WINDOW"), &cfg.RateWindow); err != nil {
		return err
	}
	if err := s.setIntFromString("submit-limit", os.Getenv("EVENTSHIP_SUBMIT_LIMIT"), &cfg.SubmitLimit); err != nil {
		return err
	}
	if err := s.setIntFromString("test-limit", os.Getenv("EVENTSHIP_TEST_LIMIT"), &cfg.TestLimit); err != nil {
		return err
	}

	return nil
}
