package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/forgesight/eventship/internal/cliconfig"
	"github.com/forgesight/eventship/pkg/eventship"
	eslog "github.com/forgesight/eventship/pkg/log"
)

const helpDescription = `
Ship build and pipeline lifecycle events to the ForgeSight platform.

Reads newline-delimited event payloads from stdin and delivers them over
an authenticated WebSocket with batching, filtering, rate limiting and an
offline queue that survives platform outages.

Configure via file ($HOME/.eventship/config.toml), EVENTSHIP_* environment
variables, or flags; flags win.
`

var exampleUsage = strings.TrimSpace(`
  some-build-tool --emit-events | eventship --platform-url https://analytics.example.com --auth-token <token>
  eventship --config /etc/eventship/config.toml
  eventship test --platform-url https://analytics.example.com --auth-token <token>
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	log := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()

	// loadConfig resolves the effective configuration for a command:
	// file, then environment, then explicitly set flags.
	loadConfig := func(cmd *cobra.Command) (string, error) {
		cfgFile := cfgPath
		if cfgFile == "" {
			cfgFile = cliconfig.DefaultConfigPath()
		}

		changed := map[string]bool{}
		cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

		if cfgFile != "" && cliconfig.FileExists(cfgFile) {
			fc, err := cliconfig.LoadFileConfig(cfgFile)
			if err != nil {
				return "", fmt.Errorf("load config: %w", err)
			}
			if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
				return "", err
			}
		} else {
			cfgFile = ""
		}

		if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
			return "", err
		}
		if err := cfg.Validate(); err != nil {
			return "", err
		}
		return cfgFile, nil
	}

	root := &cobra.Command{
		Use:     "eventship",
		Short:   "Ship build and pipeline events to the ForgeSight platform",
		Long:    strings.TrimSpace(helpDescription),
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			logCfg := cfg
			if len(logCfg.AuthToken) > 0 {
				logCfg.AuthToken = "*****"
			}
			log.Info().Interface("config", logCfg).Msg("configuration")

			opts := []eventship.Option{
				eventship.WithLogger(eslog.NewZerologAdapterWithLogger(log)),
				eventship.WithStateHandler(func(prev, cur eventship.ConnState, reason string) {
					log.Info().
						Str("from", prev.String()).
						Str("to", cur.String()).
						Str("reason", reason).
						Msg("connection state")
				}),
			}
			if cfgFile != "" {
				opts = append(opts, eventship.WithConfigFile(cfgFile))
			}

			shipper, err := eventship.New(cfg, opts...)
			if err != nil {
				return fmt.Errorf("create shipper: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			if err := shipper.Start(ctx); err != nil {
				return fmt.Errorf("start shipper: %w", err)
			}

			// Pump stdin lines through the delivery pipeline until EOF.
			doneCh := make(chan struct{})
			go func() {
				defer close(doneCh)
				scanner := bufio.NewScanner(os.Stdin)
				scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
				for scanner.Scan() {
					line := scanner.Text()
					if strings.TrimSpace(line) == "" {
						continue
					}
					outcome := shipper.Submit(line)
					log.Debug().Str("outcome", outcome.String()).Msg("event submitted")
				}
				if err := scanner.Err(); err != nil {
					log.Error().Err(err).Msg("stdin read failed")
				}
			}()

			select {
			case <-sigCh:
				log.Info().Msg("received signal, stopping...")
			case <-doneCh:
				log.Info().Msg("input closed, flushing and stopping...")
			}

			if err := shipper.Stop(); err != nil {
				return fmt.Errorf("stop shipper: %w", err)
			}

			m := shipper.BatchMetrics()
			log.Info().
				Int64("received", m.EventsReceived).
				Int64("sent", m.EventsSent).
				Int64("batches", m.BatchesSent).
				Int("queued", shipper.QueueDepth()).
				Msg("delivery summary")
			return nil
		},
	}

	testCmd := &cobra.Command{
		Use:   "test",
		Short: "Run a single connection and authentication check",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd); err != nil {
				return err
			}

			shipper, err := eventship.New(cfg)
			if err != nil {
				return fmt.Errorf("create shipper: %w", err)
			}
			defer shipper.Stop()

			result := shipper.TestConnection(context.Background(),
				cfg.PlatformURL, cfg.AuthToken, cfg.InstanceID)
			if !result.Success {
				if result.ErrorDetails != "" {
					return fmt.Errorf("%s: %s", result.Message, result.ErrorDetails)
				}
				return fmt.Errorf("%s", result.Message)
			}
			log.Info().Str("message", result.Message).Msg("connection test passed")
			return nil
		},
	}
	root.AddCommand(testCmd)

	// Flags
	pf := root.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.eventship/config.toml)")
	pf.StringVar(&cfg.PlatformURL, "platform-url", cfg.PlatformURL, "analytics platform base URL")
	pf.StringVar(&cfg.AuthToken, "auth-token", cfg.AuthToken, "platform auth token")
	pf.StringVar(&cfg.InstanceID, "instance-id", cfg.InstanceID, "host instance identifier (generated when empty)")
	pf.BoolVar(&cfg.Enabled, "enabled", cfg.Enabled, "enable event delivery")

	pf.IntVar(&cfg.QueueMaxSize, "queue-max-size", cfg.QueueMaxSize, "offline queue capacity")
	pf.BoolVar(&cfg.BatchingEnabled, "batching", cfg.BatchingEnabled, "group events into batches before sending")
	pf.IntVar(&cfg.BatchMaxEvents, "batch-max-events", cfg.BatchMaxEvents, "events per batch before an immediate flush")
	pf.DurationVar(&cfg.BatchTimeout, "batch-timeout", cfg.BatchTimeout, "max time a partial batch may wait")

	pf.DurationVar(&cfg.AuthTimeout, "auth-timeout", cfg.AuthTimeout, "connect and authenticate deadline")
	pf.DurationVar(&cfg.SendTimeout, "send-timeout", cfg.SendTimeout, "per-batch write deadline")
	pf.DurationVar(&cfg.BackoffBase, "backoff-base", cfg.BackoffBase, "initial reconnect delay")
	pf.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "reconnect delay cap")
	pf.IntVar(&cfg.FailureThreshold, "failure-threshold", cfg.FailureThreshold, "consecutive failures before the circuit opens")
	pf.DurationVar(&cfg.Cooldown, "cooldown", cfg.Cooldown, "circuit breaker cooldown")

	pf.DurationVar(&cfg.RateWindow, "rate-window", cfg.RateWindow, "rate limit window")
	pf.IntVar(&cfg.SubmitLimit, "submit-limit", cfg.SubmitLimit, "max submissions per window")
	pf.IntVar(&cfg.TestLimit, "test-limit", cfg.TestLimit, "max connection tests per window")

	pf.StringSliceVar(&cfg.Filter.AllowedTypes, "filter-allowed-types", cfg.Filter.AllowedTypes, "event types to allow (empty allows all)")
	pf.StringSliceVar(&cfg.Filter.BlockedTypes, "filter-blocked-types", cfg.Filter.BlockedTypes, "event types to drop")
	pf.StringSliceVar(&cfg.Filter.JobIncludes, "filter-job-includes", cfg.Filter.JobIncludes, "job name patterns to allow (empty allows all)")
	pf.StringSliceVar(&cfg.Filter.JobExcludes, "filter-job-excludes", cfg.Filter.JobExcludes, "job name patterns to drop")
	pf.StringSliceVar(&cfg.Filter.BranchIncludes, "filter-branch-includes", cfg.Filter.BranchIncludes, "branch patterns to allow (empty allows all)")
	pf.StringSliceVar(&cfg.Filter.BranchExcludes, "filter-branch-excludes", cfg.Filter.BranchExcludes, "branch patterns to drop")

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("eventship")
		os.Exit(1)
	}
}
