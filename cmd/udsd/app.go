// File: cmd/udsd/app.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Command-line, environment and config-file wiring for the udsd daemon.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/momentics/udsipc/control"
	"github.com/momentics/udsipc/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"
)

const envPrefix = "UDSD"

var configKeys = []string{
	"socket", "socket-mode", "log-level", "log-file", "interactive",
	"buffer-size", "sequence", "metrics-listen",
}

func submain(ctx context.Context) int {
	baseLogger := newBaseLogger(os.Stderr)
	cmd := newRootCommand(baseLogger)
	if err := cmd.ExecuteContext(ctx); err != nil {
		logging.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
		return 1
	}
	return 0
}

// newBaseLogger reads UDSD_LOG_* overrides from the environment.
func newBaseLogger(w io.Writer) pslog.Logger {
	return pslog.LoggerFromEnv(
		pslog.WithEnvPrefix(envPrefix+"_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(w),
	).With("app", "udsd")
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "udsd",
		Short:         "udsd serves a line-echo protocol on a Unix-domain stream socket",
		SilenceErrors: true,
		Example: `
  # Bind /tmp/udsd.sock in the foreground, replies prefixed with a sequence number
  udsd -i -s /tmp/udsd.sock --sequence

  # Under systemd socket activation, with Prometheus metrics on localhost
  udsd --metrics-listen 127.0.0.1:9464
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cliLogger := logging.WithSubsystem(baseLogger, "cli.root")

			configFile, err := loadConfigFile(v)
			if err != nil {
				return err
			}
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
			}
			cfg, err := decodeConfig(v)
			if err != nil {
				return err
			}
			logger, closer, err := buildLogger(baseLogger, cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			logging.WithSubsystem(logger, "server.lifecycle.init").Info(
				"welcome to udsd",
				"pid", os.Getpid(),
				"uid", os.Getuid(),
				"socket", cfg.SocketPath,
				"interactive", cfg.Interactive,
			)
			d, err := newDaemon(cfg, logger, v, configFile)
			if err != nil {
				return err
			}
			return d.run(cmd.Context())
		},
	}

	defaults := control.DefaultConfig()
	flags := cmd.Flags()
	flags.StringP("config", "c", "", "path to a YAML, TOML or JSON config file (watched for changes)")
	flags.StringP("socket", "s", defaults.SocketPath, "Unix-domain socket path to bind when not socket-activated")
	flags.String("socket-mode", defaults.SocketMode, "octal permissions applied to a self-bound socket (empty keeps umask)")
	flags.StringP("log-level", "l", defaults.LogLevel, "log level (trace, debug, info, warn, error, fatal, panic, disabled)")
	flags.String("log-file", defaults.LogFile, "write logs to this rotated file instead of stderr")
	flags.BoolP("interactive", "i", defaults.Interactive, "force interactive mode: ignore socket activation and stop on SIGINT")
	flags.Int("buffer-size", defaults.BufferSize, "receive buffer size per connection in bytes")
	flags.Bool("sequence", defaults.Sequence, "prefix every reply with a per-connection sequence number")
	flags.String("metrics-listen", defaults.MetricsListen, "Prometheus and debug endpoint address (empty disables)")

	if err := bindFlags(v, flags); err != nil {
		panic(err)
	}
	return cmd
}

// bindFlags makes every config key resolvable from its flag and from
// UDSD_<KEY> in the environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, name := range append([]string{"config"}, configKeys...) {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func loadConfigFile(v *viper.Viper) (string, error) {
	path := strings.TrimSpace(v.GetString("config"))
	if path == "" {
		return "", nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("config file %q: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", path)
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", path, err)
	}
	return path, nil
}

func decodeConfig(v *viper.Viper) (control.Config, error) {
	cfg := control.DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return control.Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return control.Config{}, err
	}
	return cfg, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// buildLogger applies the configured level and, when a log file is set,
// redirects output to a rotated file.
func buildLogger(base pslog.Logger, cfg control.Config) (pslog.Logger, io.Closer, error) {
	level, ok := logging.ParseLevel(cfg.LogLevel)
	if !ok {
		logging.WithSubsystem(base, "cli.root").Warn("invalid log level, falling back to info", "log_level", cfg.LogLevel)
	}
	if cfg.LogFile == "" {
		return base.LogLevel(level), nopCloser{}, nil
	}
	w, err := logging.OpenFile(logging.FileConfig{Path: cfg.LogFile})
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %q: %w", cfg.LogFile, err)
	}
	return logging.New(w, level).With("app", "udsd"), w, nil
}
