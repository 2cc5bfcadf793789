// File: cmd/udsctl/app.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// udsctl connects to a udsd socket, sends messages and prints the replies.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/momentics/udsipc/client"
	"github.com/momentics/udsipc/internal/logging"
	"github.com/momentics/udsipc/lineecho"
	"github.com/spf13/cobra"
	"pkt.systems/pslog"
)

type exchangeOptions struct {
	socket   string
	messages []string
	count    int
	timeout  time.Duration
	bufSize  int
}

type exchangeStats struct {
	sent     uint64
	received uint64
	replies  int
	elapsed  time.Duration
}

func submain(ctx context.Context) int {
	baseLogger := newBaseLogger(os.Stderr)
	cmd := newRootCommand(baseLogger)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return 1
	}
	return 0
}

// newBaseLogger reads UDSCTL_LOG_* overrides from the environment.
func newBaseLogger(w io.Writer) pslog.Logger {
	return pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("UDSCTL_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(w),
	).With("app", "udsctl")
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var opts exchangeOptions
	var logLevel string
	cmd := &cobra.Command{
		Use:           "udsctl",
		Short:         "udsctl sends line messages to a udsd socket and prints the replies",
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			logger := baseLogger
			if level, ok := logging.ParseLevel(logLevel); ok {
				logger = logger.LogLevel(level)
			}
			stats, err := runExchange(cmd.Context(), cmd.OutOrStdout(), opts, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d replies, sent %s, received %s in %s\n",
				stats.replies, humanize.Bytes(stats.sent), humanize.Bytes(stats.received), stats.elapsed.Round(time.Microsecond))
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.socket, "socket", "s", "/run/udsd.sock", "path to the Unix-domain socket")
	flags.StringArrayVarP(&opts.messages, "message", "m", []string{"ping"}, "message to send (repeatable)")
	flags.IntVarP(&opts.count, "count", "n", 1, "number of times to send each message")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Second, "maximum wait for each reply")
	flags.IntVar(&opts.bufSize, "buffer-size", 1024, "reply buffer size in bytes")
	flags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, disabled)")
	return cmd
}

// runExchange sends every message count times, printing each reply to out.
func runExchange(ctx context.Context, out io.Writer, opts exchangeOptions, logger pslog.Logger) (exchangeStats, error) {
	var stats exchangeStats
	logger = logging.WithSubsystem(logger, "cli.exchange")
	if opts.count < 1 {
		opts.count = 1
	}
	if opts.bufSize < 1 {
		opts.bufSize = 1024
	}

	c, err := client.New(client.WithLogger(logger))
	if err != nil {
		return stats, err
	}
	defer c.Close()

	logger.Info("connecting", "socket", opts.socket)
	if err := c.Connect(opts.socket); err != nil {
		return stats, fmt.Errorf("connect %s: %w", opts.socket, err)
	}
	defer c.Disconnect()

	start := time.Now()
	buf := make([]byte, opts.bufSize)
	for i := 0; i < opts.count; i++ {
		for _, msg := range opts.messages {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if !strings.HasSuffix(msg, "\n") {
				msg += "\n"
			}
			n, err := c.Send([]byte(msg))
			stats.sent += uint64(n)
			if err != nil {
				return stats, fmt.Errorf("send: %w", err)
			}
			logger.Debug("sent", "bytes", n)

			n, err = c.ReceiveTimeout(buf, opts.timeout, lineecho.LineEnd)
			if err != nil {
				return stats, fmt.Errorf("receive: %w", err)
			}
			stats.received += uint64(n)
			stats.replies++
			fmt.Fprint(out, string(buf[:n]))
		}
	}
	stats.elapsed = time.Since(start)
	return stats, nil
}
