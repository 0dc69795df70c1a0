package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/kalbasit/sharedlock/pkg/otel"
	"github.com/kalbasit/sharedlock/pkg/otelzerolog"
	"github.com/kalbasit/sharedlock/pkg/prometheus"
	"github.com/kalbasit/sharedlock/pkg/telemetry"
	"github.com/kalbasit/sharedlock/storage"
)

// version is set with ldflags at build time.
//
//nolint:gochecknoglobals
var version = "dev"

func newApp() *cli.Command {
	var otelShutdown func(context.Context) error

	return &cli.Command{
		Name:    "sharedlockctl",
		Usage:   "operate a distributed reader/writer shared-lock service from the command line",
		Version: version,
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			lvl, err := zerolog.ParseLevel(cmd.String("log-level"))
			if err != nil {
				return ctx, fmt.Errorf("parsing --log-level: %w", err)
			}

			otelEnabled := cmd.Bool("otel-enabled")
			colURL := cmd.String("otel-grpc-url")

			var output io.Writer = os.Stdout

			var otelWriterShutdown func(context.Context) error

			if otelEnabled && colURL != "" {
				otelWriter, err := otelzerolog.NewOtelWriter(ctx, colURL, cmd.Root().Name, cmd.String("backend"))
				if err != nil {
					return ctx, fmt.Errorf("building OpenTelemetry log writer: %w", err)
				}

				output = zerolog.MultiLevelWriter(os.Stdout, otelWriter)
				otelWriterShutdown = otelWriter.Close
			}

			if term.IsTerminal(int(os.Stdout.Fd())) {
				output = zerolog.ConsoleWriter{Out: colorable.NewColorableStdout(), TimeFormat: time.RFC3339}
			}

			ctx = zerolog.New(output).Level(lvl).With().Timestamp().Logger().WithContext(ctx)

			res, err := telemetry.NewBackendResource(ctx, cmd.Root().Name, version, cmd.String("backend"))
			if err != nil {
				return ctx, fmt.Errorf("building telemetry resource: %w", err)
			}

			var metricsShutdown func(context.Context) error

			promAddr := cmd.String("prometheus-addr")
			if promAddr != "" {
				gatherer, shutdown, err := prometheus.SetupPrometheusMetrics(ctx, cmd.Root().Name, version, cmd.String("backend"))
				if err != nil {
					return ctx, fmt.Errorf("setting up Prometheus metrics: %w", err)
				}

				metricsShutdown = shutdown

				metricsSrv := &http.Server{
					Addr:              promAddr,
					Handler:           promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}

				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						zerolog.Ctx(ctx).Warn().Err(err).Msg("prometheus metrics server exited")
					}
				}()

				zerolog.Ctx(ctx).Info().Str("addr", promAddr).Msg("prometheus metrics enabled at /metrics")

				otelShutdown = func(ctx context.Context) error {
					err := metricsSrv.Shutdown(ctx)
					if metricsShutdown != nil {
						err = errors.Join(err, metricsShutdown(ctx))
					}

					return err
				}
			} else {
				shutdown, err := otel.SetupOTelSDK(ctx, otelEnabled, colURL, res)
				if err != nil {
					return ctx, fmt.Errorf("setting up OpenTelemetry: %w", err)
				}

				otelShutdown = func(ctx context.Context) error {
					err := shutdown(ctx)
					if otelWriterShutdown != nil {
						err = errors.Join(err, otelWriterShutdown(ctx))
					}

					return err
				}
			}

			go func() {
				if err := autoMaxProcs(ctx, time.Minute); err != nil && ctx.Err() == nil {
					zerolog.Ctx(ctx).Warn().Err(err).Msg("auto-max-procs loop exited")
				}
			}()

			return ctx, nil
		},
		After: func(ctx context.Context, _ *cli.Command) error {
			if otelShutdown != nil {
				return otelShutdown(ctx)
			}

			return nil
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("SHAREDLOCK_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "storage backend: memory, redis, or sql",
				Value:   "memory",
				Sources: cli.EnvVars("SHAREDLOCK_BACKEND"),
			},
			&cli.StringFlag{
				Name: "dsn",
				Usage: "backend connection string: redis host:port for --backend=redis, " +
					"a postgres://, mysql://, or sqlite:// URL for --backend=sql",
				Sources: cli.EnvVars("SHAREDLOCK_DSN"),
			},
			&cli.BoolFlag{
				Name:    "degraded-fallback",
				Usage:   "fall back to an in-memory store when the circuit breaker opens on a distributed backend",
				Sources: cli.EnvVars("SHAREDLOCK_DEGRADED_FALLBACK"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "enable OpenTelemetry metrics, traces, and logs",
				Sources: cli.EnvVars("SHAREDLOCK_OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "otel-grpc-url",
				Usage:   "OTLP gRPC collector URL; omit to emit telemetry to stdout when --otel-enabled is set",
				Sources: cli.EnvVars("SHAREDLOCK_OTEL_GRPC_URL"),
			},
			&cli.StringFlag{
				Name: "prometheus-addr",
				Usage: "listen address for a Prometheus /metrics endpoint (e.g. :9090); " +
					"when set, metrics are exported via Prometheus instead of --otel-enabled's OTLP/stdout metrics",
				Sources: cli.EnvVars("SHAREDLOCK_PROMETHEUS_ADDR"),
			},
		},
		Commands: []*cli.Command{
			acquireWriterCommand(),
			releaseWriterCommand(),
			refreshWriterCommand(),
			forceReleaseWriterCommand(),
			acquireReaderCommand(),
			releaseReaderCommand(),
			refreshReaderCommand(),
			forceReleaseReadersCommand(),
			statusCommand(),
		},
	}
}

func keyFlag() *cli.StringFlag {
	return &cli.StringFlag{Name: "key", Usage: "lock key", Required: true}
}

func ownerFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "owner",
		Usage: "owner id; defaults to a freshly generated UUID",
	}
}

func ttlFlag() *cli.DurationFlag {
	return &cli.DurationFlag{
		Name:  "ttl",
		Usage: "grant TTL; omit or set to 0 for a grant that never expires",
	}
}

func requestedTTL(cmd *cli.Command) time.Duration {
	if d := cmd.Duration("ttl"); d > 0 {
		return d
	}

	return storage.Never
}

func printf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, format+"\n", args...)
}
