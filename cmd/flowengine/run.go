package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/flowengine/pkg/cmd"
	"github.com/dukex/flowengine/pkg/definition"
	"github.com/dukex/flowengine/pkg/log"
	"github.com/dukex/flowengine/pkg/nodes"
	"github.com/dukex/flowengine/pkg/otelhelper"
	"github.com/dukex/flowengine/pkg/scheduler"
	"github.com/dukex/flowengine/pkg/waitresume"
	"github.com/dukex/flowengine/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort     = 9091
	shutdownTimeout = 30 * time.Second
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the API, the worker pool and the wait timer",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			databaseURLFlag(),
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the wait index; empty keeps it in memory",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Executions processed concurrently",
				Value:   4,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.DurationFlag{
				Name:    "tick-interval",
				Usage:   "How often wait deadlines are checked",
				Value:   time.Second,
				Sources: cli.EnvVars("TICK_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "agent-url",
				Usage:   "HTTP endpoint serving agent nodes",
				Sources: cli.EnvVars("AGENT_URL"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			logLevelFlag(),
			logFormatFlag(),
		},
		Action: runServer,
	}
}

func runServer(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("flowengine")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Initializing flowengine")

	if command.Bool("otel") {
		tracerProvider, err := otelhelper.NewTracerProvider(ctx, "flowengine")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := tracerProvider.Shutdown(context.Background()); err != nil {
				logger.Error("Failed to shutdown tracer provider", "error", err)
			}
		}()
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(context.Background()); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	definitions, err := definition.NewStore(persistence.WorkflowRepository(), logger)
	if err != nil {
		return err
	}

	index, closeIndex, err := cmd.NewWaitIndex(ctx, command.String("redis-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := closeIndex(); err != nil {
			logger.Error("Failed to close wait index", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	clock := clockwork.NewRealClock()
	actions, agent := cmd.NewCapabilities(logger, command.String("agent-url"))
	executor := nodes.NewDefaultRegistry(actions, agent, clock)

	sched := scheduler.New(definitions, persistence, executor, logger,
		scheduler.WithClock(clock),
		scheduler.WithWorkers(command.Int("workers")),
		scheduler.WithWaitIndex(index),
		scheduler.WithPublisher(eventBus),
		scheduler.WithMetricsRegisterer(prometheus.DefaultRegisterer),
	)

	err = sched.Recover(ctx)
	if err != nil {
		return err
	}

	err = sched.StartWorkers(ctx)
	if err != nil {
		return err
	}

	notifier := waitresume.NewNotifier(index, sched, logger)

	err = notifier.Subscribe(eventBus)
	if err != nil {
		return err
	}

	err = eventBus.Subscribe(ctx)
	if err != nil {
		return err
	}

	ticker, err := scheduler.NewTicker(sched, command.Duration("tick-interval"), logger)
	if err != nil {
		return err
	}

	ticker.Start()

	handlers := web.NewAPIHandlers(
		definitions,
		sched,
		notifier,
		validator.New(validator.WithRequiredStructEnabled()),
		map[string]web.HealthCheck{
			"persistence": web.StoreHealth(persistence),
		},
		logger,
	)

	app := newApp(handlers)

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- app.Listen(":" + strconv.Itoa(command.Int("port")))
	}()

	select {
	case err = <-serveErr:
		logger.ErrorContext(ctx, "API server stopped", "error", err)
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if shutdownErr := app.ShutdownWithContext(shutdownCtx); shutdownErr != nil {
		logger.Error("Failed to shutdown API server", "error", shutdownErr)
	}

	ticker.Stop(shutdownCtx)

	if stopErr := sched.Stop(shutdownCtx); stopErr != nil {
		logger.Error("Failed to stop workers", "error", stopErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
