package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/yairfalse/keenstamp/internal/pipeline"
	"github.com/yairfalse/keenstamp/pkg/config"
	"github.com/yairfalse/keenstamp/pkg/inference"
	"github.com/yairfalse/keenstamp/pkg/integrations/kafka"
	"github.com/yairfalse/keenstamp/pkg/integrations/nats"
	"github.com/yairfalse/keenstamp/pkg/metrics"
	"github.com/yairfalse/keenstamp/pkg/shutdown"
	"github.com/yairfalse/keenstamp/pkg/version"
)

func (a *app) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Annotate records streaming through the configured transport",
		Long: `Consume raw source messages from NATS JetStream, Kafka or stdin, stamp
every record with keen.timestamp and publish it to the output side of the
same transport. Runs until interrupted or, for stdio, until input ends.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			return runService(cfg, logger)
		},
	}

	cmd.Flags().String("transport", config.TransportNATS, "transport to use (nats, kafka, stdio)")
	cmd.Flags().String("nats-url", "", "NATS server URL")
	cmd.Flags().String("metrics-address", "", "address for the Prometheus endpoint")
	_ = a.v.BindPFlag("transport", cmd.Flags().Lookup("transport"))
	_ = a.v.BindPFlag("nats.url", cmd.Flags().Lookup("nats-url"))
	_ = a.v.BindPFlag("metrics.address", cmd.Flags().Lookup("metrics-address"))

	return cmd
}

// runService wires the transport, engine and metrics together and blocks until done
func runService(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting keenstamp",
		zap.String("version", version.Get().Version),
		zap.String("transport", cfg.Transport),
		zap.Bool("infer_timestamp", cfg.InferTimestamp),
		zap.String("catalog", cfg.Catalog.Path))

	handler := shutdown.NewHandler(logger, cfg.ShutdownTimeout)
	handler.Start()
	defer handler.Shutdown()

	tp := newTracerProvider(cfg)
	otel.SetTracerProvider(tp)
	handler.Register("tracer provider", tp.Shutdown)

	collector := metrics.NewCollector()
	engine, err := newEngine(cfg, logger, inference.WithObserver(collector))
	if err != nil {
		return err
	}
	collector.SetEnabledStreams(len(engine.Cursors()))

	if cfg.Metrics.Enabled {
		srv := startStatusServer(logger, cfg.Metrics.Address, newStatusRouter(collector, engine))
		handler.Register("metrics server", srv.Shutdown)
	}

	processor, err := pipeline.NewProcessor(logger, engine, pipeline.WithRecorder(collector))
	if err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}

	src, sink, err := openTransport(cfg, logger, handler)
	if err != nil {
		return err
	}

	err = processor.Run(handler.Context(), src, sink)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Pipeline failed", zap.Error(err))
		return err
	}
	return nil
}

// openTransport connects the configured transport. Cleanups are registered
// with handler so connections close after the publisher stops.
func openTransport(cfg *config.Config, logger *zap.Logger, handler *shutdown.Handler) (pipeline.Source, pipeline.Sink, error) {
	switch cfg.Transport {
	case config.TransportNATS:
		nc, err := nats.Connect(logger, &cfg.NATS)
		if err != nil {
			return nil, nil, err
		}
		handler.Register("nats connection", func(context.Context) error { return nc.Drain() })

		sub, err := nats.NewSubscriber(logger.Named("nats-subscriber"), nc, &cfg.NATS)
		if err != nil {
			return nil, nil, err
		}
		pub, err := nats.NewPublisher(logger.Named("nats-publisher"), nc, &cfg.NATS)
		if err != nil {
			return nil, nil, err
		}
		handler.Register("nats publisher", func(context.Context) error { return pub.Close() })
		return sub, pub, nil

	case config.TransportKafka:
		consumer, err := kafka.NewConsumer(cfg.Kafka, logger.Named("kafka-consumer"))
		if err != nil {
			return nil, nil, err
		}
		handler.Register("kafka consumer", func(context.Context) error { return consumer.Close() })

		pub, err := kafka.NewPublisher(cfg.Kafka)
		if err != nil {
			return nil, nil, err
		}
		handler.Register("kafka publisher", func(context.Context) error { return pub.Close() })
		return consumer, pub, nil

	case config.TransportStdio:
		sink := pipeline.NewWriterSink(os.Stdout)
		handler.Register("stdout", func(context.Context) error { return sink.Flush() })
		return pipeline.NewLineSource(os.Stdin, logger), sink, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// newTracerProvider builds the SDK provider spans are recorded on.
// Exporters attach through the standard OTEL environment when configured.
func newTracerProvider(cfg *config.Config) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.Telemetry.ServiceName),
		attribute.String("service.version", version.Get().Version),
	)
	return sdktrace.NewTracerProvider(sdktrace.WithResource(res))
}
