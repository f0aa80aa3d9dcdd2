package main

import (
	"context"
	"flag"
	"os"
	"runtime/pprof"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-kernels/internal/client"
	"github.com/23skdu/longbow-kernels/internal/device"
	"github.com/23skdu/longbow-kernels/internal/nn"
	"github.com/23skdu/longbow-kernels/internal/weights"
)

var (
	listenAddr   = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	flightAddr   = flag.String("flight", "", "Address to listen on for Flight Server (e.g. :9090)")
	remoteAddr   = flag.String("remote", "", "Run the sample forward pass on a remote Flight server (e.g. localhost:9090)")
	weightsPath  = flag.String("weights", "", "Path to a CBOR weights file for the LeNet model")
	saveWeights  = flag.String("save-weights", "", "Write the model weights to this path and exit")
	workers      = flag.Int("workers", 0, "Kernel worker goroutines (0 = NumCPU)")
	maxInflight  = flag.Int64("max-inflight", 1<<24, "Maximum output elements computed concurrently")
	maxMessage   = flag.Int("max-message", client.DefaultMaxMessageBytes, "Maximum HTTP body and gRPC message size in bytes")
	queueTimeout = flag.Duration("queue-timeout", time.Second, "How long a request may wait for admission")
	enableOTel   = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	cpuProfile   = flag.String("cpuprofile", "", "Write cpu profile to file")
	benchSize    = flag.Int("bench", 0, "Benchmark an NxN matmul and a LeNet forward pass, then exit")
	seed         = flag.Uint64("seed", 42, "Seed for weight initialization and sample inputs")
	logLevel     = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", *logLevel).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	backend := device.NewCPUBackend(*workers)
	log.Info().Str("backend", backend.Name()).Int("workers", backend.Workers()).Msg("Backend ready")

	model, err := nn.NewLeNet(backend, *seed)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build model")
	}
	if *weightsPath != "" {
		if err := weights.NewLoader(model).Load(*weightsPath); err != nil {
			log.Fatal().Err(err).Str("path", *weightsPath).Msg("Failed to load weights")
		}
		log.Info().Str("path", *weightsPath).Msg("Loaded weights")
	}
	if *saveWeights != "" {
		if err := weights.NewLoader(model).Save(*saveWeights); err != nil {
			log.Fatal().Err(err).Str("path", *saveWeights).Msg("Failed to save weights")
		}
		log.Info().Str("path", *saveWeights).Msg("Saved weights")
		return
	}

	if *benchSize > 0 {
		if err := runBench(context.Background(), backend, model, *benchSize, *seed); err != nil {
			log.Fatal().Err(err).Msg("Benchmark failed")
		}
		return
	}

	computer := NewComputer(backend, model, *maxInflight, *queueTimeout)

	if *listenAddr != "" {
		srv, err := NewServer(computer, int64(*maxMessage))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create HTTP server")
		}
		go startServer(*listenAddr, srv)
	}
	if *flightAddr != "" {
		StartFlightServer(*flightAddr, computer, *maxMessage)
		return
	}
	if *listenAddr != "" {
		select {}
	}

	input, err := randomImages(1, *seed)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build sample input")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	start := time.Now()
	var classes []int
	if *remoteAddr != "" {
		fc, err := client.NewFlightClient(*remoteAddr, client.WithMaxMessageSize(*maxMessage))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create flight client")
		}
		defer func() {
			if err := fc.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}()
		classes, err = remotePredict(ctx, fc, input)
		if err != nil {
			log.Fatal().Err(err).Str("remote", *remoteAddr).Msg("Remote forward pass failed")
		}
	} else {
		classes, err = nn.Predict(ctx, model, input)
		if err != nil {
			log.Fatal().Err(err).Msg("Forward pass failed")
		}
	}
	log.Info().
		Ints("classes", classes).
		Dur("elapsed", time.Since(start)).
		Bool("remote", *remoteAddr != "").
		Msg("Forward pass complete")
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("longbow-kernels"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
