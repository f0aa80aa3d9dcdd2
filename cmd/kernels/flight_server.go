package main

import (
	"errors"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-kernels/internal/client"
	"github.com/23skdu/longbow-kernels/internal/shape"
)

// KernelFlightServer serves compute requests over Arrow Flight DoExchange.
type KernelFlightServer struct {
	flight.BaseFlightServer
	compute *Computer
	alloc   memory.Allocator
}

func NewKernelFlightServer(c *Computer) *KernelFlightServer {
	return &KernelFlightServer{
		compute: c,
		alloc:   memory.NewGoAllocator(),
	}
}

// DoExchange reads one batch of named tensors, runs the op named by the
// descriptor command and writes back a single "output" row.
func (s *KernelFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) (err error) {
	ctx, span := tracer.Start(stream.Context(), "flight.DoExchange")
	defer span.End()

	start := time.Now()
	op := "unknown"
	defer func() {
		requestDuration.WithLabelValues("flight", op, status.Code(err).String()).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
		}
	}()

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	var req client.ExchangeRequest
	if err := cbor.Unmarshal(reader.LatestFlightDescriptor().GetCmd(), &req); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode command: %v", err)
	}
	names, err := req.Op.Inputs()
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	op = string(req.Op)

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return err
		}
		return status.Error(codes.InvalidArgument, "no record batch")
	}
	named, err := client.DecodeRecordBatch(reader.Record())
	if err != nil {
		if shape.Kind(err) != "other" {
			return client.ToStatus(err)
		}
		return status.Error(codes.InvalidArgument, err.Error())
	}
	inputs, err := client.Lookup(named, names...)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	out, err := s.compute.Run(ctx, req, inputs)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			return status.Error(codes.ResourceExhausted, err.Error())
		}
		return client.ToStatus(err)
	}

	rec, err := client.NewRecordBatchBuilder(s.alloc).BuildRecordBatch([]client.Named{{Name: client.TensorOutput, Tensor: out}})
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	defer rec.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(client.TensorSchema), ipc.WithAllocator(s.alloc))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// newFlightServer sizes gRPC messages to maxMsg bytes in both directions.
func newFlightServer(c *Computer, maxMsg int) flight.Server {
	server := flight.NewServerWithMiddleware(nil,
		grpc.MaxRecvMsgSize(maxMsg),
		grpc.MaxSendMsgSize(maxMsg),
	)
	server.RegisterFlightService(NewKernelFlightServer(c))
	return server
}

func StartFlightServer(addr string, c *Computer, maxMsg int) {
	server := newFlightServer(c, maxMsg)

	if err := server.Init(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight server")
	}

	log.Info().Str("addr", addr).Msg("Starting kernels Flight server")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("Flight server failed")
	}
}
