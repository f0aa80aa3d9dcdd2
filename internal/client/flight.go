package client

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Default breaker settings for NewFlightClient.
const (
	DefaultMaxFailures    = 5
	DefaultBreakerTimeout = 5 * time.Second
)

// DefaultMaxMessageBytes bounds a single gRPC message in either direction.
// The gRPC default of 4 MiB is too small for a 600×600 matmul.
const DefaultMaxMessageBytes = 256 << 20

// FlightClient runs kernels on a remote server via Arrow Flight DoExchange.
type FlightClient struct {
	client  flight.Client
	conn    *grpc.ClientConn
	breaker *CircuitBreaker
	mem     memory.Allocator
	maxMsg  int
}

// Option configures a FlightClient.
type Option func(*FlightClient)

// WithCircuitBreaker replaces the default breaker.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(c *FlightClient) { c.breaker = cb }
}

// WithAllocator sets the allocator used for outgoing record batches.
func WithAllocator(mem memory.Allocator) Option {
	return func(c *FlightClient) { c.mem = mem }
}

// WithMaxMessageSize sets the largest message the client sends or accepts.
func WithMaxMessageSize(n int) Option {
	return func(c *FlightClient) { c.maxMsg = n }
}

// NewFlightClient creates a new Flight client connected to the given address.
func NewFlightClient(addr string, opts ...Option) (*FlightClient, error) {
	c := &FlightClient{
		breaker: NewCircuitBreaker(DefaultMaxFailures, DefaultBreakerTimeout),
		mem:     memory.NewGoAllocator(),
		maxMsg:  DefaultMaxMessageBytes,
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(c.maxMsg),
			grpc.MaxCallSendMsgSize(c.maxMsg),
		),
	)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.client = flight.NewClientFromConn(conn, nil)
	return c, nil
}

// Breaker exposes the client's circuit breaker.
func (c *FlightClient) Breaker() *CircuitBreaker { return c.breaker }

// Exchange sends tensors to the server, which applies req.Op and streams the
// resulting tensors back. Shape errors raised remotely are returned wrapping
// shape.ErrShapeMismatch or shape.ErrIndexOutOfBounds. Only transport and
// server failures count against the circuit breaker.
func (c *FlightClient) Exchange(ctx context.Context, req ExchangeRequest, tensors []Named) ([]Named, error) {
	if !c.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	out, err := c.exchange(ctx, req, tensors)
	switch {
	case err == nil:
		c.breaker.Success()
	case callerError(err):
		// The server answered, so the connection is healthy.
		c.breaker.Success()
	default:
		c.breaker.Failure()
		log.Warn().Err(err).Str("op", string(req.Op)).Stringer("breaker", c.breaker.State()).Msg("flight exchange failed")
	}
	return out, FromStatus(err)
}

func (c *FlightClient) exchange(ctx context.Context, req ExchangeRequest, tensors []Named) ([]Named, error) {
	cmd, err := cbor.Marshal(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rec, err := NewRecordBatchBuilder(c.mem).BuildRecordBatch(tensors)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if rec == nil {
		return nil, status.Error(codes.InvalidArgument, "no input tensors")
	}
	defer rec.Release()

	// Cancelling on return ends the stream on both sides when a write fails
	// part way.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.client.DoExchange(ctx)
	if err != nil {
		return nil, err
	}

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(TensorSchema))
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorCMD,
		Cmd:  cmd,
	})
	if err := writer.Write(rec); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, err
	}
	defer reader.Release()

	var result []Named
	for reader.Next() {
		named, err := DecodeRecordBatch(reader.Record())
		if err != nil {
			return nil, fmt.Errorf("decode reply: %w", err)
		}
		result = append(result, named...)
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}
