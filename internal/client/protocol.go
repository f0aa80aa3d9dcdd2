package client

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-kernels/internal/shape"
)

// Op names a remote computation.
type Op string

const (
	OpMatMul    Op = "matmul"
	OpConv2D    Op = "conv2d"
	OpMaxPool2D Op = "maxpool2d"
	OpForward   Op = "forward"
)

// Tensor row names used by each op.
const (
	TensorA      = "a"
	TensorB      = "b"
	TensorInput  = "input"
	TensorWeight = "weight"
	TensorBias   = "bias"
	TensorOutput = "output"
)

// ExchangeRequest is carried CBOR-encoded in the flight descriptor command of
// a DoExchange call.
type ExchangeRequest struct {
	Op Op `cbor:"op"`
	// K is the pooling window for OpMaxPool2D.
	K int `cbor:"k,omitempty"`
}

// Inputs lists the tensor names op expects, in order.
func (op Op) Inputs() ([]string, error) {
	switch op {
	case OpMatMul:
		return []string{TensorA, TensorB}, nil
	case OpConv2D:
		return []string{TensorInput, TensorWeight, TensorBias}, nil
	case OpMaxPool2D, OpForward:
		return []string{TensorInput}, nil
	default:
		return nil, fmt.Errorf("unknown op %q", op)
	}
}

// ToStatus maps compute errors onto gRPC status codes.
func ToStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, shape.ErrShapeMismatch):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, shape.ErrIndexOutOfBounds):
		return status.Error(codes.OutOfRange, err.Error())
	default:
		if _, ok := status.FromError(err); ok {
			return err
		}
		return status.Error(codes.Internal, err.Error())
	}
}

// FromStatus restores the shape error kinds carried by a gRPC status.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return err
	}
	switch st.Code() {
	case codes.FailedPrecondition:
		return fmt.Errorf("remote: %s: %w", st.Message(), shape.ErrShapeMismatch)
	case codes.OutOfRange:
		return fmt.Errorf("remote: %s: %w", st.Message(), shape.ErrIndexOutOfBounds)
	default:
		return err
	}
}

// callerError reports whether err was caused by the request rather than by
// the transport or server health. An oversized message is the request's
// fault even though gRPC reports it as ResourceExhausted.
func callerError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange, codes.Canceled:
		return true
	case codes.ResourceExhausted:
		return messageTooLarge(err)
	}
	return errors.Is(err, shape.ErrShapeMismatch) || errors.Is(err, shape.ErrIndexOutOfBounds)
}

func messageTooLarge(err error) bool {
	st, _ := status.FromError(err)
	return strings.Contains(st.Message(), "message larger than max")
}
