package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-kernels/internal/client"
	"github.com/23skdu/longbow-kernels/internal/device"
	"github.com/23skdu/longbow-kernels/internal/nn"
	"github.com/23skdu/longbow-kernels/internal/tensor"
)

var (
	// ErrBusy is returned when a request cannot be admitted within the queue
	// timeout.
	ErrBusy = errors.New("server busy")

	errNoModel = errors.New("no model loaded")
)

var tracer = otel.Tracer("longbow-kernels-server")

// Computer dispatches requests from both transports to the backend, bounding
// the number of output elements computed at once.
type Computer struct {
	backend      device.Backend
	model        nn.Layer
	sem          *semaphore.Weighted
	capacity     int64
	queueTimeout time.Duration
}

// NewComputer admits at most maxInflight output elements at a time. model
// may be nil, in which case forward requests fail.
func NewComputer(backend device.Backend, model nn.Layer, maxInflight int64, queueTimeout time.Duration) *Computer {
	if maxInflight < 1 {
		maxInflight = 1
	}
	return &Computer{
		backend:      backend,
		model:        model,
		sem:          semaphore.NewWeighted(maxInflight),
		capacity:     maxInflight,
		queueTimeout: queueTimeout,
	}
}

// Run applies req.Op to inputs, which must be ordered as req.Op.Inputs().
func (c *Computer) Run(ctx context.Context, req client.ExchangeRequest, inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	ctx, span := tracer.Start(ctx, "compute."+string(req.Op))
	defer span.End()

	names, err := req.Op.Inputs()
	if err != nil {
		return nil, err
	}
	if len(inputs) != len(names) {
		return nil, fmt.Errorf("%s: got %d tensors, want %d", req.Op, len(inputs), len(names))
	}

	weight := c.weight(req, inputs)
	span.SetAttributes(
		attribute.String("backend", c.backend.Name()),
		attribute.Int64("weight", weight),
	)

	actx, cancel := context.WithTimeout(ctx, c.queueTimeout)
	defer cancel()
	if err := c.sem.Acquire(actx, weight); err != nil {
		admissionRejected.WithLabelValues(string(req.Op)).Inc()
		return nil, fmt.Errorf("%w: %v", ErrBusy, err)
	}
	inflightWeight.Add(float64(weight))
	defer func() {
		inflightWeight.Sub(float64(weight))
		c.sem.Release(weight)
	}()

	var out *tensor.Tensor
	switch req.Op {
	case client.OpMatMul:
		out, err = c.backend.MatMul(inputs[0], inputs[1])
	case client.OpConv2D:
		out, err = c.backend.Conv2D(inputs[0], inputs[1], inputs[2])
	case client.OpMaxPool2D:
		out, err = c.backend.MaxPool2D(inputs[0], req.K)
	case client.OpForward:
		if c.model == nil {
			return nil, errNoModel
		}
		out, err = c.model.Forward(ctx, inputs[0])
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

// weight estimates the output size of a request for admission control,
// clamped to [1, capacity]. Malformed shapes get weight 1 and fail in the
// backend.
func (c *Computer) weight(req client.ExchangeRequest, inputs []*tensor.Tensor) int64 {
	var n int64
	switch req.Op {
	case client.OpMatMul:
		if inputs[0].Rank() == 2 && inputs[1].Rank() == 2 {
			n = int64(inputs[0].Dim(0)) * int64(inputs[1].Dim(1))
		}
	case client.OpConv2D:
		in, w := inputs[0], inputs[1]
		if in.Rank() == 4 && w.Rank() == 4 {
			oh := int64(in.Dim(2) - w.Dim(2) + 1)
			ow := int64(in.Dim(3) - w.Dim(3) + 1)
			if oh > 0 && ow > 0 {
				n = int64(in.Dim(0)) * int64(w.Dim(0)) * oh * ow
			}
		}
	case client.OpMaxPool2D:
		if in := inputs[0]; in.Rank() == 4 && req.K > 0 {
			n = int64(in.Dim(0)) * int64(in.Dim(1)) * int64(in.Dim(2)/req.K) * int64(in.Dim(3)/req.K)
		}
	case client.OpForward:
		n = int64(inputs[0].Len())
	}
	return max(1, min(n, c.capacity))
}
