package nn

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/floats"

	"github.com/23skdu/longbow-kernels/internal/shape"
	"github.com/23skdu/longbow-kernels/internal/tensor"
)

var tracer = otel.Tracer("longbow-kernels/nn")

// Sequential feeds the output of each layer into the next.
type Sequential struct {
	name   string
	layers []Layer
}

// NewSequential builds a model from layers in execution order.
func NewSequential(name string, layers ...Layer) *Sequential {
	return &Sequential{name: name, layers: layers}
}

func (s *Sequential) Name() string { return s.name }
func (s *Sequential) Type() string { return "sequential" }

// Layers returns the layers in execution order.
func (s *Sequential) Layers() []Layer { return s.layers }

// Forward runs every layer in order. It stops early when ctx is cancelled.
func (s *Sequential) Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	ctx, span := tracer.Start(ctx, s.name+".Forward")
	defer span.End()
	span.SetAttributes(attribute.String("input_shape", x.Shape().String()))

	out, err := s.forward(ctx, x)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		forwardPasses.WithLabelValues("error").Inc()
		return nil, err
	}
	forwardPasses.WithLabelValues("ok").Inc()
	return out, nil
}

func (s *Sequential) forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	for _, layer := range s.layers {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: before %s: %w", s.name, layer.Name(), err)
		}

		lctx, span := tracer.Start(ctx, layer.Name(), trace.WithAttributes(attribute.String("layer_type", layer.Type())))
		start := time.Now()
		y, err := layer.Forward(lctx, x)
		elapsed := time.Since(start)
		LayerDuration.WithLabelValues(layer.Type()).Observe(elapsed.Seconds())

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return nil, fmt.Errorf("%s: %w", layer.Name(), err)
		}
		span.SetAttributes(attribute.String("output_shape", y.Shape().String()))
		span.End()

		log.Debug().
			Str("layer", layer.Name()).
			Str("in", x.Shape().String()).
			Str("out", y.Shape().String()).
			Dur("elapsed", elapsed).
			Msg("layer forward")
		x = y
	}
	return x, nil
}

// Parameters returns the named parameters of every layer in execution order.
func (s *Sequential) Parameters() []Param {
	var params []Param
	for _, layer := range s.layers {
		if p, ok := layer.(Parameterized); ok {
			params = append(params, p.Parameters()...)
		}
	}
	return params
}

// Predict runs model on x and returns the index of the largest output of
// each row.
func Predict(ctx context.Context, model Layer, x *tensor.Tensor) ([]int, error) {
	out, err := model.Forward(ctx, x)
	if err != nil {
		return nil, err
	}
	if out.Rank() != 2 || out.Dim(1) == 0 {
		return nil, fmt.Errorf("predict: want non-empty (batch, classes) output, got %v: %w", out.Shape(), shape.ErrShapeMismatch)
	}

	cols := out.Dim(1)
	classes := make([]int, out.Dim(0))
	for r := range classes {
		classes[r] = floats.MaxIdx(out.Data()[r*cols : (r+1)*cols])
	}
	return classes, nil
}
