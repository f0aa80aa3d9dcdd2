// Package nn composes the compute kernels into forward-only network layers.
package nn

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/23skdu/longbow-kernels/internal/device"
	"github.com/23skdu/longbow-kernels/internal/shape"
	"github.com/23skdu/longbow-kernels/internal/simd"
	"github.com/23skdu/longbow-kernels/internal/tensor"
)

// Layer is one step of a forward pass.
type Layer interface {
	// Name identifies the layer instance, e.g. "conv1".
	Name() string
	// Type is the layer kind used as a metric label, e.g. "conv2d".
	Type() string
	Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error)
}

// Param is a named learnable tensor.
type Param struct {
	Name   string
	Tensor *tensor.Tensor
}

// Parameterized is implemented by layers that own weights.
type Parameterized interface {
	Parameters() []Param
}

// Conv2D is a valid, stride 1 convolution layer.
type Conv2D struct {
	name    string
	backend device.Backend

	Weight *tensor.Tensor // (out, in, k, k)
	Bias   *tensor.Tensor // (out)
}

// NewConv2D creates a convolution with He-uniform weights in
// ±sqrt(2/(in*k*k)) and zero bias.
func NewConv2D(name string, backend device.Backend, in, out, k int, src rand.Source) (*Conv2D, error) {
	weight, err := tensor.Zeros(out, in, k, k)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	bias, err := tensor.Zeros(out)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	if fanIn := in * k * k; fanIn > 0 {
		limit := math.Sqrt(2.0 / float64(fanIn))
		dist := distuv.Uniform{Min: -limit, Max: limit, Src: src}
		for i := range weight.Data() {
			weight.Data()[i] = dist.Rand()
		}
	}

	return &Conv2D{name: name, backend: backend, Weight: weight, Bias: bias}, nil
}

func (c *Conv2D) Name() string { return c.name }
func (c *Conv2D) Type() string { return "conv2d" }

func (c *Conv2D) Forward(_ context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	return c.backend.Conv2D(x, c.Weight, c.Bias)
}

func (c *Conv2D) Parameters() []Param {
	return []Param{
		{Name: c.name + ".weight", Tensor: c.Weight},
		{Name: c.name + ".bias", Tensor: c.Bias},
	}
}

// MaxPool2D pools non-overlapping square windows.
type MaxPool2D struct {
	name       string
	backend    device.Backend
	KernelSize int
}

func NewMaxPool2D(name string, backend device.Backend, k int) *MaxPool2D {
	return &MaxPool2D{name: name, backend: backend, KernelSize: k}
}

func (p *MaxPool2D) Name() string { return p.name }
func (p *MaxPool2D) Type() string { return "maxpool2d" }

func (p *MaxPool2D) Forward(_ context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	return p.backend.MaxPool2D(x, p.KernelSize)
}

// Linear computes x·W + b for a (batch, in) input, with W stored (in, out).
type Linear struct {
	name    string
	backend device.Backend

	Weight *tensor.Tensor // (in, out)
	Bias   *tensor.Tensor // (out)
}

// NewLinear creates a dense layer with N(0, 0.01²) weights and zero bias.
func NewLinear(name string, backend device.Backend, in, out int, src rand.Source) (*Linear, error) {
	weight, err := tensor.Zeros(in, out)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	bias, err := tensor.Zeros(out)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	dist := distuv.Normal{Mu: 0, Sigma: 0.01, Src: src}
	for i := range weight.Data() {
		weight.Data()[i] = dist.Rand()
	}

	return &Linear{name: name, backend: backend, Weight: weight, Bias: bias}, nil
}

func (l *Linear) Name() string { return l.name }
func (l *Linear) Type() string { return "linear" }

func (l *Linear) Forward(_ context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := l.backend.MatMul(x, l.Weight)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.name, err)
	}
	if l.Bias.Rank() != 1 || l.Bias.Len() != y.Dim(1) {
		return nil, fmt.Errorf("%s: bias %v does not match output %v: %w", l.name, l.Bias.Shape(), y.Shape(), shape.ErrShapeMismatch)
	}

	cols := y.Dim(1)
	data := y.Data()
	for r := 0; r < y.Dim(0); r++ {
		simd.VecAdd(data[r*cols:(r+1)*cols], l.Bias.Data())
	}
	return y, nil
}

func (l *Linear) Parameters() []Param {
	return []Param{
		{Name: l.name + ".weight", Tensor: l.Weight},
		{Name: l.name + ".bias", Tensor: l.Bias},
	}
}

// Flatten collapses every axis after the first: (batch, ...) -> (batch, rest).
type Flatten struct{ name string }

func NewFlatten(name string) *Flatten { return &Flatten{name: name} }

func (f *Flatten) Name() string { return f.name }
func (f *Flatten) Type() string { return "flatten" }

func (f *Flatten) Forward(_ context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() < 1 {
		return nil, fmt.Errorf("%s: cannot flatten a scalar: %w", f.name, shape.ErrShapeMismatch)
	}
	batch := x.Dim(0)
	rest := 0
	if batch > 0 {
		rest = x.Len() / batch
	} else if n, err := shape.Shape(x.Shape()[1:]).NumElements(); err == nil {
		rest = n
	}
	return x.Reshape(batch, rest)
}

// ReLU returns max(x, 0) element-wise.
type ReLU struct{ name string }

func NewReLU(name string) *ReLU { return &ReLU{name: name} }

func (r *ReLU) Name() string { return r.name }
func (r *ReLU) Type() string { return "relu" }

func (r *ReLU) Forward(_ context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x.Clone()
	simd.ReLU(out.Data())
	return out, nil
}

// Softmax normalizes over the last axis.
type Softmax struct{ name string }

func NewSoftmax(name string) *Softmax { return &Softmax{name: name} }

func (s *Softmax) Name() string { return s.name }
func (s *Softmax) Type() string { return "softmax" }

func (s *Softmax) Forward(_ context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() < 1 {
		return nil, fmt.Errorf("%s: softmax needs at least one axis: %w", s.name, shape.ErrShapeMismatch)
	}
	out := x.Clone()
	cols := x.Dim(x.Rank() - 1)
	if cols == 0 {
		return out, nil
	}

	data := out.Data()
	for off := 0; off < len(data); off += cols {
		row := data[off : off+cols]
		peak := floats.Max(row)
		for i, v := range row {
			row[i] = math.Exp(v - peak)
		}
		floats.Scale(1/floats.Sum(row), row)
	}
	return out, nil
}
