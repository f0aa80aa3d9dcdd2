package device

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/23skdu/longbow-kernels/internal/kernels"
	"github.com/23skdu/longbow-kernels/internal/shape"
	"github.com/23skdu/longbow-kernels/internal/tensor"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)

// CPUBackend runs the kernels on the host. Output feature maps are split
// across workers; every element is still reduced by a single goroutine in the
// canonical order, so results do not depend on the worker count.
type CPUBackend struct {
	workers int
}

// NewCPUBackend creates a backend using the given number of workers.
// workers <= 0 selects runtime.NumCPU().
func NewCPUBackend(workers int) *CPUBackend {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &CPUBackend{workers: workers}
}

func (b *CPUBackend) Name() string {
	return "CPU"
}

// Workers reports the configured parallelism.
func (b *CPUBackend) Workers() int {
	return b.workers
}

func (b *CPUBackend) MatMul(x, y *tensor.Tensor) (out *tensor.Tensor, err error) {
	start := time.Now()
	defer func() { observe("matmul", start, lenOf(out), err) }()

	if x.Rank() != 2 || y.Rank() != 2 {
		return nil, fmt.Errorf("matmul: want 2-D operands, got %v and %v: %w", x.Shape(), y.Shape(), shape.ErrShapeMismatch)
	}
	m, k := x.Dim(0), x.Dim(1)
	k2, n := y.Dim(0), y.Dim(1)
	if k != k2 {
		return nil, fmt.Errorf("matmul: inner dimensions differ, %v @ %v: %w", x.Shape(), y.Shape(), shape.ErrShapeMismatch)
	}

	// gonum parallelizes large products internally.
	data, err := kernels.MatMul(x.Data(), y.Data(), m, k, n)
	if err != nil {
		return nil, err
	}
	return tensor.FromFlat(data, m, n)
}

func (b *CPUBackend) Conv2D(input, weight, bias *tensor.Tensor) (out *tensor.Tensor, err error) {
	start := time.Now()
	defer func() { observe("conv2d", start, lenOf(out), err) }()

	if input.Rank() != 4 || weight.Rank() != 4 || bias.Rank() != 1 {
		return nil, fmt.Errorf("conv2d: want 4-D input, 4-D weight and 1-D bias, got %v, %v, %v: %w",
			input.Shape(), weight.Shape(), bias.Shape(), shape.ErrShapeMismatch)
	}
	if weight.Dim(2) != weight.Dim(3) {
		return nil, fmt.Errorf("conv2d: kernel must be square, got %v: %w", weight.Shape(), shape.ErrShapeMismatch)
	}
	if input.Dim(1) != weight.Dim(1) {
		return nil, fmt.Errorf("conv2d: input channels %d != weight channels %d: %w", input.Dim(1), weight.Dim(1), shape.ErrShapeMismatch)
	}

	g := kernels.ConvGeometry{
		Batch:       input.Dim(0),
		InChannels:  input.Dim(1),
		OutChannels: weight.Dim(0),
		Height:      input.Dim(2),
		Width:       input.Dim(3),
		Kernel:      weight.Dim(2),
	}
	in, w, bs := input.Data(), weight.Data(), bias.Data()
	if err := g.Check(in, w, bs); err != nil {
		return nil, err
	}

	dst := make([]float64, g.Planes()*g.OutHeight()*g.OutWidth())
	b.parallelPlanes(g.Planes(), func(first, last int) {
		kernels.Conv2DPlanes(dst, in, w, bs, g, first, last)
	})
	return tensor.FromFlat(dst, g.OutputShape()...)
}

func (b *CPUBackend) MaxPool2D(input *tensor.Tensor, k int) (out *tensor.Tensor, err error) {
	start := time.Now()
	defer func() { observe("maxpool2d", start, lenOf(out), err) }()

	if input.Rank() != 4 {
		return nil, fmt.Errorf("maxpool2d: want 4-D input, got %v: %w", input.Shape(), shape.ErrShapeMismatch)
	}

	g := kernels.PoolGeometry{
		Batch:    input.Dim(0),
		Channels: input.Dim(1),
		Height:   input.Dim(2),
		Width:    input.Dim(3),
		Kernel:   k,
	}
	in := input.Data()
	if err := g.Check(in); err != nil {
		return nil, err
	}

	dst := make([]float64, g.Planes()*g.OutHeight()*g.OutWidth())
	b.parallelPlanes(g.Planes(), func(first, last int) {
		kernels.MaxPool2DPlanes(dst, in, g, first, last)
	})
	return tensor.FromFlat(dst, g.OutputShape()...)
}

// parallelPlanes splits [0, planes) into contiguous ranges, one per worker.
func (b *CPUBackend) parallelPlanes(planes int, fn func(first, last int)) {
	workers := b.workers
	if workers > planes {
		workers = planes
	}
	if workers <= 1 {
		fn(0, planes)
		return
	}

	var wg sync.WaitGroup
	perWorker := (planes + workers - 1) / workers

	for w := 0; w < workers; w++ {
		first := w * perWorker
		last := first + perWorker
		if first >= planes {
			break
		}
		if last > planes {
			last = planes
		}

		wg.Add(1)
		go func(first, last int) {
			defer wg.Done()
			fn(first, last)
		}(first, last)
	}
	wg.Wait()
}

func lenOf(t *tensor.Tensor) int {
	if t == nil {
		return 0
	}
	return t.Len()
}
