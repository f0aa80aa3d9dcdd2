package kernels

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-kernels/internal/shape"
	"github.com/23skdu/longbow-kernels/internal/simd"
)

// PoolGeometry describes non-overlapping square max pooling over an NCHW input.
type PoolGeometry struct {
	Batch    int
	Channels int
	Height   int
	Width    int
	Kernel   int
}

// OutHeight is Height/Kernel; rows that do not fill a window are dropped.
func (g PoolGeometry) OutHeight() int { return g.Height / g.Kernel }

// OutWidth is Width/Kernel.
func (g PoolGeometry) OutWidth() int { return g.Width / g.Kernel }

// Planes is Batch*Channels.
func (g PoolGeometry) Planes() int { return g.Batch * g.Channels }

// OutputShape is (Batch, Channels, OutHeight, OutWidth).
func (g PoolGeometry) OutputShape() shape.Shape {
	return shape.Shape{g.Batch, g.Channels, g.OutHeight(), g.OutWidth()}
}

// Check validates the geometry and the input length. A window larger than the
// input is valid and yields an empty spatial dimension.
func (g PoolGeometry) Check(input []float64) error {
	if g.Kernel < 1 {
		return fmt.Errorf("maxpool2d: kernel size %d must be at least 1: %w", g.Kernel, shape.ErrIndexOutOfBounds)
	}
	return shape.CheckLen("maxpool2d", "input", len(input), g.Batch, g.Channels, g.Height, g.Width)
}

// MaxPool2DForward takes the maximum of every k×k window of a
// (batch, channels, h, w) input. The result has shape
// (batch, channels, h/k, w/k).
func MaxPool2DForward(input []float64, batch, channels, h, w, k int) ([]float64, error) {
	g := PoolGeometry{Batch: batch, Channels: channels, Height: h, Width: w, Kernel: k}
	if err := g.Check(input); err != nil {
		return nil, err
	}

	out := make([]float64, g.Planes()*g.OutHeight()*g.OutWidth())
	MaxPool2DPlanes(out, input, g, 0, g.Planes())
	return out, nil
}

// MaxPool2DPlanes pools feature maps first..last-1 into dst, the whole output
// buffer. g and input must have passed Check.
func MaxPool2DPlanes(dst, input []float64, g PoolGeometry, first, last int) {
	k := g.Kernel
	hOut, wOut := g.OutHeight(), g.OutWidth()
	planeSize := hOut * wOut
	inPlaneSize := g.Height * g.Width

	for p := first; p < last; p++ {
		src := input[p*inPlaneSize : (p+1)*inPlaneSize]
		plane := dst[p*planeSize : (p+1)*planeSize]

		for i := 0; i < hOut; i++ {
			for j := 0; j < wOut; j++ {
				maxVal := -math.MaxFloat64
				for ki := 0; ki < k; ki++ {
					row := (i*k+ki)*g.Width + j*k
					maxVal = simd.MaxAccumulate(maxVal, src[row:row+k])
				}
				plane[i*wOut+j] = maxVal
			}
		}
	}
}
