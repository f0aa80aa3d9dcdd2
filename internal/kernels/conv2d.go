package kernels

import (
	"fmt"

	"github.com/23skdu/longbow-kernels/internal/shape"
	"github.com/23skdu/longbow-kernels/internal/simd"
)

// ConvGeometry describes a valid, stride 1 convolution over an NCHW input with
// a square kernel.
type ConvGeometry struct {
	Batch       int
	InChannels  int
	OutChannels int
	Height      int
	Width       int
	Kernel      int
}

// OutHeight is Height-Kernel+1.
func (g ConvGeometry) OutHeight() int { return g.Height - g.Kernel + 1 }

// OutWidth is Width-Kernel+1.
func (g ConvGeometry) OutWidth() int { return g.Width - g.Kernel + 1 }

// Planes is the number of output feature maps, Batch*OutChannels.
func (g ConvGeometry) Planes() int { return g.Batch * g.OutChannels }

// OutputShape is (Batch, OutChannels, OutHeight, OutWidth).
func (g ConvGeometry) OutputShape() shape.Shape {
	return shape.Shape{g.Batch, g.OutChannels, g.OutHeight(), g.OutWidth()}
}

// Validate checks that the dimensions describe a computable convolution.
func (g ConvGeometry) Validate() error {
	if g.Kernel < 1 {
		return fmt.Errorf("conv2d: kernel size %d must be at least 1: %w", g.Kernel, shape.ErrIndexOutOfBounds)
	}
	if g.Height < g.Kernel || g.Width < g.Kernel {
		return fmt.Errorf("conv2d: kernel size %d larger than input %dx%d: %w",
			g.Kernel, g.Height, g.Width, shape.ErrIndexOutOfBounds)
	}
	if _, err := shape.Product(g.Batch, g.OutChannels, g.OutHeight(), g.OutWidth()); err != nil {
		return fmt.Errorf("conv2d: output: %w", err)
	}
	return nil
}

// Check validates the geometry and the lengths of all three operands.
func (g ConvGeometry) Check(input, weight, bias []float64) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if err := shape.CheckLen("conv2d", "input", len(input), g.Batch, g.InChannels, g.Height, g.Width); err != nil {
		return err
	}
	if err := shape.CheckLen("conv2d", "weight", len(weight), g.OutChannels, g.InChannels, g.Kernel, g.Kernel); err != nil {
		return err
	}
	return shape.CheckLen("conv2d", "bias", len(bias), g.OutChannels)
}

// Conv2DForward convolves a (batch, inC, h, w) input with (outC, inC, k, k)
// weights and adds bias[oc] to every position of output channel oc. The result
// has shape (batch, outC, h-k+1, w-k+1).
func Conv2DForward(input, weight, bias []float64, batch, inC, outC, h, w, k int) ([]float64, error) {
	g := ConvGeometry{Batch: batch, InChannels: inC, OutChannels: outC, Height: h, Width: w, Kernel: k}
	if err := g.Check(input, weight, bias); err != nil {
		return nil, err
	}

	out := make([]float64, g.Planes()*g.OutHeight()*g.OutWidth())
	Conv2DPlanes(out, input, weight, bias, g, 0, g.Planes())
	return out, nil
}

// Conv2DPlanes computes output feature maps first..last-1, where plane p is
// batch p/OutChannels and channel p%OutChannels, into dst. dst is the whole
// output buffer. g and the operands must have passed Check.
func Conv2DPlanes(dst, input, weight, bias []float64, g ConvGeometry, first, last int) {
	k := g.Kernel
	hOut, wOut := g.OutHeight(), g.OutWidth()
	planeSize := hOut * wOut
	inPlaneSize := g.Height * g.Width
	wPlaneSize := k * k

	for p := first; p < last; p++ {
		b, oc := p/g.OutChannels, p%g.OutChannels
		plane := dst[p*planeSize : (p+1)*planeSize]
		inBatch := input[b*g.InChannels*inPlaneSize : (b+1)*g.InChannels*inPlaneSize]
		filters := weight[oc*g.InChannels*wPlaneSize : (oc+1)*g.InChannels*wPlaneSize]

		for i := 0; i < hOut; i++ {
			for j := 0; j < wOut; j++ {
				sum := bias[oc]
				for ic := 0; ic < g.InChannels; ic++ {
					inPlane := inBatch[ic*inPlaneSize : (ic+1)*inPlaneSize]
					kernel := filters[ic*wPlaneSize : (ic+1)*wPlaneSize]
					for ki := 0; ki < k; ki++ {
						row := (i+ki)*g.Width + j
						sum = simd.DotAccumulate(sum, inPlane[row:row+k], kernel[ki*k:(ki+1)*k])
					}
				}
				plane[i*wOut+j] = sum
			}
		}
	}
}
