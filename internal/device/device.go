package device

import "github.com/23skdu/longbow-kernels/internal/tensor"

// Backend runs the compute kernels on validated tensors.
type Backend interface {
	Name() string

	// MatMul multiplies a (m, k) tensor by a (k, n) tensor.
	MatMul(a, b *tensor.Tensor) (*tensor.Tensor, error)

	// Conv2D applies a valid, stride 1 convolution.
	// input is (batch, inC, h, w), weight is (outC, inC, k, k), bias is (outC).
	Conv2D(input, weight, bias *tensor.Tensor) (*tensor.Tensor, error)

	// MaxPool2D pools non-overlapping k×k windows of a (batch, c, h, w) input.
	MaxPool2D(input *tensor.Tensor, k int) (*tensor.Tensor, error)
}
