package nn

import (
	"math/rand/v2"

	"github.com/23skdu/longbow-kernels/internal/device"
)

// LeNet input geometry: single-channel 28×28 images.
const (
	LeNetChannels = 1
	LeNetHeight   = 28
	LeNetWidth    = 28
	LeNetClasses  = 10
)

// NewLeNet builds the small ConvNet used for digit classification:
//
//	conv(1→6, 5) relu pool(2) conv(6→16, 5) relu pool(2) flatten
//	linear(256→120) relu linear(120→84) relu linear(84→10) softmax
//
// Weights are drawn from a PCG source seeded with seed so models are
// reproducible.
func NewLeNet(backend device.Backend, seed uint64) (*Sequential, error) {
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)

	conv1, err := NewConv2D("conv1", backend, LeNetChannels, 6, 5, src)
	if err != nil {
		return nil, err
	}
	conv2, err := NewConv2D("conv2", backend, 6, 16, 5, src)
	if err != nil {
		return nil, err
	}
	fc1, err := NewLinear("fc1", backend, 16*4*4, 120, src)
	if err != nil {
		return nil, err
	}
	fc2, err := NewLinear("fc2", backend, 120, 84, src)
	if err != nil {
		return nil, err
	}
	fc3, err := NewLinear("fc3", backend, 84, LeNetClasses, src)
	if err != nil {
		return nil, err
	}

	return NewSequential("lenet",
		conv1, NewReLU("relu1"), NewMaxPool2D("pool1", backend, 2),
		conv2, NewReLU("relu2"), NewMaxPool2D("pool2", backend, 2),
		NewFlatten("flatten"),
		fc1, NewReLU("relu3"),
		fc2, NewReLU("relu4"),
		fc3, NewSoftmax("softmax"),
	), nil
}
