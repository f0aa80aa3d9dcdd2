package nn

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/23skdu/longbow-kernels/internal/device"
	"github.com/23skdu/longbow-kernels/internal/shape"
	"github.com/23skdu/longbow-kernels/internal/tensor"
)

func mustTensor(t *testing.T, data []float64, dims ...int) *tensor.Tensor {
	t.Helper()
	x, err := tensor.New(data, dims...)
	require.NoError(t, err)
	return x
}

func randomImages(t *testing.T, batch int, seed uint64) *tensor.Tensor {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed+1))
	x, err := tensor.Zeros(batch, LeNetChannels, LeNetHeight, LeNetWidth)
	require.NoError(t, err)
	for i := range x.Data() {
		x.Data()[i] = rng.Float64()
	}
	return x
}

func TestLinear_Forward(t *testing.T) {
	backend := device.NewCPUBackend(1)
	l := &Linear{
		name:    "fc",
		backend: backend,
		Weight:  mustTensor(t, []float64{1, 2, 3, 4, 5, 6}, 3, 2),
		Bias:    mustTensor(t, []float64{10, 20}, 2),
	}

	// [1 1 1] · W = [9 12], + b = [19 32]
	// [1 0 2] · W = [11 14], + b = [21 34]
	out, err := l.Forward(context.Background(), mustTensor(t, []float64{1, 1, 1, 1, 0, 2}, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, shape.Shape{2, 2}, out.Shape())
	assert.Equal(t, []float64{19, 32, 21, 34}, out.Data())

	_, err = l.Forward(context.Background(), mustTensor(t, []float64{1, 2}, 1, 2))
	assert.ErrorIs(t, err, shape.ErrShapeMismatch)
}

func TestReLU_DoesNotMutateInput(t *testing.T) {
	x := mustTensor(t, []float64{-1, 2, -3, 4}, 2, 2)
	out, err := NewReLU("relu").Forward(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 2, 0, 4}, out.Data())
	assert.Equal(t, []float64{-1, 2, -3, 4}, x.Data())
}

func TestSoftmax_RowsSumToOne(t *testing.T) {
	x := mustTensor(t, []float64{1, 2, 3, 1000, 1000, 1000}, 2, 3)
	out, err := NewSoftmax("softmax").Forward(context.Background(), x)
	require.NoError(t, err)

	data := out.Data()
	assert.InDelta(t, 1.0, floats.Sum(data[:3]), 1e-12)
	assert.InDelta(t, 1.0, floats.Sum(data[3:]), 1e-12)
	assert.True(t, data[0] < data[1] && data[1] < data[2])
	for _, v := range data[3:] {
		assert.InDelta(t, 1.0/3, v, 1e-12)
	}
}

func TestFlatten(t *testing.T) {
	x := mustTensor(t, make([]float64, 2*3*2*2), 2, 3, 2, 2)
	out, err := NewFlatten("flatten").Forward(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, shape.Shape{2, 12}, out.Shape())

	empty, err := tensor.Zeros(0, 3, 2)
	require.NoError(t, err)
	out, err = NewFlatten("flatten").Forward(context.Background(), empty)
	require.NoError(t, err)
	assert.Equal(t, shape.Shape{0, 6}, out.Shape())
}

func TestConv2DAndPool_Layers(t *testing.T) {
	backend := device.NewCPUBackend(2)
	conv, err := NewConv2D("conv", backend, 1, 1, 1, rand.NewPCG(1, 1))
	require.NoError(t, err)
	conv.Weight.Data()[0] = 1

	data := make([]float64, 16)
	for i := range data {
		data[i] = float64(i + 1)
	}
	x := mustTensor(t, data, 1, 1, 4, 4)

	y, err := conv.Forward(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, data, y.Data())

	pooled, err := NewMaxPool2D("pool", backend, 2).Forward(context.Background(), y)
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 8, 14, 16}, pooled.Data())
}

func TestNewConv2D_InitRange(t *testing.T) {
	conv, err := NewConv2D("conv", device.NewCPUBackend(1), 3, 4, 3, rand.NewPCG(5, 5))
	require.NoError(t, err)

	limit := 0.2721655269759087 // sqrt(2/27)
	for _, v := range conv.Weight.Data() {
		assert.True(t, v >= -limit && v <= limit, "weight %v outside ±%v", v, limit)
	}
	assert.Equal(t, make([]float64, 4), conv.Bias.Data())
}

func TestLeNet_Forward(t *testing.T) {
	model, err := NewLeNet(device.NewCPUBackend(0), 7)
	require.NoError(t, err)

	out, err := model.Forward(context.Background(), randomImages(t, 3, 1))
	require.NoError(t, err)
	require.Equal(t, shape.Shape{3, LeNetClasses}, out.Shape())
	for r := 0; r < 3; r++ {
		assert.InDelta(t, 1.0, floats.Sum(out.Data()[r*LeNetClasses:(r+1)*LeNetClasses]), 1e-9)
	}

	classes, err := Predict(context.Background(), model, randomImages(t, 3, 1))
	require.NoError(t, err)
	require.Len(t, classes, 3)
	for r, c := range classes {
		assert.Equal(t, floats.MaxIdx(out.Data()[r*LeNetClasses:(r+1)*LeNetClasses]), c)
	}
}

func TestLeNet_Deterministic(t *testing.T) {
	a, err := NewLeNet(device.NewCPUBackend(1), 11)
	require.NoError(t, err)
	b, err := NewLeNet(device.NewCPUBackend(4), 11)
	require.NoError(t, err)

	x := randomImages(t, 2, 3)
	outA, err := a.Forward(context.Background(), x)
	require.NoError(t, err)
	outB, err := b.Forward(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, outA.Data(), outB.Data())
}

func TestLeNet_Parameters(t *testing.T) {
	model, err := NewLeNet(device.NewCPUBackend(1), 1)
	require.NoError(t, err)

	var names []string
	for _, p := range model.Parameters() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{
		"conv1.weight", "conv1.bias",
		"conv2.weight", "conv2.bias",
		"fc1.weight", "fc1.bias",
		"fc2.weight", "fc2.bias",
		"fc3.weight", "fc3.bias",
	}, names)

	assert.Equal(t, shape.Shape{6, 1, 5, 5}, model.Parameters()[0].Tensor.Shape())
	assert.Equal(t, shape.Shape{256, 120}, model.Parameters()[4].Tensor.Shape())
}

func TestSequential_WrongInputShape(t *testing.T) {
	model, err := NewLeNet(device.NewCPUBackend(1), 1)
	require.NoError(t, err)

	x := mustTensor(t, make([]float64, 3*3), 1, 1, 3, 3)
	_, err = model.Forward(context.Background(), x)
	assert.ErrorIs(t, err, shape.ErrIndexOutOfBounds)
	assert.Contains(t, err.Error(), "conv1")
}

func TestSequential_Cancelled(t *testing.T) {
	model, err := NewLeNet(device.NewCPUBackend(1), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = model.Forward(ctx, randomImages(t, 1, 1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPredict_RejectsNonMatrix(t *testing.T) {
	model := NewSequential("id", NewReLU("relu"))
	_, err := Predict(context.Background(), model, mustTensor(t, []float64{1, 2, 3}, 3))
	assert.ErrorIs(t, err, shape.ErrShapeMismatch)
}
