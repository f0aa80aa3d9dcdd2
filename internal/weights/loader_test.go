package weights

import (
	"bytes"
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-kernels/internal/device"
	"github.com/23skdu/longbow-kernels/internal/nn"
	"github.com/23skdu/longbow-kernels/internal/shape"
	"github.com/23skdu/longbow-kernels/internal/tensor"
)

func images(t *testing.T) *tensor.Tensor {
	t.Helper()
	rng := rand.New(rand.NewPCG(1, 2))
	x, err := tensor.Zeros(2, 1, 28, 28)
	require.NoError(t, err)
	for i := range x.Data() {
		x.Data()[i] = rng.Float64()
	}
	return x
}

func TestLoader_RoundTrip(t *testing.T) {
	backend := device.NewCPUBackend(1)
	src, err := nn.NewLeNet(backend, 1)
	require.NoError(t, err)
	dst, err := nn.NewLeNet(backend, 2)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "lenet.cbor")
	require.NoError(t, NewLoader(src).Save(path))
	require.NoError(t, NewLoader(dst).Load(path))

	x := images(t)
	want, err := src.Forward(context.Background(), x)
	require.NoError(t, err)
	got, err := dst.Forward(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, want.Data(), got.Data())
}

func TestLoader_LargeParameter(t *testing.T) {
	backend := device.NewCPUBackend(1)
	build := func(seed uint64) *nn.Sequential {
		fc, err := nn.NewLinear("fc", backend, 400, 400, rand.NewPCG(seed, seed))
		require.NoError(t, err)
		return nn.NewSequential("wide", fc)
	}
	src, dst := build(1), build(2)

	// 160000 weights in one array, above the CBOR decoder's default limit.
	var buf bytes.Buffer
	require.NoError(t, NewLoader(src).Write(&buf))
	require.NoError(t, NewLoader(dst).Read(&buf))

	want, got := src.Parameters(), dst.Parameters()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Tensor.Data(), got[i].Tensor.Data(), want[i].Name)
	}
}

func TestLoader_MissingFile(t *testing.T) {
	model, err := nn.NewLeNet(device.NewCPUBackend(1), 1)
	require.NoError(t, err)

	err = NewLoader(model).Load("non_existent_file")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoader_ShapeMismatchLeavesModelUnchanged(t *testing.T) {
	model, err := nn.NewLeNet(device.NewCPUBackend(1), 1)
	require.NoError(t, err)
	before := model.Parameters()[0].Tensor.Clone()

	var buf bytes.Buffer
	require.NoError(t, NewLoader(model).Write(&buf))

	var file File
	require.NoError(t, cbor.Unmarshal(buf.Bytes(), &file))
	for name, rec := range file.Params {
		rec.Data = make([]float64, len(rec.Data))
		file.Params[name] = rec
	}
	bad := file.Params["fc3.bias"]
	bad.Shape = []int{5, 2}
	file.Params["fc3.bias"] = bad

	data, err := cbor.Marshal(file)
	require.NoError(t, err)

	err = NewLoader(model).Read(bytes.NewReader(data))
	assert.ErrorIs(t, err, shape.ErrShapeMismatch)
	assert.Contains(t, err.Error(), "fc3.bias")
	assert.Equal(t, before.Data(), model.Parameters()[0].Tensor.Data())
}

func TestLoader_MissingParam(t *testing.T) {
	model, err := nn.NewLeNet(device.NewCPUBackend(1), 1)
	require.NoError(t, err)

	data, err := cbor.Marshal(File{Version: FormatVersion, Params: map[string]Record{}})
	require.NoError(t, err)

	err = NewLoader(model).Read(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrMissingParam)
	assert.Contains(t, err.Error(), "conv1.weight")
}

func TestLoader_BadVersion(t *testing.T) {
	model, err := nn.NewLeNet(device.NewCPUBackend(1), 1)
	require.NoError(t, err)

	data, err := cbor.Marshal(File{Version: 99})
	require.NoError(t, err)
	assert.Error(t, NewLoader(model).Read(bytes.NewReader(data)))
}
