package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-kernels/internal/client"
	"github.com/23skdu/longbow-kernels/internal/device"
	"github.com/23skdu/longbow-kernels/internal/nn"
	"github.com/23skdu/longbow-kernels/internal/shape"
	"github.com/23skdu/longbow-kernels/internal/tensor"
)

func startFlight(t *testing.T, c *Computer) *client.FlightClient {
	t.Helper()
	server := newFlightServer(c, client.DefaultMaxMessageBytes)
	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Shutdown)

	fc, err := client.NewFlightClient(server.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fc.Close() })
	return fc
}

func named(t *testing.T, name string, data []float64, dims ...int) client.Named {
	t.Helper()
	tt, err := tensor.New(data, dims...)
	require.NoError(t, err)
	return client.Named{Name: name, Tensor: tt}
}

func TestFlightServer_Exchange(t *testing.T) {
	backend := device.NewCPUBackend(2)
	model, err := nn.NewLeNet(backend, 11)
	require.NoError(t, err)
	fc := startFlight(t, NewComputer(backend, model, 1<<20, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("MatMul", func(t *testing.T) {
		out, err := fc.Exchange(ctx, client.ExchangeRequest{Op: client.OpMatMul}, []client.Named{
			named(t, client.TensorB, []float64{5, 6, 7, 8}, 2, 2),
			named(t, client.TensorA, []float64{1, 2, 3, 4}, 2, 2),
		})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, client.TensorOutput, out[0].Name)
		assert.Equal(t, []float64{19, 22, 43, 50}, out[0].Tensor.Data())
	})

	t.Run("MaxPool2D", func(t *testing.T) {
		input := make([]float64, 16)
		for i := range input {
			input[i] = float64(i + 1)
		}
		out, err := fc.Exchange(ctx, client.ExchangeRequest{Op: client.OpMaxPool2D, K: 2}, []client.Named{
			named(t, client.TensorInput, input, 1, 1, 4, 4),
		})
		require.NoError(t, err)
		assert.True(t, shape.Shape{1, 1, 2, 2}.Equal(out[0].Tensor.Shape()))
		assert.Equal(t, []float64{6, 8, 14, 16}, out[0].Tensor.Data())
	})

	t.Run("Forward matches local", func(t *testing.T) {
		images, err := randomImages(1, 5)
		require.NoError(t, err)
		remote, err := remotePredict(ctx, fc, images)
		require.NoError(t, err)
		local, err := nn.Predict(ctx, model, images)
		require.NoError(t, err)
		assert.Equal(t, local, remote)
	})

	t.Run("Larger than gRPC default message size", func(t *testing.T) {
		data := make([]float64, 600*600)
		for i := range data {
			data[i] = float64(i%5) - 2
		}
		a := named(t, client.TensorA, data, 600, 600)
		b := named(t, client.TensorB, data, 600, 600)
		out, err := fc.Exchange(ctx, client.ExchangeRequest{Op: client.OpMatMul}, []client.Named{a, b})
		require.NoError(t, err)
		require.Len(t, out, 1)
		want, err := backend.MatMul(a.Tensor, b.Tensor)
		require.NoError(t, err)
		assert.Equal(t, want.Data(), out[0].Tensor.Data())
	})

	t.Run("Shape mismatch", func(t *testing.T) {
		_, err := fc.Exchange(ctx, client.ExchangeRequest{Op: client.OpConv2D}, []client.Named{
			named(t, client.TensorInput, make([]float64, 16), 1, 2, 2, 4),
			named(t, client.TensorWeight, make([]float64, 4), 1, 1, 2, 2),
			named(t, client.TensorBias, []float64{0}, 1),
		})
		assert.ErrorIs(t, err, shape.ErrShapeMismatch)
	})

	t.Run("Zero window", func(t *testing.T) {
		_, err := fc.Exchange(ctx, client.ExchangeRequest{Op: client.OpMaxPool2D}, []client.Named{
			named(t, client.TensorInput, []float64{1}, 1, 1, 1, 1),
		})
		assert.ErrorIs(t, err, shape.ErrIndexOutOfBounds)
	})

	t.Run("Missing tensor", func(t *testing.T) {
		_, err := fc.Exchange(ctx, client.ExchangeRequest{Op: client.OpMatMul}, []client.Named{
			named(t, client.TensorA, []float64{1}, 1, 1),
		})
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("Unknown op", func(t *testing.T) {
		_, err := fc.Exchange(ctx, client.ExchangeRequest{Op: "softmax"}, []client.Named{
			named(t, client.TensorInput, []float64{1}, 1),
		})
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	assert.Equal(t, client.StateClosed, fc.Breaker().State())
}
