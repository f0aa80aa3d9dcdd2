package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/23skdu/longbow-kernels/internal/client"
	"github.com/23skdu/longbow-kernels/internal/device"
	"github.com/23skdu/longbow-kernels/internal/nn"
	"github.com/23skdu/longbow-kernels/internal/tensor"
)

// randomTensor fills a tensor with U(0, 1) samples.
func randomTensor(src rand.Source, dims ...int) (*tensor.Tensor, error) {
	t, err := tensor.Zeros(dims...)
	if err != nil {
		return nil, err
	}
	u := distuv.Uniform{Min: 0, Max: 1, Src: src}
	data := t.Data()
	for i := range data {
		data[i] = u.Rand()
	}
	return t, nil
}

// randomImages returns a batch of LeNet-shaped inputs.
func randomImages(batch int, seed uint64) (*tensor.Tensor, error) {
	return randomTensor(rand.NewPCG(seed, seed+1), batch, nn.LeNetChannels, nn.LeNetHeight, nn.LeNetWidth)
}

func runBench(ctx context.Context, backend device.Backend, model nn.Layer, n int, seed uint64) error {
	src := rand.NewPCG(seed, seed+1)
	a, err := randomTensor(src, n, n)
	if err != nil {
		return err
	}
	b, err := randomTensor(src, n, n)
	if err != nil {
		return err
	}

	start := time.Now()
	out, err := backend.MatMul(a, b)
	if err != nil {
		return fmt.Errorf("matmul: %w", err)
	}
	elapsed := time.Since(start)
	log.Info().
		Int("n", n).
		Dur("elapsed", elapsed).
		Float64("gflops", 2*float64(n)*float64(n)*float64(n)/elapsed.Seconds()/1e9).
		Float64("checksum", floats.Sum(out.Data())).
		Msg("MatMul benchmark")

	images, err := randomImages(n, seed)
	if err != nil {
		return err
	}
	start = time.Now()
	classes, err := nn.Predict(ctx, model, images)
	if err != nil {
		return fmt.Errorf("forward: %w", err)
	}
	elapsed = time.Since(start)
	log.Info().
		Int("batch", len(classes)).
		Dur("elapsed", elapsed).
		Float64("images_per_sec", float64(len(classes))/elapsed.Seconds()).
		Msg("LeNet forward benchmark")
	return nil
}

// remotePredict runs the forward pass on a Flight server and picks the most
// likely class of each row.
func remotePredict(ctx context.Context, fc *client.FlightClient, input *tensor.Tensor) ([]int, error) {
	out, err := fc.Exchange(ctx, client.ExchangeRequest{Op: client.OpForward}, []client.Named{
		{Name: client.TensorInput, Tensor: input},
	})
	if err != nil {
		return nil, err
	}
	probs, err := client.Lookup(out, client.TensorOutput)
	if err != nil {
		return nil, err
	}
	p := probs[0]
	if p.Rank() != 2 || p.Dim(1) == 0 {
		return nil, fmt.Errorf("unexpected output shape %v", p.Shape())
	}
	classes := make([]int, p.Dim(0))
	for r := range classes {
		classes[r] = floats.MaxIdx(p.Data()[r*p.Dim(1) : (r+1)*p.Dim(1)])
	}
	return classes, nil
}
