//go:build ignore

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-kernels/internal/client"
	"github.com/23skdu/longbow-kernels/internal/tensor"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := "localhost:9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	log.Info().Str("addr", addr).Msg("Connecting to kernels Flight server")

	c, err := client.NewFlightClient(addr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create client")
	}
	defer c.Close()

	a, _ := tensor.New([]float64{1, 2, 3, 4}, 2, 2)
	b, _ := tensor.New([]float64{5, 6, 7, 8}, 2, 2)
	want := []float64{19, 22, 43, 50}

	// The server may still be starting; retry transport failures.
	var out []client.Named
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		out, err = c.Exchange(ctx, client.ExchangeRequest{Op: client.OpMatMul}, []client.Named{
			{Name: client.TensorA, Tensor: a},
			{Name: client.TensorB, Tensor: b},
		})
		cancel()
		if err == nil {
			break
		}
		log.Warn().Err(err).Msg("Exchange failed, retrying...")
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Exchange failed after retries")
	}

	got, err := client.Lookup(out, client.TensorOutput)
	if err != nil {
		log.Fatal().Err(err).Msg("Bad reply")
	}
	for i, v := range got[0].Data() {
		if v != want[i] {
			log.Fatal().Int("index", i).Float64("got", v).Float64("want", want[i]).Msg("Value mismatch")
		}
	}

	fmt.Println("VERIFICATION PASSED")
}
