package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/23skdu/longbow-kernels/internal/client"
	"github.com/23skdu/longbow-kernels/internal/shape"
	"github.com/23skdu/longbow-kernels/internal/tensor"
)

var (
	errBadRequest = errors.New("bad request")
	errTooLarge   = errors.New("request body too large")
)

// CBOR request bodies. Each mirrors the flat kernel contract: row-major
// buffers plus explicit dimensions.
type (
	MatMulRequest struct {
		A []float64 `cbor:"a"`
		B []float64 `cbor:"b"`
		M int       `cbor:"m"`
		K int       `cbor:"k"`
		N int       `cbor:"n"`
	}

	Conv2DRequest struct {
		Input       []float64 `cbor:"input"`
		Weight      []float64 `cbor:"weight"`
		Bias        []float64 `cbor:"bias"`
		Batch       int       `cbor:"batch"`
		InChannels  int       `cbor:"in_channels"`
		OutChannels int       `cbor:"out_channels"`
		Height      int       `cbor:"height"`
		Width       int       `cbor:"width"`
		Kernel      int       `cbor:"kernel"`
	}

	MaxPool2DRequest struct {
		Input    []float64 `cbor:"input"`
		Batch    int       `cbor:"batch"`
		Channels int       `cbor:"channels"`
		Height   int       `cbor:"height"`
		Width    int       `cbor:"width"`
		Kernel   int       `cbor:"kernel"`
	}

	// TensorBody is both the forward request and every response.
	TensorBody struct {
		Shape []int     `cbor:"shape"`
		Data  []float64 `cbor:"data"`
	}
)

// Server exposes the Computer over HTTP with CBOR bodies.
type Server struct {
	compute *Computer
	maxBody int64
	decMode cbor.DecMode
}

// NewServer caps request bodies at maxBody bytes. The CBOR array limit is
// raised to match, since every element takes at least one byte; without it
// fxamacker's default of 131072 elements rejects a 400×400 matmul.
func NewServer(c *Computer, maxBody int64) (*Server, error) {
	if maxBody < 1 {
		maxBody = client.DefaultMaxMessageBytes
	}
	dm, err := cbor.DecOptions{
		MaxArrayElements: int(min(max(maxBody, 16), math.MaxInt32)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decode options: %w", err)
	}
	return &Server{compute: c, maxBody: maxBody, decMode: dm}, nil
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/matmul", s.handle(client.OpMatMul, parseMatMul))
	mux.HandleFunc("/v1/conv2d", s.handle(client.OpConv2D, parseConv2D))
	mux.HandleFunc("/v1/maxpool2d", s.handle(client.OpMaxPool2D, parseMaxPool2D))
	mux.HandleFunc("/v1/forward", s.handle(client.OpForward, parseForward))
	return mux
}

func startServer(addr string, srv *Server) {
	log.Info().Str("addr", addr).Msg("Starting kernels HTTP server")
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// decodeFunc decodes a request body into v.
type decodeFunc func(v any) error

type parseFunc func(decode decodeFunc) (client.ExchangeRequest, []*tensor.Tensor, error)

func (s *Server) handle(op client.Op, parse parseFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "http."+string(op))
		defer span.End()

		start := time.Now()
		code := http.StatusOK
		defer func() {
			requestDuration.WithLabelValues("http", string(op), strconv.Itoa(code)).Observe(time.Since(start).Seconds())
		}()

		if r.Method != http.MethodPost {
			code = http.StatusMethodNotAllowed
			http.Error(w, "Method not allowed", code)
			return
		}

		req, inputs, err := parse(s.body(w, r))
		if err == nil {
			var out *tensor.Tensor
			if out, err = s.compute.Run(ctx, req, inputs); err == nil {
				span.SetAttributes(attribute.Int("output_elements", out.Len()))
				w.Header().Set("Content-Type", "application/cbor")
				if err := cbor.NewEncoder(w).Encode(TensorBody{Shape: out.Shape(), Data: out.Data()}); err != nil {
					log.Warn().Err(err).Str("op", string(op)).Msg("Failed to write response")
				}
				return
			}
		}

		code = httpStatus(err)
		span.RecordError(err)
		if code >= http.StatusInternalServerError {
			log.Error().Err(err).Str("op", string(op)).Msg("Request failed")
		}
		http.Error(w, err.Error(), code)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrBusy):
		return http.StatusServiceUnavailable
	case shape.Kind(err) == "shape_mismatch", shape.Kind(err) == "index_out_of_bounds":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// body reads the request through a MaxBytesReader so an oversized request is
// reported as such rather than as malformed CBOR.
func (s *Server) body(w http.ResponseWriter, r *http.Request) decodeFunc {
	return func(v any) error {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return fmt.Errorf("%w: limit is %d bytes", errTooLarge, tooLarge.Limit)
			}
			return fmt.Errorf("%w: read body: %v", errBadRequest, err)
		}
		if err := s.decMode.Unmarshal(data, v); err != nil {
			return fmt.Errorf("%w: CBOR decode: %v", errBadRequest, err)
		}
		return nil
	}
}

func parseMatMul(decode decodeFunc) (client.ExchangeRequest, []*tensor.Tensor, error) {
	var body MatMulRequest
	req := client.ExchangeRequest{Op: client.OpMatMul}
	if err := decode(&body); err != nil {
		return req, nil, err
	}
	a, err := tensor.New(body.A, body.M, body.K)
	if err != nil {
		return req, nil, fmt.Errorf("matmul: a: %w", err)
	}
	b, err := tensor.New(body.B, body.K, body.N)
	if err != nil {
		return req, nil, fmt.Errorf("matmul: b: %w", err)
	}
	return req, []*tensor.Tensor{a, b}, nil
}

func parseConv2D(decode decodeFunc) (client.ExchangeRequest, []*tensor.Tensor, error) {
	var body Conv2DRequest
	req := client.ExchangeRequest{Op: client.OpConv2D}
	if err := decode(&body); err != nil {
		return req, nil, err
	}
	input, err := tensor.New(body.Input, body.Batch, body.InChannels, body.Height, body.Width)
	if err != nil {
		return req, nil, fmt.Errorf("conv2d: input: %w", err)
	}
	weight, err := tensor.New(body.Weight, body.OutChannels, body.InChannels, body.Kernel, body.Kernel)
	if err != nil {
		return req, nil, fmt.Errorf("conv2d: weight: %w", err)
	}
	bias, err := tensor.New(body.Bias, body.OutChannels)
	if err != nil {
		return req, nil, fmt.Errorf("conv2d: bias: %w", err)
	}
	return req, []*tensor.Tensor{input, weight, bias}, nil
}

func parseMaxPool2D(decode decodeFunc) (client.ExchangeRequest, []*tensor.Tensor, error) {
	var body MaxPool2DRequest
	req := client.ExchangeRequest{Op: client.OpMaxPool2D}
	if err := decode(&body); err != nil {
		return req, nil, err
	}
	req.K = body.Kernel
	input, err := tensor.New(body.Input, body.Batch, body.Channels, body.Height, body.Width)
	if err != nil {
		return req, nil, fmt.Errorf("maxpool2d: input: %w", err)
	}
	return req, []*tensor.Tensor{input}, nil
}

func parseForward(decode decodeFunc) (client.ExchangeRequest, []*tensor.Tensor, error) {
	var body TensorBody
	req := client.ExchangeRequest{Op: client.OpForward}
	if err := decode(&body); err != nil {
		return req, nil, err
	}
	input, err := tensor.New(body.Data, body.Shape...)
	if err != nil {
		return req, nil, fmt.Errorf("forward: input: %w", err)
	}
	return req, []*tensor.Tensor{input}, nil
}
