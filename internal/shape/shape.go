// Package shape holds row-major shape arithmetic and the error kinds shared by
// every compute path.
package shape

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrShapeMismatch reports a buffer whose length differs from the product
	// of the dimensions declared for it.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrIndexOutOfBounds reports shape parameters that are internally
	// inconsistent, e.g. a convolution kernel larger than its input.
	ErrIndexOutOfBounds = errors.New("index out of bounds")
)

// Shape is the list of dimension sizes of a row-major array, last axis fastest.
type Shape []int

// NumElements returns the product of the dimensions. An empty shape is a
// scalar with one element.
func (s Shape) NumElements() (int, error) {
	return Product(s...)
}

// Equal reports whether s and other have the same rank and dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that does not share storage with s.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Product multiplies dims, failing on negative dimensions and int overflow.
func Product(dims ...int) (int, error) {
	n := 1
	for _, d := range dims {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension %d in %v: %w", d, Shape(dims), ErrIndexOutOfBounds)
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("dimensions %v overflow int: %w", Shape(dims), ErrIndexOutOfBounds)
		}
		n *= d
	}
	return n, nil
}

// CheckLen verifies that an operand of op holding got elements matches dims.
func CheckLen(op, operand string, got int, dims ...int) error {
	want, err := Product(dims...)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", op, operand, err)
	}
	if got != want {
		return fmt.Errorf("%s: %s has %d elements, want %d for shape %v: %w",
			op, operand, got, want, Shape(dims), ErrShapeMismatch)
	}
	return nil
}

// Kind names the error class of err for metrics and transport mapping.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrShapeMismatch):
		return "shape_mismatch"
	case errors.Is(err, ErrIndexOutOfBounds):
		return "index_out_of_bounds"
	default:
		return "other"
	}
}
