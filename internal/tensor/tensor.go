// Package tensor provides a flat float64 buffer bundled with a shape that is
// validated once, at construction.
package tensor

import (
	"fmt"

	"github.com/23skdu/longbow-kernels/internal/shape"
)

// Tensor is a row-major float64 array. The zero value is not usable; build
// tensors with New, Zeros or FromFlat.
type Tensor struct {
	shape shape.Shape
	data  []float64
}

// New copies data into a tensor of the given shape. It fails with
// shape.ErrShapeMismatch when len(data) differs from the product of dims.
func New(data []float64, dims ...int) (*Tensor, error) {
	t, err := FromFlat(data, dims...)
	if err != nil {
		return nil, err
	}
	t.data = append([]float64(nil), data...)
	if t.data == nil {
		t.data = []float64{}
	}
	return t, nil
}

// FromFlat wraps data without copying. The caller gives up ownership of data.
func FromFlat(data []float64, dims ...int) (*Tensor, error) {
	if err := shape.CheckLen("tensor", "data", len(data), dims...); err != nil {
		return nil, err
	}
	return &Tensor{shape: shape.Shape(dims).Clone(), data: data}, nil
}

// Zeros allocates a zero-filled tensor.
func Zeros(dims ...int) (*Tensor, error) {
	n, err := shape.Product(dims...)
	if err != nil {
		return nil, fmt.Errorf("tensor: %w", err)
	}
	return &Tensor{shape: shape.Shape(dims).Clone(), data: make([]float64, n)}, nil
}

// Shape returns a copy of the dimensions.
func (t *Tensor) Shape() shape.Shape { return t.shape.Clone() }

// Dim returns the size of axis i.
func (t *Tensor) Dim(i int) int { return t.shape[i] }

// Rank is the number of axes.
func (t *Tensor) Rank() int { return len(t.shape) }

// Len is the number of elements.
func (t *Tensor) Len() int { return len(t.data) }

// Data returns the backing slice. Callers must not modify it unless they own
// the tensor.
func (t *Tensor) Data() []float64 { return t.data }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: t.shape.Clone(), data: append([]float64{}, t.data...)}
}

// Reshape returns a tensor sharing t's data with a new shape of equal size.
func (t *Tensor) Reshape(dims ...int) (*Tensor, error) {
	if err := shape.CheckLen("reshape", t.shape.String(), len(t.data), dims...); err != nil {
		return nil, err
	}
	return &Tensor{shape: shape.Shape(dims).Clone(), data: t.data}, nil
}

// At returns the element at the given multi-index.
func (t *Tensor) At(idx ...int) (float64, error) {
	off, err := t.offset(idx)
	if err != nil {
		return 0, err
	}
	return t.data[off], nil
}

func (t *Tensor) offset(idx []int) (int, error) {
	if len(idx) != len(t.shape) {
		return 0, fmt.Errorf("tensor: index %v has rank %d, want %d: %w", idx, len(idx), len(t.shape), shape.ErrIndexOutOfBounds)
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			return 0, fmt.Errorf("tensor: index %v out of range for shape %v: %w", idx, t.shape, shape.ErrIndexOutOfBounds)
		}
		off = off*t.shape[i] + v
	}
	return off, nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.shape)
}
