package shape

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduct(t *testing.T) {
	tests := []struct {
		name string
		dims []int
		want int
		err  error
	}{
		{"scalar", nil, 1, nil},
		{"matrix", []int{2, 3}, 6, nil},
		{"nchw", []int{2, 3, 4, 5}, 120, nil},
		{"zero dim", []int{4, 0, 3}, 0, nil},
		{"negative", []int{2, -1}, 0, ErrIndexOutOfBounds},
		{"overflow", []int{math.MaxInt, 2}, 0, ErrIndexOutOfBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Product(tt.dims...)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShape(t *testing.T) {
	s := Shape{1, 1, 4, 4}
	n, err := s.NumElements()
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, "[1 1 4 4]", s.String())
	assert.True(t, s.Equal(Shape{1, 1, 4, 4}))
	assert.False(t, s.Equal(Shape{1, 4, 4}))
	assert.False(t, s.Equal(Shape{1, 1, 4, 5}))

	c := s.Clone()
	c[0] = 9
	assert.Equal(t, 1, s[0])
}

func TestCheckLen(t *testing.T) {
	assert.NoError(t, CheckLen("matmul", "a", 6, 2, 3))

	err := CheckLen("matmul", "a", 5, 2, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Contains(t, err.Error(), "matmul: a has 5 elements, want 6")

	err = CheckLen("conv2d", "input", 0, -1, 3)
	assert.ErrorIs(t, err, ErrIndexOutOfBounds)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "shape_mismatch", Kind(CheckLen("op", "x", 1, 2)))
	_, err := Shape{-1}.NumElements()
	assert.Equal(t, "index_out_of_bounds", Kind(err))
	assert.Equal(t, "other", Kind(errors.New("boom")))
}
