package kernels

import (
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-kernels/internal/shape"
)

// MatMul returns the m×n product of the row-major m×k matrix a and the k×n
// matrix b.
//
// The product is computed by the registered BLAS Dgemm, whose per-element
// reduction order depends only on the matrix sizes.
func MatMul(a, b []float64, m, k, n int) ([]float64, error) {
	if err := shape.CheckLen("matmul", "a", len(a), m, k); err != nil {
		return nil, err
	}
	if err := shape.CheckLen("matmul", "b", len(b), k, n); err != nil {
		return nil, err
	}
	size, err := shape.Product(m, n)
	if err != nil {
		return nil, err
	}

	out := make([]float64, size)
	// gonum rejects zero-sized matrices; the product is all zeros anyway.
	if m == 0 || k == 0 || n == 0 {
		return out, nil
	}

	c := mat.NewDense(m, n, out)
	c.Mul(mat.NewDense(m, k, a), mat.NewDense(k, n, b))
	return out, nil
}
