// Package kernels implements the CPU compute kernels used by forward passes:
// dense matrix multiplication, valid 2-D convolution and non-overlapping 2-D
// max pooling.
//
// All kernels operate on flat row-major float64 buffers whose shapes are
// passed explicitly. They never write to or retain their inputs and always
// return a freshly allocated output, or a nil slice and an error wrapping
// shape.ErrShapeMismatch or shape.ErrIndexOutOfBounds.
//
// Accumulation order for one convolution output element is fixed: a scalar
// starts at bias[oc], then input channels are visited outermost, kernel rows
// next and kernel columns innermost. Each product is rounded to float64 before
// it is added, so results are bit-identical across runs and across any split
// of the output planes between goroutines.
package kernels
