// Package simd provides unrolled scalar inner loops for the CPU kernels.
//
// Every helper accumulates strictly left to right so results are identical to
// the plain loop they replace.
package simd

// DotAccumulate returns acc + a[0]*b[0] + a[1]*b[1] + ... evaluated in index
// order. b must be at least as long as a.
func DotAccumulate(acc float64, a, b []float64) float64 {
	b = b[:len(a)]
	// The float64 conversions force each product to be rounded on its own;
	// without them the compiler may fuse the multiply and add on arm64.
	i := 0
	for ; i <= len(a)-4; i += 4 {
		acc += float64(a[i] * b[i])
		acc += float64(a[i+1] * b[i+1])
		acc += float64(a[i+2] * b[i+2])
		acc += float64(a[i+3] * b[i+3])
	}
	for ; i < len(a); i++ {
		acc += float64(a[i] * b[i])
	}
	return acc
}

// MaxAccumulate returns the largest of acc and the values in row. NaN values
// never compare greater and are skipped.
func MaxAccumulate(acc float64, row []float64) float64 {
	for _, v := range row {
		if v > acc {
			acc = v
		}
	}
	return acc
}

// VecAdd performs dst += src
func VecAdd(dst, src []float64) {
	src = src[:len(dst)]
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i]
		dst[i+1] += src[i+1]
		dst[i+2] += src[i+2]
		dst[i+3] += src[i+3]
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i]
	}
}

// ReLU clamps negative values to zero in-place.
func ReLU(data []float64) {
	for i, v := range data {
		if v < 0 {
			data[i] = 0
		}
	}
}
