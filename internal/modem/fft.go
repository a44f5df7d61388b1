package modem

import (
	"math"
	"math/cmplx"
)

// FFT computes the Discrete Fourier Transform of x.
// Power-of-two lengths use recursive radix-2 Cooley-Tukey; any other length
// falls back to the direct O(N²) sum, which is exact but slow.
// The input is never modified.
func FFT(x []complex128) []complex128 {
	n := len(x)
	if n <= 1 {
		out := make([]complex128, n)
		copy(out, x)
		return out
	}
	if !IsPowerOfTwo(n) {
		return dft(x)
	}
	return fftRadix2(x)
}

// IFFT computes the Inverse Discrete Fourier Transform as
// conj(FFT(conj(x))) / N, so IFFT(FFT(x)) == x for every length.
func IFFT(x []complex128) []complex128 {
	n := len(x)
	if n <= 1 {
		out := make([]complex128, n)
		copy(out, x)
		return out
	}

	conj := make([]complex128, n)
	for i, v := range x {
		conj[i] = cmplx.Conj(v)
	}
	out := FFT(conj)

	// Scale by 1/N
	scale := 1.0 / float64(n)
	for i, v := range out {
		out[i] = complex(real(v)*scale, -imag(v)*scale)
	}
	return out
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

func fftRadix2(x []complex128) []complex128 {
	n := len(x)
	if n == 1 {
		return []complex128{x[0]}
	}

	half := n / 2
	even := make([]complex128, half)
	odd := make([]complex128, half)
	for i := 0; i < half; i++ {
		even[i] = x[2*i]
		odd[i] = x[2*i+1]
	}
	e := fftRadix2(even)
	o := fftRadix2(odd)

	out := make([]complex128, n)
	for k := 0; k < half; k++ {
		w := cmplx.Exp(complex(0, -2*math.Pi*float64(k)/float64(n)))
		t := w * o[k]
		out[k] = e[k] + t
		out[k+half] = e[k] - t
	}
	return out
}

func dft(x []complex128) []complex128 {
	n := len(x)
	out := make([]complex128, n)
	for k := 0; k < n; k++ {
		var sum complex128
		for i, v := range x {
			// k*i mod n keeps the angle small for large inputs
			angle := -2 * math.Pi * float64((k*i)%n) / float64(n)
			sum += v * cmplx.Exp(complex(0, angle))
		}
		out[k] = sum
	}
	return out
}

// Power returns |x|², the instantaneous power of a sample.
func Power(x complex128) float64 {
	return real(x)*real(x) + imag(x)*imag(x)
}

// Energy returns the sum of instantaneous powers of all samples.
func Energy(x []complex128) float64 {
	var sum float64
	for _, v := range x {
		sum += Power(v)
	}
	return sum
}
