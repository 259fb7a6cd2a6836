// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package levmar

import (
	"math"
)

// cholSolver is the default LinearSolver: an in-place dense Cholesky
// factorization A = RᵀR followed by two triangular solves. It touches
// only the caller's buffers and never allocates, which keeps the solver
// hot loop free of heap traffic.
type cholSolver struct{}

func (cholSolver) Solve(n int, a, b, x []float64) bool {
	if dpofa(a, n, n) != 0 {
		return false
	}
	copy(x[:n], b[:n])
	// RᵀR·x = b: forward substitution on Rᵀ, back substitution on R.
	if dtrsl(a, n, n, x, 1, solveUpperT) != 0 {
		return false
	}
	return dtrsl(a, n, n, x, 1, solveUpperN) == 0
}

const (
	solveUpperN = 0b01
	solveUpperT = 0b11
)

// dtrsl solves systems of the form
//
//	T * x = b or Tᵀ * x = b
//
// where T is the upper triangular matrix of order n stored in t with
// leading dimension ldt. On return b contains the solution if info is 0,
// otherwise info is the index of the first zero diagonal element of t.
func dtrsl(t []float64, ldt, n int, b []float64, ldb int, job int) (info int) {

	tn := uint(ldt * n)
	if len(t) <= 0 || len(b) <= 0 || tn > uint(len(t)) {
		panic("bound check error")
	}

	// Check for zero diagonal elements
	for idx := uint(0); idx < tn; idx += uint(1 + ldt) {
		if t[idx] == 0.0 {
			info = 1 + int(idx)/(1+ldt)
			return // Singular matrix detected
		}
	}

	switch job {
	case solveUpperN: // Solve T * x = b for T upper triangular
		b[(n-1)*ldb] /= t[(n-1)*ldt+(n-1)]
		for j := n - 2; j >= 0; j-- {
			temp := -b[(j+1)*ldb]
			daxpy(j+1, temp, t[j+1:], ldt, b, ldb)
			b[j*ldb] /= t[j*ldt+j]
		}
	case solveUpperT: // Solve trans(T) * x = b for T upper triangular
		b[0] /= t[0]
		for j := 1; j < n; j++ {
			temp := ddot(j, t[j:], ldt, b, ldb)
			b[j*ldb] = (b[j*ldb] - temp) / t[j*ldt+j]
		}
	default:
		info = -1
	}
	return
}

// dpofa factors a double precision symmetric positive definite
// matrix A = Rᵀ * R in place. Only the diagonal and upper triangle are
// used; on return the upper triangle holds R. A non-zero info signals
// that the leading minor of that order is not positive definite.
func dpofa(a []float64, lda, n int) (info int) {
	if n > len(a) {
		panic("bound check error")
	}
	for j := 0; j < n; j++ {
		info = j + 1
		s := 0.0
		for k := 0; k < j; k++ {
			t := a[k*lda+j] - ddot(k, a[k:], lda, a[j:], lda)
			t /= a[k*lda+k]
			a[k*lda+j] = t
			s += t * t
		}
		s = a[j*lda+j] - s
		if s <= 0.0 {
			return
		}
		a[j*lda+j] = math.Sqrt(s)
	}
	return 0
}

// daxpy performs constant times a strided vector plus a strided vector.
func daxpy(n int, da float64, dx []float64, incx int, dy []float64, incy int) {
	if n <= 0 || da == 0.0 {
		return
	}
	lx, ly := uint(incx*(n-1)), uint(incy*(n-1))
	if lx >= uint(len(dx)) || ly >= uint(len(dy)) {
		panic("bound check error")
	}
	ix, iy := uint(0), uint(0)
	for ix <= lx && iy <= ly {
		dy[iy] += da * dx[ix]
		ix += uint(incx)
		iy += uint(incy)
	}
}

// ddot computes the dot product of two strided vectors.
func ddot(n int, dx []float64, incx int, dy []float64, incy int) (dot float64) {
	if n <= 0 {
		return 0.0
	}
	lx, ly := uint(incx*(n-1)), uint(incy*(n-1))
	if lx >= uint(len(dx)) || ly >= uint(len(dy)) {
		panic("bound check error")
	}
	ix, iy := uint(0), uint(0)
	for ix <= lx && iy <= ly {
		dot += dx[ix] * dy[iy]
		ix += uint(incx)
		iy += uint(incy)
	}
	return dot
}
