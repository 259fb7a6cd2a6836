// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package levmar

import (
	"gonum.org/v1/gonum/mat"
)

// MatSolver solves the damped normal equations through gonum's dense
// Cholesky factorization. It trades the strict no-allocation guarantee
// of the default solver for gonum's numerics (conditioned estimates,
// LAPACK-derived factorization), which can be the better choice when a
// solve is occasional rather than per-pixel.
//
// A MatSolver reuses its factorization storage and must not be shared
// between concurrently running workspaces.
type MatSolver struct {
	chol mat.Cholesky
}

func (m *MatSolver) Solve(n int, a, b, x []float64) bool {
	// The damped matrix is symmetric, so the column-major square
	// storage can back a SymDense directly without copying.
	sym := mat.NewSymDense(n, a)
	if !m.chol.Factorize(sym) {
		return false
	}
	dst := mat.NewVecDense(n, x)
	return m.chol.SolveVecTo(dst, mat.NewVecDense(n, b)) == nil
}
