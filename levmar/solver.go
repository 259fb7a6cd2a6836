// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package levmar

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// solvePrec is the relative tolerance for accepting a linear solve:
// the step must reproduce the right-hand side within this precision,
// otherwise the system is treated as degenerate.
const solvePrec = 1e-12

// iterDriver is the main driver for the trust-region iterations,
// responsible for managing the flow of one solve.
type iterDriver struct {
	optimizer *Optimizer
	workspace *Workspace
	x         []float64
}

// update evaluates residuals and Jacobian at the current point, forms
// the normal matrix 𝐉ᵀ𝐉 and gradient 𝐠 = 𝐉ᵀ·(-𝒓), and checks the
// first-order and residual-norm stopping conditions.
func (d *iterDriver) update() Status {
	o, w := d.optimizer, d.workspace

	if !o.fn.Eval(d.x, w.err, w.jac) {
		return EvalFailure
	}
	floats.Scale(-1, w.err)

	nr, np := o.nr, o.np
	for i := 0; i < np; i++ {
		ci := w.jac[i*nr : (i+1)*nr]
		w.g[i] = floats.Dot(ci, w.err)
		for j := i; j < np; j++ {
			v := floats.Dot(ci, w.jac[j*nr:(j+1)*nr])
			w.jtj[i*np+j] = v
			w.jtj[j*np+i] = v
		}
	}

	if floats.Norm(w.g, math.Inf(1)) < o.stop.GradientThreshold {
		return GradientTooSmall
	} else if floats.Norm(w.err, 2) < o.stop.ErrorThreshold {
		return ErrorTooSmall
	}
	return Running
}

// mainLoop is the main execution loop of the solve process: it damps
// and solves the normal equations, judges each candidate step by its
// gain ratio, and adapts the damping factor accordingly.
func (d *iterDriver) mainLoop() Result {

	o, w := d.optimizer, d.workspace
	log := &o.logger
	np := o.np

	w.iter = 0
	w.failed = 0

	status := d.update()

	// The damping factor u interpolates between a Gauss-Newton step
	// (u → 0) and a short gradient-descent step (u large); v is its
	// escalation multiplier.
	w.u, w.v = zero, zero
	if status == Running {
		w.u = o.scale * maxDiag(w.jtj, np)
		w.v = two
	}

	if log.enable(LogEval) {
		log.log("At iterate %5d    f= %12.5e    max|g|= %12.5e\n",
			0, floats.Norm(w.err, 2), floats.Norm(w.g, math.Inf(1)))
	}

	iter := 0
	for ; status == Running && iter < o.stop.MaxIterations; iter++ {

		// A + uI on a scratch copy, factored in place by the solver.
		copy(w.damped, w.jtj)
		for i := 0; i < np; i++ {
			w.damped[i*np+i] += w.u
		}

		solved := o.linear.Solve(np, w.damped, w.g, w.dx)
		if solved {
			// Degeneracy check: (𝐉ᵀ𝐉 + u𝐈)·d𝐱 must reproduce 𝐠.
			symMulVec(w.chk, w.jtj, w.dx, np)
			floats.AddScaled(w.chk, w.u, w.dx)
			solved = reproduces(w.chk, w.g)
		}

		if solved {
			dxNorm := floats.Norm(w.dx, 2)
			if dxNorm < o.stop.RelativeStepThreshold*floats.Norm(d.x, 2) {
				status = RelativeStepTooSmall
				break
			}

			floats.AddTo(w.xNew, d.x, w.dx)
			if !o.fn.Eval(w.xNew, w.fxNew, nil) {
				status = EvalFailure
				break
			}

			// Gain ratio: actual error reduction over the reduction
			// predicted by the local linear model.
			pred := zero
			for i, dx := range w.dx {
				pred += dx * (w.u*dx + w.g[i])
			}
			rho := (floats.Dot(w.err, w.err) - floats.Dot(w.fxNew, w.fxNew)) / pred

			if log.enable(LogTrace) {
				log.log("ITERATION %5d    u= %10.3e    v= %6.1f    rho= %10.3e\n", iter+1, w.u, w.v, rho)
			}

			if rho > 0 {
				// Accept the step: the linear model fits well enough.
				copy(d.x, w.xNew)
				status = d.update()
				t := two*rho - one
				w.u *= math.Max(third, one-t*t*t)
				w.v = two
				if log.enable(LogEval) {
					log.log("At iterate %5d    f= %12.5e    max|g|= %12.5e\n",
						iter+1, floats.Norm(w.err, 2), floats.Norm(w.g, math.Inf(1)))
				}
				continue
			}
		} else {
			w.failed++
			if w.u == zero || math.IsInf(w.u, 1) {
				// Escalation cannot move the damped matrix any further.
				status = SolveFailure
				break
			}
		}

		// Reject the step: either the normal equations failed to solve
		// or the local model was poor (rho ≤ 0). Escalate u to move
		// closer to gradient descent and retry.
		w.u *= w.v
		w.v *= two
	}

	if status == Running {
		status = HitMaxIterations
	}
	w.iter = iter

	res := Result{
		OK:           status.Converged(),
		ErrorNorm:    floats.Norm(w.err, 2),
		GradientNorm: floats.Norm(w.g, 2),
		Summary: Summary{
			Status:       status,
			NumIter:      iter,
			FailedSolves: w.failed,
		},
	}

	if log.enable(LogLast) {
		log.log("%s: iter=%d failed=%d |r|=%.5e |g|=%.5e\n",
			status, res.NumIter, res.FailedSolves, res.ErrorNorm, res.GradientNorm)
	}
	return res
}

// maxDiag returns the largest diagonal entry of the n×n matrix a.
func maxDiag(a []float64, n int) (m float64) {
	if n*n > len(a) {
		panic("bound check error")
	}
	m = math.Inf(-1)
	for i := 0; i < n; i++ {
		m = math.Max(m, a[i*n+i])
	}
	return
}

// symMulVec computes y = A·x for the symmetric n×n matrix a.
func symMulVec(y, a, x []float64, n int) {
	if n > len(y) || n > len(x) || n*n > len(a) {
		panic("bound check error")
	}
	for i := 0; i < n; i++ {
		y[i] = floats.Dot(a[i*n:i*n+n], x[:n])
	}
}

// reproduces reports ‖a-b‖ ≤ prec·min(‖a‖,‖b‖), the fuzzy equality used
// to decide whether a solved step actually satisfies the system.
func reproduces(a, b []float64) bool {
	if len(a) != len(b) {
		panic("bound check error")
	}
	var d2 float64
	for i := range a {
		t := a[i] - b[i]
		d2 += t * t
	}
	na, nb := floats.Dot(a, a), floats.Dot(b, b)
	return d2 <= solvePrec*solvePrec*math.Min(na, nb)
}
