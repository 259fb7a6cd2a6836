// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package numdiff approximates dense Jacobians by finite differences.
//
// It serves residual functions that cannot be written generically over
// jet.Number: a plain float64 function is wrapped into the same dense
// evaluation contract that package autodiff provides, at the price of
// inexact derivatives and extra function evaluations.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
package numdiff

import (
	"errors"
	"math"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
var cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)

type Method int

const (
	// Forward use the first order accuracy forward difference.
	Forward Method = iota
	// Central use the second order accuracy central difference.
	Central
)

// Spec describes a plain residual function for numeric differentiation.
type Spec struct {
	// The number of residuals R and parameters P.
	NumResiduals  int
	NumParameters int
	// Func evaluates R residuals at a P-vector.
	// Returning false aborts the evaluation.
	Func func(x, r []float64) bool
	// Finite difference method to use.
	Method Method
	// Relative step size used to compute the absolute step size as
	// h = RelStep × sign(x₀) × |x₀|. When neither RelStep nor AbsStep
	// is provided, h = eps × sign(x₀) × max(1,|x₀|) with eps selected
	// per method (√ϵ forward, ∛ϵ central).
	RelStep float64
	// Absolute step size to use. Takes precedence over RelStep.
	AbsStep float64
}

// New validates the spec and allocates an evaluator.
// All evaluation buffers are sized here and reused.
func (s *Spec) New() (*System, error) {

	var err error
	switch {
	case s.NumResiduals <= 0 || s.NumParameters <= 0:
		err = errors.New("problem dimension must greater than 0")
	case s.Func == nil:
		err = errors.New("residual function is required")
	case s.Method != Forward && s.Method != Central:
		err = errors.New("unknown method")
	case math.IsNaN(s.RelStep) || s.RelStep < 0:
		err = errors.New("relative step must not less than 0")
	case math.IsNaN(s.AbsStep) || s.AbsStep < 0:
		err = errors.New("absolute step must not less than 0")
	}
	if err != nil {
		return nil, err
	}

	return &System{
		spec: *s,
		xw:   make([]float64, s.NumParameters),
		f0:   make([]float64, s.NumResiduals),
		f1:   make([]float64, s.NumResiduals),
		f2:   make([]float64, s.NumResiduals),
	}, nil
}

// System evaluates a residual function and a finite-difference Jacobian.
//
// A System owns mutable scratch state and must not be used from two
// goroutines at once; independent instances share nothing.
type System struct {
	spec           Spec
	xw, f0, f1, f2 []float64
}

// NumResiduals returns R.
func (d *System) NumResiduals() int { return d.spec.NumResiduals }

// NumParameters returns P.
func (d *System) NumParameters() int { return d.spec.NumParameters }

// Eval computes residuals at params and, when jacobian is non-nil, the
// R×P column-major Jacobian by differencing one parameter at a time.
// A false return from the residual function at any evaluation point
// aborts the whole evaluation and no output content may be used.
func (d *System) Eval(params, residuals, jacobian []float64) bool {

	nr, np := d.spec.NumResiduals, d.spec.NumParameters
	if len(params) != np || len(residuals) != nr ||
		(jacobian != nil && len(jacobian) != nr*np) {
		panic("bound check error")
	}

	fun := d.spec.Func
	if !fun(params, d.f0) {
		return false
	}
	copy(residuals, d.f0)
	if jacobian == nil {
		return true
	}

	x, f0, f1, f2 := d.xw, d.f0, d.f1, d.f2
	copy(x, params)
	for i := range x {
		t := x[i]
		h := d.step(t)
		if d.spec.Method == Forward {
			x[i] = t + h
			if !fun(x, f1) {
				return false
			}
			w := 1 / ((t + h) - t) // actual step after rounding
			for k := range f0 {
				jacobian[i*nr+k] = (f1[k] - f0[k]) * w
			}
		} else {
			x[i] = t - h
			if !fun(x, f1) {
				return false
			}
			x[i] = t + h
			if !fun(x, f2) {
				return false
			}
			w := 1 / ((t + h) - (t - h))
			for k := range f0 {
				jacobian[i*nr+k] = (f2[k] - f1[k]) * w
			}
		}
		x[i] = t
	}
	return true
}

// step computes the absolute step size at v.
func (d *System) step(v float64) float64 {
	eps := sqrtEps
	if d.spec.Method == Central {
		eps = cubeEps
	}
	abs, rel := d.spec.AbsStep, d.spec.RelStep
	if abs == 0 && rel == 0 {
		return math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
	}
	s := abs
	if s == 0 {
		s = math.Copysign(rel, v) * math.Abs(v)
	}
	if (v+s)-v == 0 {
		s = math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
	}
	return s
}
