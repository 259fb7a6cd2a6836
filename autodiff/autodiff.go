// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package autodiff turns a generic residual function into an exact
// Jacobian evaluator by driving it with seeded jets.
//
// The residual function is written once against jet.Number and handed
// over in both of its instantiations:
//
//	func model[T jet.Number[T]](x, r []T) bool {
//		r[0] = x[0].Mul(x[1]).Shift(-2)
//		return true
//	}
//
//	sys, err := (&autodiff.Spec{
//		NumResiduals:  1,
//		NumParameters: 2,
//		Plain:         model[jet.Scalar],
//		Dual:          model[jet.Jet],
//	}).New()
//
// The resulting System exposes the dense evaluation contract consumed by
// package levmar: residual values plus an R×P column-major Jacobian.
package autodiff

import (
	"errors"

	"github.com/curioloop/leastsq/jet"
)

// Residuals maps P parameters to R residuals over any supported scalar
// type. Every output slot must be assigned; returning false aborts the
// evaluation.
type Residuals[T jet.Number[T]] func(x, r []T) bool

// DefaultStride is the seed batch width used when none is configured.
const DefaultStride = 4

// Spec describes a residual function for automatic differentiation.
type Spec struct {
	// The number of residuals R and parameters P.
	NumResiduals  int
	NumParameters int
	// Seed batch width S for Jacobian evaluation.
	// The [0,P) seed directions are processed in ⌈P/S⌉ passes, each
	// invoking Dual once and filling S Jacobian columns, trading
	// repeated evaluation for an O(R·S + P) derivative footprint.
	// Zero or negative selects DefaultStride; values above P clamp to
	// the single-pass width S = P.
	Stride int
	// Plain evaluates residual values only.
	Plain Residuals[jet.Scalar]
	// Dual evaluates residuals on jets, propagating derivatives.
	Dual Residuals[jet.Jet]
}

// New validates the spec and allocates an evaluator.
// All jet storage is sized here and reused across every evaluation.
func (s *Spec) New() (*System, error) {

	nr, np, stride := s.NumResiduals, s.NumParameters, s.Stride
	if stride <= 0 {
		stride = DefaultStride
	}
	if stride > np {
		stride = np
	}

	var err error
	switch {
	case nr <= 0 || np <= 0:
		err = errors.New("problem dimension must greater than 0")
	case s.Plain == nil:
		err = errors.New("plain residual function is required")
	case s.Dual == nil:
		err = errors.New("dual residual function is required")
	}
	if err != nil {
		return nil, err
	}

	tape := jet.NewTape(stride)
	return &System{
		nr: nr, np: np, stride: stride,
		plain: s.Plain, dual: s.Dual,
		tape: tape,
		in:   tape.Vars(np),
		out:  make([]jet.Jet, nr),
		xs:   make([]jet.Scalar, np),
		rs:   make([]jet.Scalar, nr),
	}, nil
}

// System evaluates a residual function and its Jacobian.
//
// A System owns mutable scratch state and must not be used from two
// goroutines at once; independent instances share nothing.
type System struct {
	nr, np int
	stride int
	plain  Residuals[jet.Scalar]
	dual   Residuals[jet.Jet]
	tape   *jet.Tape
	in     []jet.Jet
	out    []jet.Jet
	xs     []jet.Scalar
	rs     []jet.Scalar
}

// NumResiduals returns R.
func (s *System) NumResiduals() int { return s.nr }

// NumParameters returns P.
func (s *System) NumParameters() int { return s.np }

// Eval computes residuals at params and, when jacobian is non-nil, the
// R×P column-major Jacobian.
//
// If jacobian is nil the plain instantiation runs directly, skipping
// jets entirely. Otherwise seed directions are evaluated in strided
// passes; residual values are identical in every pass and are copied out
// only once, on the final one.
//
// A false return from the residual function during any pass, or a
// residual slot left unassigned, aborts the whole evaluation: Eval
// returns false and neither residuals nor jacobian content may be used.
func (s *System) Eval(params, residuals, jacobian []float64) bool {

	nr, np := s.nr, s.np
	if len(params) != np || len(residuals) != nr ||
		(jacobian != nil && len(jacobian) != nr*np) {
		panic("bound check error")
	}

	if jacobian == nil {
		for i, p := range params {
			s.xs[i] = jet.Scalar(p)
		}
		if !s.plain(s.xs, s.rs) {
			return false
		}
		for k, r := range s.rs {
			residuals[k] = float64(r)
		}
		return true
	}

	width := s.stride
	passes := (np + width - 1) / width
	for pass := 0; pass < passes; pass++ {
		start := pass * width
		end := min(start+width, np)

		// Zero every derivative slot, then place the identity
		// sub-block on the active seed window.
		for i := range s.in {
			dir := -1
			if i >= start && i < end {
				dir = i - start
			}
			s.in[i].Reseed(params[i], dir)
		}

		s.tape.Reset()
		for k := range s.out {
			s.out[k] = jet.Jet{} // poison unassigned slots
		}
		if !s.dual(s.in, s.out) {
			return false
		}

		for k := range s.out {
			if s.out[k].Width() != width {
				return false
			}
			for j := start; j < end; j++ {
				jacobian[j*nr+k] = s.out[k].Deriv(j - start)
			}
		}

		if pass == passes-1 {
			for k := range s.out {
				residuals[k] = s.out[k].Value()
			}
		}
	}
	return true
}
