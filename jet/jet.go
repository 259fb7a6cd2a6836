// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package jet implements forward-mode automatic differentiation with
// dual numbers (jets).
//
// A jet is a truncated first-order Taylor expansion
//
//	𝒙 = a + ∑ᵢ vᵢεᵢ   (εᵢεⱼ ≡ 0)
//
// carrying a scalar value a and a derivative vector v of fixed width.
// Arithmetic on jets propagates v by the chain rule, so evaluating a
// composed function on seeded jets yields the exact directional
// derivatives along every seed direction in a single pass:
//
//	𝒇(a + vε) = 𝒇(a) + 𝒇′(a)·v ε
//
// Residual functions are written once against the Number constraint and
// instantiated at both Scalar (plain evaluation) and Jet (derivative
// evaluation).
package jet

import "math"

// Number is the operation set a differentiable function may assume about
// its scalar type. Comparisons and Value operate on the value part only,
// ignoring derivatives.
type Number[T any] interface {
	Add(T) T
	Sub(T) T
	Mul(T) T
	Div(T) T
	Neg() T
	Abs() T
	Sqrt() T
	Exp() T
	Log() T
	Sin() T
	Cos() T
	Tan() T
	Asin() T
	Acos() T
	Atan() T
	// Atan2 computes atan2(x, y) for receiver x.
	Atan2(T) T
	// Pow raises the receiver to a constant power.
	Pow(float64) T
	// Scale multiplies the receiver by a constant.
	Scale(float64) T
	// Shift adds a constant to the receiver.
	Shift(float64) T
	// Lift embeds a constant into the receiver's scalar type.
	Lift(float64) T
	Value() float64
	Less(T) bool
}

// Scalar is a plain float64 satisfying Number.
// It performs ordinary arithmetic and carries no derivatives.
type Scalar float64

func (x Scalar) Add(y Scalar) Scalar    { return x + y }
func (x Scalar) Sub(y Scalar) Scalar    { return x - y }
func (x Scalar) Mul(y Scalar) Scalar    { return x * y }
func (x Scalar) Div(y Scalar) Scalar    { return x / y }
func (x Scalar) Neg() Scalar            { return -x }
func (x Scalar) Abs() Scalar            { return Scalar(math.Abs(float64(x))) }
func (x Scalar) Sqrt() Scalar           { return Scalar(math.Sqrt(float64(x))) }
func (x Scalar) Exp() Scalar            { return Scalar(math.Exp(float64(x))) }
func (x Scalar) Log() Scalar            { return Scalar(math.Log(float64(x))) }
func (x Scalar) Sin() Scalar            { return Scalar(math.Sin(float64(x))) }
func (x Scalar) Cos() Scalar            { return Scalar(math.Cos(float64(x))) }
func (x Scalar) Tan() Scalar            { return Scalar(math.Tan(float64(x))) }
func (x Scalar) Asin() Scalar           { return Scalar(math.Asin(float64(x))) }
func (x Scalar) Acos() Scalar           { return Scalar(math.Acos(float64(x))) }
func (x Scalar) Atan() Scalar           { return Scalar(math.Atan(float64(x))) }
func (x Scalar) Atan2(y Scalar) Scalar  { return Scalar(math.Atan2(float64(x), float64(y))) }
func (x Scalar) Pow(p float64) Scalar   { return Scalar(math.Pow(float64(x), p)) }
func (x Scalar) Scale(c float64) Scalar { return x * Scalar(c) }
func (x Scalar) Shift(c float64) Scalar { return x + Scalar(c) }
func (x Scalar) Lift(c float64) Scalar  { return Scalar(c) }
func (x Scalar) Value() float64         { return float64(x) }
func (x Scalar) Less(y Scalar) bool     { return x < y }

// Jet is a dual number of fixed derivative width, satisfying Number.
//
// Every jet participating in one evaluation must come from the same Tape;
// mixing tapes (and therefore derivative widths) is a programming error
// and panics. The zero Jet is unusable and only serves as a poison value
// for unassigned outputs.
type Jet struct {
	a float64
	v []float64
	t *Tape
}

// Value returns the value part.
func (x Jet) Value() float64 { return x.a }

// Width returns the derivative width, or 0 for the zero Jet.
func (x Jet) Width() int { return len(x.v) }

// Deriv returns the i-th derivative component.
func (x Jet) Deriv(i int) float64 { return x.v[i] }

// Reseed resets the jet in place to value a with derivative eᵢ for
// 0 ≤ dir < width, or a zero derivative otherwise.
func (x *Jet) Reseed(a float64, dir int) {
	x.a = a
	v := x.v
	for i := range v {
		v[i] = 0
	}
	if dir >= 0 && dir < len(v) {
		v[dir] = 1
	}
}

// Tape owns the derivative storage for one family of jets.
//
// Temporary jets produced by arithmetic take their derivative vectors
// from a bump region that Reset rewinds; jets produced by Vars live below
// the reset floor and survive Reset. The backing only grows until the
// per-evaluation footprint is reached, after which no call allocates.
// A tape is not safe for concurrent use.
type Tape struct {
	width int
	floor int
	off   int
	buf   []float64
}

// NewTape creates a tape producing jets of the given derivative width.
func NewTape(width int) *Tape {
	if width <= 0 {
		panic("jet: tape width must be positive")
	}
	return &Tape{width: width}
}

// Width returns the derivative width of jets on this tape.
func (t *Tape) Width() int { return t.width }

// Reset releases every temporary derivative vector.
// Jets created by Vars keep their storage; all other jets obtained before
// the call must not be used afterwards.
func (t *Tape) Reset() { t.off = t.floor }

// Vars returns n zero-valued jets with pinned storage that survives Reset.
// It must be called before any arithmetic on the tape.
func (t *Tape) Vars(n int) []Jet {
	if t.off != t.floor {
		panic("jet: vars must be pinned before use")
	}
	js := make([]Jet, n)
	for i := range js {
		js[i] = Jet{v: t.grab(), t: t}
		js[i].Reseed(0, -1)
	}
	t.floor = t.off
	return js
}

// Var returns a jet with value a seeded along direction dir,
// with pinned storage that survives Reset.
func (t *Tape) Var(a float64, dir int) Jet {
	x := t.Vars(1)[0]
	x.Reseed(a, dir)
	return x
}

// Const returns a jet holding the constant a with zero derivative.
func (t *Tape) Const(a float64) Jet {
	z := Jet{a: a, v: t.grab(), t: t}
	for i := range z.v {
		z.v[i] = 0
	}
	return z
}

func (t *Tape) grab() []float64 {
	if n := t.off + t.width; n > len(t.buf) {
		t.buf = append(t.buf, make([]float64, n-len(t.buf))...)
	}
	v := t.buf[t.off : t.off+t.width : t.off+t.width]
	t.off += t.width
	return v
}

func (x Jet) fresh(a float64) Jet {
	return Jet{a: a, v: x.t.grab(), t: x.t}
}

func (x Jet) bind(y Jet) {
	if x.t == nil || x.t != y.t {
		panic("jet: operands from different tapes")
	}
}

// Add returns x + y.
func (x Jet) Add(y Jet) Jet {
	x.bind(y)
	z := x.fresh(x.a + y.a)
	for i := range z.v {
		z.v[i] = x.v[i] + y.v[i]
	}
	return z
}

// Sub returns x - y.
func (x Jet) Sub(y Jet) Jet {
	x.bind(y)
	z := x.fresh(x.a - y.a)
	for i := range z.v {
		z.v[i] = x.v[i] - y.v[i]
	}
	return z
}

// Mul returns x·y with v = a₁v₂ + a₂v₁.
func (x Jet) Mul(y Jet) Jet {
	x.bind(y)
	z := x.fresh(x.a * y.a)
	for i := range z.v {
		z.v[i] = x.a*y.v[i] + y.a*x.v[i]
	}
	return z
}

// Div returns x/y by the quotient rule v = (v₁ - (a₁/a₂)v₂)/a₂.
func (x Jet) Div(y Jet) Jet {
	x.bind(y)
	w := 1 / y.a
	z := x.fresh(x.a * w)
	for i := range z.v {
		z.v[i] = (x.v[i] - z.a*y.v[i]) * w
	}
	return z
}

// Neg returns -x.
func (x Jet) Neg() Jet {
	z := x.fresh(-x.a)
	for i := range z.v {
		z.v[i] = -x.v[i]
	}
	return z
}

// Abs returns |x|. The derivative at zero takes the positive branch.
func (x Jet) Abs() Jet {
	if x.a < 0 {
		return x.Neg()
	}
	z := x.fresh(x.a)
	copy(z.v, x.v)
	return z
}

func (x Jet) chain(a, d float64) Jet {
	z := x.fresh(a)
	for i := range z.v {
		z.v[i] = d * x.v[i]
	}
	return z
}

// Sqrt returns √x with derivative 1/(2√x).
func (x Jet) Sqrt() Jet {
	s := math.Sqrt(x.a)
	return x.chain(s, 1/(2*s))
}

// Exp returns eˣ.
func (x Jet) Exp() Jet {
	e := math.Exp(x.a)
	return x.chain(e, e)
}

// Log returns ln x with derivative 1/x.
func (x Jet) Log() Jet {
	return x.chain(math.Log(x.a), 1/x.a)
}

// Sin returns sin x.
func (x Jet) Sin() Jet {
	return x.chain(math.Sin(x.a), math.Cos(x.a))
}

// Cos returns cos x.
func (x Jet) Cos() Jet {
	return x.chain(math.Cos(x.a), -math.Sin(x.a))
}

// Tan returns tan x with derivative 1 + tan²x.
func (x Jet) Tan() Jet {
	t := math.Tan(x.a)
	return x.chain(t, 1+t*t)
}

// Asin returns arcsin x with derivative 1/√(1-x²).
func (x Jet) Asin() Jet {
	return x.chain(math.Asin(x.a), 1/math.Sqrt(1-x.a*x.a))
}

// Acos returns arccos x with derivative -1/√(1-x²).
func (x Jet) Acos() Jet {
	return x.chain(math.Acos(x.a), -1/math.Sqrt(1-x.a*x.a))
}

// Atan returns arctan x with derivative 1/(1+x²).
func (x Jet) Atan() Jet {
	return x.chain(math.Atan(x.a), 1/(1+x.a*x.a))
}

// Atan2 returns atan2(x, y) with v = (a₂v₁ - a₁v₂)/(a₁² + a₂²).
func (x Jet) Atan2(y Jet) Jet {
	x.bind(y)
	w := 1 / (x.a*x.a + y.a*y.a)
	z := x.fresh(math.Atan2(x.a, y.a))
	for i := range z.v {
		z.v[i] = (y.a*x.v[i] - x.a*y.v[i]) * w
	}
	return z
}

// Pow returns xᵖ with derivative p·xᵖ⁻¹.
func (x Jet) Pow(p float64) Jet {
	return x.chain(math.Pow(x.a, p), p*math.Pow(x.a, p-1))
}

// Scale returns c·x.
func (x Jet) Scale(c float64) Jet {
	return x.chain(c*x.a, c)
}

// Shift returns x + c.
func (x Jet) Shift(c float64) Jet {
	return x.chain(x.a+c, 1)
}

// Lift returns the constant c as a jet on the receiver's tape.
func (x Jet) Lift(c float64) Jet {
	return x.t.Const(c)
}

// Less compares value parts.
func (x Jet) Less(y Jet) bool { return x.a < y.a }
