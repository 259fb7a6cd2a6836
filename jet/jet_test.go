// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

const diffTol = 1e-6

var fdCentral = &fd.Settings{Formula: fd.Central, Step: 1e-6}

// Unary operators and their plain-scalar counterparts,
// with a sample point inside every domain.
var unaryCases = []struct {
	name string
	jet  func(Jet) Jet
	ref  func(float64) float64
	at   float64
}{
	{"Neg", Jet.Neg, func(a float64) float64 { return -a }, 0.7},
	{"Abs", Jet.Abs, math.Abs, -1.3},
	{"Sqrt", Jet.Sqrt, math.Sqrt, 2.25},
	{"Exp", Jet.Exp, math.Exp, 0.5},
	{"Log", Jet.Log, math.Log, 3.1},
	{"Sin", Jet.Sin, math.Sin, 0.9},
	{"Cos", Jet.Cos, math.Cos, 0.9},
	{"Tan", Jet.Tan, math.Tan, 0.4},
	{"Asin", Jet.Asin, math.Asin, 0.3},
	{"Acos", Jet.Acos, math.Acos, 0.3},
	{"Atan", Jet.Atan, math.Atan, 1.7},
	{"Pow2.5", func(x Jet) Jet { return x.Pow(2.5) }, func(a float64) float64 { return math.Pow(a, 2.5) }, 1.2},
	{"Scale", func(x Jet) Jet { return x.Scale(-4) }, func(a float64) float64 { return -4 * a }, 0.8},
	{"Shift", func(x Jet) Jet { return x.Shift(3) }, func(a float64) float64 { return a + 3 }, 0.8},
}

func TestUnaryChainRule(t *testing.T) {
	for _, tc := range unaryCases {
		t.Run(tc.name, func(t *testing.T) {
			tape := NewTape(1)
			x := tape.Var(tc.at, 0)
			z := tc.jet(x)
			require.Equal(t, 1, z.Width())
			assert.InDelta(t, tc.ref(tc.at), z.Value(), 1e-14)
			want := fd.Derivative(tc.ref, tc.at, fdCentral)
			assert.InDelta(t, want, z.Deriv(0), diffTol)
		})
	}
}

var binaryCases = []struct {
	name string
	jet  func(Jet, Jet) Jet
	ref  func(a, b float64) float64
}{
	{"Add", Jet.Add, func(a, b float64) float64 { return a + b }},
	{"Sub", Jet.Sub, func(a, b float64) float64 { return a - b }},
	{"Mul", Jet.Mul, func(a, b float64) float64 { return a * b }},
	{"Div", Jet.Div, func(a, b float64) float64 { return a / b }},
	{"Atan2", Jet.Atan2, math.Atan2},
}

func TestBinaryChainRule(t *testing.T) {
	const a, b = 1.3, -0.6
	for _, tc := range binaryCases {
		t.Run(tc.name, func(t *testing.T) {
			tape := NewTape(2)
			xy := tape.Vars(2)
			xy[0].Reseed(a, 0)
			xy[1].Reseed(b, 1)
			z := tc.jet(xy[0], xy[1])
			assert.InDelta(t, tc.ref(a, b), z.Value(), 1e-14)
			da := fd.Derivative(func(v float64) float64 { return tc.ref(v, b) }, a, fdCentral)
			db := fd.Derivative(func(v float64) float64 { return tc.ref(a, v) }, b, fdCentral)
			assert.InDelta(t, da, z.Deriv(0), diffTol)
			assert.InDelta(t, db, z.Deriv(1), diffTol)
		})
	}
}

// A composed expression exercised through the Number constraint,
// instantiated both at Scalar and at Jet.
func compound[T Number[T]](x, y T) T {
	return x.Mul(y.Sin()).Add(x.Exp().Div(y.Abs().Shift(1))).Sub(x.Mul(x).Scale(0.5))
}

func TestCompoundChainRule(t *testing.T) {
	const a, b = 0.8, 1.9
	tape := NewTape(2)
	xy := tape.Vars(2)
	xy[0].Reseed(a, 0)
	xy[1].Reseed(b, 1)
	z := compound(xy[0], xy[1])

	ref := func(a, b float64) float64 {
		return float64(compound(Scalar(a), Scalar(b)))
	}
	require.InDelta(t, ref(a, b), z.Value(), 1e-14)
	da := fd.Derivative(func(v float64) float64 { return ref(v, b) }, a, fdCentral)
	db := fd.Derivative(func(v float64) float64 { return ref(a, v) }, b, fdCentral)
	assert.InDelta(t, da, z.Deriv(0), diffTol)
	assert.InDelta(t, db, z.Deriv(1), diffTol)
}

// A jet with zero derivative must reproduce ordinary scalar arithmetic
// in its value part.
func TestZeroSeedIdentity(t *testing.T) {
	tape := NewTape(3)
	x := tape.Const(1.4)
	y := tape.Const(-2.3)

	got := compound(x, y)
	want := compound(Scalar(1.4), Scalar(-2.3))
	assert.InDelta(t, float64(want), got.Value(), 1e-15)
	for i := 0; i < got.Width(); i++ {
		assert.Zero(t, got.Deriv(i))
	}
}

func TestComparisons(t *testing.T) {
	tape := NewTape(2)
	x := tape.Var(1, 0)
	y := tape.Var(2, 1)
	// Comparisons ignore the derivative part.
	assert.True(t, x.Less(y))
	assert.False(t, y.Less(x))
	assert.False(t, x.Less(x))
	assert.True(t, Scalar(1).Less(2))
}

func TestTapeReuse(t *testing.T) {
	tape := NewTape(2)
	xy := tape.Vars(2)

	eval := func(a, b float64) Jet {
		tape.Reset()
		xy[0].Reseed(a, 0)
		xy[1].Reseed(b, 1)
		return compound(xy[0], xy[1])
	}

	// Warm up until the arena reaches its steady footprint.
	first := eval(0.8, 1.9)
	v0, v1 := first.Deriv(0), first.Deriv(1)

	allocs := testing.AllocsPerRun(100, func() {
		eval(0.8, 1.9)
	})
	assert.Zero(t, allocs)

	again := eval(0.8, 1.9)
	assert.Equal(t, v0, again.Deriv(0))
	assert.Equal(t, v1, again.Deriv(1))
}

func TestTapeMixPanics(t *testing.T) {
	t1 := NewTape(2)
	t2 := NewTape(2)
	x := t1.Var(1, 0)
	y := t2.Var(1, 0)
	assert.Panics(t, func() { x.Add(y) })
	assert.Panics(t, func() { NewTape(0) })
}
