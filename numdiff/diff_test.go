// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package numdiff

import (
	"math"
	"testing"
)

func objV2(x, r []float64) bool {
	r[0] = x[0] * math.Sin(x[1])
	r[1] = x[1] * math.Cos(x[0])
	r[2] = math.Pow(x[0], 3) * math.Pow(x[1], -0.5)
	return true
}

// Column-major ∂r/∂x at x.
func jacV2(x []float64) []float64 {
	return []float64{
		math.Sin(x[1]), -x[1] * math.Sin(x[0]), 3 * math.Pow(x[0], 2) * math.Pow(x[1], -0.5),
		x[0] * math.Cos(x[1]), math.Cos(x[0]), -0.5 * math.Pow(x[0], 3) * math.Pow(x[1], -1.5),
	}
}

func absoluteEqual(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

func TestJacobian(t *testing.T) {

	x0 := []float64{2.5, 1.3}
	want := jacV2(x0)

	for _, tc := range []struct {
		method Method
		tol    float64
	}{
		{Forward, 1e-6},
		{Central, 1e-8},
	} {
		d, err := (&Spec{
			NumResiduals:  3,
			NumParameters: 2,
			Func:          objV2,
			Method:        tc.method,
		}).New()
		if err != nil {
			t.Fatal(err)
		}

		res := make([]float64, 3)
		jac := make([]float64, 6)
		fx := make([]float64, 3)
		objV2(x0, fx)

		switch {
		case !d.Eval(x0, res, jac):
			t.Fatal("unexpected eval failure")
		case !absoluteEqual(res, fx, 0):
			t.Fatal("unexpected residuals")
		case !absoluteEqual(jac, want, tc.tol):
			t.Fatalf("jacobian error exceeds %v", tc.tol)
		case x0[0] != 2.5 || x0[1] != 1.3:
			t.Fatal("parameters must not be perturbed")
		}
	}
}

func TestResidualOnly(t *testing.T) {

	x0 := []float64{2.5, 1.3}
	d, err := (&Spec{
		NumResiduals:  3,
		NumParameters: 2,
		Func:          objV2,
		Method:        Central,
	}).New()
	if err != nil {
		t.Fatal(err)
	}

	res := make([]float64, 3)
	fx := make([]float64, 3)
	objV2(x0, fx)

	switch {
	case !d.Eval(x0, res, nil):
		t.Fatal("unexpected eval failure")
	case !absoluteEqual(res, fx, 0):
		t.Fatal("unexpected residuals")
	}
}

func TestEvalFailure(t *testing.T) {

	calls := 0
	flaky := func(x, r []float64) bool {
		calls++
		if calls > 2 {
			return false
		}
		return objV2(x, r)
	}

	d, err := (&Spec{
		NumResiduals:  3,
		NumParameters: 2,
		Func:          flaky,
		Method:        Forward,
	}).New()
	if err != nil {
		t.Fatal(err)
	}

	res := make([]float64, 3)
	jac := make([]float64, 6)
	if d.Eval([]float64{2.5, 1.3}, res, jac) {
		t.Fatal("failure must abort the evaluation")
	}
}

func TestSpecValidation(t *testing.T) {

	bad := []Spec{
		{NumResiduals: 0, NumParameters: 2, Func: objV2},
		{NumResiduals: 3, NumParameters: 2},
		{NumResiduals: 3, NumParameters: 2, Func: objV2, Method: Method(7)},
		{NumResiduals: 3, NumParameters: 2, Func: objV2, RelStep: -1},
		{NumResiduals: 3, NumParameters: 2, Func: objV2, AbsStep: math.NaN()},
	}
	for i := range bad {
		if _, err := bad[i].New(); err == nil {
			t.Fatalf("spec %d must be rejected", i)
		}
	}
}
