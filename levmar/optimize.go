// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package levmar implements a damped Gauss-Newton (Levenberg-Marquardt)
// solver for small dense nonlinear least-squares problems:
//
//	minimize ‖𝒓(𝐱)‖²  over 𝐱 ∈ ℝᵖ, 𝒓 : ℝᵖ → ℝʳ
//
// Each iteration forms the normal equations (𝐉ᵀ𝐉 + u𝐈)·d𝐱 = -𝐉ᵀ𝒓 and
// adapts the damping factor u from the gain ratio of the step. Forming
// 𝐉ᵀ𝐉 explicitly squares the condition number of 𝐉; this is an accepted
// trade for small well-scaled problems where the low-overhead dense path
// matters more than numerical headroom.
//
// All scratch storage lives in a Workspace sized once by Init, so
// repeated solves on the same workspace perform no heap allocation: the
// intended use is many similar low-latency solves, for example one per
// pixel of a distortion grid.
//
// Algorithm based off of:
//
//	K. Madsen, H. Nielsen, O. Tingleoff.
//	Methods for Non-linear Least Squares Problems.
//	http://www2.imm.dtu.dk/pubdb/views/edoc_download.php/3215/pdf/imm3215.pdf
package levmar

import (
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	zero  = 0.0
	one   = 1.0
	two   = 2.0
	third = 1.0 / 3.0
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated
	LogNoop LogLevel = -1
	// LogLast print only a summary line at termination
	LogLast LogLevel = 0
	// LogEval print f and max|g| at every accepted step
	LogEval LogLevel = 1
	// LogTrace print details of every iteration including u, v and rho
	LogTrace LogLevel = 2
)

// Logger handles logging output for the solver.
// Note the writer must be thread-safe when workspaces log concurrently.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

// Function is the residual function consumed by the solver.
//
// Eval writes R residual values at the P-vector params and, when
// jacobian is non-nil, the R×P Jacobian ∂r/∂x in column-major order.
// Returning false aborts the evaluation and terminates the solve.
//
// Package autodiff derives this contract from a generic residual
// function with exact derivatives; package numdiff from a plain one by
// finite differences. Hand-written implementations are equally valid.
type Function interface {
	Eval(params, residuals, jacobian []float64) bool
	NumResiduals() int
	NumParameters() int
}

// LinearSolver solves the damped normal equations A·x = b for the n×n
// symmetric positive definite matrix a, stored densely in column-major
// order. The content of a may be overwritten. A false return signals a
// factorization failure (a not positive definite within precision).
type LinearSolver interface {
	Solve(n int, a, b, x []float64) bool
}

// Status is the terminal condition of a solve.
type Status int

const (
	// Running solver has not terminated yet.
	Running Status = iota
	// GradientTooSmall first-order optimality reached: max|𝐉ᵀ𝒓| below threshold.
	GradientTooSmall
	// ErrorTooSmall residual norm ‖𝒓‖ below threshold.
	ErrorTooSmall
	// RelativeStepTooSmall step shrank below the relative threshold: ‖d𝐱‖ < tol·‖𝐱‖.
	RelativeStepTooSmall
	// HitMaxIterations iteration budget exhausted.
	HitMaxIterations
	// EvalFailure the residual function returned false.
	EvalFailure
	// SolveFailure the damped normal equations cannot be solved
	// and damping escalation cannot make progress.
	SolveFailure
)

// Converged reports whether the status is a success-like terminal state,
// as opposed to a numerical failure.
func (s Status) Converged() bool {
	switch s {
	case GradientTooSmall, ErrorTooSmall, RelativeStepTooSmall, HitMaxIterations:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case GradientTooSmall:
		return "GRADIENT_TOO_SMALL"
	case ErrorTooSmall:
		return "ERROR_TOO_SMALL"
	case RelativeStepTooSmall:
		return "RELATIVE_STEP_SIZE_TOO_SMALL"
	case HitMaxIterations:
		return "HIT_MAX_ITERATIONS"
	case EvalFailure:
		return "FAILED_TO_EVALUATE_COST_FUNCTION"
	case SolveFailure:
		return "FAILED_TO_SOLVE_LINEAR_SYSTEM"
	}
	return "UNKNOWN"
}

// Termination specifies the stopping criteria for the solver.
// Zero-valued fields assume the defaults noted below.
type Termination struct {
	// The iteration will stop when 𝚖𝚊𝚡|𝐉ᵀ𝒓| < 𝚐𝚝𝚘𝚕 (default 1e-16).
	GradientThreshold float64
	// The iteration will stop when ‖𝒓‖ < 𝚎𝚝𝚘𝚕 (default 1e-16).
	ErrorThreshold float64
	// The iteration will stop when ‖d𝐱‖ < 𝚡𝚝𝚘𝚕 × ‖𝐱‖ (default 1e-16).
	RelativeStepThreshold float64
	// The iteration stop when the number of iteration exceeds limit (default 100).
	MaxIterations int
}

// Problem specifies a nonlinear least-squares problem.
type Problem struct {
	// Func evaluates residuals and the Jacobian.
	Func Function
	// Stop condition.
	Stop Termination
	// InitialScaleFactor seeds the damping factor as
	// u₀ = 𝚜𝚌𝚊𝚕𝚎 × 𝚖𝚊𝚡 𝚍𝚒𝚊𝚐(𝐉ᵀ𝐉) (default 1e-3).
	InitialScaleFactor float64
	// Linear solves the damped normal equations.
	// Defaults to the in-package dense Cholesky.
	Linear LinearSolver
}

// New creates a new Levenberg-Marquardt solver for given problem.
func (p *Problem) New(logger *Logger) (optimizer *Optimizer, err error) {

	if logger == nil {
		logger = new(Logger)
		logger.Level = LogNoop
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}

	fn, stop, scale, linear := p.Func, p.Stop, p.InitialScaleFactor, p.Linear

	if stop.GradientThreshold == zero {
		stop.GradientThreshold = 1e-16
	}
	if stop.ErrorThreshold == zero {
		stop.ErrorThreshold = 1e-16
	}
	if stop.RelativeStepThreshold == zero {
		stop.RelativeStepThreshold = 1e-16
	}
	if stop.MaxIterations == 0 {
		stop.MaxIterations = 100
	}
	if scale == zero {
		scale = 1e-3
	}
	if linear == nil {
		linear = cholSolver{}
	}

	var nr, np int
	if fn != nil {
		nr, np = fn.NumResiduals(), fn.NumParameters()
	}

	switch {
	case fn == nil:
		err = errors.New("residual function is required")
	case nr <= 0 || np <= 0:
		err = errors.New("problem dimension must greater than 0")
	case stop.MaxIterations < 0:
		err = errors.New("max iteration must greater than 0")
	case stop.GradientThreshold < zero:
		err = errors.New("gradient threshold must not less than 0")
	case stop.ErrorThreshold < zero:
		err = errors.New("error threshold must not less than 0")
	case stop.RelativeStepThreshold < zero:
		err = errors.New("relative step threshold must not less than 0")
	case scale < zero:
		err = errors.New("initial scale factor must greater than 0")
	}
	if err != nil {
		return
	}

	optimizer = &Optimizer{
		iterSpec{
			nr: nr, np: np,
			fn:     fn,
			stop:   stop,
			scale:  scale,
			linear: linear,
			logger: *logger,
		},
	}
	return
}

// Optimizer implemented using the Levenberg-Marquardt algorithm.
type Optimizer struct {
	iterSpec
}

type iterSpec struct {
	// the number of residuals and parameters
	nr, np int
	fn     Function
	stop   Termination
	scale  float64
	linear LinearSolver
	logger Logger
}

// Workspace contains the scratch state of the solve process.
// Given r residuals and p parameters, total work space is
// float64[r×p + 2p² + 2r + 4p].
type Workspace struct {
	nr, np int
	iterCtx
}

type iterCtx struct {
	jac    []float64 // r×p column-major Jacobian
	err    []float64 // r negated residuals -𝒓(𝐱)
	fxNew  []float64 // r residuals at the candidate point
	jtj    []float64 // p×p normal matrix 𝐉ᵀ𝐉
	damped []float64 // p×p damped copy 𝐉ᵀ𝐉 + u𝐈
	g      []float64 // p gradient 𝐉ᵀ·(-𝒓)
	dx     []float64 // p step
	xNew   []float64 // p candidate point
	chk    []float64 // p residual of the linear solve
	u, v   float64   // damping factor and its escalation multiplier
	iter   int
	failed int
}

// Init allocate the workspace for the solver.
// To avoid race conditions, separate workspaces need to be created for
// each goroutine. But multiple workspaces could share one optimizer.
func (o *Optimizer) Init() *Workspace {
	w := new(Workspace)
	w.nr, w.np = o.nr, o.np
	nr, np := o.nr, o.np
	w.iterCtx = iterCtx{
		jac:    make([]float64, nr*np),
		err:    make([]float64, nr),
		fxNew:  make([]float64, nr),
		jtj:    make([]float64, np*np),
		damped: make([]float64, np*np),
		g:      make([]float64, np),
		dx:     make([]float64, np),
		xNew:   make([]float64, np),
		chk:    make([]float64, np),
	}
	return w
}

// Result contains the final result of the solve process.
type Result struct {
	OK           bool    // Whether the solve reached a success-like terminal state.
	ErrorNorm    float64 // Final residual norm ‖𝒓‖.
	GradientNorm float64 // Final gradient norm ‖𝐉ᵀ𝒓‖.
	Summary              // Solve summary.
}

// Summary contains a summary of the solve process.
type Summary struct {
	Status       Status // Final status after the solve.
	NumIter      int    // Number of iterations performed.
	FailedSolves int    // Number of failed linear solves.
}

// Fit runs the solve process using workspace w, refining x in place.
// The slice x holds the initial estimate on entry and the final solution
// on return. After the workspace has been used once, repeated calls
// perform no heap allocation.
func (o *Optimizer) Fit(x []float64, w *Workspace) Result {

	if len(x) != o.np {
		panic("initial x dimension not match spec")
	}

	if w.nr != o.nr || w.np != o.np {
		panic("workspace dimension not match spec")
	}

	d := iterDriver{
		optimizer: o,
		workspace: w,
		x:         x,
	}
	return d.mainLoop()
}
