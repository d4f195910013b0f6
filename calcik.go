// Copyright (c) 2026 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.20
//

// Implements the per-frame inverse kinematics solve: a damped Gauss-Newton
// iteration driving the weighted marker and coordinate residuals to a minimum.

package goik

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

// Calculation constants for the IK solve
const (
	PERTURBATION = 1e-3 // Finite-difference step in the coordinate's native units
	ERROR_TOL    = 1e-4 // Convergence threshold on |delta residual norm|
	MAX_ITER     = 1000 // Maximum iterations per frame
	RANK_TOL     = 1e-9 // Relative rank tolerance of the linear solve
	MAX_HALVINGS = 30   // Bound of the step-halving loop
)

// Opt contains options and parameters for the per-frame IK calculation
type Opt struct {
	Perturbation float64      // Finite-difference step for the Jacobian build
	ErrorTol     float64      // Convergence threshold on |delta residual norm|
	MaxIter      int          // Iteration cap per frame
	RankTol      float64      // Rank tolerance passed to the linear solve
	MaxHalvings  int          // Bound of the damping loop
	Backend      LeastSquares // Linear solve strategy (default: RankLS)
	Verbose      int          // Diagnostic print level: 0(silent), 1(warnings/performance), 2(iteration detail)
	LogW         io.Writer    // Diagnostic output destination
}

// NewOpt creates a new Opt with default values
func NewOpt() *Opt {
	return &Opt{
		Perturbation: PERTURBATION,
		ErrorTol:     ERROR_TOL,
		MaxIter:      MAX_ITER,
		RankTol:      RANK_TOL,
		MaxHalvings:  MAX_HALVINGS,
		Backend:      RankLS{},
		Verbose:      0,
		LogW:         os.Stderr,
	}
}

// Terminal state of a frame solve
type Status int

const (
	Converged Status = iota
	IterationLimitReached
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case IterationLimitReached:
		return "iteration limit reached"
	default:
		return "UNKNOWN!"
	}
}

// FrameSol contains the result of one frame's solve
type FrameSol struct {
	Frame      int
	Time       float64   // Frame time [s]
	Values     []float64 // Best-fit unprescribed coordinate values, parameter order
	Status     Status
	Iterations int

	Rank          int  // Numerical rank detected by the last linear solve
	RankDeficient bool // True if any iteration saw rank < parameter count
	StepFailures  int  // Iterations where no halved step improved the residual

	ResidualNorm         float64 // Weighted residual norm at the accepted pose
	WeightedSquaredError float64

	// Diagnostics (unweighted); reported only, never fed back into the solve
	RMSMarkerError       float64
	WorstMarker          string
	WorstMarkerError     float64 // Largest unweighted squared marker error
	RMSCoordinateError   float64
	WorstCoordinate      string
	WorstCoordinateError float64
}

// Solver fits the model pose to one trial, frame by frame. Build it once per
// trial; the descriptor sets and the parameter ordering are fixed for its
// lifetime. A Solver drives a shared model instance and must not run
// concurrent solves against it.
type Solver struct {
	model   Model
	trial   *Trial
	targets *Targets
	opt     *Opt
	nrows   int
	xt      []float64 // scratch vector for damped trial steps
}

// NewSolver builds the target registry from the model, the task set and the
// trial column labels. Configuration problems (unknown names, missing data
// columns) are fatal here, wrapped in ErrConfig.
func NewSolver(model Model, tasks *TaskSet, trial *Trial, opt *Opt) (*Solver, error) {

	if opt == nil {
		opt = NewOpt()
	}
	if opt.Backend == nil {
		opt.Backend = RankLS{}
	}
	if opt.LogW == nil {
		opt.LogW = os.Stderr
	}

	targets, err := buildTargets(model, tasks, trial)
	if err != nil {
		return nil, err
	}
	if targets.numParameters() == 0 {
		return nil, fmt.Errorf("%w: no unprescribed coordinates to solve for", ErrConfig)
	}
	nSolved := len(targets.weighted)
	for _, mk := range targets.markers {
		if mk.weight > 0 {
			nSolved++
		}
	}
	if nSolved == 0 {
		return nil, fmt.Errorf("%w: no weighted markers or coordinates constrain the solve", ErrConfig)
	}

	return &Solver{
		model:   model,
		trial:   trial,
		targets: targets,
		opt:     opt,
		nrows:   targets.numResidualRows(),
		xt:      make([]float64, targets.numParameters()),
	}, nil
}

// Number of free parameters (unprescribed coordinates)
func (s *Solver) NumParameters() int {
	return s.targets.numParameters()
}

// SolveFrame fits the pose to frame's experimental data.
//
// The loop evaluates the baseline residual, builds the finite-difference
// Jacobian, solves for a parameter update, damps it until the residual norm
// does not increase, and repeats until |delta residual norm| < ErrorTol or
// the iteration cap is reached. Reaching the cap is not an error: the best
// pose found is returned with Status IterationLimitReached.
//
// Cancellation through ctx is observed at the top of every residual
// evaluation; a cancelled solve returns ctx.Err() and no result.
func (s *Solver) SolveFrame(ctx context.Context, frame int) (*FrameSol, error) {

	time, row, err := s.trial.Frame(frame)
	if err != nil {
		return nil, err
	}

	n := s.targets.numParameters()
	x := make([]float64, n)
	s.targets.prepareFrame(row, x)

	sol := &FrameSol{Frame: frame, Time: time, Rank: n}

	r := mat.NewVecDense(s.nrows, nil)
	J := mat.NewDense(s.nrows, n, nil)

	// First residual evaluation at the initial guess
	if err := s.residuals(ctx, x, r); err != nil {
		return nil, err
	}
	current := mat.Norm(r, 2)
	s.printD(2, "--- frame %d: initial |r| = %g ---\n", frame, current)

	// Change the configuration by dq until the residual norm settles
	delta := math.Inf(1)
	iter := 0
	for delta > s.opt.ErrorTol && iter < s.opt.MaxIter {

		prev := current

		s.buildJacobian(x, J)
		if s.opt.Verbose >= 3 {
			PrintA("J=\n")
			PrintMat(J)
			PrintA("r=\n")
			PrintMat(r)
		}

		dq, rank, err := s.opt.Backend.Solve(J, r, s.opt.RankTol)
		if err != nil {
			return nil, fmt.Errorf("frame %d: linear solve failed: %w", frame, err)
		}
		sol.Rank = rank
		if rank < n {
			sol.RankDeficient = true
			s.printD(1, "WARN- Jacobian is rank deficient, rank = %d < %d, tol = %g. Results may be inaccurate.\n", rank, n, s.opt.RankTol)
		}

		norm, halvings, improved, err := s.dampStep(ctx, x, dq, prev, r)
		if err != nil {
			return nil, err
		}
		if !improved {
			sol.StepFailures++
			s.printD(1, "WARN- frame %d iteration %d: no step improved the residual after %d halvings\n", frame, iter, halvings)
		}

		current = norm
		delta = math.Abs(current - prev)
		iter++

		s.printD(2, "\tLOOP %d: |r|=%g, delta=%g, rank=%d\n", iter, current, delta, rank)
	}

	sol.Iterations = iter
	sol.ResidualNorm = current
	if delta <= s.opt.ErrorTol {
		sol.Status = Converged
	} else {
		sol.Status = IterationLimitReached
	}

	// Reassemble at the accepted pose and collect diagnostics
	st, err := s.evaluate(ctx, x)
	if err != nil {
		return nil, err
	}
	sol.Values = x
	sol.WeightedSquaredError = st.weightedSquaredError
	if len(s.targets.markers) > 0 {
		sol.RMSMarkerError = math.Sqrt(st.markerSquaredError / float64(len(s.targets.markers)))
	}
	sol.WorstMarker = st.worstMarker
	sol.WorstMarkerError = st.maxMarkerError
	if len(s.targets.weighted) > 0 {
		sol.RMSCoordinateError = math.Sqrt(st.coordSquaredError / float64(len(s.targets.weighted)))
	}
	sol.WorstCoordinate = st.worstCoord
	sol.WorstCoordinateError = st.maxCoordError

	if s.opt.Verbose >= 1 {
		s.printPerformance(sol)
	}

	return sol, nil
}

// Diagnostic print at verbosity level v
func (s *Solver) printD(v int, format string, a ...any) {
	if s.opt.Verbose >= v {
		fmt.Fprintf(s.opt.LogW, format, a...)
	}
}

// printPerformance writes the one-line per-frame error summary
func (s *Solver) printPerformance(sol *FrameSol) {
	fmt.Fprintf(s.opt.LogW, "frame %d (%.3fs): total weighted squared error = %g", sol.Frame, sol.Time, sol.WeightedSquaredError)
	if sol.WorstMarker != "" {
		fmt.Fprintf(s.opt.LogW, ", marker error: RMS=%g, max=%g (%s)", sol.RMSMarkerError, math.Sqrt(sol.WorstMarkerError), sol.WorstMarker)
	}
	if sol.WorstCoordinate != "" {
		fmt.Fprintf(s.opt.LogW, ", coord error: RMS=%g, max=%g (%s)", sol.RMSCoordinateError, math.Sqrt(sol.WorstCoordinateError), sol.WorstCoordinate)
	}
	fmt.Fprintf(s.opt.LogW, " [%s, %d iter]\n", sol.Status, sol.Iterations)
}

//-------------------------------------------------------------------
// Display accessors
//-------------------------------------------------------------------

// Names of the registered markers, registry order
func (s *Solver) MarkerNames() []string {
	return s.targets.markerNames()
}

// Computed (model) marker positions after the last residual evaluation
func (s *Solver) ComputedMarkerLocations() []Vec3 {
	return s.targets.computedMarkerLocations()
}

// Experimental marker positions loaded for the current frame
func (s *Solver) ExperimentalMarkerLocations() []Vec3 {
	return s.targets.experimentalMarkerLocations()
}

func (s *Solver) PrescribedCoordinateNames() []string {
	return s.targets.coordinateNames(s.targets.prescribed)
}

func (s *Solver) UnprescribedCoordinateNames() []string {
	return s.targets.coordinateNames(s.targets.unprescribed)
}

func (s *Solver) PrescribedCoordinateValues() []float64 {
	return s.targets.coordinateValues(s.targets.prescribed)
}

// PrintTasks writes the registered tracking tasks for inspection
func (s *Solver) PrintTasks(w io.Writer) {
	s.targets.printTasks(w)
}
