// Copyright (c) 2026 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.22
//

package goik

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// sliderSolver builds a single translational joint driven to a constant
// coordinate target of 0.7
func sliderSolver(t *testing.T, opt *Opt) *Solver {
	t.Helper()
	c := NewChain()
	require.NoError(t, c.AddBody("slider", "", Vec3{}, Translational, Vec3{X: 1}, "tx"))
	c.Finalize()

	tasks := &TaskSet{
		Coordinates: []CoordinateTask{
			{Name: "tx", Weight: 1, Source: FromValue, Value: 0.7},
		},
	}
	trial := &Trial{Times: []float64{0.5}, Rows: [][]float64{{}}}
	s, err := NewSolver(c, tasks, trial, opt)
	require.NoError(t, err)
	return s
}

func TestNewSolverErrors(t *testing.T) {
	c := planarArm(t)
	trial := armTrial()

	t.Run("no unprescribed coordinates", func(t *testing.T) {
		c.Coordinate("q1").SetLocked(true)
		c.Coordinate("q2").SetLocked(true)
		defer c.Coordinate("q1").SetLocked(false)
		defer c.Coordinate("q2").SetLocked(false)

		tasks := &TaskSet{Markers: []MarkerTask{{Name: "wrist", Weight: 1}}}
		_, err := NewSolver(c, tasks, trial, nil)
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("nothing constrains the solve", func(t *testing.T) {
		tasks := &TaskSet{Markers: []MarkerTask{{Name: "wrist", Weight: 0}}}
		_, err := NewSolver(c, tasks, trial, nil)
		assert.ErrorIs(t, err, ErrConfig)
	})
}

func TestSolveFrameCoordinateTarget(t *testing.T) {
	s := sliderSolver(t, nil)

	sol, err := s.SolveFrame(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, Converged, sol.Status)
	assert.InDelta(t, 0.7, sol.Values[0], 1e-9)
	assert.InDelta(t, 0.5, sol.Time, 1e-12)
	assert.Equal(t, 1, sol.Rank)
	assert.False(t, sol.RankDeficient)
	assert.Zero(t, sol.StepFailures)
	assert.Less(t, sol.ResidualNorm, 1e-9)
}

func TestSolveFrameRecoversArmPose(t *testing.T) {
	c := planarArm(t)
	q1, q2 := 0.3, 0.4
	wrist := wristAt(q1, q2)

	trial := &Trial{
		Labels: []string{
			"elbow_tx", "elbow_ty", "elbow_tz",
			"wrist_tx", "wrist_ty", "wrist_tz",
		},
		Times: []float64{0},
		Rows: [][]float64{
			{math.Cos(q1), math.Sin(q1), 0, wrist.X, wrist.Y, 0},
		},
	}
	tasks := &TaskSet{Markers: []MarkerTask{
		{Name: "elbow", Weight: 1},
		{Name: "wrist", Weight: 1},
	}}
	s, err := NewSolver(c, tasks, trial, nil)
	require.NoError(t, err)

	sol, err := s.SolveFrame(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, Converged, sol.Status)
	assert.False(t, sol.RankDeficient)
	assert.InDelta(t, q1, sol.Values[0], 1e-3)
	assert.InDelta(t, q2, sol.Values[1], 1e-3)
	assert.Less(t, sol.RMSMarkerError, 1e-3)
}

func TestSolveFrameMissingMarker(t *testing.T) {
	c := planarArm(t)
	q1, q2 := 0.3, 0.4
	wrist := wristAt(q1, q2)
	nan := math.NaN()

	trial := &Trial{
		Labels: []string{
			"elbow_tx", "elbow_ty", "elbow_tz",
			"wrist_tx", "wrist_ty", "wrist_tz",
		},
		Times: []float64{0, 0.01},
		Rows: [][]float64{
			{math.Cos(q1), math.Sin(q1), 0, nan, nan, nan},
			{math.Cos(q1), math.Sin(q1), 0, wrist.X, wrist.Y, 0},
		},
	}
	tasks := &TaskSet{Markers: []MarkerTask{
		{Name: "elbow", Weight: 1},
		{Name: "wrist", Weight: 1},
	}}
	s, err := NewSolver(c, tasks, trial, nil)
	require.NoError(t, err)

	// Frame 0: the wrist is missing, so q2 is unobservable. The solve still
	// recovers q1 from the elbow and flags the deficiency.
	sol, err := s.SolveFrame(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, sol.RankDeficient)
	assert.InDelta(t, q1, sol.Values[0], 1e-3)
	assert.InDelta(t, 0, sol.Values[1], 1e-6) // minimum-norm leaves q2 alone

	// Frame 1: the wrist reappears and the full pose is observable again
	sol, err = s.SolveFrame(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, sol.RankDeficient)
	assert.InDelta(t, q1, sol.Values[0], 1e-3)
	assert.InDelta(t, q2, sol.Values[1], 1e-3)
}

func TestSolveFrameIterationLimit(t *testing.T) {
	opt := NewOpt()
	opt.MaxIter = 1
	s := sliderSolver(t, opt)

	sol, err := s.SolveFrame(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, IterationLimitReached, sol.Status)
	assert.Equal(t, 1, sol.Iterations)
}

func TestSolveFrameCancelled(t *testing.T) {
	s := sliderSolver(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sol, err := s.SolveFrame(ctx, 0)
	assert.Nil(t, sol)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSolveFrameOutOfRange(t *testing.T) {
	s := sliderSolver(t, nil)
	_, err := s.SolveFrame(context.Background(), 5)
	assert.Error(t, err)
}

func TestSolveFrameBackendsAgree(t *testing.T) {
	for name, backend := range backends() {
		t.Run(name, func(t *testing.T) {
			opt := NewOpt()
			opt.Backend = backend
			s := sliderSolver(t, opt)
			sol, err := s.SolveFrame(context.Background(), 0)
			require.NoError(t, err)
			assert.InDelta(t, 0.7, sol.Values[0], 1e-9)
		})
	}
}

func TestDampStepHalving(t *testing.T) {
	s := sliderSolver(t, nil)
	ctx := context.Background()

	x := make([]float64, 1)
	s.targets.prepareFrame(s.trial.Rows[0], x)

	r := mat.NewVecDense(s.nrows, nil)
	require.NoError(t, s.residuals(ctx, x, r))
	prev := mat.Norm(r, 2) // |0.7 - 0| = 0.7

	// A wildly overlong step gets halved until the residual drops below the
	// baseline: 10 -> 5 -> 2.5 -> 1.25
	dq := mat.NewVecDense(1, []float64{10})
	norm, halvings, improved, err := s.dampStep(ctx, x, dq, prev, r)
	require.NoError(t, err)

	assert.True(t, improved)
	assert.Equal(t, 3, halvings)
	assert.InDelta(t, 1.25, x[0], 1e-12)
	assert.InDelta(t, 0.55, norm, 1e-12)
	assert.Less(t, norm, prev)
}

func TestDampStepBoundExhausted(t *testing.T) {
	s := sliderSolver(t, nil)
	ctx := context.Background()

	// Baseline already at the optimum: every step increases the residual
	x := []float64{0.7}
	s.targets.prepareFrame(s.trial.Rows[0], make([]float64, 1))

	r := mat.NewVecDense(s.nrows, nil)
	require.NoError(t, s.residuals(ctx, x, r))
	prev := mat.Norm(r, 2)

	dq := mat.NewVecDense(1, []float64{10})
	norm, halvings, improved, err := s.dampStep(ctx, x, dq, prev, r)
	require.NoError(t, err)

	assert.False(t, improved)
	assert.Equal(t, s.opt.MaxHalvings, halvings)
	assert.InDelta(t, 0.7, x[0], 1e-12) // baseline untouched
	assert.InDelta(t, prev, norm, 1e-12)
}

func TestEvaluateSkipsDisplayMarkers(t *testing.T) {
	c := planarArm(t)
	trial := armTrial()
	tasks := &TaskSet{Markers: []MarkerTask{
		{Name: "elbow", Weight: 1},
		{Name: "wrist", Weight: 0}, // display only
	}}
	s, err := NewSolver(c, tasks, trial, nil)
	require.NoError(t, err)

	x := make([]float64, s.NumParameters())
	s.targets.prepareFrame(trial.Rows[0], x)
	x[0], x[1] = 0, 0.2

	st, err := s.evaluate(context.Background(), x)
	require.NoError(t, err)

	// The elbow matches exactly at q1=0, the wrist misses, but its error never
	// enters the objective or the diagnostics
	assert.InDelta(t, 0, st.weightedSquaredError, 1e-12)
	assert.InDelta(t, 0, st.markerSquaredError, 1e-12)
	assert.Empty(t, st.worstMarker)

	// Its computed location is still refreshed for display
	locs := s.ComputedMarkerLocations()
	require.Len(t, locs, 2)
	assert.NotZero(t, locs[1].X)
}
