// Copyright (c) 2026 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.21
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

// armSolver wires the planar arm to a one-frame trial with the wrist tracked
// at weight w and q1 weighted at cw against the target in the trial column
func armSolver(t *testing.T, w, cw float64) (*Solver, *Trial) {
	t.Helper()
	c := planarArm(t)
	tasks := &TaskSet{
		Markers: []MarkerTask{{Name: "wrist", Weight: w}},
	}
	if cw > 0 {
		tasks.Coordinates = append(tasks.Coordinates,
			CoordinateTask{Name: "q1", Weight: cw, Source: FromFile})
	}
	trial := armTrial()
	s, err := NewSolver(c, tasks, trial, nil)
	require.NoError(t, err)
	return s, trial
}

func TestBuildJacobianMatchesAnalytic(t *testing.T) {
	w := 2.0
	s, trial := armSolver(t, w, 0)

	x := make([]float64, s.NumParameters())
	s.targets.prepareFrame(trial.Rows[0], x)
	x[0], x[1] = 0.3, 0.4

	r := mat.NewVecDense(s.nrows, nil)
	require.NoError(t, s.residuals(context.Background(), x, r))

	J := mat.NewDense(s.nrows, s.NumParameters(), nil)
	s.buildJacobian(x, J)

	// Analytic wrist sensitivities of the planar arm
	sw := math.Sqrt(w)
	q1, q2 := x[0], x[1]
	want := [][2]float64{
		{-math.Sin(q1) - math.Sin(q1+q2), -math.Sin(q1 + q2)}, // d wx / dq
		{math.Cos(q1) + math.Cos(q1+q2), math.Cos(q1 + q2)},   // d wy / dq
		{0, 0},
	}
	for j := 0; j < 3; j++ {
		for i := 0; i < 2; i++ {
			assert.InDelta(t, sw*want[j][i], J.At(j, i), 1e-2,
				"row %d col %d", j, i)
		}
	}
}

func TestBuildJacobianCoordinateRow(t *testing.T) {
	s, trial := armSolver(t, 1, 4)

	x := make([]float64, s.NumParameters())
	s.targets.prepareFrame(trial.Rows[0], x)

	r := mat.NewVecDense(s.nrows, nil)
	require.NoError(t, s.residuals(context.Background(), x, r))

	J := mat.NewDense(s.nrows, s.NumParameters(), nil)
	s.buildJacobian(x, J)

	// One row below the marker rows, weight^0.5 on its own column only
	assert.InDelta(t, 2.0, J.At(3, 0), 1e-12)
	assert.InDelta(t, 0.0, J.At(3, 1), 1e-12)
}

func TestBuildJacobianRestoresPose(t *testing.T) {
	s, trial := armSolver(t, 1, 0)
	c := s.model.(*Chain)
	c.Coordinate("q1").SetRange(-3, 3)

	x := make([]float64, s.NumParameters())
	s.targets.prepareFrame(trial.Rows[0], x)
	x[0], x[1] = 0.3, 0.4

	r := mat.NewVecDense(s.nrows, nil)
	require.NoError(t, s.residuals(context.Background(), x, r))
	s.buildJacobian(x, mat.NewDense(s.nrows, s.NumParameters(), nil))

	// Values and clamp flags are back where the baseline left them
	assert.InDelta(t, 0.3, c.Coordinate("q1").Value(), 1e-12)
	assert.InDelta(t, 0.4, c.Coordinate("q2").Value(), 1e-12)
	assert.True(t, c.Coordinate("q1").Clamped())
	assert.False(t, c.Coordinate("q2").Clamped())

	// The assembled pose is consistent with x again: re-evaluating the
	// residual reproduces it
	r2 := mat.NewVecDense(s.nrows, nil)
	require.NoError(t, s.residuals(context.Background(), x, r2))
	for i := 0; i < s.nrows; i++ {
		assert.InDelta(t, r.AtVec(i), r2.AtVec(i), 1e-12)
	}
}

func TestBuildJacobianInvalidMarkerRowsStayZero(t *testing.T) {
	s, _ := armSolver(t, 1, 0)

	nan := math.NaN()
	x := make([]float64, s.NumParameters())
	s.targets.prepareFrame([]float64{1, 0, 0, nan, nan, nan, 0}, x)

	r := mat.NewVecDense(s.nrows, nil)
	require.NoError(t, s.residuals(context.Background(), x, r))

	J := mat.NewDense(s.nrows, s.NumParameters(), nil)
	s.buildJacobian(x, J)

	for j := 0; j < 3; j++ {
		for i := 0; i < s.NumParameters(); i++ {
			assert.Zero(t, J.At(j, i))
		}
		assert.Zero(t, r.AtVec(j))
	}
}
