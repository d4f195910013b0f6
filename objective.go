// Copyright (c) 2026 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.18
//

package goik

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"
)

// applyParameters assigns the free-parameter vector to the pose in parameter
// order. Only the last assignment finalizes, so dependent kinematics are
// recomputed once per application.
func (s *Solver) applyParameters(x []float64) {
	last := len(s.targets.unprescribed) - 1
	for i, info := range s.targets.unprescribed {
		info.coord.SetValue(x[i], i == last)
	}
}

// residuals applies x and fills the stacked residual vector: three rows per
// registered marker, then one row per weighted coordinate, each scaled by
// weight^0.5. Rows of invalid markers are zeroed; zero-weight rows vanish
// through the weight factor. Computed marker positions are stored as the
// baseline for the Jacobian builder.
//
// Cancellation is observed here, at the top of every residual evaluation.
func (s *Solver) residuals(ctx context.Context, x []float64, r *mat.VecDense) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	s.applyParameters(x)

	for i, mk := range s.targets.markers {
		if !mk.valid {
			for j := 0; j < 3; j++ {
				r.SetVec(i*3+j, 0)
			}
			continue
		}
		pos := s.model.TransformPosition(mk.body, mk.marker.Offset()).Array()
		sw := math.Sqrt(mk.weight)
		for j := 0; j < 3; j++ {
			mk.comp[j] = pos[j]
			r.SetVec(i*3+j, sw*(mk.exp[j]-mk.comp[j]))
		}
	}

	row := 3 * len(s.targets.markers)
	for _, info := range s.targets.weighted {
		r.SetVec(row, math.Sqrt(info.weight)*(info.expValue-info.coord.Value()))
		row++
	}

	return nil
}

// perfStats carries the diagnostic quantities of one objective evaluation.
// They are reported to the caller and never influence the numeric solve.
type perfStats struct {
	weightedSquaredError float64
	markerSquaredError   float64 // unweighted, summed over valid solve markers
	coordSquaredError    float64 // unweighted, summed over weighted coordinates
	maxMarkerError       float64 // largest unweighted squared marker error
	worstMarker          string
	maxCoordError        float64
	worstCoord           string
}

// evaluate applies x, refreshes the computed marker positions and accumulates
// the weighted objective together with the unweighted diagnostics.
func (s *Solver) evaluate(ctx context.Context, x []float64) (*perfStats, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.applyParameters(x)

	st := &perfStats{}

	for _, mk := range s.targets.markers {
		if !mk.valid {
			continue
		}
		pos := s.model.TransformPosition(mk.body, mk.marker.Offset()).Array()
		markerError := 0.0
		for j := 0; j < 3; j++ {
			mk.comp[j] = pos[j]
			err := mk.exp[j] - mk.comp[j]
			markerError += err * err
		}
		if mk.weight == 0 {
			continue // registered for display only
		}
		st.markerSquaredError += markerError
		if markerError > st.maxMarkerError {
			st.maxMarkerError = markerError
			st.worstMarker = mk.marker.Name()
		}
		st.weightedSquaredError += mk.weight * markerError
	}

	for _, info := range s.targets.weighted {
		err := info.expValue - info.coord.Value()
		coordError := err * err
		st.coordSquaredError += coordError
		if coordError > st.maxCoordError {
			st.maxCoordError = coordError
			st.worstCoord = info.coord.Name()
		}
		st.weightedSquaredError += info.weight * coordError
	}

	return st, nil
}

// Evaluate computes the total weighted squared error for the free-parameter
// vector x against the targets loaded by the last SolveFrame (or a direct
// prepare). The pose is left assembled at x.
func (s *Solver) Evaluate(ctx context.Context, x []float64) (float64, error) {
	st, err := s.evaluate(ctx, x)
	if err != nil {
		return 0, err
	}
	return st.weightedSquaredError, nil
}
