// Copyright (c) 2026 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.18
//

package goik

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// buildJacobian fills J with forward-difference sensitivities of the weighted
// residuals at the baseline x. residuals(x) must have run beforehand so the
// stored computed marker positions are current.
//
// Each parameter is perturbed forward by opt.Perturbation with clamping
// disabled, every valid marker is re-transformed, and the column is set to
// weight^0.5 * (perturbed - baseline) / step. The coordinate is restored
// without finalizing, except the last one, which leaves the assembled pose
// consistent with x. Cost is O(parameters x markers) forward-kinematics
// evaluations, the dominant cost of each iteration.
func (s *Solver) buildJacobian(x []float64, J *mat.Dense) {

	t := s.targets
	dx := s.opt.Perturbation
	J.Zero()

	sw := make([]float64, len(t.markers))
	for m, mk := range t.markers {
		if !mk.valid {
			continue
		}
		sw[m] = math.Sqrt(mk.weight)
	}

	row := 3 * len(t.markers)
	last := len(t.unprescribed) - 1
	for i, info := range t.unprescribed {

		clamped := info.coord.Clamped()
		info.coord.SetClamped(false)

		// Perturb forward and reassemble
		info.coord.SetValue(x[i]+dx, true)

		for m, mk := range t.markers {
			if !mk.valid || mk.weight == 0 {
				continue
			}
			pos := s.model.TransformPosition(mk.body, mk.marker.Offset()).Array()
			for j := 0; j < 3; j++ {
				// Forward difference only
				J.Set(m*3+j, i, sw[m]*(pos[j]-mk.comp[j])/dx)
			}
		}

		// Restore; finalizing mid-build would recompute kinematics the next
		// perturbation immediately invalidates
		info.coord.SetValue(x[i], i == last)
		info.coord.SetClamped(clamped)

		// A coordinate residual depends only on its own parameter, so its row
		// carries a single weight^0.5 entry; cross-coupling terms are exactly
		// zero.
		if info.weight > 0 {
			J.Set(row, i, math.Sqrt(info.weight))
			row++
		}
	}
}
