// Copyright (c) 2026 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.18
//

package goik

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// dampStep applies x+dq and re-evaluates the residual; while the new norm
// exceeds prevNorm the step is halved and retried, up to opt.MaxHalvings.
// Accepted steps advance x in place, guaranteeing the residual norm never
// increases across accepted steps. When the bound is exhausted without an
// acceptable step, the pose and residual vector are restored to the baseline
// and improved is false; the caller reports the condition, it is not an error.
func (s *Solver) dampStep(ctx context.Context, x []float64, dq *mat.VecDense, prevNorm float64, r *mat.VecDense) (norm float64, halvings int, improved bool, err error) {

	for i := range s.xt {
		s.xt[i] = x[i] + dq.AtVec(i)
	}
	if err = s.residuals(ctx, s.xt, r); err != nil {
		return 0, 0, false, err
	}
	norm = mat.Norm(r, 2)

	for norm > prevNorm {
		if halvings >= s.opt.MaxHalvings {
			// No step length improved the residual; 2^-30 of the proposed
			// step is numerically nil. Put the baseline back.
			if err = s.residuals(ctx, x, r); err != nil {
				return 0, halvings, false, err
			}
			return mat.Norm(r, 2), halvings, false, nil
		}

		dq.ScaleVec(0.5, dq)
		for i := range s.xt {
			s.xt[i] = x[i] + dq.AtVec(i)
		}
		if err = s.residuals(ctx, s.xt, r); err != nil {
			return 0, halvings, false, err
		}
		norm = mat.Norm(r, 2)
		halvings++
		s.printD(2, "\tdq reduced by 50 percent: |r|=%g, |dq|=%g\n", norm, mat.Norm(dq, 2))
	}

	copy(x, s.xt)
	return norm, halvings, true, nil
}
