// Copyright (c) 2026 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.15
//

package goik

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// LeastSquares solves the linearized update equation J dq = r for the
// parameter update dq and reports the detected numerical rank of J.
// rank < n (the parameter count) means the local linear system is
// under-determined; backends still return the best available (minimum-norm)
// update, and callers treat the deficiency as a warning, never a failure.
type LeastSquares interface {
	Solve(J mat.Matrix, r mat.Vector, rankTol float64) (dq *mat.VecDense, rank int, err error)
}

// RankLS is the default backend: a rank-revealing least-squares solve by
// truncated singular value decomposition. Singular values at or below
// rankTol times the largest one are treated as zero, and the minimum-norm
// solution over the retained directions is returned.
type RankLS struct{}

func (RankLS) Solve(J mat.Matrix, r mat.Vector, rankTol float64) (*mat.VecDense, int, error) {

	m, n := J.Dims()
	if r.Len() != m {
		return nil, 0, fmt.Errorf("invalid matrix size. J(%d x %d), r(%d x 1)", m, n, r.Len())
	}

	var svd mat.SVD
	if ok := svd.Factorize(J, mat.SVDThin); !ok {
		return nil, 0, fmt.Errorf("SVD factorization failed. J(%d x %d)", m, n)
	}

	s := svd.Values(nil)
	rank := numRank(s, rankTol)

	var U, V mat.Dense
	svd.UTo(&U)
	svd.VTo(&V)

	// dq = V_k S_k^-1 U_k^T r over the retained directions
	ur := make([]float64, rank)
	for j := 0; j < rank; j++ {
		sum := 0.0
		for i := 0; i < m; i++ {
			sum += U.At(i, j) * r.AtVec(i)
		}
		ur[j] = sum / s[j]
	}
	dq := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := 0; j < rank; j++ {
			sum += V.At(i, j) * ur[j]
		}
		dq.SetVec(i, sum)
	}

	return dq, rank, nil
}

// PInvLS is the alternative backend: it forms the Moore-Penrose pseudo-inverse
// of J explicitly and multiplies. Same contract as RankLS, more expensive but
// numerically transparent. Singular values at or below the tolerance are
// dropped so rank deficiency cannot blow up the inverse.
type PInvLS struct{}

func (PInvLS) Solve(J mat.Matrix, r mat.Vector, rankTol float64) (*mat.VecDense, int, error) {

	m, n := J.Dims()
	if r.Len() != m {
		return nil, 0, fmt.Errorf("invalid matrix size. J(%d x %d), r(%d x 1)", m, n, r.Len())
	}

	var svd mat.SVD
	if ok := svd.Factorize(J, mat.SVDThin); !ok {
		return nil, 0, fmt.Errorf("SVD factorization failed. J(%d x %d)", m, n)
	}

	s := svd.Values(nil)
	rank := numRank(s, rankTol)

	var U, V mat.Dense
	svd.UTo(&U)
	svd.VTo(&V)

	// Jinv = V S^+ U^T
	k := len(s)
	sinv := make([]float64, k)
	for i := 0; i < rank; i++ {
		sinv[i] = 1.0 / s[i]
	}
	Sinv := mat.NewDiagDense(k, sinv)

	var VS, Jinv mat.Dense
	VS.Mul(&V, Sinv)
	Jinv.Mul(&VS, U.T())

	dq := mat.NewVecDense(n, nil)
	dq.MulVec(&Jinv, r)

	return dq, rank, nil
}

// numRank counts singular values above the relative tolerance
func numRank(s []float64, tol float64) int {
	if len(s) == 0 || s[0] <= 0 {
		return 0
	}
	rank := 0
	for _, v := range s {
		if v > tol*s[0] {
			rank++
		}
	}
	return rank
}
