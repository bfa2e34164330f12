package bandit

import (
	"errors"
	"math"
)

// #region constants
const (
	pivotEpsilon  = 1e-12
	minRidge      = 1e-9
	symmetryScale = 1e-9
)

var errSingular = errors.New("singular matrix")
// #endregion constants

// #region constructors
func identity(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		m[i][i] = 1.0
	}
	return m
}

func cloneMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
// #endregion constructors

// #region inverse
// invert returns m^-1 by Gauss-Jordan elimination with partial pivoting.
// m is not modified.
func invert(m [][]float64) ([][]float64, error) {
	n := len(m)
	work := cloneMatrix(m)
	inv := identity(n)

	for col := 0; col < n; col++ {
		pivot := col
		best := math.Abs(work[col][col])
		for r := col + 1; r < n; r++ {
			if v := math.Abs(work[r][col]); v > best {
				best, pivot = v, r
			}
		}
		if best < pivotEpsilon || math.IsNaN(best) {
			return nil, errSingular
		}
		work[col], work[pivot] = work[pivot], work[col]
		inv[col], inv[pivot] = inv[pivot], inv[col]

		p := work[col][col]
		for j := 0; j < n; j++ {
			work[col][j] /= p
			inv[col][j] /= p
		}
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			f := work[r][col]
			if f == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				work[r][j] -= f * work[col][j]
				inv[r][j] -= f * inv[col][j]
			}
		}
	}

	if !allFinite(inv) {
		return nil, errSingular
	}
	return inv, nil
}

// regularizedInvert tries a plain inverse first and falls back to
// (m + ridge*I)^-1. fellBack reports whether the ridge was needed.
func regularizedInvert(m [][]float64, ridge float64) (inv [][]float64, fellBack bool, err error) {
	inv, err = invert(m)
	if err == nil {
		return inv, false, nil
	}
	if ridge < minRidge {
		ridge = minRidge
	}
	shifted := cloneMatrix(m)
	for i := range shifted {
		shifted[i][i] += ridge
	}
	inv, err = invert(shifted)
	if err != nil {
		return nil, true, err
	}
	return inv, true, nil
}
// #endregion inverse

// #region products
func matVec(m [][]float64, v []float64) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		var s float64
		for j, x := range row {
			s += x * v[j]
		}
		out[i] = s
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
// #endregion products

// #region checks
func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func allFiniteVec(v []float64) bool {
	for _, x := range v {
		if !finite(x) {
			return false
		}
	}
	return true
}

func allFinite(m [][]float64) bool {
	for _, row := range m {
		if !allFiniteVec(row) {
			return false
		}
	}
	return true
}

// symmetric reports whether m equals its transpose within a tolerance scaled
// by the magnitude of the entries.
func symmetric(m [][]float64) bool {
	for i := range m {
		for j := i + 1; j < len(m); j++ {
			a, b := m[i][j], m[j][i]
			scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
			if math.Abs(a-b) > symmetryScale*scale {
				return false
			}
		}
	}
	return true
}
// #endregion checks
