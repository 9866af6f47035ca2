// Package solver computes the pressure projection that makes the MAC grid
// velocity divergence free inside the fluid.
//
// The discrete Poisson system is assembled over FLUID cells and solved with
// conjugate gradient preconditioned by modified incomplete Cholesky, MIC(0).
// Pressures are scaled by dt/ρ so that the velocity update is simply
// u −= ∇q.
package solver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas64"

	"github.com/pthm-cable/flip/components"
	"github.com/pthm-cable/flip/grid"
	"github.com/pthm-cable/flip/levelset"
)

// ErrNotConverged is returned when the iteration cap is reached before the
// residual tolerance. The best iterate is still stored and usable.
var ErrNotConverged = errors.New("pressure solve did not converge")

// Options controls the solve.
type Options struct {
	MaxIterations int
	Tolerance     float64 // Relative to the largest |right-hand side|
	MICTuning     float64 // τ, 0 is plain incomplete Cholesky
	MICSafety     float64 // σ, fallback threshold on the preconditioner diagonal
	MinTheta      float64 // Lower bound on the free-surface fraction
	Subcell       bool    // Ghost-fluid free surface from the liquid level set
}

// DefaultOptions returns the standard settings.
func DefaultOptions() Options {
	return Options{
		MaxIterations: 1000,
		Tolerance:     1e-9,
		MICTuning:     0.97,
		MICSafety:     0.25,
		MinTheta:      0.01,
		Subcell:       true,
	}
}

// Result reports solver effort.
type Result struct {
	Cells      int     // Unknowns
	Iterations int     // CG iterations taken
	Residual   float64 // Final max |r| relative to max |b|
}

// Project solves for pressure and subtracts its gradient from the face
// velocities. Faces touching a SOLID cell are left alone and must already be
// zero. The pressure is applied even when the solve did not converge.
func Project(g *grid.MAC, liquid *levelset.LevelSet, opts Options) (Result, error) {
	res, err := Solve(g, liquid, opts)
	if err != nil && !errors.Is(err, ErrNotConverged) {
		return res, err
	}
	ApplyPressure(g, liquid, opts)
	return res, err
}

// Solve fills g.P with the pressure of every FLUID cell (0 elsewhere) such
// that subtracting its gradient zeroes the divergence stored in g.D.
func Solve(g *grid.MAC, liquid *levelset.LevelSet, opts Options) (Result, error) {
	g.P.Fill(0)
	sys := assemble(g, liquid, opts)
	n := len(sys.cells)
	if n == 0 {
		return Result{}, nil
	}

	h := g.H()
	b := make([]float64, n)
	for r, c := range sys.cells {
		b[r] = -g.D.Data[c] * h * h
	}

	q, iters, resid, err := sys.pcg(b, opts)
	for r, c := range sys.cells {
		g.P.Data[c] = q[r]
	}

	res := Result{Cells: n, Iterations: iters, Residual: resid}
	if err != nil {
		return res, fmt.Errorf("%d cells after %d iterations (residual %.3g): %w", n, iters, resid, err)
	}
	return res, nil
}

// ApplyPressure subtracts the pressure gradient stored in g.P from every face
// between a FLUID cell and a non-solid cell. Air cells read as zero pressure,
// or as the ghost pressure at the free surface in subcell mode.
func ApplyPressure(g *grid.MAC, liquid *levelset.LevelSet, opts Options) {
	h := g.H()
	apply := func(f *grid.Field, di, dj, dk int) {
		for k := 0; k < f.Z; k++ {
			for j := 0; j < f.Y; j++ {
				for i := 0; i < f.X; i++ {
					ai, aj, ak := i-di, j-dj, k-dk
					ka := g.A.KindOr(ai, aj, ak, components.Solid)
					kb := g.A.KindOr(i, j, k, components.Solid)
					if ka == components.Solid || kb == components.Solid {
						continue
					}
					if ka != components.Fluid && kb != components.Fluid {
						continue
					}
					qa, qb := 0.0, 0.0
					switch {
					case ka == components.Fluid && kb == components.Fluid:
						qa, qb = g.P.At(ai, aj, ak), g.P.At(i, j, k)
					case ka == components.Fluid:
						qa = g.P.At(ai, aj, ak)
						qb = qa * (1 - 1/theta(liquid, opts, ai, aj, ak, i, j, k))
					default:
						qb = g.P.At(i, j, k)
						qa = qb * (1 - 1/theta(liquid, opts, i, j, k, ai, aj, ak))
					}
					f.Data[f.Idx(i, j, k)] -= (qb - qa) / h
				}
			}
		}
	}
	apply(g.U, 1, 0, 0)
	apply(g.V, 0, 1, 0)
	apply(g.W, 0, 0, 1)
}

// theta returns the fraction of the segment from fluid cell f to air cell a
// that lies inside the liquid, clamped below by MinTheta. It is 1 unless
// subcell mode is on and the level set places the surface between them.
func theta(liquid *levelset.LevelSet, opts Options, fi, fj, fk, ai, aj, ak int) float64 {
	if !opts.Subcell || liquid == nil {
		return 1
	}
	pf, err := liquid.Cell(fi, fj, fk)
	if err != nil {
		return 1
	}
	pa, err := liquid.Cell(ai, aj, ak)
	if err != nil {
		return 1
	}
	if pf >= 0 || pa <= 0 {
		return 1
	}
	return math.Max(pf/(pf-pa), opts.MinTheta)
}

// system is the Poisson matrix over fluid cells in flat cell order. Only the
// diagonal and the coupling towards +x, +y, +z neighbours are stored; the
// matrix is symmetric.
type system struct {
	cells []int   // Flat cell index of each row
	diag  []float64
	plus  [][3]float64 // Coefficient towards the +x, +y, +z neighbour row
	up    [][3]int32   // Row of the +x, +y, +z neighbour, -1 if not fluid
	down  [][3]int32   // Row of the −x, −y, −z neighbour, -1 if not fluid
}

func assemble(g *grid.MAC, liquid *levelset.LevelSet, opts Options) *system {
	d := g.Dims
	row := make([]int32, d.Cells())
	sys := &system{}
	for c, kind := range g.A.Kinds {
		row[c] = -1
		if kind == components.Fluid {
			row[c] = int32(len(sys.cells))
			sys.cells = append(sys.cells, c)
		}
	}

	n := len(sys.cells)
	sys.diag = make([]float64, n)
	sys.plus = make([][3]float64, n)
	sys.up = make([][3]int32, n)
	sys.down = make([][3]int32, n)

	steps := [3][3]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	for r, c := range sys.cells {
		i, j, k := d.Coords(c)
		for axis, s := range steps {
			sys.up[r][axis], sys.down[r][axis] = -1, -1
			for _, sign := range [2]int{1, -1} {
				ni, nj, nk := i+sign*s[0], j+sign*s[1], k+sign*s[2]
				switch g.A.KindOr(ni, nj, nk, components.Solid) {
				case components.Solid:
				case components.Fluid:
					sys.diag[r]++
					nr := row[d.Idx(ni, nj, nk)]
					if sign > 0 {
						sys.plus[r][axis] = -1
						sys.up[r][axis] = nr
					} else {
						sys.down[r][axis] = nr
					}
				default:
					sys.diag[r] += 1 / theta(liquid, opts, i, j, k, ni, nj, nk)
				}
			}
		}
		// Walled in on every side: decoupled, pressure stays 0
		if sys.diag[r] == 0 {
			sys.diag[r] = 1
		}
	}
	return sys
}

// mul computes y = A x.
func (s *system) mul(x, y []float64) {
	for r := range s.cells {
		v := s.diag[r] * x[r]
		for axis := 0; axis < 3; axis++ {
			if u := s.up[r][axis]; u >= 0 {
				v += s.plus[r][axis] * x[u]
			}
			if dn := s.down[r][axis]; dn >= 0 {
				v += s.plus[dn][axis] * x[dn]
			}
		}
		y[r] = v
	}
}

// precondition builds the MIC(0) diagonal: the inverse square roots of the
// modified incomplete Cholesky factor's diagonal.
func (s *system) precondition(tau, sigma float64) []float64 {
	pre := make([]float64, len(s.cells))
	for r := range s.cells {
		e := s.diag[r]
		for axis := 0; axis < 3; axis++ {
			dn := s.down[r][axis]
			if dn < 0 {
				continue
			}
			a := s.plus[dn][axis] * pre[dn]
			e -= a * a
			// Fold the dropped fill-in back onto the diagonal
			other := 0.0
			for o := 0; o < 3; o++ {
				if o != axis {
					other += s.plus[dn][o]
				}
			}
			e -= tau * s.plus[dn][axis] * other * pre[dn] * pre[dn]
		}
		if e < sigma*s.diag[r] {
			e = s.diag[r]
		}
		pre[r] = 1 / math.Sqrt(e)
	}
	return pre
}

// applyPrecondition solves L Lᵀ z = r with the MIC(0) factor.
func (s *system) applyPrecondition(pre, r, z, tmp []float64) {
	for row := range s.cells {
		t := r[row]
		for axis := 0; axis < 3; axis++ {
			if dn := s.down[row][axis]; dn >= 0 {
				t -= s.plus[dn][axis] * pre[dn] * tmp[dn]
			}
		}
		tmp[row] = t * pre[row]
	}
	for row := len(s.cells) - 1; row >= 0; row-- {
		t := tmp[row]
		for axis := 0; axis < 3; axis++ {
			if u := s.up[row][axis]; u >= 0 {
				t -= s.plus[row][axis] * pre[row] * z[u]
			}
		}
		z[row] = t * pre[row]
	}
}

// pcg solves A q = b and returns q, the iteration count and the final
// relative residual.
func (s *system) pcg(b []float64, opts Options) ([]float64, int, float64, error) {
	n := len(b)
	vec := func(data []float64) blas64.Vector { return blas64.Vector{N: n, Inc: 1, Data: data} }

	q := vec(make([]float64, n))
	r := vec(make([]float64, n))
	blas64.Copy(vec(b), r)

	bmax := maxAbs(r)
	if bmax == 0 {
		return q.Data, 0, 0, nil
	}
	tol := opts.Tolerance * bmax

	pre := s.precondition(opts.MICTuning, opts.MICSafety)
	z := vec(make([]float64, n))
	tmp := make([]float64, n)
	s.applyPrecondition(pre, r.Data, z.Data, tmp)

	search := vec(make([]float64, n))
	blas64.Copy(z, search)
	rho := blas64.Dot(z, r)

	for it := 1; it <= opts.MaxIterations; it++ {
		s.mul(search.Data, z.Data)
		alpha := rho / blas64.Dot(z, search)
		blas64.Axpy(alpha, search, q)
		blas64.Axpy(-alpha, z, r)

		resid := maxAbs(r)
		if resid <= tol {
			return q.Data, it, resid / bmax, nil
		}

		s.applyPrecondition(pre, r.Data, z.Data, tmp)
		next := blas64.Dot(z, r)
		beta := next / rho
		blas64.Scal(beta, search)
		blas64.Axpy(1, z, search)
		rho = next
	}
	return q.Data, opts.MaxIterations, maxAbs(r) / bmax, ErrNotConverged
}

func maxAbs(v blas64.Vector) float64 {
	if v.N == 0 {
		return 0
	}
	return math.Abs(v.Data[blas64.Iamax(v)])
}
