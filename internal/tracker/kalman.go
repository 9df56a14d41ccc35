// Package tracker implements the recursive state estimator (spec §4.3):
// a Kalman-style filter over a 9-dimensional constant-acceleration state
// [position, velocity, acceleration] in 3D. The numerical structure
// (predict, innovation, gain, posterior update, finite-state guards) is
// grounded on the reference codebase's own 4x4 constant-velocity filter
// (internal/lidar/l5tracks/tracking.go's predict/update/
// mahalanobisDistanceSquared), generalized from a hand-rolled fixed array
// to gonum/v1/gonum/mat because a 9x9 constant-acceleration state is
// unwieldy to hand-unroll cleanly (spec §4.3 implementation note).
package tracker

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/tracking-engine/internal/model"
)

// Params configures the filter (spec §6, algorithms.tracking.*).
type Params struct {
	ProcessNoise       float64 // scales Q(dt)
	MeasurementNoise   float64 // base R diagonal
	InitialUncertainty float64 // sigma_p for initial covariance; sigma_v, sigma_a derived
	MaxDt              float64 // hard cap on predict dt
}

// ErrSingularInnovation indicates S was not invertible; the caller must
// skip the update (spec §4.3: "Update must not execute when S is
// singular").
var ErrSingularInnovation = errors.New("tracker: singular innovation covariance")

// Init sets a track's state and covariance from a single detection
// (spec §4.3, "Track initialization").
func Init(t *model.Track, posX, posY, posZ float64, velX, velY, velZ float64, p Params) {
	t.X.SetVec(0, posX)
	t.X.SetVec(1, posY)
	t.X.SetVec(2, posZ)
	t.X.SetVec(3, velX)
	t.X.SetVec(4, velY)
	t.X.SetVec(5, velZ)
	t.X.SetVec(6, 0)
	t.X.SetVec(7, 0)
	t.X.SetVec(8, 0)

	sigmaP2 := p.InitialUncertainty * p.InitialUncertainty
	sigmaV2 := sigmaP2 * 4 // velocity is less certain than position from one fix
	sigmaA2 := sigmaP2 * 16
	for i := 0; i < model.StateDim; i++ {
		var v float64
		switch {
		case i < 3:
			v = sigmaP2
		case i < 6:
			v = sigmaV2
		default:
			v = sigmaA2
		}
		t.P.SetSym(i, i, v)
	}
}

// transition builds the 9x9 constant-acceleration state transition matrix
// F for time step dt:
//
//	p' = p + v*dt + 0.5*a*dt^2
//	v' = v + a*dt
//	a' = a
func transition(dt float64) *mat.Dense {
	f := mat.NewDense(model.StateDim, model.StateDim, nil)
	for i := 0; i < model.StateDim; i++ {
		f.Set(i, i, 1)
	}
	for i := 0; i < 3; i++ {
		f.Set(i, i+3, dt)
		f.Set(i, i+6, 0.5*dt*dt)
		f.Set(i+3, i+6, dt)
	}
	return f
}

// processNoise builds Q(dt), scaled so its magnitude grows with
// process_noise*dt (spec §4.3).
func processNoise(dt, processNoiseCoeff float64) *mat.SymDense {
	q := mat.NewSymDense(model.StateDim, nil)
	mag := processNoiseCoeff * dt
	for i := 0; i < model.StateDim; i++ {
		// Acceleration components accumulate the most uncertainty per
		// tick since they are unobserved and the least constrained.
		scale := 1.0
		if i >= 6 {
			scale = 4.0
		} else if i >= 3 {
			scale = 2.0
		}
		q.SetSym(i, i, mag*scale)
	}
	return q
}

// Predict advances track's state mean by the constant-acceleration
// transition and its covariance by P' = F P F^T + Q(dt) (spec §4.3).
// A dt below 0 or above MaxDt is replaced by MaxDt and flags the track as
// degraded (affects quality, spec §4.3 "Failure mode").
func Predict(t *model.Track, dt float64, p Params) {
	degraded := false
	if dt < 0 || dt > p.MaxDt {
		degraded = true
		dt = p.MaxDt
	}
	t.Degraded = degraded

	f := transition(dt)

	var newX mat.VecDense
	newX.MulVec(f, t.X)
	t.X.CopyVec(&newX)

	var fp mat.Dense
	fp.Mul(f, t.P)
	var fpft mat.Dense
	fpft.Mul(&fp, f.T())

	q := processNoise(dt, p.ProcessNoise)

	var newP mat.Dense
	newP.Add(&fpft, q)
	symmetrize(t.P, &newP)
	repairPSD(t.P)
}

// measurementMatrix returns H for a position-only (3x9) or
// position+velocity (6x9) measurement, per spec §4.3's "optionally when
// present with sufficient SNR" choice.
func measurementMatrix(withVelocity bool) *mat.Dense {
	rows := 3
	if withVelocity {
		rows = 6
	}
	h := mat.NewDense(rows, model.StateDim, nil)
	for i := 0; i < rows; i++ {
		h.Set(i, i, 1)
	}
	return h
}

// measurementNoise returns R, inflated for low-SNR detections per spec
// §4.3.
func measurementNoise(withVelocity bool, measurementNoiseCoeff float64, snrInflation float64) *mat.SymDense {
	rows := 3
	if withVelocity {
		rows = 6
	}
	r := mat.NewSymDense(rows, nil)
	for i := 0; i < rows; i++ {
		r.SetSym(i, i, measurementNoiseCoeff*snrInflation)
	}
	return r
}

// snrInflationFactor inflates R for low-SNR detections: factor is 1 at
// snrRef and grows as SNR drops below it, never below 1.
func snrInflationFactor(snrDB, snrRef float64) float64 {
	if snrRef <= 0 || snrDB >= snrRef {
		return 1
	}
	if snrDB <= 0 {
		return 4
	}
	f := snrRef / snrDB
	if f > 4 {
		f = 4
	}
	return f
}

// InnovationCov computes S = H P H^T + R for a candidate measurement,
// exposed for the association stage's gating (spec §4.3, "Innovation
// covariance query").
func InnovationCov(t *model.Track, withVelocity bool, snrDB float64, p Params) *mat.SymDense {
	h := measurementMatrix(withVelocity)
	r := measurementNoise(withVelocity, p.MeasurementNoise, snrInflationFactor(snrDB, 20))

	var hp mat.Dense
	hp.Mul(h, t.P)
	var hpht mat.Dense
	hpht.Mul(&hp, h.T())

	rows := hpht.RawMatrix().Rows
	s := mat.NewSymDense(rows, nil)
	for i := 0; i < rows; i++ {
		for j := i; j < rows; j++ {
			s.SetSym(i, j, hpht.At(i, j)+r.At(i, j))
		}
	}
	return s
}

// MahalanobisSquared computes d^2 = y^T S^-1 y for innovation y against
// innovation covariance s, the scalar gate score the association stage
// uses (spec §4.4). Returns (+Inf, ErrSingularInnovation) if s is
// singular.
func MahalanobisSquared(y *mat.VecDense, s *mat.SymDense) (float64, error) {
	var sInv mat.Dense
	if err := sInv.Inverse(s); err != nil {
		return math.Inf(1), ErrSingularInnovation
	}
	var tmp mat.VecDense
	tmp.MulVec(&sInv, y)
	return mat.Dot(y, &tmp), nil
}

// Update applies the linear Kalman update for track against a position
// (and optionally velocity) measurement. If S is singular the update is
// skipped entirely: Update increments the track's DegenerateGateEvents,
// sets Degraded, and returns ErrSingularInnovation. The hit/miss counters
// are never touched here; how a skipped update counts for the lifecycle is
// left to the caller (spec §4.3, §7 Degenerate).
func Update(t *model.Track, measPos [3]float64, measVel [3]float64, hasVel bool, snrDB float64, p Params) error {
	h := measurementMatrix(hasVel)
	rows := 3
	if hasVel {
		rows = 6
	}

	z := mat.NewVecDense(rows, nil)
	z.SetVec(0, measPos[0])
	z.SetVec(1, measPos[1])
	z.SetVec(2, measPos[2])
	if hasVel {
		z.SetVec(3, measVel[0])
		z.SetVec(4, measVel[1])
		z.SetVec(5, measVel[2])
	}

	var hx mat.VecDense
	hx.MulVec(h, t.X)
	var y mat.VecDense
	y.SubVec(z, &hx)

	s := InnovationCov(t, hasVel, snrDB, p)
	var sInv mat.Dense
	if err := sInv.Inverse(s); err != nil {
		t.DegenerateGateEvents++
		t.Degraded = true
		return ErrSingularInnovation
	}

	// K = P H^T S^-1
	var pht mat.Dense
	pht.Mul(t.P, h.T())
	var k mat.Dense
	k.Mul(&pht, &sInv)

	// x' = x + K y
	var ky mat.VecDense
	ky.MulVec(&k, &y)
	var newX mat.VecDense
	newX.AddVec(t.X, &ky)
	t.X.CopyVec(&newX)

	// P' = (I - K H) P
	ikh := identityMinusKH(&k, h)
	var newP mat.Dense
	newP.Mul(ikh, t.P)
	symmetrize(t.P, &newP)
	repairPSD(t.P)

	return nil
}

func identityMinusKH(k mat.Matrix, h mat.Matrix) *mat.Dense {
	kr, _ := k.Dims()
	var kh mat.Dense
	kh.Mul(k, h)
	out := mat.NewDense(kr, kr, nil)
	for i := 0; i < kr; i++ {
		for j := 0; j < kr; j++ {
			v := -kh.At(i, j)
			if i == j {
				v += 1
			}
			out.Set(i, j, v)
		}
	}
	return out
}

// symmetrize writes dst = 1/2(src + src^T) into a SymDense target
// (spec §4.3, "the posterior covariance is symmetrized").
func symmetrize(dst *mat.SymDense, src mat.Matrix) {
	n, _ := src.Dims()
	if dst.SymmetricDim() != n {
		*dst = *mat.NewSymDense(n, nil)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			dst.SetSym(i, j, 0.5*(src.At(i, j)+src.At(j, i)))
		}
	}
}

// repairPSD projects p to the nearest positive-semidefinite matrix if a
// tiny negative eigenvalue appears, by eigendecomposing and clamping
// negative eigenvalues to a small positive epsilon (spec §4.3, "epsilon
// lift").
func repairPSD(p *mat.SymDense) {
	var eig mat.EigenSym
	ok := eig.Factorize(p, true)
	if !ok {
		return
	}
	values := eig.Values(nil)
	negative := false
	const eps = 1e-9
	for i, v := range values {
		if v < eps {
			values[i] = eps
			negative = true
		}
	}
	if !negative {
		return
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)
	n := p.SymmetricDim()
	diag := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				diag.Set(i, j, values[i])
			} else {
				diag.Set(i, j, 0)
			}
		}
	}
	var vd mat.Dense
	vd.Mul(&vectors, diag)
	var reconstructed mat.Dense
	reconstructed.Mul(&vd, vectors.T())
	symmetrize(p, &reconstructed)
}

// IsFinite reports whether every element of the state mean and covariance
// diagonal is finite, guarding against NaN/Inf propagation from a
// degenerate predict/update (spec: numerical guards).
func IsFinite(t *model.Track) bool {
	for i := 0; i < model.StateDim; i++ {
		if math.IsNaN(t.X.AtVec(i)) || math.IsInf(t.X.AtVec(i), 0) {
			return false
		}
		if math.IsNaN(t.P.At(i, i)) || math.IsInf(t.P.At(i, i), 0) {
			return false
		}
	}
	return true
}
