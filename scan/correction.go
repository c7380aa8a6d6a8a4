package scan

import (
	"fmt"
	"math"
)

// LoopCorrector distributes residual drift across a registered loop.
// Exactly two implementations exist and always run in order:
// ChainCorrector (global, anchors the chain end against the loop's
// boundary correspondence) then RelaxCorrector (local, smooths residual
// misalignment between consecutive frames). Correct returns one
// correction transform per frame plus the keypoints updated to the
// corrected space for the next stage.
type LoopCorrector interface {
	Name() string
	Correct(frames []Frame, keypoints []Keypoints, transforms []Mat4, boundary Keypoints) ([]Mat4, []Keypoints, error)
}

// ChainCorrector implements global loop-closure correction. The chain's
// final frame should land on the loop's globally placed end edge; the
// rigid residual between the chain end and the boundary correspondence
// is measured once and distributed along the chain with linearly
// increasing weight, so the start stays pinned and the end closes.
type ChainCorrector struct {
	// CorrespondDist bounds the nearest-neighbour matching between the
	// chain end and the boundary anchor (mm).
	CorrespondDist float64
}

// NewChainCorrector creates the global corrector with its default
// matching radius
func NewChainCorrector() *ChainCorrector {
	return &ChainCorrector{CorrespondDist: 1000.0}
}

// Name identifies the corrector in errors and logs
func (c *ChainCorrector) Name() string { return "chain" }

// Correct measures the loop residual and returns per-frame fractional
// corrections. corrections[0] is always identity.
func (c *ChainCorrector) Correct(frames []Frame, keypoints []Keypoints, transforms []Mat4, boundary Keypoints) ([]Mat4, []Keypoints, error) {
	n := len(frames)
	if n == 0 {
		return nil, nil, fmt.Errorf("chain correction on empty loop")
	}
	if len(transforms) != n {
		return nil, nil, fmt.Errorf("chain correction: %d transforms for %d frames", len(transforms), n)
	}

	corrections := make([]Mat4, n)
	for i := range corrections {
		corrections[i] = Identity()
	}

	residual := c.loopResidual(frames[n-1], boundary)
	for i := 1; i < n; i++ {
		fraction := float64(i) / float64(n-1)
		corrections[i] = FractionalTransform(residual, fraction)
	}

	corrected := applyCorrections(keypoints, corrections)
	return corrections, corrected, nil
}

// loopResidual registers the final frame's points against the boundary
// anchor correspondence. An empty or unmatched anchor yields identity;
// the loop is then already closed as far as we can tell.
func (c *ChainCorrector) loopResidual(last Frame, boundary Keypoints) Mat4 {
	if boundary.Empty() {
		return Identity()
	}
	anchor := boundary.Target
	samples := SamplePoints(last.Points, 300)
	src, tgt := nearestPairs(samples, anchor, c.CorrespondDist)
	if len(src) < 3 {
		return Identity()
	}
	return RigidFromPairs(src, tgt, nil)
}

// RelaxCorrector implements local loop-closure correction: a bounded
// number of damped relaxation sweeps over consecutive keypoint
// correspondences, each sweep nudging every frame toward agreement with
// its predecessor.
type RelaxCorrector struct {
	Sweeps  int
	Damping float64
}

// NewRelaxCorrector creates the local corrector with default sweep count
// and damping
func NewRelaxCorrector() *RelaxCorrector {
	return &RelaxCorrector{Sweeps: 3, Damping: 0.5}
}

// Name identifies the corrector in errors and logs
func (c *RelaxCorrector) Name() string { return "relax" }

// Correct runs the relaxation sweeps. corrections[0] is never touched and
// stays identity.
func (c *RelaxCorrector) Correct(frames []Frame, keypoints []Keypoints, transforms []Mat4, boundary Keypoints) ([]Mat4, []Keypoints, error) {
	n := len(frames)
	if n == 0 {
		return nil, nil, fmt.Errorf("relax correction on empty loop")
	}
	if len(transforms) != n {
		return nil, nil, fmt.Errorf("relax correction: %d transforms for %d frames", len(transforms), n)
	}

	corrections := make([]Mat4, n)
	for i := range corrections {
		corrections[i] = Identity()
	}

	sweeps := c.Sweeps
	if sweeps <= 0 {
		sweeps = 1
	}
	damping := c.Damping
	if damping <= 0 || damping > 1 {
		damping = 0.5
	}

	for sweep := 0; sweep < sweeps; sweep++ {
		for i := 1; i < n; i++ {
			if i-1 >= len(keypoints) || keypoints[i-1].Len() < 3 {
				continue
			}
			kp := keypoints[i-1]
			// kp.Target points belong to frame i, kp.Source to frame
			// i-1; under a perfect chain both coincide. Fit the
			// residual and move frame i a damped fraction toward it.
			src := ApplyAll(kp.Target, corrections[i])
			tgt := ApplyAll(kp.Source, corrections[i-1])
			fit := RigidFromPairs(src, tgt, nil)
			corrections[i] = Mul(FractionalTransform(fit, damping), corrections[i])
		}
	}

	corrected := applyCorrections(keypoints, corrections)
	return corrections, corrected, nil
}

// applyCorrections moves each correspondence into the corrected space.
// Entry i pairs frames i and i+1, so Source follows correction i and
// Target correction i+1.
func applyCorrections(keypoints []Keypoints, corrections []Mat4) []Keypoints {
	out := make([]Keypoints, len(keypoints))
	for i, kp := range keypoints {
		c := kp
		if i < len(corrections) {
			c.Source = ApplyAll(kp.Source, corrections[i])
		}
		if i+1 < len(corrections) {
			c.Target = ApplyAll(kp.Target, corrections[i+1])
		}
		out[i] = c
	}
	return out
}

// nearestPairs matches each source point to its nearest target point
// within maxDist
func nearestPairs(source, target []Point3, maxDist float64) ([]Point3, []Point3) {
	var src, tgt []Point3
	limit := maxDist * maxDist
	for _, sp := range source {
		minDist := math.MaxFloat64
		var nearest Point3
		for _, tp := range target {
			if d := SquaredDistance3(sp, tp); d < minDist {
				minDist = d
				nearest = tp
			}
		}
		if minDist <= limit {
			src = append(src, sp)
			tgt = append(tgt, nearest)
		}
	}
	return src, tgt
}

// FractionalTransform interpolates a rigid transform between identity
// (fraction 0) and m (fraction 1): the rotation angle is scaled about its
// axis via quaternions and the translation linearly.
func FractionalTransform(m Mat4, fraction float64) Mat4 {
	if fraction <= 0 {
		return Identity()
	}
	if fraction >= 1 {
		return m
	}

	q := quatFromMat(m)
	q = quatScaleAngle(q, fraction)
	out := quatToMat(q)
	t := m.Translation()
	out[3] = t.X * fraction
	out[7] = t.Y * fraction
	out[11] = t.Z * fraction
	return out
}

// quaternion in (w, x, y, z) order
type quat struct {
	w, x, y, z float64
}

func quatFromMat(m Mat4) quat {
	trace := m[0] + m[5] + m[10]
	var q quat
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1.0) * 2
		q.w = 0.25 * s
		q.x = (m[9] - m[6]) / s
		q.y = (m[2] - m[8]) / s
		q.z = (m[4] - m[1]) / s
	case m[0] > m[5] && m[0] > m[10]:
		s := math.Sqrt(1.0+m[0]-m[5]-m[10]) * 2
		q.w = (m[9] - m[6]) / s
		q.x = 0.25 * s
		q.y = (m[1] + m[4]) / s
		q.z = (m[2] + m[8]) / s
	case m[5] > m[10]:
		s := math.Sqrt(1.0+m[5]-m[0]-m[10]) * 2
		q.w = (m[2] - m[8]) / s
		q.x = (m[1] + m[4]) / s
		q.y = 0.25 * s
		q.z = (m[6] + m[9]) / s
	default:
		s := math.Sqrt(1.0+m[10]-m[0]-m[5]) * 2
		q.w = (m[4] - m[1]) / s
		q.x = (m[2] + m[8]) / s
		q.y = (m[6] + m[9]) / s
		q.z = 0.25 * s
	}
	return q
}

// quatScaleAngle scales the rotation angle of a unit quaternion by
// fraction, keeping the axis
func quatScaleAngle(q quat, fraction float64) quat {
	w := q.w
	if w > 1 {
		w = 1
	} else if w < -1 {
		w = -1
	}
	angle := 2 * math.Acos(w)
	if angle < 1e-12 {
		return quat{w: 1}
	}
	sinHalf := math.Sin(angle / 2)
	ax, ay, az := q.x/sinHalf, q.y/sinHalf, q.z/sinHalf

	newAngle := angle * fraction
	sinNew := math.Sin(newAngle / 2)
	return quat{
		w: math.Cos(newAngle / 2),
		x: ax * sinNew,
		y: ay * sinNew,
		z: az * sinNew,
	}
}

func quatToMat(q quat) Mat4 {
	m := Identity()
	xx, yy, zz := q.x*q.x, q.y*q.y, q.z*q.z
	xy, xz, yz := q.x*q.y, q.x*q.z, q.y*q.z
	wx, wy, wz := q.w*q.x, q.w*q.y, q.w*q.z

	m[0] = 1 - 2*(yy+zz)
	m[1] = 2 * (xy - wz)
	m[2] = 2 * (xz + wy)
	m[4] = 2 * (xy + wz)
	m[5] = 1 - 2*(xx+zz)
	m[6] = 2 * (yz - wx)
	m[8] = 2 * (xz - wy)
	m[9] = 2 * (yz + wx)
	m[10] = 1 - 2*(xx+yy)
	return m
}
