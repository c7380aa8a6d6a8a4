package scan

import (
	"gonum.org/v1/gonum/mat"
)

// RigidFromPairs computes the least-squares rigid transform mapping
// source points onto target points (Kabsch). Weights may be nil for the
// unweighted fit. Fewer than three pairs, or a degenerate covariance,
// yields the identity.
func RigidFromPairs(source, target []Point3, weights []float64) Mat4 {
	n := len(source)
	if n < 3 || n != len(target) {
		return Identity()
	}

	var wSum float64
	w := func(i int) float64 { return 1 }
	if weights != nil && len(weights) == n {
		w = func(i int) float64 { return weights[i] }
	}
	for i := 0; i < n; i++ {
		wSum += w(i)
	}
	if wSum <= 0 {
		return Identity()
	}

	// Weighted centroids
	var cs, ct Point3
	for i := 0; i < n; i++ {
		wi := w(i)
		cs.X += source[i].X * wi
		cs.Y += source[i].Y * wi
		cs.Z += source[i].Z * wi
		ct.X += target[i].X * wi
		ct.Y += target[i].Y * wi
		ct.Z += target[i].Z * wi
	}
	cs.X, cs.Y, cs.Z = cs.X/wSum, cs.Y/wSum, cs.Z/wSum
	ct.X, ct.Y, ct.Z = ct.X/wSum, ct.Y/wSum, ct.Z/wSum

	// Weighted cross-covariance H = sum w * (s - cs)(t - ct)^T
	h := mat.NewDense(3, 3, nil)
	for i := 0; i < n; i++ {
		wi := w(i)
		sx, sy, sz := source[i].X-cs.X, source[i].Y-cs.Y, source[i].Z-cs.Z
		tx, ty, tz := target[i].X-ct.X, target[i].Y-ct.Y, target[i].Z-ct.Z
		h.Set(0, 0, h.At(0, 0)+wi*sx*tx)
		h.Set(0, 1, h.At(0, 1)+wi*sx*ty)
		h.Set(0, 2, h.At(0, 2)+wi*sx*tz)
		h.Set(1, 0, h.At(1, 0)+wi*sy*tx)
		h.Set(1, 1, h.At(1, 1)+wi*sy*ty)
		h.Set(1, 2, h.At(1, 2)+wi*sy*tz)
		h.Set(2, 0, h.At(2, 0)+wi*sz*tx)
		h.Set(2, 1, h.At(2, 1)+wi*sz*ty)
		h.Set(2, 2, h.At(2, 2)+wi*sz*tz)
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return Identity()
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V * D * U^T with D correcting a possible reflection
	var r mat.Dense
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		d := mat.NewDiagDense(3, []float64{1, 1, -1})
		var vd mat.Dense
		vd.Mul(&v, d)
		r.Mul(&vd, u.T())
	}

	out := Identity()
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			out[row*4+col] = r.At(row, col)
		}
	}
	// t = ct - R * cs
	out[3] = ct.X - (out[0]*cs.X + out[1]*cs.Y + out[2]*cs.Z)
	out[7] = ct.Y - (out[4]*cs.X + out[5]*cs.Y + out[6]*cs.Z)
	out[11] = ct.Z - (out[8]*cs.X + out[9]*cs.Y + out[10]*cs.Z)
	return out
}
