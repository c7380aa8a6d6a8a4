package scan

import "math"

// Mat4 is a 4x4 homogeneous rigid transform (rotation + translation),
// stored row-major. Composition is matrix multiplication with the later
// transform on the left: applying Mul(b, a) is a first, then b.
type Mat4 [16]float64

// Identity returns the neutral transform
func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Mul composes two transforms: result = m1 * m2
// Applying the result is equivalent to applying m2 first, then m1
func Mul(m1, m2 Mat4) Mat4 {
	var out Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			sum := 0.0
			for k := 0; k < 4; k++ {
				sum += m1[r*4+k] * m2[k*4+c]
			}
			out[r*4+c] = sum
		}
	}
	return out
}

// Apply transforms a point: p' = R*p + t
func (m Mat4) Apply(p Point3) Point3 {
	return Point3{
		X: m[0]*p.X + m[1]*p.Y + m[2]*p.Z + m[3],
		Y: m[4]*p.X + m[5]*p.Y + m[6]*p.Z + m[7],
		Z: m[8]*p.X + m[9]*p.Y + m[10]*p.Z + m[11],
	}
}

// ApplyAll transforms a slice of points, returning a new slice
func ApplyAll(points []Point3, m Mat4) []Point3 {
	result := make([]Point3, len(points))
	for i, p := range points {
		result[i] = m.Apply(p)
	}
	return result
}

// ApplyFrame returns a transformed copy of a frame. The original frame is
// left untouched.
func ApplyFrame(f Frame, m Mat4) Frame {
	out := f
	out.Points = ApplyAll(f.Points, m)
	return out
}

// Translation returns the translation component of the transform.
func (m Mat4) Translation() Point3 {
	return Point3{X: m[3], Y: m[7], Z: m[11]}
}

// Invert computes the inverse of a rigid transform: R^T, -R^T*t.
// Only valid for rigid (orthonormal rotation) transforms.
func Invert(m Mat4) Mat4 {
	var out Mat4
	// transpose rotation block
	out[0], out[1], out[2] = m[0], m[4], m[8]
	out[4], out[5], out[6] = m[1], m[5], m[9]
	out[8], out[9], out[10] = m[2], m[6], m[10]
	// -R^T * t
	out[3] = -(out[0]*m[3] + out[1]*m[7] + out[2]*m[11])
	out[7] = -(out[4]*m[3] + out[5]*m[7] + out[6]*m[11])
	out[11] = -(out[8]*m[3] + out[9]*m[7] + out[10]*m[11])
	out[15] = 1
	return out
}

// NewTranslation creates a translation-only transform
func NewTranslation(tx, ty, tz float64) Mat4 {
	m := Identity()
	m[3], m[7], m[11] = tx, ty, tz
	return m
}

// RotationX creates a rotation about the X axis (angle in radians)
func RotationX(angle float64) Mat4 {
	cos, sin := math.Cos(angle), math.Sin(angle)
	m := Identity()
	m[5], m[6] = cos, -sin
	m[9], m[10] = sin, cos
	return m
}

// RotationY creates a rotation about the Y axis (angle in radians)
func RotationY(angle float64) Mat4 {
	cos, sin := math.Cos(angle), math.Sin(angle)
	m := Identity()
	m[0], m[2] = cos, sin
	m[8], m[10] = -sin, cos
	return m
}

// RotationZ creates a rotation about the Z axis (angle in radians)
func RotationZ(angle float64) Mat4 {
	cos, sin := math.Cos(angle), math.Sin(angle)
	m := Identity()
	m[0], m[1] = cos, -sin
	m[4], m[5] = sin, cos
	return m
}

// RotationZDeg creates a rotation about the Z axis (angle in degrees)
func RotationZDeg(degrees float64) Mat4 {
	return RotationZ(degrees * math.Pi / 180.0)
}

// YawDeg extracts the rotation about the Z axis in degrees, normalized
// to [0, 360). Used for top-down trajectory reporting.
func (m Mat4) YawDeg() float64 {
	deg := math.Atan2(m[4], m[0]) * 180 / math.Pi
	return NormalizeAngle(deg)
}

// NormalizeAngle normalizes an angle in degrees to the range [0, 360).
func NormalizeAngle(degrees float64) float64 {
	degrees = math.Mod(degrees, 360)
	if degrees < 0 {
		degrees += 360
	}
	return degrees
}

// ApproxEqual reports whether two transforms agree element-wise within eps.
func ApproxEqual(a, b Mat4, eps float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > eps {
			return false
		}
	}
	return true
}

// IsRigid checks that the rotation block is orthonormal with positive
// determinant and the bottom row is (0,0,0,1). Transforms failing this
// indicate a numerical defect upstream.
func (m Mat4) IsRigid(eps float64) bool {
	if math.Abs(m[12]) > eps || math.Abs(m[13]) > eps || math.Abs(m[14]) > eps || math.Abs(m[15]-1) > eps {
		return false
	}
	// rows of the rotation block must be unit length and orthogonal
	rows := [3][3]float64{
		{m[0], m[1], m[2]},
		{m[4], m[5], m[6]},
		{m[8], m[9], m[10]},
	}
	for i := 0; i < 3; i++ {
		norm := rows[i][0]*rows[i][0] + rows[i][1]*rows[i][1] + rows[i][2]*rows[i][2]
		if math.Abs(norm-1) > eps {
			return false
		}
		for j := i + 1; j < 3; j++ {
			dot := rows[i][0]*rows[j][0] + rows[i][1]*rows[j][1] + rows[i][2]*rows[j][2]
			if math.Abs(dot) > eps {
				return false
			}
		}
	}
	det := m[0]*(m[5]*m[10]-m[6]*m[9]) - m[1]*(m[4]*m[10]-m[6]*m[8]) + m[2]*(m[4]*m[9]-m[5]*m[8])
	return det > 0
}

// Distance3 returns the Euclidean distance between two points
func Distance3(a, b Point3) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// SquaredDistance3 returns the squared Euclidean distance between two points
func SquaredDistance3(a, b Point3) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return dx*dx + dy*dy + dz*dz
}

// Centroid3 returns the centroid of a point set, or the origin for an
// empty set
func Centroid3(points []Point3) Point3 {
	if len(points) == 0 {
		return Point3{}
	}
	var c Point3
	for _, p := range points {
		c.X += p.X
		c.Y += p.Y
		c.Z += p.Z
	}
	n := float64(len(points))
	return Point3{X: c.X / n, Y: c.Y / n, Z: c.Z / n}
}
