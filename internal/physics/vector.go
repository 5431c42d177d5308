package physics

import "math"

// Vec3 is a plain value vector in world units; +Y is up.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

func (v Vec3) Scale(s float64) Vec3 { return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s} }

func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

// Len returns the Euclidean magnitude.
func (v Vec3) Len() float64 { return math.Sqrt(v.Dot(v)) }

// DistanceTo measures the straight-line distance between two points.
func (v Vec3) DistanceTo(o Vec3) float64 { return v.Sub(o).Len() }

// Normalize returns the unit vector. The zero vector stays zero.
func (v Vec3) Normalize() Vec3 {
	length := v.Len()
	if length == 0 {
		return Vec3{}
	}
	return v.Scale(1 / length)
}

// Horizontal drops the vertical component.
func (v Vec3) Horizontal() Vec3 { return Vec3{X: v.X, Z: v.Z} }

// IsFinite rejects NaN and infinite components.
func (v Vec3) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// ClampMagnitude scales v down so its length does not exceed limit.
func (v Vec3) ClampMagnitude(limit float64) Vec3 {
	//1.- Skip clamping when the limit disables the guard or the vector already fits.
	if !(limit > 0) {
		return v
	}
	magnitudeSq := v.Dot(v)
	if magnitudeSq == 0 || magnitudeSq <= limit*limit {
		return v
	}
	//2.- Scale each axis uniformly so the resulting magnitude matches the limit.
	return v.Scale(limit / math.Sqrt(magnitudeSq))
}

// Ray is a half-line from Origin along a unit Direction.
type Ray struct {
	Origin    Vec3
	Direction Vec3
}

// NewRay normalizes the direction.
func NewRay(origin, direction Vec3) Ray {
	return Ray{Origin: origin, Direction: direction.Normalize()}
}

// DistanceToPoint returns the shortest distance from p to the ray. Points
// behind the origin measure to the origin itself.
func (r Ray) DistanceToPoint(p Vec3) float64 {
	//1.- Project the offset onto the direction to find the closest parameter.
	offset := p.Sub(r.Origin)
	along := offset.Dot(r.Direction)
	if along < 0 {
		return offset.Len()
	}
	//2.- Measure from the closest point on the half-line.
	closest := r.Origin.Add(r.Direction.Scale(along))
	return p.DistanceTo(closest)
}

// YawToward returns the facing angle that points +Z toward the offset,
// matching atan2(dx, dz).
func YawToward(offset Vec3) float64 {
	return math.Atan2(offset.X, offset.Z)
}
