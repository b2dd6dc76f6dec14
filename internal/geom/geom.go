package geom

import (
	"math"
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

var (
	Up   = mgl32.Vec3{0, 1, 0}
	Down = mgl32.Vec3{0, -1, 0}
	Zero = mgl32.Vec3{}
)

// Bounds is an axis-aligned box in world space.
type Bounds struct {
	Center  mgl32.Vec3
	Extents mgl32.Vec3
}

func FromMinMax(min, max mgl32.Vec3) Bounds {
	return Bounds{
		Center:  min.Add(max).Mul(0.5),
		Extents: max.Sub(min).Mul(0.5),
	}
}

func (b Bounds) Min() mgl32.Vec3  { return b.Center.Sub(b.Extents) }
func (b Bounds) Max() mgl32.Vec3  { return b.Center.Add(b.Extents) }
func (b Bounds) Size() mgl32.Vec3 { return b.Extents.Mul(2) }

// IsFlat reports whether the box has no vertical size.
func (b Bounds) IsFlat() bool { return b.Extents.Y() == 0 }

// Encapsulate grows b to contain o.
func (b Bounds) Encapsulate(o Bounds) Bounds {
	bmin, bmax := b.Min(), b.Max()
	omin, omax := o.Min(), o.Max()
	min := mgl32.Vec3{math32.Min(bmin[0], omin[0]), math32.Min(bmin[1], omin[1]), math32.Min(bmin[2], omin[2])}
	max := mgl32.Vec3{math32.Max(bmax[0], omax[0]), math32.Max(bmax[1], omax[1]), math32.Max(bmax[2], omax[2])}
	return FromMinMax(min, max)
}

// OverlapsXZ reports whether the horizontal footprints intersect (touching edges excluded).
func (b Bounds) OverlapsXZ(o Bounds) bool {
	bmin, bmax := b.Min(), b.Max()
	omin, omax := o.Min(), o.Max()
	return bmin[0] < omax[0] && omin[0] < bmax[0] && bmin[2] < omax[2] && omin[2] < bmax[2]
}

// RotatedExtents returns the half extents of the axis-aligned box enclosing a box
// with local half extents ext rotated by q.
func RotatedExtents(q mgl32.Quat, ext mgl32.Vec3) mgl32.Vec3 {
	cx := q.Rotate(mgl32.Vec3{1, 0, 0})
	cy := q.Rotate(mgl32.Vec3{0, 1, 0})
	cz := q.Rotate(mgl32.Vec3{0, 0, 1})
	var out mgl32.Vec3
	for i := 0; i < 3; i++ {
		out[i] = math32.Abs(cx[i])*ext[0] + math32.Abs(cy[i])*ext[1] + math32.Abs(cz[i])*ext[2]
	}
	return out
}

type Ray struct {
	Origin mgl32.Vec3
	Dir    mgl32.Vec3
}

func NewRay(origin, dir mgl32.Vec3) Ray {
	if dir.Len() == 0 {
		dir = Down
	}
	return Ray{Origin: origin, Dir: dir.Normalize()}
}

func (r Ray) At(d float32) mgl32.Vec3 { return r.Origin.Add(r.Dir.Mul(d)) }

// Nudge returns a ray with the same direction starting eps past p.
func (r Ray) Nudge(p mgl32.Vec3, eps float32) Ray {
	return Ray{Origin: p.Add(r.Dir.Mul(eps)), Dir: r.Dir}
}

// IntersectBounds runs a slab test and returns the entry distance along r.
// A ray starting inside b hits at distance 0.
func IntersectBounds(r Ray, b Bounds) (float32, bool) {
	bmin, bmax := b.Min(), b.Max()
	tmin := float32(0)
	tmax := float32(math.MaxFloat32)
	for i := 0; i < 3; i++ {
		if math32.Abs(r.Dir[i]) < 1e-8 {
			if r.Origin[i] < bmin[i] || r.Origin[i] > bmax[i] {
				return 0, false
			}
			continue
		}
		inv := 1 / r.Dir[i]
		t1 := (bmin[i] - r.Origin[i]) * inv
		t2 := (bmax[i] - r.Origin[i]) * inv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math32.Max(tmin, t1)
		tmax = math32.Min(tmax, t2)
		if tmin > tmax {
			return 0, false
		}
	}
	return tmin, true
}

// InsideUnitCircle samples a point uniformly from the unit disc.
func InsideUnitCircle(rng *rand.Rand) (x, z float32) {
	r := math32.Sqrt(rng.Float32())
	theta := 2 * math32.Pi * rng.Float32()
	return r * math32.Cos(theta), r * math32.Sin(theta)
}

// DiscOffset returns a horizontal offset uniformly distributed within radius.
func DiscOffset(rng *rand.Rand, radius float32) mgl32.Vec3 {
	if radius <= 0 {
		return mgl32.Vec3{}
	}
	x, z := InsideUnitCircle(rng)
	return mgl32.Vec3{x * radius, 0, z * radius}
}

// RandomRotation returns a uniformly distributed rotation (Shoemake).
func RandomRotation(rng *rand.Rand) mgl32.Quat {
	u1, u2, u3 := rng.Float32(), rng.Float32(), rng.Float32()
	a := math32.Sqrt(1 - u1)
	b := math32.Sqrt(u1)
	return mgl32.Quat{
		W: b * math32.Cos(2*math32.Pi*u3),
		V: mgl32.Vec3{
			a * math32.Sin(2*math32.Pi*u2),
			a * math32.Cos(2*math32.Pi*u2),
			b * math32.Sin(2*math32.Pi*u3),
		},
	}.Normalize()
}

func ToArray(v mgl32.Vec3) [3]float32 { return [3]float32{v[0], v[1], v[2]} }

func QuatToArray(q mgl32.Quat) [4]float32 { return [4]float32{q.V[0], q.V[1], q.V[2], q.W} }

func QuatFromArray(a [4]float32) mgl32.Quat {
	return mgl32.Quat{W: a[3], V: mgl32.Vec3{a[0], a[1], a[2]}}
}
