package geom

import (
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

func TestBoundsEncapsulate(t *testing.T) {
	a := FromMinMax(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 1, 1})
	b := FromMinMax(mgl32.Vec3{-1, 2, 0}, mgl32.Vec3{0, 3, 4})
	got := a.Encapsulate(b)
	if !got.Min().ApproxEqual(mgl32.Vec3{-1, 0, 0}) || !got.Max().ApproxEqual(mgl32.Vec3{1, 3, 4}) {
		t.Fatalf("unexpected bounds: min=%v max=%v", got.Min(), got.Max())
	}
}

func TestRotatedExtents_QuarterTurn(t *testing.T) {
	q := mgl32.QuatRotate(math32.Pi/2, mgl32.Vec3{0, 0, 1})
	got := RotatedExtents(q, mgl32.Vec3{2, 0.5, 1})
	if !got.ApproxEqualThreshold(mgl32.Vec3{0.5, 2, 1}, 1e-5) {
		t.Fatalf("rotated extents: got %v", got)
	}
}

func TestIntersectBounds(t *testing.T) {
	b := FromMinMax(mgl32.Vec3{-1, 0, -1}, mgl32.Vec3{1, 2, 1})
	r := NewRay(mgl32.Vec3{0, 10, 0}, Down)
	d, ok := IntersectBounds(r, b)
	if !ok || math32.Abs(d-8) > 1e-5 {
		t.Fatalf("hit: ok=%v d=%v", ok, d)
	}
	miss := NewRay(mgl32.Vec3{5, 10, 0}, Down)
	if _, ok := IntersectBounds(miss, b); ok {
		t.Fatalf("expected miss")
	}
}

func TestInsideUnitCircle_StaysInDisc(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		x, z := InsideUnitCircle(rng)
		if x*x+z*z > 1+1e-5 {
			t.Fatalf("sample %d outside disc: %v,%v", i, x, z)
		}
	}
	if off := DiscOffset(rng, 0); off != (mgl32.Vec3{}) {
		t.Fatalf("zero radius should give zero offset, got %v", off)
	}
}

func TestRandomRotation_IsUnit(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		q := RandomRotation(rng)
		if math32.Abs(q.Len()-1) > 1e-4 {
			t.Fatalf("non-unit quaternion: %v", q)
		}
	}
}
