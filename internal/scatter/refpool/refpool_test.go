package refpool

import (
	"errors"
	"io"
	"log"
	"math/rand"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"scatterdrop.dev/internal/scene"
	"scatterdrop.dev/internal/scene/memscene"
)

func newScene() *memscene.Scene {
	return memscene.New(log.New(io.Discard, "", 0))
}

func cube() []memscene.ColliderSpec {
	return []memscene.ColliderSpec{{Extents: mgl32.Vec3{0.5, 0.5, 0.5}}}
}

func TestRebuild_RejectsNonConvex(t *testing.T) {
	s := newScene()
	statue := s.Create(memscene.Spec{Name: "Statue", Colliders: []memscene.ColliderSpec{{Extents: mgl32.Vec3{1, 2, 1}, NonConvex: true}}})
	p := New(s, nil)
	rep := p.Rebuild([]scene.EntityID{statue})
	if p.Len() != 0 || rep.Rejected != 1 {
		t.Fatalf("expected empty pool, got len=%d report=%+v", p.Len(), rep)
	}
	if !errors.Is(rep.LastErr, ErrNonConvexCollider) {
		t.Fatalf("unexpected error: %v", rep.LastErr)
	}
	if !strings.Contains(rep.LastReason(), "non-convex") {
		t.Fatalf("reason should mention the non-convex collider: %q", rep.LastReason())
	}
}

func TestRebuild_RejectsNestedBody(t *testing.T) {
	s := newScene()
	cart := s.Create(memscene.Spec{Name: "Cart", Colliders: cube()})
	s.CreateChild(cart, memscene.Spec{Name: "Wheel", Colliders: cube(), Body: &memscene.BodySpec{}})
	both := s.Create(memscene.Spec{Name: "Both", Colliders: cube(), Body: &memscene.BodySpec{}})
	s.CreateChild(both, memscene.Spec{Name: "Inner", Body: &memscene.BodySpec{}})
	ok := s.Create(memscene.Spec{Name: "Crate", Colliders: cube(), Body: &memscene.BodySpec{}})

	p := New(s, nil)
	rep := p.Rebuild([]scene.EntityID{cart, both, ok})
	if rep.Accepted != 1 || rep.Rejected != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	var ve *ValidationError
	if !errors.As(rep.LastErr, &ve) || ve.Entity != both || !errors.Is(ve, ErrNestedBody) {
		t.Fatalf("last error should be the nested body of %d: %v", both, rep.LastErr)
	}

	// A single-body member still resolves to a root carrying two bodies.
	asset := s.CreateAsset(memscene.Spec{Name: "Wagon", Colliders: cube(), Body: &memscene.BodySpec{}})
	s.CreateChild(asset, memscene.Spec{Name: "Axle", Colliders: cube(), Body: &memscene.BodySpec{}})
	inst, _ := s.InstantiateFromTemplate(asset)
	var axle scene.EntityID
	for _, id := range []scene.EntityID{inst + 1, inst + 2} {
		if s.Name(id) == "Axle" {
			axle = id
		}
	}
	if axle == scene.NoEntity {
		t.Fatalf("axle copy not found")
	}
	rep = p.Rebuild([]scene.EntityID{axle})
	if p.Len() != 0 || rep.Rejected != 1 {
		t.Fatalf("member of a multi-body instance should be rejected: len=%d report=%+v", p.Len(), rep)
	}
	if !errors.As(rep.LastErr, &ve) || ve.Entity != inst || !errors.Is(ve, ErrNestedBody) {
		t.Fatalf("rejection should name the instance root %d: %v", inst, rep.LastErr)
	}
}

func TestRebuild_RejectsNestedOverrides(t *testing.T) {
	s := newScene()
	asset := s.CreateAsset(memscene.Spec{Name: "Shelf", Colliders: cube()})
	inner, _ := s.InstantiateFromTemplate(asset)
	s.AddOverrideObject(inner, memscene.Spec{Name: "Book"})
	outer, _ := s.InstantiateFromTemplate(asset)
	s.SetParent(inner, outer)
	s.AttachOverride(outer, inner)

	p := New(s, nil)
	rep := p.Rebuild([]scene.EntityID{outer})
	if p.Len() != 0 || !errors.Is(rep.LastErr, ErrNestedOverrides) {
		t.Fatalf("expected nested override rejection, got %+v", rep)
	}
}

func TestRebuild_ResolvesInstanceRootAndDedups(t *testing.T) {
	s := newScene()
	asset := s.CreateAsset(memscene.Spec{Name: "Lamp", Colliders: cube()})
	s.CreateChild(asset, memscene.Spec{Name: "Bulb"})
	inst, _ := s.InstantiateFromTemplate(asset)
	var bulb scene.EntityID
	for _, id := range []scene.EntityID{inst + 1, inst + 2} {
		if s.Name(id) == "Bulb" {
			bulb = id
		}
	}
	if bulb == scene.NoEntity {
		t.Fatalf("bulb copy not found")
	}
	p := New(s, nil)
	p.Rebuild([]scene.EntityID{bulb, inst})
	if p.Len() != 1 || p.Entries()[0].Template != inst {
		t.Fatalf("member should resolve to instance root once, got %+v", p.Entries())
	}
}

func TestNext_SequentialCyclesAndEvicts(t *testing.T) {
	s := newScene()
	a := s.Create(memscene.Spec{Name: "A"})
	b := s.Create(memscene.Spec{Name: "B"})
	c := s.Create(memscene.Spec{Name: "C"})
	p := New(s, nil)
	p.Rebuild([]scene.EntityID{a, b, c})

	var got []scene.EntityID
	for i := 0; i < 6; i++ {
		e, ok := p.Next(false)
		if !ok {
			t.Fatalf("next %d: pool unexpectedly empty", i)
		}
		got = append(got, e.Template)
	}
	want := []scene.EntityID{a, b, c, a, b, c}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sequence %v, want %v", got, want)
		}
	}

	s.Destroy(b)
	seen := map[scene.EntityID]int{}
	for i := 0; i < 4; i++ {
		e, _ := p.Next(false)
		if e.Template == b {
			t.Fatalf("stale entry returned")
		}
		seen[e.Template]++
	}
	if seen[a] != 2 || seen[c] != 2 || p.Len() != 2 {
		t.Fatalf("expected fair cycle over survivors, got %v len=%d", seen, p.Len())
	}

	s.Destroy(a)
	s.Destroy(c)
	if _, ok := p.Next(true); ok || p.Len() != 0 {
		t.Fatalf("pool should drain to empty")
	}
}

func TestNext_RandomizedStaysInPool(t *testing.T) {
	s := newScene()
	a := s.Create(memscene.Spec{Name: "A"})
	b := s.Create(memscene.Spec{Name: "B"})
	p := New(s, rand.New(rand.NewSource(3)))
	p.Rebuild([]scene.EntityID{a, b})
	for i := 0; i < 50; i++ {
		e, ok := p.Next(true)
		if !ok || (e.Template != a && e.Template != b) {
			t.Fatalf("unexpected entry %+v", e)
		}
	}
}

func TestSelectAll_SkipsStale(t *testing.T) {
	s := newScene()
	a := s.Create(memscene.Spec{Name: "A"})
	b := s.Create(memscene.Spec{Name: "B"})
	p := New(s, nil)
	p.Rebuild([]scene.EntityID{a, b})
	s.Destroy(a)
	p.SelectAll()
	if sel := s.Selected(); len(sel) != 1 || sel[0] != b {
		t.Fatalf("selection: %v", sel)
	}
}

func TestEntryRefresh(t *testing.T) {
	s := newScene()
	asset := s.CreateAsset(memscene.Spec{Name: "Crate", Colliders: cube(), Body: &memscene.BodySpec{}})
	inst, _ := s.InstantiateFromTemplate(asset)
	body, _ := s.Body(inst)
	s.SetKinematic(body, true)

	p := New(s, nil)
	p.Rebuild([]scene.EntityID{inst})
	e := p.Entries()[0]
	if !e.HasBody || !e.WasKinematic || !e.WasOverridden {
		t.Fatalf("entry did not capture body state: %+v", e)
	}
}
