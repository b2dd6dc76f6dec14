package tool

import (
	"io"
	"log"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"scatterdrop.dev/internal/geom"
	"scatterdrop.dev/internal/scatter/spawn"
	"scatterdrop.dev/internal/scene"
	"scatterdrop.dev/internal/scene/memscene"
)

type setup struct {
	scene *memscene.Scene
	tool  *Tool
	rock  scene.EntityID
	crate scene.EntityID
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	s := memscene.New(quiet)
	s.Create(memscene.Spec{Name: "Ground", Colliders: []memscene.ColliderSpec{{Extents: mgl32.Vec3{50, 0.05, 50}}}})
	rock := s.Create(memscene.Spec{Name: "Rock", Pos: mgl32.Vec3{30, 0.55, 30}, Colliders: []memscene.ColliderSpec{{Extents: mgl32.Vec3{0.5, 0.5, 0.5}}}})
	crate := s.Create(memscene.Spec{Name: "Crate", Pos: mgl32.Vec3{-30, 0.55, 30}, Colliders: []memscene.ColliderSpec{{Extents: mgl32.Vec3{0.5, 0.5, 0.5}}}, Body: &memscene.BodySpec{}})
	s.Select([]scene.EntityID{rock})

	cfg := DefaultConfig()
	cfg.Seed = 7
	cfg.Policy.RandomizeOrder = false
	return &setup{scene: s, tool: New(s, cfg, quiet), rock: rock, crate: crate}
}

func ray(x, z float32) geom.Ray {
	return geom.NewRay(mgl32.Vec3{x, 10, z}, geom.Down)
}

func TestEnableDisable_AttachOnce(t *testing.T) {
	st := newSetup(t)
	st.tool.Enable()
	st.tool.Enable()
	if st.scene.Listeners() != 1 {
		t.Fatalf("listeners after enable: %d", st.scene.Listeners())
	}
	if got := st.tool.Status(); got.PoolSize != 1 || got.NextName != "Rock" || got.State != "IDLE" {
		t.Fatalf("status after enable: %+v", got)
	}
	st.tool.Disable()
	st.tool.Disable()
	if st.scene.Listeners() != 0 {
		t.Fatalf("listeners after disable: %d", st.scene.Listeners())
	}
	if st.tool.Status().State != "INACTIVE" {
		t.Fatalf("state after disable: %s", st.tool.Status().State)
	}
}

func TestDisable_MidDropRestoresWorld(t *testing.T) {
	st := newSetup(t)
	cb, _ := st.scene.Body(st.crate)
	st.tool.Enable()
	st.tool.PointerEnter(ray(0, 0), false)
	st.tool.PointerDown(spawn.ButtonPrimary, 0, false)
	if !st.scene.Kinematic(cb) {
		t.Fatalf("foreign body should be frozen during a drop")
	}
	st.tool.Update(0.1)
	st.tool.Disable()
	if st.scene.Kinematic(cb) {
		t.Fatalf("disable must thaw foreign bodies")
	}
	if _, ok := st.scene.Find("Rock(Clone)"); ok {
		t.Fatalf("disable must not consolidate")
	}
	if st.tool.Session().Len() != 0 {
		t.Fatalf("transient instances left behind")
	}
}

func TestSelectionChanged_RebuildsAndReports(t *testing.T) {
	st := newSetup(t)
	st.tool.Enable()
	statue := st.scene.Create(memscene.Spec{Name: "Statue", Colliders: []memscene.ColliderSpec{{Extents: mgl32.Vec3{1, 1, 1}, NonConvex: true}}})
	st.scene.Select([]scene.EntityID{statue})
	got := st.tool.Status()
	if got.PoolSize != 0 || !strings.Contains(got.LastReason, "non-convex") {
		t.Fatalf("status after invalid selection: %+v", got)
	}
	st.tool.PointerEnter(ray(0, 0), false)
	if _, ok := st.tool.Controller().Target(); ok {
		t.Fatalf("empty pool has no target")
	}

	st.scene.Select([]scene.EntityID{st.rock, st.crate})
	if got := st.tool.Status(); got.PoolSize != 2 || got.LastReason != "" {
		t.Fatalf("status after valid selection: %+v", got)
	}
}

func TestSelectionChanged_IgnoredWhileRunning(t *testing.T) {
	st := newSetup(t)
	st.tool.Enable()
	st.tool.PointerEnter(ray(0, 0), false)
	st.tool.PointerDown(spawn.ButtonPrimary, 0, false)
	st.scene.Select(nil)
	if st.tool.Pool().Len() != 1 || st.tool.Session().Len() != 1 {
		t.Fatalf("selection change must not disturb a running drop")
	}
}

func TestHierarchyChanged_IgnoresOwnSpawn(t *testing.T) {
	st := newSetup(t)
	st.tool.Enable()
	st.tool.PointerEnter(ray(0, 0), false)
	st.tool.PointerDown(spawn.ButtonPrimary, 0, false)
	if st.tool.Session().Dirty() {
		t.Fatalf("own spawn should not dirty the snapshot")
	}
	st.scene.Create(memscene.Spec{Name: "Newcomer"})
	if !st.tool.Session().Dirty() {
		t.Fatalf("foreign change should dirty the snapshot")
	}
}

func TestHierarchyChanged_FailedSpawnKeepsNextChange(t *testing.T) {
	st := newSetup(t)
	st.tool.Enable()
	st.tool.PointerEnter(ray(0, 0), false)

	st.scene.FailInstantiate = func(scene.EntityID) bool { return true }
	st.tool.PointerDown(spawn.ButtonPrimary, 0, false)
	st.tool.PointerUp(spawn.ButtonPrimary, false)
	st.tool.Update(0.05)
	if st.tool.Session().Running() || st.tool.Session().Len() != 0 {
		t.Fatalf("failed drop should end empty: running=%v len=%d", st.tool.Session().Running(), st.tool.Session().Len())
	}
	st.scene.FailInstantiate = nil

	late := st.scene.Create(memscene.Spec{Name: "Late", Pos: mgl32.Vec3{30, 0.55, -30}, Colliders: []memscene.ColliderSpec{{Extents: mgl32.Vec3{0.5, 0.5, 0.5}}}, Body: &memscene.BodySpec{}})
	if !st.tool.Session().Dirty() {
		t.Fatalf("change after a failed spawn should dirty the snapshot")
	}
	lb, ok := st.scene.Body(late)
	if !ok {
		t.Fatalf("late entity has no body")
	}
	st.tool.PointerDown(spawn.ButtonPrimary, 0, false)
	if !st.tool.Session().Running() {
		t.Fatalf("second drop did not start")
	}
	if !st.scene.Kinematic(lb) {
		t.Fatalf("body created after a failed spawn is not frozen")
	}
}

func TestUndoDuringDrop(t *testing.T) {
	st := newSetup(t)
	cb, _ := st.scene.Body(st.crate)
	st.tool.Enable()
	st.tool.PointerEnter(ray(0, 0), false)
	st.tool.PointerDown(spawn.ButtonPrimary, 0, false)
	st.scene.Select(nil)

	st.scene.Undo()
	sess := st.tool.Session()
	if sess.Running() || sess.Len() != 0 || !sess.Dirty() {
		t.Fatalf("undo should abandon the run: running=%v len=%d dirty=%v", sess.Running(), sess.Len(), sess.Dirty())
	}
	if st.scene.Kinematic(cb) {
		t.Fatalf("foreign body still frozen after undo")
	}
	if sel := st.scene.Selected(); len(sel) != 1 || sel[0] != st.rock {
		t.Fatalf("pool selection should be restored, got %v", sel)
	}
	if next, ok := st.tool.Controller().Next(); !ok || next.Template != st.rock {
		t.Fatalf("next template lost after undo")
	}
}

func TestUndoConsolidatedDrop(t *testing.T) {
	st := newSetup(t)
	st.tool.Enable()
	st.tool.PointerEnter(ray(0, 0), false)
	st.tool.PointerDown(spawn.ButtonPrimary, 0, false)
	st.tool.PointerUp(spawn.ButtonPrimary, false)
	for i := 0; i < 1000 && st.tool.Session().Running(); i++ {
		st.tool.Update(0.05)
	}
	final, ok := st.scene.Find("Rock(Clone)")
	if !ok {
		t.Fatalf("drop was not consolidated")
	}
	st.scene.Undo()
	if st.scene.Alive(final) {
		t.Fatalf("undo should remove the consolidated drop")
	}
	if st.tool.Status().PoolSize != 1 {
		t.Fatalf("pool should survive the undo")
	}
}
