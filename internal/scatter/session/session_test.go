package session

import (
	"io"
	"log"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"scatterdrop.dev/internal/scatter/refpool"
	"scatterdrop.dev/internal/scene"
	"scatterdrop.dev/internal/scene/memscene"
)

type recorder struct {
	started []RunInfo
	placed  []Placement
	stopped []Summary
}

func (r *recorder) SessionStarted(i RunInfo) { r.started = append(r.started, i) }
func (r *recorder) Placed(p Placement)       { r.placed = append(r.placed, p) }
func (r *recorder) SessionStopped(s Summary) { r.stopped = append(r.stopped, s) }

type fixture struct {
	scene *memscene.Scene
	sess  *Session
	pool  *refpool.Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	s := memscene.New(quiet)
	s.Create(memscene.Spec{Name: "Ground", Colliders: []memscene.ColliderSpec{{Extents: mgl32.Vec3{50, 0.05, 50}}}})
	return &fixture{
		scene: s,
		sess:  New(s, DefaultConfig(), quiet, rand.New(rand.NewSource(1))),
		pool:  refpool.New(s, nil),
	}
}

func (f *fixture) entry(t *testing.T, e scene.EntityID) *refpool.Entry {
	t.Helper()
	f.pool.Rebuild([]scene.EntityID{e})
	en, ok := f.pool.Next(false)
	if !ok {
		t.Fatalf("template %d rejected", e)
	}
	return en
}

func cube() []memscene.ColliderSpec {
	return []memscene.ColliderSpec{{Extents: mgl32.Vec3{0.5, 0.5, 0.5}}}
}

type bodyState struct{ kinematic, overridden bool }

func capture(s *memscene.Scene) map[scene.BodyID]bodyState {
	out := map[scene.BodyID]bodyState{}
	for _, b := range s.FindAllBodies() {
		out[b] = bodyState{s.Kinematic(b), s.KinematicOverridden(b)}
	}
	return out
}

func TestStartStop_RoundTrip(t *testing.T) {
	f := newFixture(t)
	s := f.scene
	s.Create(memscene.Spec{Name: "Loose", Pos: mgl32.Vec3{5, 0.55, 0}, Colliders: cube(), Body: &memscene.BodySpec{}})
	s.Create(memscene.Spec{Name: "Pinned", Pos: mgl32.Vec3{-5, 0.55, 0}, Colliders: cube(), Body: &memscene.BodySpec{Kinematic: true}})
	dynAsset := s.CreateAsset(memscene.Spec{Name: "Barrel", Colliders: cube(), Body: &memscene.BodySpec{}})
	s.InstantiateFromTemplate(dynAsset)
	kinAsset := s.CreateAsset(memscene.Spec{Name: "Crate", Colliders: cube(), Body: &memscene.BodySpec{Kinematic: true}})
	overridden, _ := s.InstantiateFromTemplate(kinAsset)
	ob, _ := s.Body(overridden)
	s.SetKinematic(ob, false)

	before := capture(s)
	for round := 0; round < 3; round++ {
		if !f.sess.Start() {
			t.Fatalf("round %d: start refused", round)
		}
		if f.sess.Start() {
			t.Fatalf("second start must be a no-op")
		}
		for _, b := range s.FindAllBodies() {
			if !s.Kinematic(b) {
				t.Fatalf("round %d: foreign body %d not frozen", round, b)
			}
		}
		if !f.sess.Stop(false) {
			t.Fatalf("round %d: stop refused", round)
		}
		if f.sess.Stop(false) {
			t.Fatalf("second stop must be a no-op")
		}
		after := capture(s)
		for b, want := range before {
			if after[b] != want {
				t.Fatalf("round %d: body %d state %+v, want %+v", round, b, after[b], want)
			}
		}
	}
}

func TestStart_ExcludesOwnInstances(t *testing.T) {
	f := newFixture(t)
	tpl := f.scene.Create(memscene.Spec{Name: "Rock", Colliders: cube()})
	in, err := f.sess.Add(f.entry(t, tpl), mgl32.Vec3{0, 3, 0}, false)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	f.sess.Start()
	if f.scene.Kinematic(in.Body()) {
		t.Fatalf("own instance must not be frozen")
	}
	if !f.scene.Active(in.Entity()) {
		t.Fatalf("own instance must be re-enabled after the scan")
	}
	if !f.sess.Contains(in.Entity()) || f.sess.Contains(tpl) {
		t.Fatalf("contains mismatch")
	}
}

func TestStart_RescansOnlyWhenDirty(t *testing.T) {
	f := newFixture(t)
	f.sess.Start()
	f.sess.Stop(false)
	if f.sess.Scans() != 1 {
		t.Fatalf("first start should scan, scans=%d", f.sess.Scans())
	}
	f.sess.Start()
	f.sess.Stop(false)
	if f.sess.Scans() != 1 {
		t.Fatalf("clean start must not rescan, scans=%d", f.sess.Scans())
	}
	late := f.scene.Create(memscene.Spec{Name: "Late", Pos: mgl32.Vec3{8, 0.55, 0}, Colliders: cube(), Body: &memscene.BodySpec{}})
	lb, _ := f.scene.Body(late)
	f.sess.Start()
	if f.scene.Kinematic(lb) {
		t.Fatalf("without a dirty mark the new body is not known yet")
	}
	f.sess.Stop(false)
	f.sess.MarkDirty()
	f.sess.Start()
	if f.sess.Scans() != 2 || !f.scene.Kinematic(lb) {
		t.Fatalf("dirty start should rescan and freeze the new body")
	}
	f.sess.Stop(false)
}

func TestStep_CapsAndCarries(t *testing.T) {
	f := newFixture(t)
	if f.sess.Step(1) != 0 {
		t.Fatalf("idle session must not step")
	}
	f.sess.Start()
	if got := f.sess.Step(0.5); got != 3 {
		t.Fatalf("steps=%d want 3", got)
	}
	if got := f.sess.Step(0); got != 3 {
		t.Fatalf("leftover time should carry over, steps=%d", got)
	}
	if !f.scene.AutoSimulation() {
		t.Fatalf("auto simulation should be restored")
	}
}

func TestAllSettled(t *testing.T) {
	f := newFixture(t)
	if !f.sess.AllSettled() || !f.sess.LastIsSettled() {
		t.Fatalf("empty session is settled")
	}
	tpl := f.scene.Create(memscene.Spec{Name: "Rock", Pos: mgl32.Vec3{20, 0.55, 20}, Colliders: cube()})
	entry := f.entry(t, tpl)
	f.sess.Start()
	for i := 0; i < 3; i++ {
		if _, err := f.sess.Add(entry, mgl32.Vec3{float32(i) * 2, 2 + float32(i), 0}, false); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if f.sess.AllSettled() {
		t.Fatalf("fresh drops are not settled")
	}
	for i := 0; i < 1000 && !f.sess.AllSettled(); i++ {
		f.sess.Step(0.05)
	}
	if !f.sess.AllSettled() || !f.sess.LastIsSettled() {
		t.Fatalf("instances never settled")
	}
	for i := 0; i < 20; i++ {
		f.sess.Step(0.05)
		if !f.sess.AllSettled() {
			t.Fatalf("settled state must persist without new spawns")
		}
	}
	f.sess.Add(entry, mgl32.Vec3{0, 6, 0}, false)
	if f.sess.AllSettled() {
		t.Fatalf("new spawn should unsettle the session")
	}
}

func TestStopConsolidate_CountsAndFailures(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	f.sess.SetObserver(rec)
	good := f.scene.Create(memscene.Spec{Name: "Good", Pos: mgl32.Vec3{20, 0.55, 20}, Colliders: cube()})
	bad := f.scene.Create(memscene.Spec{Name: "Bad", Pos: mgl32.Vec3{-20, 0.55, 20}, Colliders: cube()})
	f.pool.Rebuild([]scene.EntityID{good, bad})
	goodEntry, _ := f.pool.Next(false)
	badEntry, _ := f.pool.Next(false)

	f.sess.Start()
	var spawned []scene.EntityID
	for _, e := range []*refpool.Entry{goodEntry, badEntry, goodEntry} {
		in, err := f.sess.Add(e, mgl32.Vec3{0, 3, 0}, true)
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		spawned = append(spawned, in.Entity())
	}
	f.scene.FailInstantiate = func(tpl scene.EntityID) bool { return tpl == bad }
	roots := len(f.scene.Roots())

	f.sess.Stop(true)
	if f.sess.Len() != 0 {
		t.Fatalf("transient instances left: %d", f.sess.Len())
	}
	for _, e := range spawned {
		if f.scene.Alive(e) {
			t.Fatalf("transient %d still alive", e)
		}
	}
	if got := len(f.scene.Roots()); got != roots-3+2 {
		t.Fatalf("expected two permanent entities, roots %d -> %d", roots, got)
	}
	if len(rec.started) != 1 || rec.started[0].ID == "" {
		t.Fatalf("start not observed: %+v", rec.started)
	}
	if len(rec.placed) != 2 || rec.placed[0].SessionID != rec.started[0].ID {
		t.Fatalf("placements: %+v", rec.placed)
	}
	sum := rec.stopped[0]
	if sum.Consolidated != 2 || sum.Failed != 1 {
		t.Fatalf("summary: %+v", sum)
	}
	if got := f.scene.GroupName(); got != "Consolidated 2 dropped objects." {
		t.Fatalf("group name %q", got)
	}
}

func TestStopConsolidate_TracksNewBodies(t *testing.T) {
	f := newFixture(t)
	tpl := f.scene.Create(memscene.Spec{Name: "Rock", Pos: mgl32.Vec3{20, 0.55, 20}, Colliders: cube(), Body: &memscene.BodySpec{}})
	entry := f.entry(t, tpl)
	f.sess.Start()
	f.sess.Add(entry, mgl32.Vec3{0, 3, 0}, false)
	f.sess.Stop(true)

	f.sess.Start()
	for _, b := range f.scene.FindAllBodies() {
		if !f.scene.Kinematic(b) {
			t.Fatalf("consolidated body %d should be frozen without a rescan", b)
		}
	}
	if f.sess.Scans() != 1 {
		t.Fatalf("unexpected rescan")
	}
	f.sess.Stop(false)
}

func TestMoveAll_IgnoredWhileRunning(t *testing.T) {
	f := newFixture(t)
	tpl := f.scene.Create(memscene.Spec{Name: "Rock", Colliders: cube()})
	in, _ := f.sess.Add(f.entry(t, tpl), mgl32.Vec3{0, 3, 0}, false)
	f.sess.MoveAll(mgl32.Vec3{1, 0, 0})
	if pos, _ := in.Position(); !pos.ApproxEqual(mgl32.Vec3{1, 3, 0}) {
		t.Fatalf("idle move: %v", pos)
	}
	f.sess.Start()
	f.sess.MoveAll(mgl32.Vec3{1, 0, 0})
	if pos, _ := in.Position(); pos.X() != 1 {
		t.Fatalf("running move should be ignored: %v", pos)
	}
}

func TestStaleInstancesArePruned(t *testing.T) {
	f := newFixture(t)
	tpl := f.scene.Create(memscene.Spec{Name: "Rock", Colliders: cube()})
	entry := f.entry(t, tpl)
	a, _ := f.sess.Add(entry, mgl32.Vec3{0, 3, 0}, false)
	f.sess.Add(entry, mgl32.Vec3{2, 3, 0}, false)
	f.scene.Destroy(a.Entity())
	f.sess.Prune()
	if f.sess.Len() != 1 {
		t.Fatalf("len after prune: %d", f.sess.Len())
	}
	f.sess.Close()
	f.sess.Close()
	if f.sess.Len() != 0 || !f.sess.Dirty() || f.sess.Running() {
		t.Fatalf("close should reset the session")
	}
}
