// Package instance wraps one transient, physics driven copy of a pooled template.
package instance

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"scatterdrop.dev/internal/geom"
	"scatterdrop.dev/internal/scatter/refpool"
	"scatterdrop.dev/internal/scene"
)

var ErrInstantiationFailed = errors.New("instantiation failed")

type SpawnError struct {
	Template scene.EntityID
	Err      error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn from template %d: %v", e.Template, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Host is what an instance needs from the scene.
type Host interface {
	scene.Entities
	scene.Physics
	scene.Instantiator
	scene.History
}

const consolidateAction = "Consolidate scattered object"

type Instance struct {
	host  Host
	entry *refpool.Entry

	entity     scene.EntityID
	body       scene.BodyID
	halfHeight float32
}

// Spawn copies the entry's template into a hidden entity at the world origin and
// prepares it for simulation.
func Spawn(h Host, entry *refpool.Entry) (*Instance, error) {
	e, ok := h.InstantiateFromTemplate(entry.Template)
	if !ok {
		return nil, &SpawnError{Template: entry.Template, Err: ErrInstantiationFailed}
	}
	in := &Instance{host: h, entry: entry, entity: e}
	h.Rename(e, fmt.Sprintf("Spawned Object (%s)", h.Name(entry.Template)))
	h.SetHidden(e, true)
	_, rot, _ := h.Transform(e)
	h.SetTransform(e, geom.Zero, rot)
	in.prepareBody()
	return in, nil
}

func (in *Instance) prepareBody() {
	if !in.IsValid() {
		return
	}
	b, ok := in.host.Body(in.entity)
	if !ok {
		b = in.host.AddBody(in.entity)
	}
	in.body = b
	// Writing the current value would still register as an override on instances.
	if in.host.Kinematic(b) {
		in.host.SetKinematic(b, false)
	}
	in.updateHeight()
}

func (in *Instance) updateHeight() {
	in.halfHeight = 0
	cs := in.host.Colliders(in.entity)
	if len(cs) == 0 {
		return
	}
	b := cs[0].Bounds
	for _, c := range cs[1:] {
		b = b.Encapsulate(c.Bounds)
	}
	if b.IsFlat() {
		return
	}
	in.halfHeight = math32.Max(0, b.Extents.Y())
}

func (in *Instance) IsValid() bool { return in.host.Alive(in.entity) }

// IsSettled reports whether the body sleeps. Destroyed instances are never settled.
func (in *Instance) IsSettled() bool {
	return in.IsValid() && in.host.BodyAlive(in.body) && in.host.Sleeping(in.body)
}

// HalfHeight is the vertical half extent of the copy's colliders in world space.
func (in *Instance) HalfHeight() float32 { return in.halfHeight }

func (in *Instance) Entity() scene.EntityID { return in.entity }
func (in *Instance) Body() scene.BodyID     { return in.body }
func (in *Instance) Entry() *refpool.Entry  { return in.entry }

func (in *Instance) Template() scene.EntityID { return in.entry.Template }

// RefreshTemplate re-reads the template body state captured in the entry.
func (in *Instance) RefreshTemplate(s refpool.Scene) {
	if s.Alive(in.entry.Template) {
		in.entry.Refresh(s)
	}
}

func (in *Instance) Position() (mgl32.Vec3, bool) {
	pos, _, ok := in.host.Transform(in.entity)
	return pos, ok
}

func (in *Instance) SetPosition(pos mgl32.Vec3) {
	if !in.IsValid() {
		return
	}
	_, rot, _ := in.host.Transform(in.entity)
	in.host.SetTransform(in.entity, pos, rot)
}

func (in *Instance) MoveBy(offset mgl32.Vec3) {
	if in.IsValid() {
		in.host.Translate(in.entity, offset)
	}
}

// RotateBy applies delta in the local frame and recomputes the half height.
func (in *Instance) RotateBy(delta mgl32.Quat) {
	if !in.IsValid() {
		return
	}
	pos, rot, _ := in.host.Transform(in.entity)
	in.host.SetTransform(in.entity, pos, rot.Mul(delta).Normalize())
	in.host.SyncTransforms()
	in.updateHeight()
}

// Contains reports whether e is the copy or lies below it.
func (in *Instance) Contains(e scene.EntityID) bool {
	return in.IsValid() && in.host.IsDescendant(e, in.entity)
}

// DisableBody hides the copy from body queries. It reports whether anything was
// disabled so that callers only re-enable what they disabled.
func (in *Instance) DisableBody() bool {
	if !in.IsValid() {
		return false
	}
	if !in.host.BodyAlive(in.body) {
		in.prepareBody()
	}
	if in.host.BodyAlive(in.body) && in.host.Active(in.entity) {
		in.host.SetActive(in.entity, false)
		return true
	}
	return false
}

// EnableBody undoes a successful DisableBody.
func (in *Instance) EnableBody() {
	if in.IsValid() {
		in.host.SetActive(in.entity, true)
	}
}

// Consolidate creates the permanent entity from the original template and moves it
// where the copy came to rest. It returns false if the template could not be
// instantiated.
func (in *Instance) Consolidate(keepParent bool) (scene.EntityID, bool) {
	if !in.IsValid() || !in.host.Alive(in.entry.Template) {
		return scene.NoEntity, false
	}
	final, ok := in.host.InstantiateFromTemplate(in.entry.Template)
	if !ok {
		return scene.NoEntity, false
	}
	in.host.RegisterCreated(final, consolidateAction)

	pos, rot, _ := in.host.Transform(in.entity)
	in.host.SetTransform(final, pos, rot)

	if in.entry.HasBody && !in.entry.WasKinematic {
		if b, ok := in.host.Body(final); ok {
			in.host.SetKinematic(b, false)
			if !in.entry.WasOverridden && in.host.Templated(b) {
				in.host.RevertOverride(b, scene.PropIsKinematic)
			}
		}
	}

	if keepParent {
		if parent, ok := in.host.Parent(in.entry.Template); ok {
			in.host.SetParent(final, parent)
		}
	}
	return final, true
}

// Destroy removes the copy. It is safe to call more than once.
func (in *Instance) Destroy() {
	if in.IsValid() {
		in.host.Destroy(in.entity)
	}
}
