// Package scene defines the host collaborators the scatter engine is driven through.
//
// The engine never owns a scene graph or a physics world. Everything it needs from the
// hosting editor is expressed by the interfaces below and injected at construction.
package scene

import (
	"github.com/go-gl/mathgl/mgl32"

	"scatterdrop.dev/internal/geom"
)

// EntityID identifies a scene entity. The zero value means "none".
type EntityID uint64

// BodyID identifies a physics body. The zero value means "none".
type BodyID uint64

const (
	NoEntity EntityID = 0
	NoBody   BodyID   = 0
)

// Property names a serialized body field whose override state is tracked by the host.
type Property string

const PropIsKinematic Property = "is_kinematic"

type Hit struct {
	Point    mgl32.Vec3
	Distance float32
	Entity   EntityID
	Trigger  bool
}

// Collider is a world-space collision volume owned by an entity.
type Collider struct {
	Owner   EntityID
	Bounds  geom.Bounds
	Convex  bool
	Trigger bool
}

type Entities interface {
	Alive(e EntityID) bool
	Name(e EntityID) string
	Rename(e EntityID, name string)
	Parent(e EntityID) (EntityID, bool)
	// IsDescendant reports whether e is root or lies below it.
	IsDescendant(e, root EntityID) bool
	Origin(e EntityID) Origin

	Transform(e EntityID) (pos mgl32.Vec3, rot mgl32.Quat, ok bool)
	SetTransform(e EntityID, pos mgl32.Vec3, rot mgl32.Quat)
	Translate(e EntityID, offset mgl32.Vec3)
	SetParent(e, parent EntityID)
	SetHidden(e EntityID, hidden bool)
	Destroy(e EntityID)

	// Colliders returns every collider in the subtree rooted at e.
	Colliders(e EntityID) []Collider
	// Body returns the body attached to e itself.
	Body(e EntityID) (BodyID, bool)
	// BodiesInSubtree counts bodies on e and all of its descendants.
	BodiesInSubtree(e EntityID) int
	AddBody(e EntityID) BodyID

	Active(e EntityID) bool
	SetActive(e EntityID, active bool)
}

type Physics interface {
	Raycast(r geom.Ray) (Hit, bool)
	// FindAllBodies returns the bodies of every active entity in the scene.
	FindAllBodies() []BodyID

	BodyAlive(b BodyID) bool
	BodyOwner(b BodyID) EntityID
	Kinematic(b BodyID) bool
	SetKinematic(b BodyID, kinematic bool)
	// KinematicOverridden reports whether the body's kinematic flag deviates locally
	// from the value declared by its template.
	KinematicOverridden(b BodyID) bool
	// Templated reports whether the body is part of a template asset or instance,
	// i.e. whether override metadata applies to it at all.
	Templated(b BodyID) bool
	Sleeping(b BodyID) bool

	Simulate(dt float32)
	AutoSimulation() bool
	SetAutoSimulation(on bool)
	SyncTransforms()
}

type Instantiator interface {
	// InstantiateFromTemplate produces an independent copy of template, or a duplicate
	// preserving overrides when template is an instance root.
	InstantiateFromTemplate(template EntityID) (EntityID, bool)
}

// History is the host's action history. Everything the engine creates or reverts is
// routed through it so that a drop can be undone as one group.
type History interface {
	RegisterCreated(e EntityID, name string)
	BeginGroup(name string)
	SetGroupName(name string)
	GroupName() string
	RevertOverride(b BodyID, p Property)
}

type Selection interface {
	Selected() []EntityID
	Select(ids []EntityID)
}

type Listener interface {
	HierarchyChanged()
	SelectionChanged()
	UndoRedoPerformed()
}

type Notifier interface {
	Attach(l Listener)
	Detach(l Listener)
}

// Host bundles every collaborator a scatter tool needs.
type Host interface {
	Entities
	Physics
	Instantiator
	History
	Selection
}
