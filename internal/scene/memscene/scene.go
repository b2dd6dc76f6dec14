// Package memscene is an in-memory, single-threaded host for the scatter engine.
//
// It implements every collaborator in package scene: a small scene graph with world-space
// transforms, template assets and instances with kinematic override metadata, an action
// history with undo groups, a selection, change notifications and a vertical-only rigid
// body stepper. The stepper is deliberately minimal: bodies fall under gravity, come to
// rest on the highest collider below them and fall asleep after a few calm steps.
package memscene

import (
	"log"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"scatterdrop.dev/internal/geom"
	"scatterdrop.dev/internal/scene"
)

type nodeKind uint8

const (
	kindStandalone nodeKind = iota
	kindAsset
	kindInstanceRoot
	kindInstanceMember
)

// ColliderSpec is a box collider in the local frame of its entity.
type ColliderSpec struct {
	Offset    mgl32.Vec3
	Extents   mgl32.Vec3
	NonConvex bool
	Trigger   bool
}

type BodySpec struct {
	Kinematic bool
}

// Spec describes an entity to create.
type Spec struct {
	Name      string
	Pos       mgl32.Vec3
	Rot       mgl32.Quat
	Colliders []ColliderSpec
	Body      *BodySpec
	Hidden    bool
	Inactive  bool
}

type node struct {
	id       scene.EntityID
	name     string
	parent   scene.EntityID
	children []scene.EntityID

	pos mgl32.Vec3
	rot mgl32.Quat

	kind  nodeKind
	asset scene.EntityID // instance roots: the template asset
	root  scene.EntityID // instance members: the enclosing instance root
	added []scene.EntityID

	colliders []ColliderSpec
	body      scene.BodyID

	hidden bool
	active bool
}

type body struct {
	id    scene.BodyID
	owner scene.EntityID

	kinematic  bool
	declared   bool
	overridden bool

	velY     float32
	calm     int
	sleeping bool
}

// Scene is the in-memory host. It is not safe for concurrent use.
type Scene struct {
	log *log.Logger

	nextEntity scene.EntityID
	nextBody   scene.BodyID

	nodes  map[scene.EntityID]*node
	bodies map[scene.BodyID]*body

	selected  []scene.EntityID
	listeners []scene.Listener

	groups []*Group

	autoSim   bool
	gravity   float32
	sleepVel  float32
	sleepCalm int
	copies    map[string]int

	// FailInstantiate, when set, makes InstantiateFromTemplate fail for matching templates.
	FailInstantiate func(template scene.EntityID) bool
}

func New(logger *log.Logger) *Scene {
	if logger == nil {
		logger = log.Default()
	}
	return &Scene{
		log:       logger,
		nodes:     map[scene.EntityID]*node{},
		bodies:    map[scene.BodyID]*body{},
		autoSim:   true,
		gravity:   -9.81,
		sleepVel:  0.05,
		sleepCalm: 5,
		copies:    map[string]int{},
	}
}

// Create adds a standalone root entity.
func (s *Scene) Create(spec Spec) scene.EntityID {
	n := s.newNode(spec, kindStandalone)
	s.notifyHierarchy(n)
	return n.id
}

// CreateAsset adds a template asset. Assets live outside the simulated world: they are
// never hit by ray queries, never listed by FindAllBodies and never stepped.
func (s *Scene) CreateAsset(spec Spec) scene.EntityID {
	n := s.newNode(spec, kindAsset)
	return n.id
}

// CreateChild adds spec below parent. Children of assets and instances inherit the
// template relationship of their parent.
func (s *Scene) CreateChild(parent scene.EntityID, spec Spec) scene.EntityID {
	p := s.nodes[parent]
	if p == nil {
		return scene.NoEntity
	}
	kind := kindStandalone
	var root scene.EntityID
	switch p.kind {
	case kindAsset:
		kind = kindAsset
	case kindInstanceRoot:
		kind, root = kindInstanceMember, p.id
	case kindInstanceMember:
		kind, root = kindInstanceMember, p.root
	}
	n := s.newNode(spec, kind)
	n.root = root
	n.parent = parent
	p.children = append(p.children, n.id)
	if kind != kindAsset {
		s.notifyHierarchy(n)
	}
	return n.id
}

// AddOverrideObject creates spec below the instance root as an added-object override.
func (s *Scene) AddOverrideObject(instanceRoot scene.EntityID, spec Spec) scene.EntityID {
	r := s.nodes[instanceRoot]
	if r == nil || r.kind != kindInstanceRoot {
		return scene.NoEntity
	}
	id := s.CreateChild(instanceRoot, spec)
	r.added = append(r.added, id)
	return id
}

// AttachOverride registers an existing child of the instance root as an added object.
func (s *Scene) AttachOverride(instanceRoot, child scene.EntityID) {
	r := s.nodes[instanceRoot]
	if r == nil || r.kind != kindInstanceRoot || s.nodes[child] == nil {
		return
	}
	r.added = append(r.added, child)
}

func (s *Scene) newNode(spec Spec, kind nodeKind) *node {
	s.nextEntity++
	rot := spec.Rot
	if rot == (mgl32.Quat{}) {
		rot = mgl32.QuatIdent()
	}
	n := &node{
		id:        s.nextEntity,
		name:      spec.Name,
		pos:       spec.Pos,
		rot:       rot,
		kind:      kind,
		colliders: append([]ColliderSpec(nil), spec.Colliders...),
		hidden:    spec.Hidden,
		active:    !spec.Inactive,
	}
	s.nodes[n.id] = n
	if spec.Body != nil {
		b := s.newBody(n.id)
		b.kinematic = spec.Body.Kinematic
		b.declared = spec.Body.Kinematic
	}
	return n
}

func (s *Scene) newBody(owner scene.EntityID) *body {
	s.nextBody++
	b := &body{id: s.nextBody, owner: owner}
	s.bodies[b.id] = b
	s.nodes[owner].body = b.id
	return b
}

func (s *Scene) Alive(e scene.EntityID) bool { return s.nodes[e] != nil }

func (s *Scene) Name(e scene.EntityID) string {
	if n := s.nodes[e]; n != nil {
		return n.name
	}
	return ""
}

func (s *Scene) Rename(e scene.EntityID, name string) {
	if n := s.nodes[e]; n != nil {
		n.name = name
	}
}

func (s *Scene) Parent(e scene.EntityID) (scene.EntityID, bool) {
	n := s.nodes[e]
	if n == nil || n.parent == scene.NoEntity {
		return scene.NoEntity, false
	}
	return n.parent, true
}

func (s *Scene) IsDescendant(e, root scene.EntityID) bool {
	for n := s.nodes[e]; n != nil; n = s.nodes[n.parent] {
		if n.id == root {
			return true
		}
	}
	return false
}

func (s *Scene) Origin(e scene.EntityID) scene.Origin {
	n := s.nodes[e]
	if n == nil {
		return scene.Standalone{}
	}
	switch n.kind {
	case kindAsset:
		return scene.TemplateAsset{}
	case kindInstanceRoot:
		return scene.InstanceRoot{Asset: n.asset, Overrides: s.overrides(n)}
	case kindInstanceMember:
		return scene.InstanceMember{Root: n.root}
	}
	return scene.Standalone{}
}

func (s *Scene) overrides(n *node) scene.OverrideSet {
	var set scene.OverrideSet
	for _, id := range n.added {
		if s.nodes[id] == nil {
			continue
		}
		set.Added = append(set.Added, scene.AddedObject{Entity: id, Origin: s.Origin(id)})
	}
	return set
}

func (s *Scene) Transform(e scene.EntityID) (mgl32.Vec3, mgl32.Quat, bool) {
	n := s.nodes[e]
	if n == nil {
		return mgl32.Vec3{}, mgl32.QuatIdent(), false
	}
	return n.pos, n.rot, true
}

// SetTransform moves e and carries its subtree along rigidly.
func (s *Scene) SetTransform(e scene.EntityID, pos mgl32.Vec3, rot mgl32.Quat) {
	n := s.nodes[e]
	if n == nil {
		return
	}
	dq := rot.Mul(n.rot.Inverse())
	origin := n.pos
	s.walk(e, func(c *node) {
		if c.id == e {
			return
		}
		c.pos = pos.Add(dq.Rotate(c.pos.Sub(origin)))
		c.rot = dq.Mul(c.rot).Normalize()
	})
	n.pos = pos
	n.rot = rot.Normalize()
	s.wakeSubtree(e)
}

func (s *Scene) Translate(e scene.EntityID, offset mgl32.Vec3) {
	if s.nodes[e] == nil {
		return
	}
	s.walk(e, func(c *node) { c.pos = c.pos.Add(offset) })
	s.wakeSubtree(e)
}

// SetParent reparents e keeping its world transform. A zero parent moves e to the root.
func (s *Scene) SetParent(e, parent scene.EntityID) {
	n := s.nodes[e]
	if n == nil || n.parent == parent || (parent != scene.NoEntity && s.IsDescendant(parent, e)) {
		return
	}
	if parent != scene.NoEntity && s.nodes[parent] == nil {
		return
	}
	if old := s.nodes[n.parent]; old != nil {
		old.children = removeID(old.children, e)
	}
	n.parent = parent
	if p := s.nodes[parent]; p != nil {
		p.children = append(p.children, e)
	}
	s.notifyHierarchy(n)
}

func (s *Scene) SetHidden(e scene.EntityID, hidden bool) {
	if n := s.nodes[e]; n != nil {
		n.hidden = hidden
	}
}

func (s *Scene) Hidden(e scene.EntityID) bool {
	n := s.nodes[e]
	return n != nil && n.hidden
}

// Destroy removes e and its subtree immediately. Hidden entities vanish silently.
func (s *Scene) Destroy(e scene.EntityID) {
	n := s.nodes[e]
	if n == nil {
		return
	}
	if p := s.nodes[n.parent]; p != nil {
		p.children = removeID(p.children, e)
	}
	var doomed []*node
	s.walk(e, func(c *node) { doomed = append(doomed, c) })
	for _, c := range doomed {
		if c.body != scene.NoBody {
			delete(s.bodies, c.body)
		}
		delete(s.nodes, c.id)
		s.selected = removeID(s.selected, c.id)
	}
	if !n.hidden {
		s.notify(func(l scene.Listener) { l.HierarchyChanged() })
	}
}

func (s *Scene) Colliders(e scene.EntityID) []scene.Collider {
	var out []scene.Collider
	s.walk(e, func(c *node) {
		for _, cs := range c.colliders {
			out = append(out, scene.Collider{
				Owner:   c.id,
				Bounds:  worldBounds(c, cs),
				Convex:  !cs.NonConvex,
				Trigger: cs.Trigger,
			})
		}
	})
	return out
}

func worldBounds(n *node, cs ColliderSpec) geom.Bounds {
	return geom.Bounds{
		Center:  n.pos.Add(n.rot.Rotate(cs.Offset)),
		Extents: geom.RotatedExtents(n.rot, cs.Extents),
	}
}

func (s *Scene) Body(e scene.EntityID) (scene.BodyID, bool) {
	n := s.nodes[e]
	if n == nil || n.body == scene.NoBody {
		return scene.NoBody, false
	}
	return n.body, true
}

func (s *Scene) BodiesInSubtree(e scene.EntityID) int {
	count := 0
	s.walk(e, func(c *node) {
		if c.body != scene.NoBody {
			count++
		}
	})
	return count
}

func (s *Scene) AddBody(e scene.EntityID) scene.BodyID {
	n := s.nodes[e]
	if n == nil {
		return scene.NoBody
	}
	if n.body != scene.NoBody {
		return n.body
	}
	return s.newBody(e).id
}

func (s *Scene) Active(e scene.EntityID) bool {
	n := s.nodes[e]
	return n != nil && n.active
}

func (s *Scene) SetActive(e scene.EntityID, active bool) {
	if n := s.nodes[e]; n != nil {
		n.active = active
	}
}

func (s *Scene) Selected() []scene.EntityID {
	return append([]scene.EntityID(nil), s.selected...)
}

func (s *Scene) Select(ids []scene.EntityID) {
	s.selected = s.selected[:0]
	for _, id := range ids {
		if s.nodes[id] != nil {
			s.selected = append(s.selected, id)
		}
	}
	s.notify(func(l scene.Listener) { l.SelectionChanged() })
}

func (s *Scene) Attach(l scene.Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *Scene) Detach(l scene.Listener) {
	for i, cur := range s.listeners {
		if cur == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Listeners returns the number of attached listeners.
func (s *Scene) Listeners() int { return len(s.listeners) }

// Roots returns the ids of all root entities in id order.
func (s *Scene) Roots() []scene.EntityID {
	var out []scene.EntityID
	for id, n := range s.nodes {
		if n.parent == scene.NoEntity {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Find returns the first entity with the given name, in id order.
func (s *Scene) Find(name string) (scene.EntityID, bool) {
	for _, id := range s.sortedNodes() {
		if s.nodes[id].name == name {
			return id, true
		}
	}
	return scene.NoEntity, false
}

func (s *Scene) notifyHierarchy(n *node) {
	if n.hidden {
		return
	}
	s.notify(func(l scene.Listener) { l.HierarchyChanged() })
}

func (s *Scene) notify(fn func(scene.Listener)) {
	for _, l := range append([]scene.Listener(nil), s.listeners...) {
		fn(l)
	}
}

func (s *Scene) walk(e scene.EntityID, fn func(*node)) {
	n := s.nodes[e]
	if n == nil {
		return
	}
	fn(n)
	for _, c := range append([]scene.EntityID(nil), n.children...) {
		s.walk(c, fn)
	}
}

func (s *Scene) sortedNodes() []scene.EntityID {
	ids := make([]scene.EntityID, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// inWorld reports whether e takes part in physics and ray queries.
func (s *Scene) inWorld(e scene.EntityID) bool {
	for n := s.nodes[e]; n != nil; n = s.nodes[n.parent] {
		if !n.active || n.kind == kindAsset {
			return false
		}
	}
	return s.nodes[e] != nil
}

func (s *Scene) wakeSubtree(e scene.EntityID) {
	s.walk(e, func(c *node) {
		if b := s.bodies[c.body]; b != nil {
			b.sleeping = false
			b.calm = 0
		}
	})
}

func removeID(ids []scene.EntityID, id scene.EntityID) []scene.EntityID {
	for i, cur := range ids {
		if cur == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
