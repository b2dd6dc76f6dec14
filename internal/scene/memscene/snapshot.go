package memscene

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"scatterdrop.dev/internal/geom"
	"scatterdrop.dev/internal/persistence/snapshot"
	"scatterdrop.dev/internal/scene"
)

var kindNames = map[nodeKind]string{
	kindStandalone:     "standalone",
	kindAsset:          "asset",
	kindInstanceRoot:   "instance_root",
	kindInstanceMember: "instance_member",
}

// ExportSnapshot captures the scene. Hidden entities are transient and left out.
func (s *Scene) ExportSnapshot(sceneID string, frame uint64) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header:     snapshot.Header{Version: snapshot.Version, SceneID: sceneID, Frame: frame},
		NextEntity: uint64(s.nextEntity),
		NextBody:   uint64(s.nextBody),
	}
	skip := map[scene.EntityID]bool{}
	for _, id := range s.sortedNodes() {
		n := s.nodes[id]
		if n.hidden || skip[n.parent] {
			skip[id] = true
			continue
		}
		ev := snapshot.EntityV1{
			ID:     uint64(id),
			Name:   n.name,
			Parent: uint64(n.parent),
			Kind:   kindNames[n.kind],
			Asset:  uint64(n.asset),
			Root:   uint64(n.root),
			Pos:    geom.ToArray(n.pos),
			Rot:    geom.QuatToArray(n.rot),
			Active: n.active,
		}
		for _, a := range n.added {
			ev.Added = append(ev.Added, uint64(a))
		}
		for _, c := range n.colliders {
			ev.Colliders = append(ev.Colliders, snapshot.ColliderV1{
				Offset:    geom.ToArray(c.Offset),
				Extents:   geom.ToArray(c.Extents),
				NonConvex: c.NonConvex,
				Trigger:   c.Trigger,
			})
		}
		if b := s.bodies[n.body]; b != nil {
			ev.Body = &snapshot.BodyV1{
				ID:         uint64(b.id),
				Kinematic:  b.kinematic,
				Declared:   b.declared,
				Overridden: b.overridden,
				Sleeping:   b.sleeping,
			}
		}
		snap.Entities = append(snap.Entities, ev)
	}
	for _, id := range s.selected {
		if !skip[id] {
			snap.Selected = append(snap.Selected, uint64(id))
		}
	}
	return snap
}

// ImportSnapshot replaces the scene content with snap. Listeners and history are kept.
func (s *Scene) ImportSnapshot(snap snapshot.SnapshotV1) error {
	kinds := map[string]nodeKind{}
	for k, v := range kindNames {
		kinds[v] = k
	}
	nodes := map[scene.EntityID]*node{}
	bodies := map[scene.BodyID]*body{}
	for _, ev := range snap.Entities {
		kind, ok := kinds[ev.Kind]
		if !ok {
			return fmt.Errorf("entity %d: unknown kind %q", ev.ID, ev.Kind)
		}
		n := &node{
			id:     scene.EntityID(ev.ID),
			name:   ev.Name,
			parent: scene.EntityID(ev.Parent),
			pos:    mgl32.Vec3(ev.Pos),
			rot:    geom.QuatFromArray(ev.Rot),
			kind:   kind,
			asset:  scene.EntityID(ev.Asset),
			root:   scene.EntityID(ev.Root),
			active: ev.Active,
		}
		for _, a := range ev.Added {
			n.added = append(n.added, scene.EntityID(a))
		}
		for _, c := range ev.Colliders {
			n.colliders = append(n.colliders, ColliderSpec{
				Offset:    mgl32.Vec3(c.Offset),
				Extents:   mgl32.Vec3(c.Extents),
				NonConvex: c.NonConvex,
				Trigger:   c.Trigger,
			})
		}
		if ev.Body != nil {
			b := &body{
				id:         scene.BodyID(ev.Body.ID),
				owner:      n.id,
				kinematic:  ev.Body.Kinematic,
				declared:   ev.Body.Declared,
				overridden: ev.Body.Overridden,
				sleeping:   ev.Body.Sleeping,
			}
			bodies[b.id] = b
			n.body = b.id
		}
		nodes[n.id] = n
	}
	for _, ev := range snap.Entities {
		n := nodes[scene.EntityID(ev.ID)]
		if n.parent == scene.NoEntity {
			continue
		}
		p := nodes[n.parent]
		if p == nil {
			return fmt.Errorf("entity %d: missing parent %d", ev.ID, ev.Parent)
		}
		p.children = append(p.children, n.id)
	}

	s.nodes, s.bodies = nodes, bodies
	s.nextEntity = scene.EntityID(snap.NextEntity)
	s.nextBody = scene.BodyID(snap.NextBody)
	s.selected = s.selected[:0]
	for _, id := range snap.Selected {
		if nodes[scene.EntityID(id)] != nil {
			s.selected = append(s.selected, scene.EntityID(id))
		}
	}
	s.notify(func(l scene.Listener) { l.HierarchyChanged() })
	return nil
}
