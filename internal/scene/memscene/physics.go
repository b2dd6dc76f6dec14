package memscene

import (
	"math"
	"sort"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"scatterdrop.dev/internal/geom"
	"scatterdrop.dev/internal/scene"
)

// Raycast returns the nearest collider hit by r among active in-world entities.
// Colliders that contain the ray origin are ignored, like most engines do.
func (s *Scene) Raycast(r geom.Ray) (scene.Hit, bool) {
	best := scene.Hit{Distance: float32(math.MaxFloat32)}
	found := false
	for _, id := range s.sortedNodes() {
		n := s.nodes[id]
		if len(n.colliders) == 0 || !s.inWorld(id) {
			continue
		}
		for _, cs := range n.colliders {
			b := worldBounds(n, cs)
			if contains(b, r.Origin) {
				continue
			}
			d, ok := geom.IntersectBounds(r, b)
			if !ok || d >= best.Distance {
				continue
			}
			best = scene.Hit{Point: r.At(d), Distance: d, Entity: id, Trigger: cs.Trigger}
			found = true
		}
	}
	return best, found
}

func contains(b geom.Bounds, p mgl32.Vec3) bool {
	min, max := b.Min(), b.Max()
	for i := 0; i < 3; i++ {
		if p[i] <= min[i] || p[i] >= max[i] {
			return false
		}
	}
	return true
}

func (s *Scene) FindAllBodies() []scene.BodyID {
	var out []scene.BodyID
	for id, b := range s.bodies {
		if s.inWorld(b.owner) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Scene) BodyAlive(b scene.BodyID) bool { return s.bodies[b] != nil }

func (s *Scene) BodyOwner(b scene.BodyID) scene.EntityID {
	if body := s.bodies[b]; body != nil {
		return body.owner
	}
	return scene.NoEntity
}

func (s *Scene) Kinematic(b scene.BodyID) bool {
	body := s.bodies[b]
	return body != nil && body.kinematic
}

// SetKinematic changes the flag. On instance bodies any write counts as a local override,
// on assets it changes the declared value.
func (s *Scene) SetKinematic(b scene.BodyID, kinematic bool) {
	body := s.bodies[b]
	if body == nil {
		return
	}
	body.kinematic = kinematic
	switch s.nodes[body.owner].kind {
	case kindAsset:
		body.declared = kinematic
	case kindInstanceRoot, kindInstanceMember:
		body.overridden = true
	}
	if !kinematic {
		body.sleeping = false
		body.calm = 0
	}
}

func (s *Scene) KinematicOverridden(b scene.BodyID) bool {
	body := s.bodies[b]
	return body != nil && body.overridden
}

func (s *Scene) Templated(b scene.BodyID) bool {
	body := s.bodies[b]
	if body == nil {
		return false
	}
	return scene.IsTemplated(s.Origin(body.owner))
}

func (s *Scene) Sleeping(b scene.BodyID) bool {
	body := s.bodies[b]
	return body == nil || body.kinematic || body.sleeping
}

func (s *Scene) AutoSimulation() bool      { return s.autoSim }
func (s *Scene) SetAutoSimulation(on bool) { s.autoSim = on }

// SyncTransforms is a no-op: transforms and bodies share one store.
func (s *Scene) SyncTransforms() {}

// Simulate advances every awake dynamic body by dt.
func (s *Scene) Simulate(dt float32) {
	if dt <= 0 {
		return
	}
	for _, id := range s.FindAllBodies() {
		b := s.bodies[id]
		if b == nil || b.kinematic || b.sleeping {
			continue
		}
		s.stepBody(b, dt)
	}
}

func (s *Scene) stepBody(b *body, dt float32) {
	box, ok := s.subtreeBounds(b.owner)
	if !ok {
		n := s.nodes[b.owner]
		box = geom.Bounds{Center: n.pos}
	}
	b.velY += s.gravity * dt
	dy := b.velY * dt
	bottom := box.Min().Y()
	if support, ok := s.supportBelow(b.owner, box); ok && bottom+dy <= support {
		dy = support - bottom
		b.velY = 0
	}
	if dy != 0 {
		s.walk(b.owner, func(c *node) { c.pos[1] += dy })
	}
	if math32.Abs(b.velY) < s.sleepVel {
		b.calm++
		if b.calm >= s.sleepCalm {
			b.sleeping = true
		}
	} else {
		b.calm = 0
	}
}

// subtreeBounds encloses every solid collider below e.
func (s *Scene) subtreeBounds(e scene.EntityID) (geom.Bounds, bool) {
	var out geom.Bounds
	found := false
	for _, c := range s.Colliders(e) {
		if c.Trigger {
			continue
		}
		if !found {
			out, found = c.Bounds, true
			continue
		}
		out = out.Encapsulate(c.Bounds)
	}
	return out, found
}

// supportBelow returns the highest solid top under box that does not belong to e.
func (s *Scene) supportBelow(e scene.EntityID, box geom.Bounds) (float32, bool) {
	const eps = 1e-3
	bottom := box.Min().Y()
	best := float32(0)
	found := false
	for _, id := range s.sortedNodes() {
		n := s.nodes[id]
		if len(n.colliders) == 0 || s.IsDescendant(id, e) || !s.inWorld(id) {
			continue
		}
		for _, cs := range n.colliders {
			if cs.Trigger {
				continue
			}
			wb := worldBounds(n, cs)
			top := wb.Max().Y()
			if top > bottom+eps || !wb.OverlapsXZ(box) {
				continue
			}
			if !found || top > best {
				best, found = top, true
			}
		}
	}
	return best, found
}
