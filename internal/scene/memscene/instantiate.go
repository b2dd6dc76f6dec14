package memscene

import (
	"fmt"
	"regexp"
	"strings"

	"scatterdrop.dev/internal/scene"
)

// duplicateName matches names produced by duplication, e.g. "Crate (3)".
var duplicateName = regexp.MustCompile(`^(.+)(\s\()(\d+)(\))$`)

// InstantiateFromTemplate copies template into the scene root.
//
// Standalone entities and instance members are deep copied, assets yield a fresh
// instance and instance roots are duplicated with their overrides. Duplicating an
// instance that carries added objects goes through the pasteboard path, which does not
// report the new root directly; the root is then recovered by name.
func (s *Scene) InstantiateFromTemplate(template scene.EntityID) (scene.EntityID, bool) {
	src := s.nodes[template]
	if src == nil {
		return scene.NoEntity, false
	}
	if s.FailInstantiate != nil && s.FailInstantiate(template) {
		s.log.Printf("instantiate %q: provider refused", src.name)
		return scene.NoEntity, false
	}
	var id scene.EntityID
	switch src.kind {
	case kindAsset:
		id = s.instantiateAsset(src)
	case kindInstanceRoot:
		id = s.duplicateInstance(src)
	default:
		id = s.copyTree(src, scene.NoEntity, nil, copyStandalone)
		s.nodes[id].name = src.name + "(Clone)"
	}
	if id == scene.NoEntity {
		return scene.NoEntity, false
	}
	s.detach(s.nodes[id])
	s.notifyHierarchy(s.nodes[id])
	return id, true
}

// detach moves n to the scene root without notifying.
func (s *Scene) detach(n *node) {
	if p := s.nodes[n.parent]; p != nil {
		p.children = removeID(p.children, n.id)
	}
	n.parent = scene.NoEntity
}

type copyMode uint8

const (
	copyStandalone copyMode = iota
	copyInstance
	copyPreserve
)

// copyTree clones src and its subtree below parent. remap collects old→new ids.
func (s *Scene) copyTree(src *node, parent scene.EntityID, remap map[scene.EntityID]scene.EntityID, mode copyMode) scene.EntityID {
	s.nextEntity++
	n := &node{
		id:        s.nextEntity,
		name:      src.name,
		parent:    parent,
		pos:       src.pos,
		rot:       src.rot,
		colliders: append([]ColliderSpec(nil), src.colliders...),
		hidden:    src.hidden,
		active:    src.active,
	}
	switch mode {
	case copyInstance:
		n.kind = kindInstanceMember
	case copyPreserve:
		n.kind, n.asset, n.root = src.kind, src.asset, src.root
	}
	s.nodes[n.id] = n
	if remap != nil {
		remap[src.id] = n.id
	}
	if p := s.nodes[parent]; p != nil {
		p.children = append(p.children, n.id)
	}
	if ob := s.bodies[src.body]; ob != nil {
		b := s.newBody(n.id)
		b.kinematic = ob.kinematic
		b.declared = ob.declared
		if mode == copyPreserve {
			b.overridden = ob.overridden
		}
	}
	for _, c := range src.children {
		if child := s.nodes[c]; child != nil {
			s.copyTree(child, n.id, remap, mode)
		}
	}
	if mode == copyPreserve {
		n.added = append([]scene.EntityID(nil), src.added...)
	}
	return n.id
}

func (s *Scene) instantiateAsset(asset *node) scene.EntityID {
	id := s.copyTree(asset, scene.NoEntity, nil, copyInstance)
	root := s.nodes[id]
	root.kind = kindInstanceRoot
	root.asset = asset.id
	s.walk(id, func(c *node) {
		if c.id != id {
			c.root = id
		}
	})
	return id
}

// duplicateInstance clones an instance root in place, preserving overrides.
func (s *Scene) duplicateInstance(src *node) scene.EntityID {
	remap := map[scene.EntityID]scene.EntityID{}
	id := s.copyTree(src, src.parent, remap, copyPreserve)
	s.walk(id, func(c *node) {
		if c.kind == kindInstanceMember && c.root == src.id {
			c.root = id
		}
		for i, a := range c.added {
			if m, ok := remap[a]; ok {
				c.added[i] = m
			}
		}
	})
	base := s.nextDuplicateName(src.name)
	s.nodes[id].name = base
	if len(src.added) == 0 {
		return id
	}

	// The pasteboard reports created roots with added objects first.
	created := make([]scene.EntityID, 0, len(src.added)+1)
	for _, a := range src.added {
		if m, ok := remap[a]; ok {
			created = append(created, m)
		}
	}
	created = append(created, id)
	return s.resolvePasted(src.name, created, len(created)-1)
}

// resolvePasted picks the duplicated root out of what the pasteboard created.
func (s *Scene) resolvePasted(srcName string, created []scene.EntityID, added int) scene.EntityID {
	base := srcName
	if m := duplicateName.FindStringSubmatch(srcName); m != nil {
		base = m[1]
	}
	pick := created[0]
	if !strings.HasPrefix(s.nodes[pick].name, base) && added < len(created) {
		pick = created[added]
	}
	if !strings.HasPrefix(s.nodes[pick].name, base) {
		s.log.Printf("duplicate of %q resolved to %q, names do not match", srcName, s.nodes[pick].name)
	}
	return pick
}

func (s *Scene) nextDuplicateName(name string) string {
	base := name
	if m := duplicateName.FindStringSubmatch(name); m != nil {
		base = m[1]
	}
	s.copies[base]++
	return fmt.Sprintf("%s (%d)", base, s.copies[base])
}
