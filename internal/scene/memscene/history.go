package memscene

import "scatterdrop.dev/internal/scene"

// Group is one undoable step in the action history.
type Group struct {
	Name     string
	Created  []scene.EntityID
	Reverted []scene.BodyID
}

func (s *Scene) current() *Group {
	if len(s.groups) == 0 {
		s.groups = append(s.groups, &Group{})
	}
	return s.groups[len(s.groups)-1]
}

func (s *Scene) BeginGroup(name string) {
	s.groups = append(s.groups, &Group{Name: name})
}

func (s *Scene) SetGroupName(name string) { s.current().Name = name }

func (s *Scene) GroupName() string { return s.current().Name }

func (s *Scene) RegisterCreated(e scene.EntityID, name string) {
	g := s.current()
	if g.Name == "" {
		g.Name = name
	}
	g.Created = append(g.Created, e)
}

// RevertOverride restores the template value of p and clears its override mark.
func (s *Scene) RevertOverride(b scene.BodyID, p scene.Property) {
	body := s.bodies[b]
	if body == nil || p != scene.PropIsKinematic {
		return
	}
	body.kinematic = body.declared
	body.overridden = false
	g := s.current()
	g.Reverted = append(g.Reverted, b)
}

// Groups returns a copy of the history, oldest first.
func (s *Scene) Groups() []Group {
	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, *g)
	}
	return out
}

// Undo rolls back the latest group: everything it created is destroyed.
func (s *Scene) Undo() bool {
	if len(s.groups) == 0 {
		return false
	}
	g := s.groups[len(s.groups)-1]
	s.groups = s.groups[:len(s.groups)-1]
	for i := len(g.Created) - 1; i >= 0; i-- {
		s.Destroy(g.Created[i])
	}
	s.notify(func(l scene.Listener) { l.UndoRedoPerformed() })
	return true
}
