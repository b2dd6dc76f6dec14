package scene

// Origin describes where an entity comes from relative to the template system.
//
// It is one of Standalone, TemplateAsset, InstanceRoot or InstanceMember.
type Origin interface {
	isOrigin()
}

// Standalone is a plain entity with no template relationship.
type Standalone struct{}

// TemplateAsset is a template definition itself. Instantiating it yields a fresh instance.
type TemplateAsset struct{}

// InstanceRoot is the root of a template instance placed in the scene.
type InstanceRoot struct {
	Asset     EntityID
	Overrides OverrideSet
}

// InstanceMember is an entity below an instance root.
type InstanceMember struct {
	Root EntityID
}

func (Standalone) isOrigin()     {}
func (TemplateAsset) isOrigin()  {}
func (InstanceRoot) isOrigin()   {}
func (InstanceMember) isOrigin() {}

// OverrideSet lists the structural overrides of an instance: objects added on top of
// what its template declares.
type OverrideSet struct {
	Added []AddedObject
}

type AddedObject struct {
	Entity EntityID
	Origin Origin
}

// Nested reports whether any added object is itself an instance carrying added objects,
// i.e. the set spans more than one level of structural overrides.
func (s OverrideSet) Nested() bool {
	for _, a := range s.Added {
		if r, ok := a.Origin.(InstanceRoot); ok && len(r.Overrides.Added) > 0 {
			return true
		}
	}
	return false
}

// IsTemplated reports whether o participates in the template system.
func IsTemplated(o Origin) bool {
	switch o.(type) {
	case TemplateAsset, InstanceRoot, InstanceMember:
		return true
	}
	return false
}

// NearestRoot resolves e to the entity that should be duplicated in its place: the
// enclosing instance root for instance members, e itself otherwise.
func NearestRoot(e EntityID, o Origin) EntityID {
	if m, ok := o.(InstanceMember); ok && m.Root != NoEntity {
		return m.Root
	}
	return e
}
