// Package refpool keeps the set of templates the operator picked for scattering.
package refpool

import (
	"errors"
	"fmt"
	"math/rand"

	"scatterdrop.dev/internal/scene"
)

var (
	ErrNonConvexCollider = errors.New("ignored object with non-convex collider, cannot simulate it")
	ErrNestedBody        = errors.New("object contains a physics body not in its root, not supported")
	ErrNestedOverrides   = errors.New("ignored instance with several levels of added-object overrides, not supported")
)

// ValidationError explains why a selected entity was not pooled.
type ValidationError struct {
	Entity scene.EntityID
	Name   string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Scene is what the pool needs from the host.
type Scene interface {
	scene.Entities
	scene.Physics
	scene.Selection
}

// Entry is one pooled template together with the body state captured from it.
type Entry struct {
	Template scene.EntityID

	Body          scene.BodyID
	HasBody       bool
	WasKinematic  bool
	WasOverridden bool
}

// Refresh re-reads the template body state.
func (e *Entry) Refresh(s Scene) {
	e.Body, e.HasBody = s.Body(e.Template)
	e.WasKinematic = e.HasBody && s.Kinematic(e.Body)
	e.WasOverridden = e.HasBody && s.KinematicOverridden(e.Body)
}

type Report struct {
	Accepted int
	Rejected int
	// LastErr is the last rejection seen, nil when everything was accepted.
	LastErr error
}

// LastReason is the human readable form of LastErr.
func (r Report) LastReason() string {
	if r.LastErr == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(r.LastErr, &ve) {
		return ve.Err.Error()
	}
	return r.LastErr.Error()
}

type Pool struct {
	scene   Scene
	rng     *rand.Rand
	entries []*Entry
	cursor  int
}

func New(s Scene, rng *rand.Rand) *Pool {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Pool{scene: s, rng: rng, cursor: -1}
}

func (p *Pool) Len() int { return len(p.entries) }

// Entries returns the pooled entries in selection order.
func (p *Pool) Entries() []*Entry {
	return append([]*Entry(nil), p.entries...)
}

// Rebuild replaces the pool with the valid entities of selection.
func (p *Pool) Rebuild(selection []scene.EntityID) Report {
	var rep Report
	p.entries = p.entries[:0]
	p.cursor = -1
	seen := map[scene.EntityID]bool{}
	for _, e := range selection {
		if !p.scene.Alive(e) {
			continue
		}
		if err := p.validate(e); err != nil {
			rep.Rejected++
			rep.LastErr = err
			continue
		}
		root := scene.NearestRoot(e, p.scene.Origin(e))
		if seen[root] {
			continue
		}
		seen[root] = true
		entry := &Entry{Template: root}
		entry.Refresh(p.scene)
		p.entries = append(p.entries, entry)
		rep.Accepted++
	}
	return rep
}

// validate checks e and, for instance members, the root that would be pooled.
func (p *Pool) validate(e scene.EntityID) error {
	if err := p.validateShape(e); err != nil {
		return err
	}
	root := scene.NearestRoot(e, p.scene.Origin(e))
	if root != e {
		if err := p.validateShape(root); err != nil {
			return err
		}
	}
	if r, ok := p.scene.Origin(root).(scene.InstanceRoot); ok && r.Overrides.Nested() {
		return &ValidationError{Entity: e, Name: p.scene.Name(e), Err: ErrNestedOverrides}
	}
	return nil
}

func (p *Pool) validateShape(e scene.EntityID) error {
	for _, c := range p.scene.Colliders(e) {
		if c.Owner == e && !c.Convex {
			return &ValidationError{Entity: e, Name: p.scene.Name(e), Err: ErrNonConvexCollider}
		}
	}

	_, hasBody := p.scene.Body(e)
	n := p.scene.BodiesInSubtree(e)
	if (hasBody && n > 1) || (!hasBody && n > 0) {
		return &ValidationError{Entity: e, Name: p.scene.Name(e), Err: ErrNestedBody}
	}
	return nil
}

// Next returns the next live entry, evicting entries whose template was destroyed.
func (p *Pool) Next(randomized bool) (*Entry, bool) {
	for len(p.entries) > 0 {
		if randomized {
			p.cursor = p.rng.Intn(len(p.entries))
		} else {
			p.cursor = (p.cursor + 1) % len(p.entries)
		}
		entry := p.entries[p.cursor]
		if p.scene.Alive(entry.Template) {
			return entry, true
		}
		p.entries = append(p.entries[:p.cursor], p.entries[p.cursor+1:]...)
		p.cursor--
	}
	return nil, false
}

// SelectAll puts the live templates back into the host selection.
func (p *Pool) SelectAll() {
	ids := make([]scene.EntityID, 0, len(p.entries))
	for _, e := range p.entries {
		if p.scene.Alive(e.Template) {
			ids = append(ids, e.Template)
		}
	}
	p.scene.Select(ids)
}
