package memscene

import (
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"

	"scatterdrop.dev/internal/scene"
)

// Layout is a hand-written scene description.
type Layout struct {
	SceneID  string         `yaml:"scene_id"`
	Assets   []EntityLayout `yaml:"assets"`
	Entities []EntityLayout `yaml:"entities"`
	Select   []string       `yaml:"select"`
}

type EntityLayout struct {
	Name string `yaml:"name"`
	// InstanceOf names an asset to instantiate instead of building the entity inline.
	InstanceOf string         `yaml:"instance_of"`
	Pos        [3]float32     `yaml:"pos"`
	Rot        *[4]float32    `yaml:"rot"`
	Inactive   bool           `yaml:"inactive"`
	Colliders  []BoxLayout    `yaml:"colliders"`
	Body       *BodyLayout    `yaml:"body"`
	Children   []EntityLayout `yaml:"children"`
	// Added lists added-object overrides; only valid together with InstanceOf.
	Added []EntityLayout `yaml:"added"`
}

type BoxLayout struct {
	Offset    [3]float32 `yaml:"offset"`
	Extents   [3]float32 `yaml:"extents"`
	NonConvex bool       `yaml:"non_convex"`
	Trigger   bool       `yaml:"trigger"`
}

type BodyLayout struct {
	Kinematic bool `yaml:"kinematic"`
	// Override sets the kinematic flag locally on an instance.
	Override *bool `yaml:"override"`
}

func LoadLayout(path string) (Layout, error) {
	var l Layout
	b, err := os.ReadFile(path)
	if err != nil {
		return l, err
	}
	if err := yaml.Unmarshal(b, &l); err != nil {
		return l, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Build populates s from l.
func (l Layout) Build(s *Scene) error {
	assets := map[string]scene.EntityID{}
	for _, a := range l.Assets {
		id := s.CreateAsset(a.spec())
		assets[a.Name] = id
		if err := l.buildChildren(s, id, a.Children, assets); err != nil {
			return err
		}
	}
	for _, e := range l.Entities {
		if _, err := l.buildEntity(s, scene.NoEntity, e, assets); err != nil {
			return err
		}
	}
	var sel []scene.EntityID
	for _, name := range l.Select {
		id, ok := s.Find(name)
		if !ok {
			return fmt.Errorf("select: unknown entity %q", name)
		}
		sel = append(sel, id)
	}
	if len(sel) > 0 {
		s.Select(sel)
	}
	return nil
}

func (l Layout) buildEntity(s *Scene, parent scene.EntityID, e EntityLayout, assets map[string]scene.EntityID) (scene.EntityID, error) {
	if e.InstanceOf == "" {
		if len(e.Added) > 0 {
			return scene.NoEntity, fmt.Errorf("%s: added objects need instance_of", e.Name)
		}
		var id scene.EntityID
		if parent == scene.NoEntity {
			id = s.Create(e.spec())
		} else {
			id = s.CreateChild(parent, e.spec())
		}
		return id, l.buildChildren(s, id, e.Children, assets)
	}

	asset, ok := assets[e.InstanceOf]
	if !ok {
		return scene.NoEntity, fmt.Errorf("%s: unknown asset %q", e.Name, e.InstanceOf)
	}
	id, ok := s.InstantiateFromTemplate(asset)
	if !ok {
		return scene.NoEntity, fmt.Errorf("%s: instantiate %q failed", e.Name, e.InstanceOf)
	}
	if e.Name != "" {
		s.nodes[id].name = e.Name
	}
	s.SetTransform(id, mgl32.Vec3(e.Pos), e.rot())
	if parent != scene.NoEntity {
		s.SetParent(id, parent)
	}
	if e.Body != nil && e.Body.Override != nil {
		if b, ok := s.Body(id); ok {
			s.SetKinematic(b, *e.Body.Override)
		}
	}
	s.SetActive(id, !e.Inactive)
	for _, a := range e.Added {
		child, err := l.buildEntity(s, id, a, assets)
		if err != nil {
			return scene.NoEntity, err
		}
		s.AttachOverride(id, child)
	}
	return id, nil
}

func (l Layout) buildChildren(s *Scene, parent scene.EntityID, children []EntityLayout, assets map[string]scene.EntityID) error {
	for _, c := range children {
		if _, err := l.buildEntity(s, parent, c, assets); err != nil {
			return err
		}
	}
	return nil
}

func (e EntityLayout) rot() mgl32.Quat {
	if e.Rot == nil {
		return mgl32.QuatIdent()
	}
	return mgl32.Quat{W: e.Rot[3], V: mgl32.Vec3{e.Rot[0], e.Rot[1], e.Rot[2]}}.Normalize()
}

func (e EntityLayout) spec() Spec {
	sp := Spec{
		Name:     e.Name,
		Pos:      mgl32.Vec3(e.Pos),
		Rot:      e.rot(),
		Inactive: e.Inactive,
	}
	for _, c := range e.Colliders {
		sp.Colliders = append(sp.Colliders, ColliderSpec{
			Offset:    mgl32.Vec3(c.Offset),
			Extents:   mgl32.Vec3(c.Extents),
			NonConvex: c.NonConvex,
			Trigger:   c.Trigger,
		})
	}
	if e.Body != nil {
		sp.Body = &BodySpec{Kinematic: e.Body.Kinematic}
	}
	return sp
}
