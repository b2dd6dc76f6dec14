// Package session runs the bounded physics loop over scattered instances and keeps
// every other body in the scene frozen while it runs.
package session

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"scatterdrop.dev/internal/geom"
	"scatterdrop.dev/internal/scatter/instance"
	"scatterdrop.dev/internal/scatter/refpool"
	"scatterdrop.dev/internal/scene"
)

// Host is the part of the scene a session drives.
type Host interface {
	instance.Host
	scene.Selection
}

// Config tunes the physics stepping of a session.
type Config struct {
	// FixedStep is the physics step in seconds.
	FixedStep float32
	// MaxSteps caps the number of physics steps per Step call.
	MaxSteps   int
	KeepParent bool
}

func DefaultConfig() Config {
	return Config{FixedStep: 1.0 / 50, MaxSteps: 3}
}

func (c *Config) Normalize() {
	if c.FixedStep <= 0 {
		c.FixedStep = 1.0 / 50
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = 3
	}
}

type disabledBody struct {
	body          scene.BodyID
	wasOverridden bool
}

// Session simulates dropped instances in isolation: while it runs every foreign body
// is frozen, and Stop either commits the instances or throws them away.
type Session struct {
	host Host
	log  *log.Logger
	cfg  Config
	rng  *rand.Rand
	obs  Observer
	now  func() time.Time

	instances []*instance.Instance
	foreign   []scene.BodyID
	disabled  []disabledBody

	dirty   bool
	running bool
	accum   float32
	scans   int

	runID   string
	started time.Time
}

// New returns an idle session. The first Start scans the scene for foreign bodies.
func New(h Host, cfg Config, logger *log.Logger, rng *rand.Rand) *Session {
	cfg.Normalize()
	if logger == nil {
		logger = log.Default()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Session{
		host:  h,
		log:   logger,
		cfg:   cfg,
		rng:   rng,
		obs:   NopObserver{},
		now:   time.Now,
		dirty: true,
	}
}

// SetObserver replaces the observer. A nil observer disables notifications.
func (s *Session) SetObserver(o Observer) {
	if o == nil {
		o = NopObserver{}
	}
	s.obs = o
}

func (s *Session) SetKeepParent(keep bool) { s.cfg.KeepParent = keep }
func (s *Session) Config() Config          { return s.cfg }

func (s *Session) Running() bool { return s.running }
func (s *Session) Dirty() bool   { return s.dirty }

// MarkDirty forces a foreign body re-scan on the next Start.
func (s *Session) MarkDirty() { s.dirty = true }

// Scans counts foreign body re-scans so far.
func (s *Session) Scans() int { return s.scans }

// RunID identifies the current run, empty while idle.
func (s *Session) RunID() string {
	if !s.running {
		return ""
	}
	return s.runID
}

// LastRunID returns the id of the current or most recent run.
func (s *Session) LastRunID() string { return s.runID }

func (s *Session) Len() int { return len(s.instances) }

func (s *Session) Instances() []*instance.Instance {
	return append([]*instance.Instance(nil), s.instances...)
}

// Start freezes every foreign body. It returns false if the session already runs.
func (s *Session) Start() bool {
	if s.running {
		return false
	}
	s.Prune()
	s.accum = 0
	rescanned := s.gather()
	s.freeze()
	s.running = true
	s.runID = uuid.NewString()
	s.started = s.now()
	s.obs.SessionStarted(RunInfo{
		ID:        s.runID,
		Started:   s.started,
		Foreign:   len(s.foreign),
		Frozen:    len(s.disabled),
		Rescanned: rescanned,
	})
	return true
}

// gather snapshots foreign bodies when the scene changed since the last scan. Own
// instances are disabled for the duration of the query so they are not listed.
func (s *Session) gather() bool {
	if !s.dirty {
		return false
	}
	var hidden []*instance.Instance
	for _, in := range s.instances {
		if in.DisableBody() {
			hidden = append(hidden, in)
		}
	}
	s.foreign = s.host.FindAllBodies()
	for _, in := range hidden {
		in.EnableBody()
	}
	s.dirty = false
	s.scans++
	return true
}

func (s *Session) freeze() {
	s.disabled = s.disabled[:0]
	for _, b := range s.foreign {
		if !s.host.BodyAlive(b) || s.host.Kinematic(b) {
			continue
		}
		s.disabled = append(s.disabled, disabledBody{body: b, wasOverridden: s.host.KinematicOverridden(b)})
		s.host.SetKinematic(b, true)
	}
}

// Step advances the simulation by dt using fixed steps. Leftover time carries over.
// It returns the number of physics steps taken.
func (s *Session) Step(dt float32) int {
	if !s.running {
		return 0
	}
	s.accum += dt
	steps := 0
	for s.accum > s.cfg.FixedStep && steps < s.cfg.MaxSteps {
		steps++
		s.accum -= s.cfg.FixedStep

		prev := s.host.AutoSimulation()
		s.host.SetAutoSimulation(false)
		s.host.Simulate(s.cfg.FixedStep)
		s.host.SetAutoSimulation(prev)
	}
	return steps
}

// Stop ends the run, optionally turning every live instance into a permanent entity,
// and thaws the frozen bodies. It returns false if the session was idle.
func (s *Session) Stop(consolidate bool) bool {
	if !s.running {
		return false
	}
	s.running = false

	sum := Summary{ID: s.runID, Started: s.started}
	if consolidate {
		sum.Consolidated, sum.Failed = s.consolidateAll()
		if sum.Consolidated > 0 {
			s.host.SetGroupName(fmt.Sprintf("Consolidated %d dropped objects.", sum.Consolidated))
		}
	}
	sum.Discarded = s.discard()
	sum.Restored = s.thaw()
	sum.Stopped = s.now()
	s.obs.SessionStopped(sum)
	s.log.Printf("session %s stopped: consolidated=%d failed=%d discarded=%d restored=%d",
		sum.ID, sum.Consolidated, sum.Failed, sum.Discarded, sum.Restored)
	return true
}

func (s *Session) consolidateAll() (ok, failed int) {
	for _, in := range s.instances {
		final, done := in.Consolidate(s.cfg.KeepParent)
		if !done {
			failed++
			continue
		}
		ok++
		// Only root bodies are pooled, so the root body is the only one to track.
		if b, has := s.host.Body(final); has {
			s.foreign = append(s.foreign, b)
		}
		pos, rot, _ := s.host.Transform(final)
		s.obs.Placed(Placement{
			SessionID:    s.runID,
			Entity:       final,
			Template:     in.Template(),
			TemplateName: s.host.Name(in.Template()),
			Pos:          pos,
			Rot:          rot,
			At:           s.now(),
		})
	}
	return ok, failed
}

// thaw restores every frozen body. Stale bodies are skipped, never abort the pass.
func (s *Session) thaw() int {
	restored := 0
	for _, d := range s.disabled {
		if !s.host.BodyAlive(d.body) {
			continue
		}
		if s.host.Templated(d.body) {
			if !s.host.Kinematic(d.body) {
				continue
			}
			s.host.SetKinematic(d.body, false)
			if !d.wasOverridden {
				s.host.RevertOverride(d.body, scene.PropIsKinematic)
			}
		} else {
			s.host.SetKinematic(d.body, false)
		}
		restored++
	}
	s.disabled = s.disabled[:0]
	return restored
}

// Add spawns one instance from entry at pos.
func (s *Session) Add(entry *refpool.Entry, pos mgl32.Vec3, randomRotation bool) (*instance.Instance, error) {
	in, err := instance.Spawn(s.host, entry)
	if err != nil {
		return nil, err
	}
	s.instances = append(s.instances, in)
	if randomRotation {
		in.RotateBy(geom.RandomRotation(s.rng))
	}
	in.SetPosition(pos)
	return in, nil
}

// MoveAll translates every instance. Ignored while running: physics owns positions then.
func (s *Session) MoveAll(offset mgl32.Vec3) {
	if s.running {
		return
	}
	for _, in := range s.instances {
		in.MoveBy(offset)
	}
}

// AllSettled reports whether every live instance sleeps. Empty sessions are settled.
func (s *Session) AllSettled() bool {
	for _, in := range s.instances {
		if in.IsValid() && !in.IsSettled() {
			return false
		}
	}
	return true
}

// LastIsSettled checks the most recent live instance only.
func (s *Session) LastIsSettled() bool {
	for i := len(s.instances) - 1; i >= 0; i-- {
		if s.instances[i].IsValid() {
			return s.instances[i].IsSettled()
		}
	}
	return true
}

// Contains reports whether e belongs to any live instance.
func (s *Session) Contains(e scene.EntityID) bool {
	for _, in := range s.instances {
		if in.Contains(e) {
			return true
		}
	}
	return false
}

// MaxHalfHeight is the tallest half height among live instances.
func (s *Session) MaxHalfHeight() float32 {
	var h float32
	for _, in := range s.instances {
		if in.IsValid() && in.HalfHeight() > h {
			h = in.HalfHeight()
		}
	}
	return h
}

// Prune forgets destroyed instances and refreshes the template state of the rest.
func (s *Session) Prune() {
	live := s.instances[:0]
	for _, in := range s.instances {
		if in.IsValid() {
			in.RefreshTemplate(s.host)
			live = append(live, in)
		}
	}
	for i := len(live); i < len(s.instances); i++ {
		s.instances[i] = nil
	}
	s.instances = live
}

// DiscardAll destroys every instance without consolidating.
func (s *Session) DiscardAll() { s.discard() }

func (s *Session) discard() int {
	n := 0
	for _, in := range s.instances {
		if in.IsValid() {
			n++
		}
		in.Destroy()
	}
	s.instances = s.instances[:0]
	return n
}

// Close tears the session down: any run is stopped without consolidation and the
// foreign body snapshot is forgotten. Safe to call repeatedly.
func (s *Session) Close() {
	s.Stop(false)
	s.discard()
	s.foreign = nil
	s.disabled = nil
	s.dirty = true
}
