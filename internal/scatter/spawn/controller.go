// Package spawn turns pointer input and elapsed time into drop decisions.
package spawn

import (
	"log"
	"math/rand"
	"time"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"scatterdrop.dev/internal/geom"
	"scatterdrop.dev/internal/scatter/refpool"
	"scatterdrop.dev/internal/scatter/session"
	"scatterdrop.dev/internal/scene"
)

type State uint8

const (
	Inactive State = iota
	// Idle: active, but the pointer is not over a valid drop target.
	Idle
	// Armed: a valid drop target exists and the button is up.
	Armed
	// Dropping: the primary button is held.
	Dropping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Armed:
		return "ARMED"
	case Dropping:
		return "DROPPING"
	}
	return "INACTIVE"
}

const (
	ButtonPrimary = 0

	unfinishedGroup = "Scatter Object unfinished simulation"
)

type Modifiers uint8

const (
	ModShift Modifiers = 1 << iota
	ModCtrl
	ModAlt
)

// Host is what the controller needs from the scene.
type Host interface {
	Raycast(r geom.Ray) (scene.Hit, bool)
	BeginGroup(name string)
	SetGroupName(name string)
}

// Preview mirrors the next drop. The controller keeps it in sync but never renders.
type Preview interface {
	Show(template scene.EntityID, pos mgl32.Vec3)
	Move(pos mgl32.Vec3)
	Hide()
}

// Config bounds the ray queries used to find a drop target.
type Config struct {
	// RayRetries bounds the ray queries per pointer update.
	RayRetries int
	// RayNudge is how far past a skipped hit the next query starts.
	RayNudge float32
}

func DefaultConfig() Config {
	return Config{RayRetries: 6, RayNudge: 0.05}
}

// Controller turns pointer input into spawns: it tracks the drop target, runs the
// spawn cadence while the button is held and commits the session once it settles.
type Controller struct {
	host    Host
	pool    *refpool.Pool
	sess    *session.Session
	preview Preview
	log     *log.Logger
	rng     *rand.Rand
	cfg     Config
	policy  Policy

	active     bool
	entered    bool
	buttonDown bool
	hasHit     bool
	hit        mgl32.Vec3
	accum      float32

	next        *refpool.Entry
	previewOn   bool
	beforeSpawn func()
	afterSpawn  func(err error)
}

// New returns an inactive controller drawing templates from pool into sess.
func New(h Host, pool *refpool.Pool, sess *session.Session, cfg Config, policy Policy, logger *log.Logger, rng *rand.Rand) *Controller {
	if cfg.RayRetries <= 0 {
		cfg.RayRetries = 6
	}
	if cfg.RayNudge <= 0 {
		cfg.RayNudge = 0.05
	}
	if logger == nil {
		logger = log.Default()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	c := &Controller{host: h, pool: pool, sess: sess, log: logger, rng: rng, cfg: cfg}
	c.SetPolicy(policy)
	return c
}

// SetPreview installs an optional preview. Nil removes it.
func (c *Controller) SetPreview(p Preview) {
	if c.preview != nil && c.previewOn {
		c.preview.Hide()
	}
	c.preview = p
	c.previewOn = false
	c.refreshPreview()
}

// OnBeforeSpawn registers fn to run right before every spawn.
func (c *Controller) OnBeforeSpawn(fn func()) { c.beforeSpawn = fn }

// OnAfterSpawn registers fn to receive the outcome of every spawn attempt.
func (c *Controller) OnAfterSpawn(fn func(err error)) { c.afterSpawn = fn }

func (c *Controller) SetPolicy(p Policy) {
	p.Normalize()
	c.policy = p
	c.sess.SetKeepParent(p.KeepParent)
}

func (c *Controller) Policy() Policy { return c.policy }

func (c *Controller) State() State {
	switch {
	case !c.active:
		return Inactive
	case c.buttonDown:
		return Dropping
	case c.hasHit:
		return Armed
	}
	return Idle
}

// Target returns the current hit point.
func (c *Controller) Target() (mgl32.Vec3, bool) { return c.hit, c.hasHit }

// Next returns the template the next drop will use.
func (c *Controller) Next() (*refpool.Entry, bool) { return c.next, c.next != nil }

func (c *Controller) Activate() {
	c.active = true
	c.buttonDown = false
}

func (c *Controller) Deactivate() {
	c.active = false
	c.entered = false
	c.buttonDown = false
	c.hasHit = false
	c.hidePreview()
}

// Retarget derives the next template from the pool.
func (c *Controller) Retarget() {
	c.next, _ = c.pool.Next(c.policy.RandomizeOrder)
	c.refreshPreview()
}

// ClearTarget forgets the hit point.
func (c *Controller) ClearTarget() {
	c.hasHit = false
	c.refreshPreview()
}

// PointerEnter starts tracking the pointer and resets the session.
func (c *Controller) PointerEnter(ray geom.Ray, insideWidget bool) {
	if !c.active {
		return
	}
	c.entered = true
	c.sess.Close()
	c.PointerMove(ray, insideWidget)
}

// PointerMove recomputes the hit point. Moves before the pointer entered are ignored.
func (c *Controller) PointerMove(ray geom.Ray, insideWidget bool) {
	if !c.active || !c.entered {
		return
	}
	changed := c.updateHit(ray, insideWidget)
	if c.sess.Running() {
		return
	}
	if changed && !c.hasHit {
		c.sess.DiscardAll()
	}
	c.refreshPreview()
}

// PointerDown begins a drop sequence. It reports whether the event was consumed.
func (c *Controller) PointerDown(button int, mods Modifiers, insideWidget bool) bool {
	if !c.active || button != ButtonPrimary || mods != 0 {
		return false
	}
	if insideWidget {
		return true
	}
	c.startSession()
	c.refreshPreview()
	c.spawn()
	c.buttonDown = true
	return true
}

func (c *Controller) PointerUp(button int, insideWidget bool) bool {
	if !c.active || button != ButtonPrimary {
		return false
	}
	if !insideWidget {
		c.buttonDown = false
	}
	return true
}

// PointerLeave commits whatever is simulating and drops the target.
func (c *Controller) PointerLeave() {
	if !c.active {
		return
	}
	c.StopSession(true)
	c.sess.DiscardAll()
	c.entered = false
	c.buttonDown = false
	c.hasHit = false
	c.refreshPreview()
}

// Update runs once per frame.
func (c *Controller) Update(dt float32) {
	if !c.active || !c.sess.Running() {
		return
	}
	c.sess.Step(dt)

	if !c.buttonDown {
		if c.sess.AllSettled() {
			c.StopSession(true)
		}
		return
	}
	if !c.hasHit {
		return
	}

	c.accum += dt
	switch c.policy.Cadence {
	case CadenceAfterSettle:
		if c.accum > c.policy.MinDelay && c.sess.LastIsSettled() {
			c.accum = 0
			c.spawn()
		}
	case CadenceAfterDelay:
		delay := math32.Max(dt, c.policy.Delay)
		for c.accum > delay {
			c.accum -= delay
			c.spawn()
		}
	}
}

// StopSession stops the session and refreshes the preview.
func (c *Controller) StopSession(consolidate bool) bool {
	stopped := c.sess.Stop(consolidate)
	c.refreshPreview()
	return stopped
}

func (c *Controller) startSession() {
	if c.sess.Running() {
		return
	}
	if c.sess.Start() {
		c.host.BeginGroup(unfinishedGroup)
		c.accum = 0
	}
}

func (c *Controller) updateHit(ray geom.Ray, insideWidget bool) bool {
	had, old := c.hasHit, c.hit
	c.hasHit = false
	if insideWidget || c.pool.Len() == 0 {
		return had != c.hasHit
	}
	for tries := c.cfg.RayRetries; tries > 0; {
		h, ok := c.host.Raycast(ray)
		if !ok {
			break
		}
		if (!c.sess.Running() && c.sess.Contains(h.Entity)) || h.Trigger {
			tries--
			ray = ray.Nudge(h.Point, c.cfg.RayNudge)
			continue
		}
		c.hit, c.hasHit = ray.At(h.Distance), true
		if had {
			c.sess.MoveAll(c.hit.Sub(old))
		}
		break
	}
	return had != c.hasHit
}

// dropOffset lifts spawns above the hit point so they clear the tallest instance.
func (c *Controller) dropOffset() mgl32.Vec3 {
	return geom.Up.Mul(math32.Max(c.policy.DropHeight, c.sess.MaxHalfHeight()))
}

func (c *Controller) spawnPoint() mgl32.Vec3 {
	p := c.hit.Add(c.dropOffset())
	if c.policy.Shape == ShapeArea {
		p = p.Add(geom.DiscOffset(c.rng, c.policy.Radius))
	}
	return p
}

func (c *Controller) spawn() bool {
	if !c.hasHit || c.next == nil {
		return false
	}
	if c.beforeSpawn != nil {
		c.beforeSpawn()
	}
	_, err := c.sess.Add(c.next, c.spawnPoint(), c.policy.RandomizeRotation)
	if c.afterSpawn != nil {
		c.afterSpawn(err)
	}
	if err != nil {
		c.log.Printf("spawn: %v", err)
		return false
	}
	c.next, _ = c.pool.Next(c.policy.RandomizeOrder)
	c.hidePreview()
	c.refreshPreview()
	return true
}

func (c *Controller) refreshPreview() {
	if c.preview == nil {
		return
	}
	if !c.hasHit || c.sess.Running() || c.next == nil {
		c.hidePreview()
		return
	}
	pos := c.hit.Add(c.dropOffset())
	if c.previewOn {
		c.preview.Move(pos)
		return
	}
	c.preview.Show(c.next.Template, pos)
	c.previewOn = true
}

func (c *Controller) hidePreview() {
	if c.preview != nil && c.previewOn {
		c.preview.Hide()
	}
	c.previewOn = false
}
