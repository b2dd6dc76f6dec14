// Package tool wires the reference pool, simulation session and spawn controller of
// one scatter tool to a host scene and reacts to host notifications.
package tool

import (
	"log"
	"math/rand"
	"time"

	"scatterdrop.dev/internal/geom"
	"scatterdrop.dev/internal/scatter/refpool"
	"scatterdrop.dev/internal/scatter/session"
	"scatterdrop.dev/internal/scatter/spawn"
	"scatterdrop.dev/internal/scene"
)

// Host is everything the tool needs from the editor hosting it.
type Host interface {
	scene.Host
	scene.Notifier
}

type Config struct {
	Session session.Config
	Spawn   spawn.Config
	Policy  spawn.Policy
	// Seed drives pool order and spawn randomization. Zero picks a time based seed.
	Seed int64
}

func DefaultConfig() Config {
	return Config{
		Session: session.DefaultConfig(),
		Spawn:   spawn.DefaultConfig(),
		Policy:  spawn.DefaultPolicy(),
	}
}

type Status struct {
	State      string `json:"state"`
	Enabled    bool   `json:"enabled"`
	Running    bool   `json:"running"`
	RunID      string `json:"run_id,omitempty"`
	PoolSize   int    `json:"pool_size"`
	LastReason string `json:"last_reason,omitempty"`
	// Next is the template the next drop will use, zero when none.
	Next      uint64      `json:"next,omitempty"`
	NextName  string      `json:"next_name,omitempty"`
	Instances int         `json:"instances"`
	Target    *[3]float32 `json:"target,omitempty"`
}

type Tool struct {
	host Host
	log  *log.Logger

	pool *refpool.Pool
	sess *session.Session
	ctl  *spawn.Controller

	enabled         bool
	ignoreHierarchy bool
	muteSelection   bool
	lastReason      string
}

func New(h Host, cfg Config, logger *log.Logger) *Tool {
	if logger == nil {
		logger = log.Default()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	t := &Tool{host: h, log: logger}
	t.pool = refpool.New(h, rand.New(rand.NewSource(seed)))
	t.sess = session.New(h, cfg.Session, logger, rand.New(rand.NewSource(seed+1)))
	t.ctl = spawn.New(h, t.pool, t.sess, cfg.Spawn, cfg.Policy, logger, rand.New(rand.NewSource(seed+2)))
	t.ctl.OnBeforeSpawn(func() { t.ignoreHierarchy = true })
	t.ctl.OnAfterSpawn(func(err error) {
		// A failed instantiation sends no notification to consume.
		if err != nil {
			t.ignoreHierarchy = false
		}
	})
	return t
}

func (t *Tool) Session() *session.Session     { return t.sess }
func (t *Tool) Controller() *spawn.Controller { return t.ctl }
func (t *Tool) Pool() *refpool.Pool           { return t.pool }
func (t *Tool) Enabled() bool                 { return t.enabled }

// SetObserver forwards session events to o.
func (t *Tool) SetObserver(o session.Observer) { t.sess.SetObserver(o) }

// Enable rebuilds the pool from the current selection and subscribes to the host.
func (t *Tool) Enable() {
	if t.enabled {
		return
	}
	t.enabled = true
	t.rebuild()
	t.ctl.Activate()
	t.ctl.Retarget()
	t.host.Attach(t)
}

// Disable abandons any drop in progress and unsubscribes.
func (t *Tool) Disable() {
	if !t.enabled {
		return
	}
	t.enabled = false
	t.ctl.StopSession(false)
	t.ctl.Deactivate()
	t.sess.Close()
	t.host.Detach(t)
}

func (t *Tool) rebuild() {
	rep := t.pool.Rebuild(t.host.Selected())
	t.lastReason = rep.LastReason()
	if rep.Rejected > 0 {
		t.log.Printf("pool: accepted=%d rejected=%d last=%q", rep.Accepted, rep.Rejected, t.lastReason)
	}
}

func (t *Tool) SetPolicy(p spawn.Policy) { t.ctl.SetPolicy(p) }

func (t *Tool) PointerEnter(r geom.Ray, insideWidget bool) { t.ctl.PointerEnter(r, insideWidget) }
func (t *Tool) PointerMove(r geom.Ray, insideWidget bool)  { t.ctl.PointerMove(r, insideWidget) }

func (t *Tool) PointerDown(button int, mods spawn.Modifiers, insideWidget bool) bool {
	return t.ctl.PointerDown(button, mods, insideWidget)
}

func (t *Tool) PointerUp(button int, insideWidget bool) bool {
	return t.ctl.PointerUp(button, insideWidget)
}

func (t *Tool) PointerLeave() {
	t.ctl.PointerLeave()
	t.lastReason = ""
}

func (t *Tool) Update(dt float32) { t.ctl.Update(dt) }

// HierarchyChanged marks the foreign snapshot dirty, except for the one change each
// spawn of ours causes before the copy is hidden.
func (t *Tool) HierarchyChanged() {
	if t.ignoreHierarchy {
		t.ignoreHierarchy = false
		return
	}
	t.sess.MarkDirty()
}

// SelectionChanged rebuilds the pool unless a drop is simulating.
func (t *Tool) SelectionChanged() {
	if t.muteSelection || t.sess.Running() {
		return
	}
	t.rebuild()
	t.ctl.Retarget()
	if t.pool.Len() == 0 {
		t.ctl.ClearTarget()
	}
	if t.sess.Len() > 0 {
		t.sess.DiscardAll()
	}
}

// UndoRedoPerformed abandons the run and restores the pool selection, which undo may
// have cleared.
func (t *Tool) UndoRedoPerformed() {
	t.sess.MarkDirty()
	wasRunning := t.sess.Running()
	t.ctl.StopSession(false)

	t.muteSelection = wasRunning
	t.pool.SelectAll()
	t.muteSelection = false

	t.sess.Prune()
	t.ctl.Retarget()
}

func (t *Tool) Status() Status {
	st := Status{
		State:      t.ctl.State().String(),
		Enabled:    t.enabled,
		Running:    t.sess.Running(),
		RunID:      t.sess.RunID(),
		PoolSize:   t.pool.Len(),
		LastReason: t.lastReason,
		Instances:  t.sess.Len(),
	}
	if next, ok := t.ctl.Next(); ok {
		st.Next = uint64(next.Template)
		st.NextName = t.host.Name(next.Template)
	}
	if hit, ok := t.ctl.Target(); ok {
		a := geom.ToArray(hit)
		st.Target = &a
	}
	return st
}
