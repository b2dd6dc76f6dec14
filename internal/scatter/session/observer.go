package session

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"scatterdrop.dev/internal/scene"
)

type RunInfo struct {
	ID      string
	Started time.Time
	// Foreign is the size of the foreign body snapshot, Frozen how many were made kinematic.
	Foreign   int
	Frozen    int
	Rescanned bool
}

// Placement is one permanent entity produced by consolidation.
type Placement struct {
	SessionID    string
	Entity       scene.EntityID
	Template     scene.EntityID
	TemplateName string
	Pos          mgl32.Vec3
	Rot          mgl32.Quat
	At           time.Time
}

type Summary struct {
	ID           string
	Started      time.Time
	Stopped      time.Time
	Consolidated int
	Failed       int
	Discarded    int
	Restored     int
}

// Observer receives session lifecycle events. Implementations must not block.
type Observer interface {
	SessionStarted(RunInfo)
	Placed(Placement)
	SessionStopped(Summary)
}

type NopObserver struct{}

func (NopObserver) SessionStarted(RunInfo) {}
func (NopObserver) Placed(Placement)       {}
func (NopObserver) SessionStopped(Summary) {}

// Observers fans events out in order.
type Observers []Observer

func (obs Observers) SessionStarted(r RunInfo) {
	for _, o := range obs {
		o.SessionStarted(r)
	}
}

func (obs Observers) Placed(p Placement) {
	for _, o := range obs {
		o.Placed(p)
	}
}

func (obs Observers) SessionStopped(s Summary) {
	for _, o := range obs {
		o.SessionStopped(s)
	}
}
