// Package sandbox hosts one scene and one scatter tool behind a frame loop. Operators
// join over channels and drive the tool with protocol commands.
package sandbox

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"scatterdrop.dev/internal/persistence/snapshot"
	"scatterdrop.dev/internal/protocol"
	"scatterdrop.dev/internal/scatter/tool"
	"scatterdrop.dev/internal/scene/memscene"
)

type Config struct {
	SceneID     string
	FrameRateHz int
	// SnapshotEveryFrames schedules snapshots into the sink. Zero disables them.
	SnapshotEveryFrames int
	// StrictOutbound validates every outbound message against its schema.
	StrictOutbound bool
	// StartFrame is the first frame number, used when resuming from a snapshot.
	StartFrame uint64
}

func (c *Config) applyDefaults() {
	if c.SceneID == "" {
		c.SceneID = "scene"
	}
	if c.FrameRateHz <= 0 {
		c.FrameRateHz = 30
	}
	if c.SnapshotEveryFrames < 0 {
		c.SnapshotEveryFrames = 0
	}
}

type JoinRequest struct {
	Name     string
	ReadOnly bool
	Out      chan []byte
	Resp     chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

// Envelope carries one validated client command. Msg is one of the *protocol.XxxMsg
// command types.
type Envelope struct {
	OperatorID string
	Msg        any
}

type operator struct {
	id       string
	name     string
	readOnly bool
	out      chan []byte
}

type Metrics struct {
	Frame      uint64 `json:"frame"`
	Operators  int    `json:"operators"`
	Running    bool   `json:"running"`
	Instances  int    `json:"instances"`
	Commands   uint64 `json:"commands"`
	Rejected   uint64 `json:"rejected"`
	Snapshots  uint64 `json:"snapshots"`
	Dropped    uint64 `json:"dropped"`
	StepMicros int64  `json:"step_micros"`
}

// Sandbox is single-threaded: scene, tool and operators are only touched by the loop
// goroutine, or by the caller of StepOnce when no loop runs.
type Sandbox struct {
	cfg   Config
	log   *log.Logger
	scene *memscene.Scene
	tool  *tool.Tool
	dt    float32

	operators map[string]*operator
	driver    string

	frame   atomic.Uint64
	simTime float64
	metrics atomic.Pointer[Metrics]
	counts  Metrics

	join  chan JoinRequest
	leave chan string
	inbox chan Envelope
	admin chan snapshotReq
	stop  chan struct{}

	snapshotSink chan<- snapshot.SnapshotV1
}

func New(cfg Config, s *memscene.Scene, t *tool.Tool, logger *log.Logger) *Sandbox {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.Default()
	}
	sb := &Sandbox{
		cfg:       cfg,
		log:       logger,
		scene:     s,
		tool:      t,
		dt:        1 / float32(cfg.FrameRateHz),
		operators: map[string]*operator{},
		join:      make(chan JoinRequest, 16),
		leave:     make(chan string, 16),
		inbox:     make(chan Envelope, 1024),
		admin:     make(chan snapshotReq, 4),
		stop:      make(chan struct{}),
	}
	sb.frame.Store(cfg.StartFrame)
	sb.metrics.Store(&Metrics{Frame: cfg.StartFrame})
	return sb
}

func (sb *Sandbox) Join() chan<- JoinRequest { return sb.join }
func (sb *Sandbox) Leave() chan<- string     { return sb.leave }
func (sb *Sandbox) Inbox() chan<- Envelope   { return sb.inbox }

func (sb *Sandbox) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { sb.snapshotSink = ch }

func (sb *Sandbox) SceneID() string      { return sb.cfg.SceneID }
func (sb *Sandbox) FrameRateHz() int     { return sb.cfg.FrameRateHz }
func (sb *Sandbox) CurrentFrame() uint64 { return sb.frame.Load() }

// Metrics returns the counters published at the end of the last frame.
func (sb *Sandbox) Metrics() Metrics { return *sb.metrics.Load() }

func (sb *Sandbox) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(sb.cfg.FrameRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []string
	var pendingCmds []Envelope
	var pendingAdmin []snapshotReq

	for {
		select {
		case <-ctx.Done():
			sb.shutdown()
			return ctx.Err()
		case <-sb.stop:
			sb.shutdown()
			return nil
		case req := <-sb.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-sb.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-sb.inbox:
			pendingCmds = append(pendingCmds, env)
		case req := <-sb.admin:
			pendingAdmin = append(pendingAdmin, req)
		case <-ticker.C:
			sb.StepOnce(pendingJoins, pendingLeaves, pendingCmds)
			sb.handleSnapshotRequests(pendingAdmin)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingCmds = pendingCmds[:0]
			pendingAdmin = pendingAdmin[:0]
		}
	}
}

func (sb *Sandbox) Stop() { close(sb.stop) }

// shutdown commits a drop in flight so nothing simulated is lost on exit.
func (sb *Sandbox) shutdown() {
	if sb.tool.Session().Running() {
		sb.tool.Controller().StopSession(true)
	}
	sb.tool.Disable()
}

// StepOnce advances the sandbox by a single frame: joins, leaves, then commands in
// receive order, then one tool update. It returns the frame just completed.
func (sb *Sandbox) StepOnce(joins []JoinRequest, leaves []string, cmds []Envelope) uint64 {
	start := time.Now()
	frame := sb.frame.Load()

	for _, req := range joins {
		sb.handleJoin(req)
	}
	for _, id := range leaves {
		sb.handleLeave(id)
	}
	for _, env := range cmds {
		sb.counts.Commands++
		if err := sb.apply(env); err != nil {
			sb.counts.Rejected++
			sb.reject(env, err)
		}
	}

	sb.tool.Update(sb.dt)
	sb.simTime += float64(sb.dt)
	sb.broadcastState(frame)

	if every := uint64(sb.cfg.SnapshotEveryFrames); every > 0 && frame > 0 && frame%every == 0 {
		sb.emitSnapshot(frame)
	}

	sb.frame.Store(frame + 1)
	sb.publishMetrics(frame, time.Since(start))
	return frame
}

func (sb *Sandbox) handleJoin(req JoinRequest) {
	name := req.Name
	if name == "" {
		name = "operator"
	}
	op := &operator{id: uuid.NewString(), name: name, readOnly: req.ReadOnly, out: req.Out}
	sb.operators[op.id] = op

	st := sb.status()
	resp := JoinResponse{Welcome: protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		OperatorID:      op.id,
		SessionToken:    uuid.NewString(),
		SceneID:         sb.cfg.SceneID,
		FrameRateHz:     sb.cfg.FrameRateHz,
		Policy:          policyToWire(sb.tool.Controller().Policy()),
		State:           &st,
	}}
	sb.log.Printf("operator joined id=%s name=%q read_only=%v", op.id, op.name, op.readOnly)
	if req.Resp == nil {
		return
	}
	select {
	case req.Resp <- resp:
	default:
	}
}

func (sb *Sandbox) handleLeave(id string) {
	op := sb.operators[id]
	if op == nil {
		return
	}
	delete(sb.operators, id)
	if sb.driver == id {
		// The pointer left with its operator.
		sb.tool.PointerLeave()
		sb.driver = ""
	}
	sb.log.Printf("operator left id=%s", id)
}

var errUnknownOperator = errors.New("unknown operator")

func (sb *Sandbox) reject(env Envelope, err error) {
	op := sb.operators[env.OperatorID]
	if op == nil || op.out == nil {
		return
	}
	seq, ref := commandRef(env.Msg)
	code := protocol.ErrBadRequest
	var ce *CommandError
	if errors.As(err, &ce) {
		code = ce.Code
	}
	b, encErr := protocol.Encode(protocol.NewError(seq, ref, code, err.Error()), sb.cfg.StrictOutbound)
	if encErr != nil {
		sb.log.Printf("encode error reply: %v", encErr)
		return
	}
	sendLatest(op.out, b)
}

func (sb *Sandbox) broadcastState(frame uint64) {
	if len(sb.operators) == 0 {
		return
	}
	msg := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Frame:           frame,
		SimTime:         sb.simTime,
		Status:          sb.status(),
		Instances:       sb.instances(),
	}
	for _, op := range sb.operators {
		if op.out == nil {
			continue
		}
		msg.OperatorID = op.id
		b, err := protocol.Encode(msg, sb.cfg.StrictOutbound)
		if err != nil {
			sb.log.Printf("encode state: %v", err)
			return
		}
		if !sendLatest(op.out, b) {
			sb.counts.Dropped++
		}
	}
}

func (sb *Sandbox) status() protocol.StatusV1 {
	st := sb.tool.Status()
	return protocol.StatusV1{
		State:      st.State,
		Enabled:    st.Enabled,
		Running:    st.Running,
		RunID:      st.RunID,
		PoolSize:   st.PoolSize,
		LastReason: st.LastReason,
		Next:       st.Next,
		NextName:   st.NextName,
		Instances:  st.Instances,
		Target:     st.Target,
	}
}

func (sb *Sandbox) instances() []protocol.InstanceV1 {
	insts := sb.tool.Session().Instances()
	if len(insts) == 0 {
		return nil
	}
	out := make([]protocol.InstanceV1, 0, len(insts))
	for _, in := range insts {
		pos, ok := in.Position()
		if !ok {
			continue
		}
		out = append(out, protocol.InstanceV1{
			Entity:   uint64(in.Entity()),
			Template: uint64(in.Template()),
			Pos:      [3]float32{pos[0], pos[1], pos[2]},
			Settled:  in.IsSettled(),
		})
	}
	return out
}

func (sb *Sandbox) publishMetrics(frame uint64, took time.Duration) {
	m := sb.counts
	m.Frame = frame
	m.Operators = len(sb.operators)
	m.Running = sb.tool.Session().Running()
	m.Instances = sb.tool.Session().Len()
	m.StepMicros = took.Microseconds()
	sb.metrics.Store(&m)
}

// sendLatest enqueues b, dropping the oldest queued message when ch is full.
// It reports whether b was queued without dropping anything.
func sendLatest(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
	return false
}
