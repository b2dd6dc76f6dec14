package sandbox

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"scatterdrop.dev/internal/geom"
	"scatterdrop.dev/internal/protocol"
	"scatterdrop.dev/internal/scatter/spawn"
	"scatterdrop.dev/internal/scene"
)

// CommandError is a rejected command with its protocol error code.
type CommandError struct {
	Code    string
	Message string
}

func (e *CommandError) Error() string { return e.Message }

func cmdErr(code, format string, args ...any) error {
	return &CommandError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (sb *Sandbox) apply(env Envelope) error {
	op := sb.operators[env.OperatorID]
	if op == nil {
		return errUnknownOperator
	}
	if op.readOnly {
		return cmdErr(protocol.ErrReadOnly, "operator is read-only")
	}
	switch m := env.Msg.(type) {
	case *protocol.PointerMsg:
		return sb.applyPointer(op, m)
	case *protocol.SelectMsg:
		return sb.applySelect(m)
	case *protocol.PolicyMsg:
		p := policyFromWire(m.Policy)
		sb.tool.SetPolicy(p)
		sb.log.Printf("policy set by %s: %+v", op.id, sb.tool.Controller().Policy())
		return nil
	case *protocol.UndoMsg:
		if !sb.scene.Undo() {
			return cmdErr(protocol.ErrBadRequest, "nothing to undo")
		}
		return nil
	case *protocol.ToolMsg:
		if m.Enabled {
			sb.tool.Enable()
		} else {
			sb.tool.Disable()
		}
		return nil
	}
	return cmdErr(protocol.ErrProtoBadRequest, "unsupported command %T", env.Msg)
}

func (sb *Sandbox) applyPointer(op *operator, m *protocol.PointerMsg) error {
	if !sb.tool.Enabled() {
		return cmdErr(protocol.ErrToolDisabled, "tool is disabled")
	}
	switch {
	case sb.driver != "" && sb.driver != op.id:
		return cmdErr(protocol.ErrPointerBusy, "pointer is driven by %s", sb.driver)
	case sb.driver == "" && m.Phase == protocol.PhaseLeave:
		return nil
	case sb.driver == "" && m.Phase != protocol.PhaseEnter:
		return cmdErr(protocol.ErrBadRequest, "pointer %s before %s", m.Phase, protocol.PhaseEnter)
	}
	ray := geom.NewRay(mgl32.Vec3(m.Origin), mgl32.Vec3(m.Dir))
	switch m.Phase {
	case protocol.PhaseEnter:
		sb.driver = op.id
		sb.tool.PointerEnter(ray, m.InsideWidget)
	case protocol.PhaseMove:
		sb.tool.PointerMove(ray, m.InsideWidget)
	case protocol.PhaseDown:
		mods, err := modsFromWire(m.Mods)
		if err != nil {
			return err
		}
		sb.tool.PointerDown(m.Button, mods, m.InsideWidget)
	case protocol.PhaseUp:
		sb.tool.PointerUp(m.Button, m.InsideWidget)
	case protocol.PhaseLeave:
		sb.tool.PointerLeave()
		sb.driver = ""
	default:
		return cmdErr(protocol.ErrBadRequest, "bad pointer phase %q", m.Phase)
	}
	return nil
}

func (sb *Sandbox) applySelect(m *protocol.SelectMsg) error {
	ids := make([]scene.EntityID, 0, len(m.Entities)+len(m.Names))
	for _, raw := range m.Entities {
		id := scene.EntityID(raw)
		if !sb.scene.Alive(id) {
			return cmdErr(protocol.ErrUnknownEntity, "unknown entity %d", raw)
		}
		ids = append(ids, id)
	}
	for _, name := range m.Names {
		id, ok := sb.scene.Find(name)
		if !ok {
			return cmdErr(protocol.ErrUnknownEntity, "unknown entity %q", name)
		}
		ids = append(ids, id)
	}
	sb.scene.Select(ids)
	return nil
}

func modsFromWire(names []string) (spawn.Modifiers, error) {
	var mods spawn.Modifiers
	for _, n := range names {
		switch n {
		case protocol.ModShift:
			mods |= spawn.ModShift
		case protocol.ModCtrl:
			mods |= spawn.ModCtrl
		case protocol.ModAlt:
			mods |= spawn.ModAlt
		default:
			return 0, cmdErr(protocol.ErrBadRequest, "bad modifier %q", n)
		}
	}
	return mods, nil
}

func policyFromWire(p protocol.PolicyV1) spawn.Policy {
	return spawn.Policy{
		Shape:             spawn.Shape(p.Shape),
		Radius:            p.Radius,
		Cadence:           spawn.Cadence(p.Cadence),
		MinDelay:          p.MinDelay,
		Delay:             p.Delay,
		RandomizeRotation: p.RandomizeRotation,
		RandomizeOrder:    p.RandomizeOrder,
		KeepParent:        p.KeepParent,
		DropHeight:        p.DropHeight,
	}
}

func policyToWire(p spawn.Policy) protocol.PolicyV1 {
	return protocol.PolicyV1{
		Shape:             string(p.Shape),
		Radius:            p.Radius,
		Cadence:           string(p.Cadence),
		MinDelay:          p.MinDelay,
		Delay:             p.Delay,
		RandomizeRotation: p.RandomizeRotation,
		RandomizeOrder:    p.RandomizeOrder,
		KeepParent:        p.KeepParent,
		DropHeight:        p.DropHeight,
	}
}

func commandRef(msg any) (seq uint64, typ string) {
	switch m := msg.(type) {
	case *protocol.PointerMsg:
		return m.Seq, protocol.TypePointer
	case *protocol.SelectMsg:
		return m.Seq, protocol.TypeSelect
	case *protocol.PolicyMsg:
		return m.Seq, protocol.TypePolicy
	case *protocol.UndoMsg:
		return m.Seq, protocol.TypeUndo
	case *protocol.ToolMsg:
		return m.Seq, protocol.TypeTool
	}
	return 0, ""
}
