package sandbox

import (
	"context"
	"errors"
)

type snapshotReq struct {
	Resp chan snapshotResp
}

type snapshotResp struct {
	Frame uint64
	Err   string
}

// RequestSnapshot asks the loop goroutine to export a snapshot into the sink.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (sb *Sandbox) RequestSnapshot(ctx context.Context) (frame uint64, err error) {
	resp := make(chan snapshotResp, 1)
	select {
	case sb.admin <- snapshotReq{Resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-resp:
		if r.Err != "" {
			return r.Frame, errors.New(r.Err)
		}
		return r.Frame, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (sb *Sandbox) handleSnapshotRequests(reqs []snapshotReq) {
	if len(reqs) == 0 {
		return
	}
	frame := sb.frame.Load()
	if frame > 0 {
		frame--
	}
	errStr := ""
	switch {
	case sb.snapshotSink == nil:
		errStr = "snapshot sink not configured"
	case sb.tool.Session().Running():
		errStr = "drop in progress"
	case !sb.emitSnapshot(frame):
		errStr = "snapshot sink backpressure"
	}
	resp := snapshotResp{Frame: frame, Err: errStr}
	for _, r := range reqs {
		if r.Resp == nil {
			continue
		}
		select {
		case r.Resp <- resp:
		default:
			// Client timed out; don't block the loop.
		}
	}
}

// emitSnapshot exports the scene into the sink without blocking. Frames with a drop in
// flight are skipped since foreign bodies are frozen.
func (sb *Sandbox) emitSnapshot(frame uint64) bool {
	if sb.snapshotSink == nil || sb.tool.Session().Running() {
		return false
	}
	snap := sb.scene.ExportSnapshot(sb.cfg.SceneID, frame)
	snap.Header.SessionID = sb.tool.Session().LastRunID()
	select {
	case sb.snapshotSink <- snap:
		sb.counts.Snapshots++
		return true
	default:
		return false
	}
}
