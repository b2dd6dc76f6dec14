package indexdb

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"scatterdrop.dev/internal/persistence/snapshot"
	"scatterdrop.dev/internal/scatter/session"
)

func TestSQLiteIndex_RecordsSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var _ session.Observer = idx

	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	idx.SessionStarted(session.RunInfo{ID: "run-a", Started: at, Foreign: 4, Frozen: 3, Rescanned: true})
	idx.Placed(session.Placement{SessionID: "run-a", Entity: 11, Template: 2, TemplateName: "Rock", Pos: mgl32.Vec3{1, 0.5, 2}, Rot: mgl32.QuatIdent(), At: at})
	idx.Placed(session.Placement{SessionID: "run-a", Entity: 12, Template: 3, TemplateName: "Crate", Pos: mgl32.Vec3{0, 0.5, 0}, Rot: mgl32.QuatIdent(), At: at})
	idx.SessionStopped(session.Summary{ID: "run-a", Started: at, Stopped: at.Add(2 * time.Second), Consolidated: 2, Restored: 3})
	idx.SessionStarted(session.RunInfo{ID: "run-b", Started: at.Add(time.Minute)})
	idx.RecordSnapshot("/data/snapshots/30.snap.zst", snapshot.SnapshotV1{
		Header:   snapshot.Header{Version: snapshot.Version, SceneID: "yard", Frame: 30, SessionID: "run-a"},
		Entities: []snapshot.EntityV1{{ID: 1}, {ID: 2, Body: &snapshot.BodyV1{ID: 1}}},
	})
	if err := idx.UpsertTuning(map[string]int{"frame_rate_hz": 30}); err != nil {
		t.Fatalf("upsert tuning: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, closeFn, err := OpenReader(path)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer closeFn()
	ctx := context.Background()

	sessions, err := r.Sessions(ctx, 10)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "run-b" || sessions[0].StoppedAt != nil {
		t.Fatalf("sessions: %+v", sessions)
	}
	a := sessions[1]
	if a.StoppedAt == nil || a.Consolidated != 2 || a.Restored != 3 || a.Frozen != 3 || !a.Rescanned {
		t.Fatalf("run-a row: %+v", a)
	}

	ps, err := r.Placements(ctx, "run-a")
	if err != nil {
		t.Fatalf("placements: %v", err)
	}
	if len(ps) != 2 || ps[0].Seq != 0 || ps[0].TemplateName != "Rock" || ps[1].Entity != 12 || ps[0].Rot[3] != 1 {
		t.Fatalf("placements: %+v", ps)
	}
	if ps[0].Pos != [3]float32{1, 0.5, 2} {
		t.Fatalf("position: %v", ps[0].Pos)
	}

	snaps, err := r.Snapshots(ctx, 0)
	if err != nil || len(snaps) != 1 || snaps[0].Bodies != 1 || snaps[0].Entities != 2 || snaps[0].SceneID != "yard" {
		t.Fatalf("snapshots: %+v err=%v", snaps, err)
	}
	if v, err := r.Meta(ctx, "tuning"); err != nil || v != `{"frame_rate_hz":30}` {
		t.Fatalf("tuning meta: %q err=%v", v, err)
	}
	if _, err := r.Meta(ctx, "nope"); err != ErrNoMeta {
		t.Fatalf("expected ErrNoMeta, got %v", err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqSessionStart}

	s.SessionStarted(session.RunInfo{ID: "x"})
	s.Placed(session.Placement{SessionID: "x"})
	s.SessionStopped(session.Summary{ID: "x"})
	s.RecordSnapshot("/tmp/1.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropSessionTotal != 2 || st.DropPlacementTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("drop stats: %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_EventsRacingClose(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				idx.Placed(session.Placement{SessionID: "x", At: time.Now()})
			}
		}()
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()
	idx.SessionStopped(session.Summary{ID: "x"})
}

func TestOpenReader_Missing(t *testing.T) {
	if _, _, err := OpenReader(filepath.Join(t.TempDir(), "none.db")); err == nil {
		t.Fatalf("expected error for missing index")
	}
}
