package snapshot

import (
	"path/filepath"
	"testing"
)

func TestWriteReadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots", "yard", "12.snap.zst")
	in := SnapshotV1{
		Header:     Header{SceneID: "yard", Frame: 12, SessionID: "run-1"},
		NextEntity: 3,
		NextBody:   1,
		Entities: []EntityV1{
			{ID: 1, Name: "Ground", Kind: "standalone", Rot: [4]float32{0, 0, 0, 1}, Active: true,
				Colliders: []ColliderV1{{Extents: [3]float32{10, 0.05, 10}}}},
			{ID: 2, Name: "Crate", Kind: "asset", Rot: [4]float32{0, 0, 0, 1}, Active: true,
				Body: &BodyV1{ID: 1, Kinematic: true, Declared: true}},
		},
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Version != Version || h.SceneID != "yard" || h.Frame != 12 {
		t.Fatalf("unexpected header: %+v", h)
	}

	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out.Entities) != 2 || out.Entities[1].Body == nil || !out.Entities[1].Body.Kinematic {
		t.Fatalf("entities not restored: %+v", out.Entities)
	}
	if out.Header.SessionID != "run-1" {
		t.Fatalf("session id lost: %+v", out.Header)
	}
}

func TestReadSnapshot_Missing(t *testing.T) {
	if _, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.zst")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
