package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	SceneID string `json:"scene_id"`
	Frame   uint64 `json:"frame"`
	// SessionID is the scatter session running when the snapshot was taken, if any.
	SessionID string `json:"session_id,omitempty"`
}

// SnapshotV1 is a persisted scene: every non-transient entity with its colliders,
// body and template relationship.
type SnapshotV1 struct {
	Header Header `json:"header"`

	NextEntity uint64 `json:"next_entity"`
	NextBody   uint64 `json:"next_body"`

	Entities []EntityV1 `json:"entities"`
	Selected []uint64   `json:"selected,omitempty"`
}

type EntityV1 struct {
	ID     uint64 `json:"id"`
	Name   string `json:"name"`
	Parent uint64 `json:"parent,omitempty"`

	// Kind is one of "standalone", "asset", "instance_root" or "instance_member".
	Kind  string   `json:"kind"`
	Asset uint64   `json:"asset,omitempty"`
	Root  uint64   `json:"root,omitempty"`
	Added []uint64 `json:"added,omitempty"`

	Pos    [3]float32 `json:"pos"`
	Rot    [4]float32 `json:"rot"`
	Active bool       `json:"active"`

	Colliders []ColliderV1 `json:"colliders,omitempty"`
	Body      *BodyV1      `json:"body,omitempty"`
}

type ColliderV1 struct {
	Offset    [3]float32 `json:"offset"`
	Extents   [3]float32 `json:"extents"`
	NonConvex bool       `json:"non_convex,omitempty"`
	Trigger   bool       `json:"trigger,omitempty"`
}

type BodyV1 struct {
	ID         uint64 `json:"id"`
	Kinematic  bool   `json:"kinematic"`
	Declared   bool   `json:"declared"`
	Overridden bool   `json:"overridden,omitempty"`
	Sleeping   bool   `json:"sleeping,omitempty"`
}

// WriteSnapshot stores snap as a zstd stream holding a JSON header line followed by gob.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// The gob payload repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}
