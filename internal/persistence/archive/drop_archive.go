// Package archive keeps one restore point per scatter session: the first snapshot
// taken after the session ended.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"scatterdrop.dev/internal/persistence/snapshot"
)

type Meta struct {
	SessionID string `json:"session_id"`
	SceneID   string `json:"scene_id"`
	Frame     uint64 `json:"frame"`
	Snapshot  string `json:"snapshot"`
	Entities  int    `json:"entities"`
	CreatedAt string `json:"created_at"`
}

var safeID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Dir is the archive directory of sessionID under dataDir.
func Dir(dataDir, sessionID string) string {
	return filepath.Join(dataDir, "archives", "session_"+sessionID)
}

// ArchiveAfterSession copies snapshotPath into the archive of snap's session unless
// that session already has one. It reports the archived path and whether a copy was made.
func ArchiveAfterSession(dataDir, snapshotPath string, snap snapshot.SnapshotV1) (archivedPath string, archived bool, err error) {
	id := snap.Header.SessionID
	if id == "" {
		return "", false, nil
	}
	if !safeID.MatchString(id) {
		return "", false, fmt.Errorf("archive: unsafe session id %q", id)
	}
	dir := Dir(dataDir, id)
	if _, err := os.Stat(filepath.Join(dir, "meta.json")); err == nil {
		return "", false, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}
	meta := Meta{
		SessionID: id,
		SceneID:   snap.Header.SceneID,
		Frame:     snap.Header.Frame,
		Snapshot:  filepath.Base(dst),
		Entities:  len(snap.Entities),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", false, err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return "", false, err
	}
	return dst, true, nil
}

// ReadMeta loads the archive metadata of sessionID.
func ReadMeta(dataDir, sessionID string) (Meta, error) {
	var m Meta
	b, err := os.ReadFile(filepath.Join(Dir(dataDir, sessionID), "meta.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
