package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"time"
)

type SessionRow struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
	ForeignBodies int        `json:"foreign_bodies"`
	Frozen        int        `json:"frozen"`
	Rescanned     bool       `json:"rescanned"`
	Consolidated  int        `json:"consolidated"`
	Failed        int        `json:"failed"`
	Discarded     int        `json:"discarded"`
	Restored      int        `json:"restored"`
}

type PlacementRow struct {
	SessionID    string     `json:"session_id"`
	Seq          int        `json:"seq"`
	Entity       uint64     `json:"entity"`
	Template     uint64     `json:"template"`
	TemplateName string     `json:"template_name"`
	Pos          [3]float32 `json:"pos"`
	Rot          [4]float32 `json:"rot"`
	PlacedAt     time.Time  `json:"placed_at"`
}

type SnapshotRow struct {
	Frame      uint64    `json:"frame"`
	SceneID    string    `json:"scene_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Path       string    `json:"path"`
	Entities   int       `json:"entities"`
	Bodies     int       `json:"bodies"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Reader queries an index database. It works on a live SQLiteIndex or on a file opened
// read-only by tooling.
type Reader struct {
	db *sql.DB
}

func (s *SQLiteIndex) Reader() Reader { return Reader{db: s.db} }

// OpenReader opens an existing index for queries only.
func OpenReader(path string) (Reader, func() error, error) {
	if _, err := os.Stat(path); err != nil {
		return Reader{}, nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return Reader{}, nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return Reader{}, nil, err
	}
	return Reader{db: db}, db.Close, nil
}

// Sessions returns the most recent sessions first. limit <= 0 means 50.
func (r Reader) Sessions(ctx context.Context, limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, started_at, stopped_at, foreign_bodies, frozen, rescanned,
		consolidated, failed, discarded, restored FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var (
			row     SessionRow
			started string
			stopped sql.NullString
		)
		if err := rows.Scan(&row.ID, &started, &stopped, &row.ForeignBodies, &row.Frozen, &row.Rescanned,
			&row.Consolidated, &row.Failed, &row.Discarded, &row.Restored); err != nil {
			return nil, err
		}
		row.StartedAt, _ = time.Parse(timeFormat, started)
		if stopped.Valid {
			t, err := time.Parse(timeFormat, stopped.String)
			if err == nil {
				row.StoppedAt = &t
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Placements returns the placements of one session in consolidation order.
func (r Reader) Placements(ctx context.Context, sessionID string) ([]PlacementRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT session_id, seq, entity, template, template_name, x, y, z, rot_json, placed_at
		FROM placements WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlacementRow
	for rows.Next() {
		var (
			row     PlacementRow
			x, y, z float64
			rot     string
			placed  string
			entity  int64
			tmpl    int64
		)
		if err := rows.Scan(&row.SessionID, &row.Seq, &entity, &tmpl, &row.TemplateName, &x, &y, &z, &rot, &placed); err != nil {
			return nil, err
		}
		row.Entity, row.Template = uint64(entity), uint64(tmpl)
		row.Pos = [3]float32{float32(x), float32(y), float32(z)}
		if err := json.Unmarshal([]byte(rot), &row.Rot); err != nil {
			return nil, err
		}
		row.PlacedAt, _ = time.Parse(timeFormat, placed)
		out = append(out, row)
	}
	return out, rows.Err()
}

// Snapshots returns the most recent snapshots first. limit <= 0 means 20.
func (r Reader) Snapshots(ctx context.Context, limit int) ([]SnapshotRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT frame, scene_id, session_id, path, entities, bodies, recorded_at
		FROM snapshots ORDER BY recorded_at DESC, frame DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var (
			row      SnapshotRow
			frame    int64
			recorded string
		)
		if err := rows.Scan(&frame, &row.SceneID, &row.SessionID, &row.Path, &row.Entities, &row.Bodies, &recorded); err != nil {
			return nil, err
		}
		row.Frame = uint64(frame)
		row.RecordedAt, _ = time.Parse(timeFormat, recorded)
		out = append(out, row)
	}
	return out, rows.Err()
}

var ErrNoMeta = errors.New("meta key not found")

func (r Reader) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoMeta
	}
	return v, err
}
