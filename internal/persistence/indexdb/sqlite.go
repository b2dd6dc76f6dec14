package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"scatterdrop.dev/internal/persistence/snapshot"
	"scatterdrop.dev/internal/scatter/session"
)

// SQLiteIndex is a queryable read model of drop sessions, placements and snapshots.
// Writes are queued and applied by a single writer goroutine; the journal stays the
// source of truth when the queue overflows.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu orders sends on ch against Close.
	mu     sync.RWMutex
	closed atomic.Bool

	dropSession   atomic.Uint64
	dropPlacement atomic.Uint64
	dropSnapshot  atomic.Uint64
}

type reqKind int

const (
	reqSessionStart reqKind = iota + 1
	reqPlacement
	reqSessionStop
	reqSnapshot
)

type req struct {
	kind reqKind

	start     session.RunInfo
	placement session.Placement
	stop      session.Summary
	snapshot  snapshotRow
}

type snapshotRow struct {
	Frame     uint64
	SceneID   string
	SessionID string
	Path      string
	Entities  int
	Bodies    int
}

const timeFormat = time.RFC3339Nano

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			stopped_at TEXT,
			foreign_bodies INTEGER NOT NULL DEFAULT 0,
			frozen INTEGER NOT NULL DEFAULT 0,
			rescanned INTEGER NOT NULL DEFAULT 0,
			consolidated INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			discarded INTEGER NOT NULL DEFAULT 0,
			restored INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);`,
		`CREATE TABLE IF NOT EXISTS placements (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			entity INTEGER NOT NULL,
			template INTEGER NOT NULL,
			template_name TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			rot_json TEXT NOT NULL,
			placed_at TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_placements_template ON placements(template_name, placed_at);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			frame INTEGER NOT NULL,
			scene_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			path TEXT NOT NULL,
			entities INTEGER NOT NULL,
			bodies INTEGER NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (scene_id, frame)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) enqueue(r req, dropped *atomic.Uint64) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind.
		dropped.Add(1)
	}
}

func (s *SQLiteIndex) SessionStarted(r session.RunInfo) {
	s.enqueue(req{kind: reqSessionStart, start: r}, &s.dropSession)
}

func (s *SQLiteIndex) Placed(p session.Placement) {
	s.enqueue(req{kind: reqPlacement, placement: p}, &s.dropPlacement)
}

func (s *SQLiteIndex) SessionStopped(sum session.Summary) {
	s.enqueue(req{kind: reqSessionStop, stop: sum}, &s.dropSession)
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	r := snapshotRow{
		Frame:     snap.Header.Frame,
		SceneID:   snap.Header.SceneID,
		SessionID: snap.Header.SessionID,
		Path:      path,
		Entities:  len(snap.Entities),
	}
	for _, e := range snap.Entities {
		if e.Body != nil {
			r.Bodies++
		}
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: r}, &s.dropSnapshot)
}

type Stats struct {
	QueueDepth         int
	QueueCapacity      int
	DropSessionTotal   uint64
	DropPlacementTotal uint64
	DropSnapshotTotal  uint64
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:         len(s.ch),
		QueueCapacity:      cap(s.ch),
		DropSessionTotal:   s.dropSession.Load(),
		DropPlacementTotal: s.dropPlacement.Load(),
		DropSnapshotTotal:  s.dropSnapshot.Load(),
	}
}

// UpsertTuning stores the applied tuning as canonical JSON together with its digest.
func (s *SQLiteIndex) UpsertTuning(tune any) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, kv := range [][2]string{
		{"schema_version", "1"},
		{"tuning", string(b)},
		{"tuning_digest", hex.EncodeToString(sum[:])},
		{"tuning_updated_at", time.Now().UTC().Format(timeFormat)},
	} {
		if _, err := stmt.Exec(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertStart, _ := s.db.Prepare(`INSERT INTO sessions(id,started_at,foreign_bodies,frozen,rescanned) VALUES(?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET started_at=excluded.started_at, foreign_bodies=excluded.foreign_bodies,
		frozen=excluded.frozen, rescanned=excluded.rescanned`)
	updateStop, _ := s.db.Prepare(`INSERT INTO sessions(id,started_at,stopped_at,consolidated,failed,discarded,restored) VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET stopped_at=excluded.stopped_at, consolidated=excluded.consolidated,
		failed=excluded.failed, discarded=excluded.discarded, restored=excluded.restored`)
	insertPlacement, _ := s.db.Prepare(`INSERT OR REPLACE INTO placements(session_id,seq,entity,template,template_name,x,y,z,rot_json,placed_at) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(frame,scene_id,session_id,path,entities,bodies,recorded_at) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertStart, updateStop, insertPlacement, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second

		lastPlacementSession string
		placementSeq         int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	handle := func(r req) {
		begin()
		if tx == nil {
			return
		}
		switch r.kind {
		case reqSessionStart:
			st := r.start
			exec(insertStart, st.ID, st.Started.UTC().Format(timeFormat), st.Foreign, st.Frozen, st.Rescanned)

		case reqSessionStop:
			st := r.stop
			exec(updateStop, st.ID, st.Started.UTC().Format(timeFormat), st.Stopped.UTC().Format(timeFormat),
				st.Consolidated, st.Failed, st.Discarded, st.Restored)
			// A stop ends the run: commit so readers see it promptly.
			commit()
			return

		case reqPlacement:
			p := r.placement
			if p.SessionID != lastPlacementSession {
				lastPlacementSession = p.SessionID
				placementSeq = 0
			}
			seq := placementSeq
			placementSeq++
			rot, _ := json.Marshal([4]float32{p.Rot.V[0], p.Rot.V[1], p.Rot.V[2], p.Rot.W})
			exec(insertPlacement, p.SessionID, seq, int64(p.Entity), int64(p.Template), p.TemplateName,
				p.Pos[0], p.Pos[1], p.Pos[2], string(rot), p.At.UTC().Format(timeFormat))

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Frame), sn.SceneID, sn.SessionID, sn.Path, sn.Entities, sn.Bodies,
				time.Now().UTC().Format(timeFormat))
		}
		if opCount >= commitEvery {
			commit()
		}
	}

	tick := time.NewTicker(commitMaxWait / 2)
	defer tick.Stop()
	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			handle(r)
		case <-tick.C:
			if time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}
