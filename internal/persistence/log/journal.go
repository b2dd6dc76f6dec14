package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"scatterdrop.dev/internal/geom"
	"scatterdrop.dev/internal/scatter/session"
)

// Journal entry kinds.
const (
	KindSessionStarted = "session_started"
	KindPlaced         = "placed"
	KindSessionStopped = "session_stopped"
)

// JournalEntry is one line of the drop journal. Fields not relevant to Kind are omitted.
type JournalEntry struct {
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`

	Foreign   int  `json:"foreign,omitempty"`
	Frozen    int  `json:"frozen,omitempty"`
	Rescanned bool `json:"rescanned,omitempty"`

	Entity       uint64      `json:"entity,omitempty"`
	Template     uint64      `json:"template,omitempty"`
	TemplateName string      `json:"template_name,omitempty"`
	Pos          *[3]float32 `json:"pos,omitempty"`
	Rot          *[4]float32 `json:"rot,omitempty"`

	Consolidated int `json:"consolidated,omitempty"`
	Failed       int `json:"failed,omitempty"`
	Discarded    int `json:"discarded,omitempty"`
	Restored     int `json:"restored,omitempty"`
}

// JournalLogger writes session events as compressed JSONL. It implements session.Observer.
type JournalLogger struct {
	w   *JSONLZstdWriter
	log func(format string, args ...any)
}

func NewJournalLogger(dataDir string) *JournalLogger {
	return &JournalLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "journal"), "drops")}
}

// OnSegmentClosed forwards the path of each finished journal file to fn.
func (l *JournalLogger) OnSegmentClosed(fn func(path string)) { l.w.OnClose(fn) }

// OnError installs a sink for write failures, which the observer methods cannot return.
func (l *JournalLogger) OnError(fn func(format string, args ...any)) { l.log = fn }

func (l *JournalLogger) write(e JournalEntry) {
	if err := l.w.Write(e); err != nil && l.log != nil {
		l.log("journal write: %v", err)
	}
}

func (l *JournalLogger) SessionStarted(r session.RunInfo) {
	l.write(JournalEntry{
		Kind:      KindSessionStarted,
		SessionID: r.ID,
		At:        r.Started,
		Foreign:   r.Foreign,
		Frozen:    r.Frozen,
		Rescanned: r.Rescanned,
	})
}

func (l *JournalLogger) Placed(p session.Placement) {
	pos := geom.ToArray(p.Pos)
	rot := geom.QuatToArray(p.Rot)
	l.write(JournalEntry{
		Kind:         KindPlaced,
		SessionID:    p.SessionID,
		At:           p.At,
		Entity:       uint64(p.Entity),
		Template:     uint64(p.Template),
		TemplateName: p.TemplateName,
		Pos:          &pos,
		Rot:          &rot,
	})
}

func (l *JournalLogger) SessionStopped(s session.Summary) {
	l.write(JournalEntry{
		Kind:         KindSessionStopped,
		SessionID:    s.ID,
		At:           s.Stopped,
		Consolidated: s.Consolidated,
		Failed:       s.Failed,
		Discarded:    s.Discarded,
		Restored:     s.Restored,
	})
}

func (l *JournalLogger) Close() error { return l.w.Close() }

// ReadJournal decodes every entry of one journal file.
func ReadJournal(path string) ([]JournalEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []JournalEntry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e JournalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// JournalFiles lists the journal files under dataDir, oldest first.
func JournalFiles(dataDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dataDir, "journal", "drops-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
