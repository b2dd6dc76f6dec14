package offsite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	auth    []string
}

func (b *fakeBucket) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(r.Body)
	sum := sha256.Sum256(body)
	if r.Header.Get("x-amz-content-sha256") != hex.EncodeToString(sum[:]) {
		http.Error(rw, "bad payload hash", http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.objects[r.URL.Path] = body
	b.auth = append(b.auth, r.Header.Get("Authorization"))
	b.mu.Unlock()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestStore_PutFileSigned(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{}}
	srv := httptest.NewServer(bucket)
	defer srv.Close()

	st, err := NewStore(Config{Endpoint: srv.URL, Bucket: "drops", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	st.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	src := filepath.Join(t.TempDir(), "12.snap.zst")
	writeFile(t, src, "snapshot bytes")
	if err := st.PutFile(context.Background(), "/yard//snapshots/12.snap.zst", src); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := bucket.objects["/drops/yard/snapshots/12.snap.zst"]
	if !ok || string(got) != "snapshot bytes" {
		t.Fatalf("objects: %v", bucket.objects)
	}
	want := "AWS4-HMAC-SHA256 Credential=AK/20260301/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature="
	if !strings.HasPrefix(bucket.auth[0], want) {
		t.Fatalf("authorization: %s", bucket.auth[0])
	}
}

func TestNewStore_Rejects(t *testing.T) {
	if _, err := NewStore(Config{Endpoint: "example.com", Bucket: "b"}); err == nil {
		t.Fatalf("missing credentials should fail")
	}
	if _, err := NewStore(Config{Endpoint: "ftp://example.com", Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"}); err == nil {
		t.Fatalf("ftp endpoint should fail")
	}
	st, err := NewStore(Config{Endpoint: "r2.example.com/", Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil || st.endpoint != "https://r2.example.com" || st.cfg.Region != "auto" {
		t.Fatalf("store defaults: %+v %v", st, err)
	}
}

type recordingUploader struct {
	mu    sync.Mutex
	keys  []string
	fails int
}

func (u *recordingUploader) PutFile(ctx context.Context, key, localPath string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fails > 0 {
		u.fails--
		return errors.New("unavailable")
	}
	u.keys = append(u.keys, key)
	return nil
}

func TestMirror_UploadsRelativeKeys(t *testing.T) {
	dataDir := t.TempDir()
	snap := filepath.Join(dataDir, "snapshots", "30.snap.zst")
	writeFile(t, snap, "x")
	outside := filepath.Join(t.TempDir(), "elsewhere.txt")
	writeFile(t, outside, "y")

	up := &recordingUploader{fails: 1}
	m := NewMirror(up, dataDir, Options{Prefix: "/yard/", Backoff: time.Millisecond}, log.New(io.Discard, "", 0))
	m.Enqueue(snap)
	m.Enqueue(outside)
	m.Close()

	if len(up.keys) != 1 || up.keys[0] != "yard/snapshots/30.snap.zst" {
		t.Fatalf("keys: %v", up.keys)
	}
	st := m.Stats()
	if st.Enqueued != 2 || st.Uploaded != 1 || st.Failed != 1 || st.LastSuccess == 0 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestMirror_GivesUpAfterAttempts(t *testing.T) {
	dataDir := t.TempDir()
	p := filepath.Join(dataDir, "journal", "drops-2026-03-01-10.jsonl.zst")
	writeFile(t, p, "x")

	up := &recordingUploader{fails: 10}
	m := NewMirror(up, dataDir, Options{Attempts: 2, Backoff: time.Millisecond}, log.New(io.Discard, "", 0))
	m.Enqueue(p)
	m.Close()
	if st := m.Stats(); st.Failed != 1 || st.Uploaded != 0 || st.LastFailure == 0 {
		t.Fatalf("stats: %+v", st)
	}
	if up.fails != 8 {
		t.Fatalf("attempts used: %d", 10-up.fails)
	}
}

func TestMirror_NilIsInert(t *testing.T) {
	var m *Mirror
	m.Enqueue("anything")
	m.Close()
	if m.Stats() != (Stats{}) {
		t.Fatalf("nil mirror stats")
	}
}
