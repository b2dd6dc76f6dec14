package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"scatterdrop.dev/internal/persistence/archive"
	"scatterdrop.dev/internal/persistence/indexdb"
	persistlog "scatterdrop.dev/internal/persistence/log"
	"scatterdrop.dev/internal/persistence/offsite"
	"scatterdrop.dev/internal/persistence/snapshot"
	"scatterdrop.dev/internal/sandbox"
	"scatterdrop.dev/internal/scatter/session"
	"scatterdrop.dev/internal/scatter/tool"
	"scatterdrop.dev/internal/scene/memscene"
	"scatterdrop.dev/internal/transport/ws"
	"scatterdrop.dev/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		scenePath  = flag.String("scene", "", "path to scene.yaml (default: <configs>/scene.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite session index")
		strict     = flag.Bool("strict_outbound", false, "validate every outbound message against its schema")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	_ = os.MkdirAll(*dataDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(*dataDir)
	}

	sc := memscene.New(log.New(os.Stdout, "[scene] ", log.LstdFlags|log.Lmicroseconds))
	sceneID, startFrame := "", uint64(0)
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if err := sc.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		sceneID, startFrame = snap.Header.SceneID, snap.Header.Frame+1
		logger.Printf("resumed from snapshot=%s frame=%d", filepath.Base(snapshotToLoad), snap.Header.Frame)
	} else {
		sp := strings.TrimSpace(*scenePath)
		if sp == "" {
			sp = filepath.Join(*configDir, "scene.yaml")
		}
		layout, err := memscene.LoadLayout(sp)
		if err != nil {
			logger.Fatalf("load scene: %v", err)
		}
		if err := layout.Build(sc); err != nil {
			logger.Fatalf("build scene: %v", err)
		}
		sceneID = layout.SceneID
		logger.Printf("scene %q built from %s", sceneID, sp)
	}

	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index: upsert tuning: %v", err)
		}
	}

	mirror, err := buildMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("init mirror: %v", err)
	}
	defer mirror.Close()

	journal := persistlog.NewJournalLogger(*dataDir)
	journal.OnError(logger.Printf)
	journal.OnSegmentClosed(mirror.Enqueue)
	defer journal.Close()

	tl := tool.New(sc, tune.ToolConfig(), log.New(os.Stdout, "[tool] ", log.LstdFlags|log.Lmicroseconds))
	observers := session.Observers{journal}
	if idx != nil {
		observers = append(observers, idx)
	}
	tl.SetObserver(observers)

	sb := sandbox.New(sandbox.Config{
		SceneID:             sceneID,
		FrameRateHz:         tune.FrameRateHz,
		SnapshotEveryFrames: tune.SnapshotEveryFrames,
		StrictOutbound:      *strict,
		StartFrame:          startFrame,
	}, sc, tl, logger)

	ctx, cancel := signalContext()
	defer cancel()

	snapCh := make(chan snapshot.SnapshotV1, 2)
	sb.SetSnapshotSink(snapCh)
	writerDone := runSnapshotWriter(ctx, snapCh, *dataDir, idx, mirror, logger)
	sandboxDone := runSandbox(ctx, sb, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(sb, idx, mirror))

	if envBool("SCATTER_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		mux.HandleFunc("/admin/v1/state", stateHandler(sb))
		mux.HandleFunc("/admin/v1/snapshot", snapshotHandler(sb))
	} else {
		logger.Printf("admin endpoints disabled (SCATTER_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("SCATTER_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(sb, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	// The sandbox commits any drop in flight on its way out; the journal, index and
	// mirror must outlive that.
	<-sandboxDone
	<-writerDone
}

// runSandbox runs sb until ctx ends. The returned channel closes after the sandbox
// has shut down.
func runSandbox(ctx context.Context, sb *sandbox.Sandbox, logger *log.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sb.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("sandbox stopped: %v", err)
		}
	}()
	return done
}

// runSnapshotWriter persists snapshots from snapCh until ctx ends.
func runSnapshotWriter(ctx context.Context, snapCh <-chan snapshot.SnapshotV1, dataDir string, idx *indexdb.SQLiteIndex, mirror *offsite.Mirror, logger *log.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(dataDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Frame))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				mirror.Enqueue(path)
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
				if archived, ok, err := archive.ArchiveAfterSession(dataDir, path, snap); err != nil {
					logger.Printf("archive snapshot: %v", err)
				} else if ok {
					mirror.Enqueue(archived)
					logger.Printf("archived restore point for session %s at frame %d", snap.Header.SessionID, snap.Header.Frame)
				}
			}
		}
	}()
	return done
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// latestSnapshot returns the snapshot with the highest frame under dataDir/snapshots.
func latestSnapshot(dataDir string) string {
	dir := filepath.Join(dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestFrame uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		frame, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || frame > bestFrame {
			bestFrame = frame
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
