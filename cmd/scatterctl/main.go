package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"scatterdrop.dev/internal/persistence/archive"
	plog "scatterdrop.dev/internal/persistence/log"
	"scatterdrop.dev/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "journal":
			journalCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "archives":
			archivesCmd(os.Args[2:])
			return
		case "request-snapshot":
			requestSnapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("scatterctl", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	sessionID := fs.String("session", "", "only entries of this session")
	kind := fs.String("kind", "", "only entries of this kind")
	_ = fs.Parse(args)

	files, err := plog.JournalFiles(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	if fs.NArg() > 0 {
		files = fs.Args()
	}
	enc := json.NewEncoder(os.Stdout)
	for _, f := range files {
		entries, err := plog.ReadJournal(f)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", f, err)
			os.Exit(1)
		}
		for _, e := range entries {
			if *sessionID != "" && e.SessionID != *sessionID {
				continue
			}
			if *kind != "" && e.Kind != *kind {
				continue
			}
			_ = enc.Encode(e)
		}
	}
}

type snapshotSummary struct {
	Path      string          `json:"path"`
	Header    snapshot.Header `json:"header"`
	Entities  int             `json:"entities"`
	Bodies    int             `json:"bodies"`
	Instances int             `json:"instances"`
	Assets    int             `json:"assets"`
	Selected  int             `json:"selected"`
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	full := fs.Bool("full", false, "print the whole snapshot instead of a summary")
	_ = fs.Parse(args)

	path := ""
	if fs.NArg() > 0 {
		path = strings.TrimSpace(fs.Arg(0))
	} else {
		path = latestSnapshot(*dataDir)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshots found")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	if *full {
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
		return
	}
	sum := snapshotSummary{Path: path, Header: snap.Header, Entities: len(snap.Entities), Selected: len(snap.Selected)}
	for _, e := range snap.Entities {
		if e.Body != nil {
			sum.Bodies++
		}
		switch e.Kind {
		case "instance_root":
			sum.Instances++
		case "asset":
			sum.Assets++
		}
	}
	_ = enc.Encode(sum)
}

// archivesCmd prints the metadata of every per-session restore point.
func archivesCmd(args []string) {
	fs := flag.NewFlagSet("archives", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	dirs, err := filepath.Glob(filepath.Join(*dataDir, "archives", "session_*"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, d := range dirs {
		id := strings.TrimPrefix(filepath.Base(d), "session_")
		meta, err := archive.ReadMeta(*dataDir, id)
		if err != nil {
			fmt.Fprintln(os.Stderr, "meta:", id, err)
			continue
		}
		_ = enc.Encode(meta)
	}
}

// latestSnapshot returns the snapshot with the highest frame under dataDir/snapshots.
func latestSnapshot(dataDir string) string {
	dir := filepath.Join(dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	type cand struct {
		frame uint64
		path  string
	}
	var all []cand
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		frame, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		all = append(all, cand{frame: frame, path: filepath.Join(dir, e.Name())})
	}
	if len(all) == 0 {
		return ""
	}
	sort.Slice(all, func(i, j int) bool { return all[i].frame > all[j].frame })
	return all[0].path
}
