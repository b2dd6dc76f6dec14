package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scatterdrop.dev/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	sessionID := fs.String("session", "", "session id (placements)")
	key := fs.String("key", "tuning", "meta key (meta)")
	_ = fs.Parse(args)

	q := "sessions"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "scatter.sqlite")
	}
	if *limit <= 0 {
		*limit = 20
	}

	r, closeFn, err := indexdb.OpenReader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var rows any
	switch q {
	case "sessions":
		rows, err = r.Sessions(ctx, *limit)
	case "placements":
		if strings.TrimSpace(*sessionID) == "" {
			fmt.Fprintln(os.Stderr, "missing -session")
			os.Exit(2)
		}
		rows, err = r.Placements(ctx, *sessionID)
	case "snapshots":
		rows, err = r.Snapshots(ctx, *limit)
	case "meta":
		var v string
		v, err = r.Meta(ctx, *key)
		if errors.Is(err, indexdb.ErrNoMeta) {
			fmt.Fprintln(os.Stderr, "no meta key:", *key)
			os.Exit(2)
		}
		if err == nil {
			fmt.Println(v)
			return
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	printRows(rows)
}

func printRows(rows any) {
	enc := json.NewEncoder(os.Stdout)
	switch v := rows.(type) {
	case []indexdb.SessionRow:
		for _, r := range v {
			_ = enc.Encode(r)
		}
	case []indexdb.PlacementRow:
		for _, r := range v {
			_ = enc.Encode(r)
		}
	case []indexdb.SnapshotRow:
		for _, r := range v {
			_ = enc.Encode(r)
		}
	}
}
