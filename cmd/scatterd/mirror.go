package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"scatterdrop.dev/internal/persistence/offsite"
)

// buildMirror returns nil unless SCATTER_MIRROR is set.
func buildMirror(dataDir string, logger *log.Logger) (*offsite.Mirror, error) {
	if !envBool("SCATTER_MIRROR", false) {
		return nil, nil
	}
	cfg := offsite.Config{
		Endpoint:        os.Getenv("SCATTER_MIRROR_ENDPOINT"),
		Bucket:          os.Getenv("SCATTER_MIRROR_BUCKET"),
		Region:          os.Getenv("SCATTER_MIRROR_REGION"),
		AccessKeyID:     os.Getenv("SCATTER_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("SCATTER_MIRROR_SECRET_ACCESS_KEY"),
	}
	store, err := offsite.NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("SCATTER_MIRROR=true: %w", err)
	}
	return offsite.NewMirror(store, dataDir, offsite.Options{
		Prefix:  strings.TrimSpace(os.Getenv("SCATTER_MIRROR_PREFIX")),
		Workers: envInt("SCATTER_MIRROR_WORKERS", 2),
	}, logger), nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
