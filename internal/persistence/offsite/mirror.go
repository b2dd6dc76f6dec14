package offsite

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader is the object store the mirror writes to.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type Options struct {
	// Prefix is prepended to every object key.
	Prefix        string
	Workers       int
	QueueCapacity int
	// EnqueueWait bounds how long Enqueue blocks on a full queue before dropping.
	EnqueueWait time.Duration
	Attempts    int
	Backoff     time.Duration
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 256
	}
	if o.EnqueueWait <= 0 {
		o.EnqueueWait = 25 * time.Millisecond
	}
	if o.Attempts <= 0 {
		o.Attempts = 4
	}
	if o.Backoff <= 0 {
		o.Backoff = 200 * time.Millisecond
	}
	o.Prefix = strings.Trim(strings.ReplaceAll(o.Prefix, "\\", "/"), "/")
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	Enqueued      uint64
	Dropped       uint64
	Uploaded      uint64
	Failed        uint64
	LastSuccess   int64
	LastFailure   int64
}

// Mirror uploads files below dataDir in the background, keyed by their path relative
// to dataDir. A nil *Mirror accepts and ignores every call.
type Mirror struct {
	up      Uploader
	dataDir string
	opts    Options
	log     *log.Logger

	jobs chan string
	wg   sync.WaitGroup

	enqueued    atomic.Uint64
	dropped     atomic.Uint64
	uploaded    atomic.Uint64
	failed      atomic.Uint64
	lastSuccess atomic.Int64
	lastFailure atomic.Int64
}

func NewMirror(up Uploader, dataDir string, opts Options, logger *log.Logger) *Mirror {
	opts.applyDefaults()
	if logger == nil {
		logger = log.Default()
	}
	m := &Mirror{
		up:      up,
		dataDir: dataDir,
		opts:    opts,
		log:     logger,
		jobs:    make(chan string, opts.QueueCapacity),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

func (m *Mirror) worker() {
	defer m.wg.Done()
	for p := range m.jobs {
		m.upload(p)
	}
}

// Enqueue schedules localPath for upload. It never blocks longer than EnqueueWait.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
		return
	default:
	}
	timer := time.NewTimer(m.opts.EnqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
	case <-timer.C:
		n := m.dropped.Add(1)
		m.log.Printf("mirror: drop %s (queue full, dropped=%d)", localPath, n)
	}
}

// Close drains the queue and waits for in-flight uploads.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(m.jobs),
		QueueCapacity: cap(m.jobs),
		Enqueued:      m.enqueued.Load(),
		Dropped:       m.dropped.Load(),
		Uploaded:      m.uploaded.Load(),
		Failed:        m.failed.Load(),
		LastSuccess:   m.lastSuccess.Load(),
		LastFailure:   m.lastFailure.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.Key(localPath)
	if err != nil {
		m.failed.Add(1)
		m.log.Printf("mirror: skip %s: %v", localPath, err)
		return
	}
	var lastErr error
	for attempt := 1; attempt <= m.opts.Attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		lastErr = m.up.PutFile(ctx, key, localPath)
		cancel()
		if lastErr == nil {
			m.uploaded.Add(1)
			m.lastSuccess.Store(time.Now().Unix())
			return
		}
		if attempt < m.opts.Attempts {
			time.Sleep(time.Duration(attempt*attempt) * m.opts.Backoff)
		}
	}
	m.failed.Add(1)
	m.lastFailure.Store(time.Now().Unix())
	m.log.Printf("mirror: upload %s failed: %v", key, lastErr)
}

// Key maps localPath to its object key. Paths outside the data directory are refused.
func (m *Mirror) Key(localPath string) (string, error) {
	base, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", abs, base)
	}
	if m.opts.Prefix != "" {
		rel = path.Join(m.opts.Prefix, rel)
	}
	return rel, nil
}
