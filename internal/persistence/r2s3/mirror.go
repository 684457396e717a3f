package r2s3

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader is the part of Client the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type MirrorConfig struct {
	// DataDir is the local root; object keys are paths relative to it.
	DataDir string
	Prefix  string
	Workers int
	Queue   int
	// EnqueueWait bounds how long Enqueue blocks on a full queue before
	// dropping the file.
	EnqueueWait time.Duration
	Attempts    int
	Backoff     time.Duration
	Logger      *log.Logger
}

type MirrorStats struct {
	Queued    int
	Enqueued  uint64
	Dropped   uint64
	Uploaded  uint64
	Failed    uint64
	LastError string
}

// Mirror copies closed local files (rotated audit logs) to a bucket in the
// background.
type Mirror struct {
	up     Uploader
	cfg    MirrorConfig
	prefix string
	log    *log.Logger

	jobs chan string
	wg   sync.WaitGroup
	once sync.Once

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	uploaded atomic.Uint64
	failed   atomic.Uint64
	lastErr  atomic.Value // string
}

func NewMirror(up Uploader, cfg MirrorConfig) *Mirror {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 256
	}
	if cfg.EnqueueWait <= 0 {
		cfg.EnqueueWait = 25 * time.Millisecond
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 4
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	m := &Mirror{
		up:     up,
		cfg:    cfg,
		prefix: strings.Trim(strings.ReplaceAll(cfg.Prefix, "\\", "/"), "/"),
		log:    logger,
		jobs:   make(chan string, cfg.Queue),
	}
	for i := 0; i < cfg.Workers; i++ {
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

// Enqueue schedules localPath for upload. It drops the file rather than
// block longer than EnqueueWait.
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
	t := time.NewTimer(m.cfg.EnqueueWait)
	defer t.Stop()
	select {
	case m.jobs <- localPath:
	case <-t.C:
		n := m.dropped.Add(1)
		m.log.Printf("mirror drop %s: queue full (dropped=%d)", localPath, n)
	}
}

// Close waits for queued uploads to finish. Enqueue must not be called after
// Close.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		close(m.jobs)
		m.wg.Wait()
	})
}

func (m *Mirror) Stats() MirrorStats {
	if m == nil {
		return MirrorStats{}
	}
	s := MirrorStats{
		Queued:   len(m.jobs),
		Enqueued: m.enqueued.Load(),
		Dropped:  m.dropped.Load(),
		Uploaded: m.uploaded.Load(),
		Failed:   m.failed.Load(),
	}
	if v, ok := m.lastErr.Load().(string); ok {
		s.LastError = v
	}
	return s
}

func (m *Mirror) upload(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.fail(fmt.Errorf("skip %s: %w", localPath, err))
		return
	}
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			m.uploaded.Add(1)
			m.log.Printf("mirrored %s -> %s", localPath, key)
			return
		}
		if attempt >= m.cfg.Attempts {
			break
		}
		time.Sleep(time.Duration(attempt*attempt) * m.cfg.Backoff)
	}
	m.fail(fmt.Errorf("upload %s: %w", key, err))
}

func (m *Mirror) fail(err error) {
	m.failed.Add(1)
	m.lastErr.Store(err.Error())
	m.log.Printf("mirror: %v", err)
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	base, err := filepath.Abs(m.cfg.DataDir)
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
		return "", fmt.Errorf("outside data dir %s", base)
	}
	if m.prefix != "" {
		rel = path.Join(m.prefix, rel)
	}
	return rel, nil
}
