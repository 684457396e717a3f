// Package log writes the spawn audit trail as hourly JSONL files compressed
// with zstd, and reads them back.
package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"structspawn.ai/internal/sim/assembler"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
	closed  bool

	onClosed func(path string)
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

var ErrClosed = errors.New("log: writer closed")

// OnClosed registers fn to run with the path of every file the writer
// finishes, on rotation and on Close.
func (w *JSONLZstdWriter) OnClosed(fn func(path string)) {
	w.mu.Lock()
	w.onClosed = fn
	w.mu.Unlock()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return w.closeLocked()
}

// Write appends v as one JSON line to the file of the current UTC hour.
func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		name := w.f.Name()
		_ = w.f.Close()
		w.f = nil
		if w.onClosed != nil {
			w.onClosed(name)
		}
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// AttemptLogger writes one entry per assembler run.
type AttemptLogger struct{ w *JSONLZstdWriter }

func NewAttemptLogger(dataDir string) *AttemptLogger {
	return &AttemptLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "attempts"), "attempts")}
}

func (l *AttemptLogger) WriteAttempt(v assembler.AttemptRecord) error { return l.w.Write(v) }
func (l *AttemptLogger) Close() error                                  { return l.w.Close() }

// SpawnLogger writes one entry per finished spawn session.
type SpawnLogger struct{ w *JSONLZstdWriter }

func NewSpawnLogger(dataDir string) *SpawnLogger {
	return &SpawnLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "spawns"), "spawns")}
}

func (l *SpawnLogger) WriteSpawn(v assembler.SpawnRecord) error { return l.w.Write(v) }
func (l *SpawnLogger) Close() error                              { return l.w.Close() }

// Audit pairs both loggers as an assembler.Recorder.
type Audit struct {
	Attempts *AttemptLogger
	Spawns   *SpawnLogger
}

func NewAudit(dataDir string) *Audit {
	return &Audit{Attempts: NewAttemptLogger(dataDir), Spawns: NewSpawnLogger(dataDir)}
}

func (a *Audit) RecordAttempt(rec assembler.AttemptRecord) error { return a.Attempts.WriteAttempt(rec) }
func (a *Audit) RecordSpawn(rec assembler.SpawnRecord) error     { return a.Spawns.WriteSpawn(rec) }

// OnClosed forwards finished files of both streams to fn.
func (a *Audit) OnClosed(fn func(path string)) {
	a.Attempts.w.OnClosed(fn)
	a.Spawns.w.OnClosed(fn)
}

func (a *Audit) Close() error {
	return errors.Join(a.Attempts.Close(), a.Spawns.Close())
}

// Files lists the audit files of one kind ("attempts" or "spawns") under
// dataDir, oldest first.
func Files(dataDir, kind string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dataDir, kind, kind+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ReadJSONL decodes every line of a .jsonl.zst (or plain .jsonl) file into a
// fresh T and hands it to fn. A false return from fn stops the scan.
func ReadJSONL[T any](path string, fn func(T) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return err
		}
		defer dec.Close()
		r = dec
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(strings.TrimSpace(string(b))) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if !fn(v) {
			return nil
		}
	}
	return sc.Err()
}
