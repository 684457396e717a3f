// Package indexdb keeps a queryable sqlite index of spawn attempts and spawn
// sessions. The JSONL audit files stay the source of truth; the index may
// drop rows when its writer falls behind.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"structspawn.ai/internal/sim/assembler"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropAttempts atomic.Uint64
	dropSpawns   atomic.Uint64
}

type reqKind int

const (
	reqAttempt reqKind = iota + 1
	reqSpawn
	reqFlush
)

type req struct {
	kind reqKind

	attempt assembler.AttemptRecord
	spawn   assembler.SpawnRecord
	done    chan struct{}
}

const defaultQueue = 4096

// tsLayout has fixed width so timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func OpenSQLite(path string) (*SQLiteIndex, error) {
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
		ch: make(chan req, defaultQueue),
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
		`CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			units INTEGER NOT NULL,
			parts INTEGER NOT NULL,
			state TEXT NOT NULL,
			ok INTEGER NOT NULL,
			code TEXT NOT NULL,
			reason TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			radius REAL NOT NULL,
			probes INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_started ON attempts(started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_code ON attempts(code);`,
		`CREATE TABLE IF NOT EXISTS spawns (
			attempt_id TEXT PRIMARY KEY,
			finished_at TEXT NOT NULL,
			expected INTEGER NOT NULL,
			received INTEGER NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			code TEXT NOT NULL,
			error TEXT NOT NULL,
			instances_json TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
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
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordAttempt queues rec. It never blocks: a full queue drops the row.
func (s *SQLiteIndex) RecordAttempt(rec assembler.AttemptRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAttempt, attempt: rec}:
	default:
		s.dropAttempts.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSpawn(rec assembler.SpawnRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqSpawn, spawn: rec}:
	default:
		s.dropSpawns.Add(1)
	}
	return nil
}

// Flush waits until every row queued before the call is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropAttemptsTotal uint64
	DropSpawnsTotal   uint64
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropAttemptsTotal: s.dropAttempts.Load(),
		DropSpawnsTotal:   s.dropSpawns.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertAttempt, _ := s.db.Prepare(`INSERT OR REPLACE INTO attempts(id,started_at,duration_ms,units,parts,state,ok,code,reason,x,y,z,radius,probes,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSpawn, _ := s.db.Prepare(`INSERT OR REPLACE INTO spawns(attempt_id,finished_at,expected,received,elapsed_ms,code,error,instances_json) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertAttempt != nil {
			_ = insertAttempt.Close()
		}
		if insertSpawn != nil {
			_ = insertSpawn.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
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

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqAttempt:
			a := r.attempt
			raw, _ := json.Marshal(a)
			if insertAttempt == nil {
				continue
			}
			if _, err := tx.Stmt(insertAttempt).Exec(
				a.ID,
				a.StartedAt.UTC().Format(tsLayout),
				a.DurationMs,
				a.Units,
				a.Parts,
				a.State,
				boolInt(a.OK),
				a.Code,
				a.Reason,
				a.Position[0], a.Position[1], a.Position[2],
				a.Radius,
				a.Probes,
				string(raw),
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqSpawn:
			sp := r.spawn
			inst, _ := json.Marshal(sp.Instances)
			if insertSpawn == nil {
				continue
			}
			if _, err := tx.Stmt(insertSpawn).Exec(
				sp.AttemptID,
				sp.FinishedAt.UTC().Format(tsLayout),
				sp.Expected,
				len(sp.Instances),
				sp.ElapsedMs,
				sp.Code,
				sp.Error,
				string(inst),
			); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// AttemptRow is one indexed attempt joined with its spawn session, if any.
type AttemptRow struct {
	ID         string
	StartedAt  time.Time
	Units      int
	Parts      int
	State      string
	OK         bool
	Code       string
	Reason     string
	Position   [3]float64
	Radius     float64
	Probes     int
	Spawned    bool
	Received   int
	Expected   int
	SpawnCode  string
	SpawnError string
}

// RecentAttempts returns the newest attempts first. code filters on the
// attempt code when non-empty.
func (s *SQLiteIndex) RecentAttempts(ctx context.Context, limit int, code string) ([]AttemptRow, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT a.id, a.started_at, a.units, a.parts, a.state, a.ok, a.code, a.reason, a.x, a.y, a.z, a.radius, a.probes,
		s.attempt_id IS NOT NULL, COALESCE(s.received,0), COALESCE(s.expected,0), COALESCE(s.code,''), COALESCE(s.error,'')
		FROM attempts a LEFT JOIN spawns s ON s.attempt_id = a.id`
	var args []any
	if code = strings.TrimSpace(code); code != "" {
		q += ` WHERE a.code = ?`
		args = append(args, code)
	}
	q += ` ORDER BY a.started_at DESC, a.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptRow
	for rows.Next() {
		var (
			r       AttemptRow
			started string
			ok      int
			spawned int
		)
		if err := rows.Scan(&r.ID, &started, &r.Units, &r.Parts, &r.State, &ok, &r.Code, &r.Reason,
			&r.Position[0], &r.Position[1], &r.Position[2], &r.Radius, &r.Probes,
			&spawned, &r.Received, &r.Expected, &r.SpawnCode, &r.SpawnError); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(tsLayout, started)
		r.OK = ok != 0
		r.Spawned = spawned != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// CodeCounts returns how many attempts ended with each code ("" for success).
func (s *SQLiteIndex) CodeCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, COUNT(*) FROM attempts GROUP BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var code string
		var n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, err
		}
		out[code] = n
	}
	return out, rows.Err()
}
