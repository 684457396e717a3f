package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"structspawn.ai/internal/protocol"
	"structspawn.ai/internal/sim/assembler"
)

func openIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index", "spawns.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteIndex_RecordAndQuery(t *testing.T) {
	s := openIndex(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	_ = s.RecordAttempt(assembler.AttemptRecord{ID: "a1", StartedAt: base, Units: 3, Parts: 7, State: "done", OK: true, Position: mgl64.Vec3{100, 0, 0}, Radius: 17, Probes: 1})
	_ = s.RecordAttempt(assembler.AttemptRecord{ID: "a2", StartedAt: base.Add(time.Minute), Units: 2, State: "failed", Code: protocol.ErrNoFreeSpace, Reason: "No free space available!", Probes: 41})
	_ = s.RecordAttempt(assembler.AttemptRecord{ID: "a3", StartedAt: base.Add(2 * time.Minute), Units: 1, State: "done", OK: true})
	_ = s.RecordSpawn(assembler.SpawnRecord{AttemptID: "a1", FinishedAt: base, Expected: 3, Instances: []string{"g1", "g2", "g3"}, ElapsedMs: 4})
	_ = s.RecordSpawn(assembler.SpawnRecord{AttemptID: "a3", FinishedAt: base, Expected: 1, Code: protocol.ErrSpawnTimeout, Error: "timed out"})

	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	rows, err := s.RecentAttempts(ctx, 10, "")
	if err != nil {
		t.Fatalf("RecentAttempts: %v", err)
	}
	if len(rows) != 3 || rows[0].ID != "a3" || rows[2].ID != "a1" {
		t.Fatalf("unexpected order: %+v", rows)
	}
	a1 := rows[2]
	if !a1.OK || !a1.Spawned || a1.Received != 3 || a1.Expected != 3 || a1.Position != [3]float64{100, 0, 0} || !a1.StartedAt.Equal(base) {
		t.Fatalf("a1 = %+v", a1)
	}
	if a3 := rows[0]; !a3.Spawned || a3.SpawnCode != protocol.ErrSpawnTimeout || a3.Received != 0 {
		t.Fatalf("a3 = %+v", a3)
	}
	if rows[1].Spawned || rows[1].Code != protocol.ErrNoFreeSpace {
		t.Fatalf("a2 = %+v", rows[1])
	}

	filtered, err := s.RecentAttempts(ctx, 10, protocol.ErrNoFreeSpace)
	if err != nil || len(filtered) != 1 || filtered[0].ID != "a2" {
		t.Fatalf("filtered = %+v, %v", filtered, err)
	}

	counts, err := s.CodeCounts(ctx)
	if err != nil {
		t.Fatalf("CodeCounts: %v", err)
	}
	if counts[""] != 2 || counts[protocol.ErrNoFreeSpace] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestSQLiteIndex_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spawns.sqlite")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	_ = s.RecordAttempt(assembler.AttemptRecord{ID: "x", StartedAt: time.Now(), State: "done", OK: true})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.RecordAttempt(assembler.AttemptRecord{ID: "late"}); err != nil {
		t.Fatalf("record after close: %v", err)
	}

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	rows, err := s2.RecentAttempts(context.Background(), 0, "")
	if err != nil || len(rows) != 1 || rows[0].ID != "x" {
		t.Fatalf("rows = %+v, %v", rows, err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqAttempt}

	_ = s.RecordAttempt(assembler.AttemptRecord{ID: "a"})
	_ = s.RecordSpawn(assembler.SpawnRecord{AttemptID: "a"})

	st := s.Stats()
	if st.DropAttemptsTotal != 1 || st.DropSpawnsTotal != 1 {
		t.Fatalf("drops = %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}
