package log

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"structspawn.ai/internal/sim/assembler"
)

func TestAudit_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	audit := NewAudit(dir)

	for i := 0; i < 3; i++ {
		rec := assembler.AttemptRecord{ID: string(rune('a' + i)), Units: i + 1, OK: i != 1, Position: mgl64.Vec3{float64(i), 0, 0}}
		if err := audit.RecordAttempt(rec); err != nil {
			t.Fatalf("RecordAttempt: %v", err)
		}
	}
	if err := audit.RecordSpawn(assembler.SpawnRecord{AttemptID: "a", Expected: 1, Instances: []string{"g1"}}); err != nil {
		t.Fatalf("RecordSpawn: %v", err)
	}
	if err := audit.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := Files(dir, "attempts")
	if err != nil || len(files) != 1 {
		t.Fatalf("attempt files = %v, %v", files, err)
	}
	var got []assembler.AttemptRecord
	if err := ReadJSONL(files[0], func(r assembler.AttemptRecord) bool {
		got = append(got, r)
		return true
	}); err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if len(got) != 3 || got[2].ID != "c" || got[2].Position != (mgl64.Vec3{2, 0, 0}) || got[1].OK {
		t.Fatalf("unexpected records: %+v", got)
	}

	files, err = Files(dir, "spawns")
	if err != nil || len(files) != 1 {
		t.Fatalf("spawn files = %v, %v", files, err)
	}
	n := 0
	if err := ReadJSONL(files[0], func(r assembler.SpawnRecord) bool {
		n++
		return r.OK()
	}); err != nil || n != 1 {
		t.Fatalf("spawn records n=%d err=%v", n, err)
	}
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "x")
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }
	var closed []string
	w.OnClosed(func(path string) { closed = append(closed, filepath.Base(path)) })

	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, name := range []string{"x-2026-03-01-10.jsonl.zst", "x-2026-03-01-11.jsonl.zst"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	if len(closed) != 2 || closed[0] != "x-2026-03-01-10.jsonl.zst" || closed[1] != "x-2026-03-01-11.jsonl.zst" {
		t.Fatalf("closed files = %v", closed)
	}
	if err := w.Close(); err != nil || len(closed) != 2 {
		t.Fatalf("second Close: %v closed=%v", err, closed)
	}
	if err := w.Write(1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestReadJSONL_StopsEarlyAndReportsLine(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "plain.jsonl")
	if err := os.WriteFile(p, []byte("{\"n\":1}\n\n{\"n\":2}\nnot json\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	type row struct{ N int }
	seen := 0
	if err := ReadJSONL(p, func(r row) bool {
		seen++
		return r.N < 1
	}); err != nil || seen != 1 {
		t.Fatalf("early stop: seen=%d err=%v", seen, err)
	}
	if err := ReadJSONL(p, func(row) bool { return true }); err == nil {
		t.Fatalf("expected decode error")
	}
}
