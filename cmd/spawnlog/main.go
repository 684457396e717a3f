package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"structspawn.ai/internal/persistence/indexdb"
	persistlog "structspawn.ai/internal/persistence/log"
	"structspawn.ai/internal/sim/assembler"
)

func main() {
	var (
		dataDir = flag.String("data", "./data", "runtime data directory")
		kind    = flag.String("kind", "attempts", "audit stream: attempts|spawns")
		useDB   = flag.Bool("db", false, "query the sqlite index instead of the audit files")
		limit   = flag.Int("limit", 20, "max rows (-db only)")
		code    = flag.String("code", "", "only rows with this code")
	)
	flag.Parse()

	if *useDB {
		if err := queryIndex(*dataDir, *limit, *code); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	var err error
	switch *kind {
	case "attempts":
		err = dump(*dataDir, *kind, func(rec assembler.AttemptRecord) bool { return *code == "" || rec.Code == *code })
	case "spawns":
		err = dump(*dataDir, *kind, func(rec assembler.SpawnRecord) bool { return *code == "" || rec.Code == *code })
	default:
		fmt.Fprintln(os.Stderr, "-kind must be attempts or spawns")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dump[T any](dataDir, kind string, keep func(T) bool) error {
	files, err := persistlog.Files(dataDir, kind)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	var werr error
	for _, f := range files {
		err := persistlog.ReadJSONL(f, func(rec T) bool {
			if !keep(rec) {
				return true
			}
			werr = enc.Encode(rec)
			return werr == nil
		})
		if err != nil {
			return err
		}
		if werr != nil {
			return werr
		}
	}
	return nil
}

func queryIndex(dataDir string, limit int, code string) error {
	idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "spawns.sqlite"))
	if err != nil {
		return err
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := idx.RecentAttempts(ctx, limit, code)
	if err != nil {
		return err
	}
	for _, r := range rows {
		spawned := "-"
		if r.Spawned {
			spawned = fmt.Sprintf("%d/%d", r.Received, r.Expected)
			if r.SpawnCode != "" {
				spawned += " " + r.SpawnCode
			}
		}
		fmt.Printf("%s  %s  %-9s %-20s units=%d parts=%d probes=%d spawned=%s  %s\n",
			r.StartedAt.Format(time.RFC3339), r.ID, r.State, orDash(r.Code), r.Units, r.Parts, r.Probes, spawned, r.Reason)
	}

	counts, err := idx.CodeCounts(ctx)
	if err != nil {
		return err
	}
	codes := make([]string, 0, len(counts))
	for c := range counts {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	for _, c := range codes {
		fmt.Printf("%-20s %d\n", orDash(c), counts[c])
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
