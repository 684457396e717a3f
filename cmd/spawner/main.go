package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"structspawn.ai/internal/persistence/indexdb"
	persistlog "structspawn.ai/internal/persistence/log"
	"structspawn.ai/internal/persistence/structfile"
	"structspawn.ai/internal/sim/align"
	"structspawn.ai/internal/sim/assembler"
	"structspawn.ai/internal/sim/memworld"
	"structspawn.ai/internal/sim/placement"
	"structspawn.ai/internal/sim/spawn"
	"structspawn.ai/internal/sim/structure"
	"structspawn.ai/internal/sim/tuning"
	"structspawn.ai/internal/transport/feedback"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		setPaths   = flag.String("set", "", "comma-separated structure set files (.json or .json.zst)")
		at         = flag.String("at", "0,0,0", "reference position x,y,z")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		scenePath  = flag.String("scene", "", "path to scene.yaml (default: <configs>/scene.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite attempt index")
		addr       = flag.String("addr", "", "http listen address; serves /v1/spawn and /v1/feedback instead of a one-shot run")
		channel    = flag.String("channel", "Hangar", "operator feedback channel name")
		latency    = flag.Duration("latency", 0, "simulated engine latency per unit")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[spawner] ", log.LstdFlags|log.Lmicroseconds)

	ref, err := parseVec(*at)
	if err != nil {
		logger.Fatalf("-at: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	sp := strings.TrimSpace(*scenePath)
	if sp == "" {
		sp = filepath.Join(*configDir, "scene.yaml")
	}
	scene, err := memworld.LoadScene(sp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load scene: %v", err)
		}
		logger.Printf("scene not found (%s); using an empty world", sp)
	}

	w, err := memworld.New(scene, memworld.Config{
		Latency: *latency,
		Logger:  log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds),
	})
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	hub := feedback.NewHub(*channel, logger)
	defer hub.Close()

	mirror, err := buildMirror(*dataDir, log.New(os.Stdout, "[mirror] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}
	defer mirror.Close()

	audit := persistlog.NewAudit(*dataDir)
	if mirror != nil {
		audit.OnClosed(mirror.Enqueue)
	}
	defer func() {
		if err := audit.Close(); err != nil {
			logger.Printf("close audit log: %v", err)
		}
	}()
	recorders := []assembler.Recorder{audit, hub}
	if !*disableDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "spawns.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		recorders = append(recorders, idx)
	}

	asm, err := newAssembler(w, tune, assemblerDeps{
		responder: feedback.Responders(hub, feedback.LogResponder{Channel: *channel, Logger: logger}),
		recorder:  feedback.Recorders(recorders...),
	})
	if err != nil {
		logger.Fatalf("assembler: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if strings.TrimSpace(*addr) != "" {
		if err := serve(ctx, *addr, asm, hub, logger); err != nil {
			logger.Fatalf("serve: %v", err)
		}
		drain(asm, logger)
		return 0
	}

	if strings.TrimSpace(*setPaths) == "" {
		fmt.Fprintln(os.Stderr, "missing -set (or -addr)")
		return 2
	}
	bps, err := readSets(*setPaths)
	if err != nil {
		logger.Fatalf("read structure set: %v", err)
	}

	res := asm.Run(ctx, bps, ref)
	if !res.OK {
		logger.Printf("attempt %s failed in %s: %v", res.AttemptID, res.State, res.Err)
		drain(asm, logger)
		return 1
	}
	insts, err := res.Session.Wait(ctx)
	drain(asm, logger)
	if err != nil {
		logger.Printf("attempt %s: spawn failed: %v", res.AttemptID, err)
		return 1
	}
	logger.Printf("attempt %s: %d instances live at %.1f,%.1f,%.1f (probes=%d corrected=%v)",
		res.AttemptID, len(insts), res.Position[0], res.Position[1], res.Position[2], res.Search.Probes, res.Search.Corrected)
	return 0
}

type assemblerDeps struct {
	responder assembler.Responder
	recorder  assembler.Recorder
}

func newAssembler(w *memworld.World, tune tuning.Tuning, deps assemblerDeps) (*assembler.Assembler, error) {
	aligner, err := align.New(tune.AlignConfig(w))
	if err != nil {
		return nil, err
	}
	solver, err := placement.NewSolver(tune.SolverConfig(w, w))
	if err != nil {
		return nil, err
	}
	barrier, err := spawn.NewBarrier(spawn.Config{
		Engine:            w,
		PendingTimeout:    tune.PendingTimeout(),
		RollbackOnTimeout: tune.Spawn.RollbackOnTimeout,
		Logger:            log.New(os.Stdout, "[spawn] ", log.LstdFlags|log.Lmicroseconds),
	})
	if err != nil {
		return nil, err
	}
	return assembler.New(assembler.Config{
		Aligner:   aligner,
		Solver:    solver,
		Engine:    w,
		Barrier:   barrier,
		Search:    tune.SearchParams(0),
		Margin:    tune.Placement.Margin,
		Responder: deps.responder,
		Recorder:  deps.recorder,
		Logger:    log.New(os.Stdout, "[assembler] ", log.LstdFlags|log.Lmicroseconds),
	})
}

func readSets(paths string) ([]structure.Blueprint, error) {
	var out []structure.Blueprint
	for _, p := range strings.Split(paths, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := structfile.Read(p)
		if err != nil {
			return nil, err
		}
		out = append(out, f.Blueprints...)
	}
	return out, nil
}

func parseVec(s string) (mgl64.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return mgl64.Vec3{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var v mgl64.Vec3
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return mgl64.Vec3{}, fmt.Errorf("component %d: %w", i, err)
		}
		v[i] = f
	}
	return v, nil
}

func drain(asm *assembler.Assembler, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := asm.Drain(ctx); err != nil {
		logger.Printf("pending spawn sessions not recorded: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
