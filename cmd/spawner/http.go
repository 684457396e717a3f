package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"structspawn.ai/internal/persistence/structfile"
	"structspawn.ai/internal/protocol"
	"structspawn.ai/internal/sim/assembler"
	"structspawn.ai/internal/transport/feedback"
)

const maxSetBytes = 16 << 20

type spawnResponse struct {
	AttemptID string     `json:"attempt_id"`
	OK        bool       `json:"ok"`
	State     string     `json:"state"`
	Code      string     `json:"code,omitempty"`
	Reason    string     `json:"reason"`
	Position  [3]float64 `json:"position"`
	Units     int        `json:"units"`
	Probes    int        `json:"probes"`
}

func spawnHandler(ctx context.Context, asm *assembler.Assembler) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		at := r.URL.Query().Get("at")
		if at == "" {
			at = "0,0,0"
		}
		ref, err := parseVec(at)
		if err != nil {
			writeError(rw, http.StatusBadRequest, err.Error())
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxSetBytes))
		if err != nil {
			writeError(rw, http.StatusBadRequest, err.Error())
			return
		}
		f, err := structfile.Decode(body)
		if err != nil {
			writeError(rw, http.StatusBadRequest, err.Error())
			return
		}

		// The run outlives the request: sessions complete in the background.
		res := asm.Run(ctx, f.Blueprints, ref)
		resp := spawnResponse{
			AttemptID: res.AttemptID,
			OK:        res.OK,
			State:     res.State.String(),
			Code:      res.Code,
			Reason:    res.Reason,
			Position:  res.Position,
			Units:     len(res.Units),
			Probes:    res.Search.Probes,
		}
		status := http.StatusAccepted
		if !res.OK {
			status = http.StatusUnprocessableEntity
		}
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(status)
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(map[string]string{"code": protocol.ErrBadRequest, "error": msg})
}

func serve(ctx context.Context, addr string, asm *assembler.Assembler, hub *feedback.Hub, logger *log.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/v1/spawn", spawnHandler(ctx, asm))
	mux.HandleFunc("/v1/feedback", hub.WSHandler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
