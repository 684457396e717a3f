package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"structspawn.ai/internal/persistence/r2s3"
)

// buildMirror returns nil unless SPAWN_R2_MIRROR is true.
func buildMirror(dataDir string, logger *log.Logger) (*r2s3.Mirror, error) {
	if !envBool("SPAWN_R2_MIRROR", false) {
		return nil, nil
	}
	cfg := r2s3.Config{
		Endpoint:        os.Getenv("SPAWN_R2_ENDPOINT"),
		Bucket:          os.Getenv("SPAWN_R2_BUCKET"),
		AccessKeyID:     os.Getenv("SPAWN_R2_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("SPAWN_R2_SECRET_ACCESS_KEY"),
		Region:          os.Getenv("SPAWN_R2_REGION"),
	}
	client, err := r2s3.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("SPAWN_R2_MIRROR=true: %w", err)
	}
	return r2s3.NewMirror(client, r2s3.MirrorConfig{
		DataDir: dataDir,
		Prefix:  strings.TrimSpace(os.Getenv("SPAWN_R2_PREFIX")),
		Workers: envInt("SPAWN_R2_UPLOAD_WORKERS", 2),
		Logger:  logger,
	}), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
