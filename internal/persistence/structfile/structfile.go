// Package structfile reads and writes structure set files: JSON documents
// holding one or more blueprints, optionally zstd-compressed (".zst").
// Every file is checked against an embedded JSON schema before decoding.
package structfile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"structspawn.ai/internal/sim/structure"
)

const Version = 1

//go:embed structure_set.schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("structure_set.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

type File struct {
	Version    int                   `json:"version"`
	Name       string                `json:"name,omitempty"`
	Blueprints []structure.Blueprint `json:"blueprints"`
}

// Units flattens the file into one set in blueprint order.
func (f File) Units() structure.Set { return structure.Collect(f.Blueprints) }

func Read(path string) (File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	if isCompressed(path) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return File{}, err
		}
		defer dec.Close()
		b, err = dec.DecodeAll(b, nil)
		if err != nil {
			return File{}, fmt.Errorf("%s: zstd: %w", filepath.Base(path), err)
		}
	}
	f, err := Decode(b)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return f, nil
}

// Decode validates and decodes an uncompressed document.
func Decode(b []byte) (File, error) {
	s, err := compiledSchema()
	if err != nil {
		return File{}, fmt.Errorf("schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return File{}, err
	}
	if err := s.Validate(doc); err != nil {
		return File{}, fmt.Errorf("invalid structure set: %w", err)
	}
	var f File
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return File{}, err
	}
	return f, nil
}

// Write stores f at path, compressing when path ends in ".zst". The file is
// written to a temp name and renamed into place.
func Write(path string, f File) error {
	if f.Version == 0 {
		f.Version = Version
	}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if isCompressed(path) {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		b = enc.EncodeAll(b, nil)
		_ = enc.Close()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func isCompressed(path string) bool { return strings.HasSuffix(path, ".zst") }
