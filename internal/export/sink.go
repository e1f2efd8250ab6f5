package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/dropDatabas3/signroll/internal/util/atomicwrite"
)

const (
	csvExt    = ".csv"
	bundleExt = ".csv.sig.json"
)

// Sink recibe un export para entregarlo (archivo, descarga, etc.).
type Sink interface {
	Deliver(ctx context.Context, e *Export) error
}

// DirSink escribe <base>.csv y <base>.csv.sig.json en Dir.
type DirSink struct {
	Dir string
}

// Paths devuelve las rutas que Deliver escribe para e.
func (d DirSink) Paths(e *Export) (csvPath, bundlePath string) {
	return filepath.Join(d.Dir, e.BaseName+csvExt), filepath.Join(d.Dir, e.BaseName+bundleExt)
}

func (d DirSink) Deliver(ctx context.Context, e *Export) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	csvPath, bundlePath := d.Paths(e)
	bundle, err := indentJSON(e.Bundle)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	if err := atomicwrite.WriteFile(csvPath, []byte(e.Body), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(csvPath), err)
	}
	if err := atomicwrite.WriteFile(bundlePath, bundle, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(bundlePath), err)
	}
	return nil
}

// DeliverJSON escribe un export JSON autocontenido como <name>.json.
func (d DirSink) DeliverJSON(ctx context.Context, name string, e *JSONExport) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := indentJSON(e)
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}
	path := filepath.Join(d.Dir, name+".json")
	if err := atomicwrite.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return path, nil
}

// indentJSON equivale a JSON.stringify(v, null, 2).
func indentJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
