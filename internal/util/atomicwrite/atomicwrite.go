// Package atomicwrite provee escritura atómica de archivos: un lector nunca
// ve un archivo a medio escribir.
package atomicwrite

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrExists lo devuelve CreateExclusive cuando el destino ya existe.
var ErrExists = errors.New("atomicwrite: destination exists")

// WriteFile escribe data a path reemplazando lo que hubiera.
// Pasos: write tmp → Sync → Close → Chmod → Rename.
//
// Si rename falla (Windows con destino bloqueado) intenta remove+rename; el
// archivo viejo se preserva si algo sale mal antes de ese punto.
func WriteFile(path string, data []byte, perm fs.FileMode) error {
	tmpPath, err := writeTemp(path, data, perm)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(path)
		if err2 := os.Rename(tmpPath, path); err2 != nil {
			return fmt.Errorf("rename: %v (after remove: %v)", err, err2)
		}
	}
	return nil
}

// CreateExclusive escribe data a path sólo si path no existe. Usa un hard
// link desde un temporal completo: el destino aparece entero o no aparece,
// y entre dos escritores concurrentes gana exactamente uno.
func CreateExclusive(path string, data []byte, perm fs.FileMode) error {
	tmpPath, err := writeTemp(path, data, perm)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExists
		}
		return fmt.Errorf("link: %w", err)
	}
	return nil
}

func writeTemp(path string, data []byte, perm fs.FileMode) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp: %w", err)
	}
	_ = os.Chmod(tmpPath, perm)
	ok = true
	return tmpPath, nil
}
