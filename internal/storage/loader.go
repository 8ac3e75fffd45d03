package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileLoader reads reference images from disk. Relative paths resolve
// against Root.
type FileLoader struct {
	Root string
}

func (l FileLoader) Load(_ context.Context, ref string) ([]byte, error) {
	path := ref
	if !filepath.IsAbs(path) && l.Root != "" {
		path = filepath.Join(l.Root, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reference image %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("read reference image: %w", err)
	}
	return data, nil
}

type ObjectLoader interface {
	Load(ctx context.Context, key string) ([]byte, error)
}

// ReferenceLoader resolves an identity's reference image. "file://" refs
// and every ref when no object store is configured are read from disk; the
// rest are object keys.
type ReferenceLoader struct {
	Files   FileLoader
	Objects ObjectLoader
}

func (l ReferenceLoader) Load(ctx context.Context, ref string) ([]byte, error) {
	if path, ok := strings.CutPrefix(ref, "file://"); ok {
		return l.Files.Load(ctx, path)
	}
	if l.Objects == nil {
		return l.Files.Load(ctx, ref)
	}
	return l.Objects.Load(ctx, ref)
}
