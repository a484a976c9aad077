package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	recordExt = ".json"
	blobExt   = ".bin"
)

// FSRecords keeps one JSON file per record under dir.
type FSRecords[T any] struct {
	dir string
}

func NewFSRecords[T any](dir string) (*FSRecords[T], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}
	return &FSRecords[T]{dir: dir}, nil
}

func (s *FSRecords[T]) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid id %q", id)
	}
	return filepath.Join(s.dir, id+recordExt), nil
}

func (s *FSRecords[T]) Put(ctx context.Context, id string, v T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func (s *FSRecords[T]) Get(ctx context.Context, id string) (T, error) {
	var v T
	if err := ctx.Err(); err != nil {
		return v, err
	}
	path, err := s.path(id)
	if err != nil {
		return v, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return v, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to decode record %s: %w", id, err)
	}
	return v, nil
}

// List returns every readable record ordered by id. Corrupt files are
// skipped.
func (s *FSRecords[T]) List(ctx context.Context) ([]T, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), recordExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	out := make([]T, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := s.Get(ctx, strings.TrimSuffix(name, recordExt))
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *FSRecords[T]) Delete(ctx context.Context, id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}
	return nil
}

// FSBlobs keeps one file per blob under dir.
type FSBlobs struct {
	dir string
}

func NewFSBlobs(dir string) (*FSBlobs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FSBlobs{dir: dir}, nil
}

func (b *FSBlobs) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid id %q", id)
	}
	return filepath.Join(b.dir, id+blobExt), nil
}

func (b *FSBlobs) PutBlob(ctx context.Context, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := b.path(id)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func (b *FSBlobs) GetBlob(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := b.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: blob %s", ErrNotFound, id)
	}
	return data, err
}

func (b *FSBlobs) DeleteBlob(ctx context.Context, id string) error {
	path, err := b.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// writeAtomic writes through a temp file and rename so readers never see a
// partial file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}

// Keys lists the ids of stored blobs.
func (b *FSBlobs) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), blobExt) {
			keys = append(keys, strings.TrimSuffix(e.Name(), blobExt))
		}
	}
	sort.Strings(keys)
	return keys, nil
}
