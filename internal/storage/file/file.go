// Package file implements the canonical text-file record backend: one
// <slug>.txt per player under a data directory, first line the raw name,
// one bracketed session per following line.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goodtune/ptrack/internal/storage"
)

const recordExt = ".txt"

// Store is a directory-backed RecordStore.
type Store struct {
	dir string
}

// Open prepares the data directory and returns a file-backed store.
func Open(dir string) (*Store, error) {
	if err := storage.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+recordExt)
}

// List reads every record file in lexical filename order. Empty files are
// skipped; they carry no history worth loading.
func (s *Store) List(ctx context.Context) ([]storage.Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read data directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordExt) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	records := make([]storage.Record, 0, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read record %s: %w", name, err)
		}
		if len(data) == 0 {
			continue
		}
		records = append(records, storage.Record{
			Key:  strings.TrimSuffix(name, recordExt),
			Data: data,
		})
	}
	return records, nil
}

// Get reads a single record by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", key, err)
	}
	return data, nil
}

// Put writes a record with open-write-close scoping; os.WriteFile flushes
// and releases the file before returning.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := os.WriteFile(s.path(key), data, 0644); err != nil {
		return fmt.Errorf("write record %s: %w", key, err)
	}
	return nil
}

// Delete removes a record by key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete record %s: %w", key, err)
	}
	return nil
}

// DeleteAll removes every record file but keeps the directory.
func (s *Store) DeleteAll(ctx context.Context) error {
	records, err := s.List(ctx)
	if err != nil {
		return err
	}
	for _, record := range records {
		if err := s.Delete(ctx, record.Key); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op; file handles are not held between operations.
func (s *Store) Close() error {
	return nil
}
