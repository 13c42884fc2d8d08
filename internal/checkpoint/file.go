package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	rostrumErrors "github.com/rostrum-oss/rostrum/internal/errors"
)

// FileStore keeps each checkpoint as one <id>.json file in a directory.
// Creation time comes from the file's modification time.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns the store.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = filepath.Join(".rostrum", "checkpoints")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory the store writes into.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"invalid checkpoint id: %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

// Write stores a new checkpoint blob. O_EXCL keeps existing files intact.
func (s *FileStore) Write(ctx context.Context, id string, blob []byte) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return errExists(id)
		}
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}

	if _, err := f.Write(blob); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	return f.Close()
}

// Read returns the blob for id.
func (s *FileStore) Read(ctx context.Context, id string) ([]byte, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNotFound(id)
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	return blob, nil
}

// ListRecent returns checkpoint metadata newest-first.
func (s *FileStore) ListRecent(ctx context.Context, limit int) ([]Meta, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoints dir: %w", err)
	}

	metas := make([]Meta, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		metas = append(metas, Meta{
			ID:        strings.TrimSuffix(name, ".json"),
			CreatedAt: info.ModTime(),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})

	if limit > 0 && len(metas) > limit {
		metas = metas[:limit]
	}
	return metas, nil
}

// Delete removes one checkpoint.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errNotFound(id)
		}
		return fmt.Errorf("failed to delete checkpoint file: %w", err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}
