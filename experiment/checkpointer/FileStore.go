package checkpointer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore saves checkpoints as files in a directory
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore saving into dir, creating dir if
// needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("newFileStore: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save implements the Store interface. The checkpoint is written to a
// temporary file first so that a failed save never leaves a partial
// checkpoint under name.
func (f *FileStore) Save(ctx context.Context, name string,
	data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(name)); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// Load implements the Store interface
func (f *FileStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}

	data, err := os.ReadFile(f.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load: %v: %w", name, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	return data, nil
}

func (f *FileStore) path(name string) string {
	return filepath.Join(f.dir, filepath.Base(name))
}
