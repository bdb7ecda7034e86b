package results

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FSStore keeps reports as files in a single directory.
type FSStore struct {
	dir string
}

func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("results: create %s: %w", dir, err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) Dir() string { return s.dir }

func (s *FSStore) Put(_ context.Context, key Key, data []byte) error {
	path := filepath.Join(s.dir, key.Name())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("results: write %s: %w", key.Name(), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("results: write %s: %w", key.Name(), err)
	}
	return nil
}

func (s *FSStore) Get(_ context.Context, key Key) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, key.Name()))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key.Name())
	}
	if err != nil {
		return nil, fmt.Errorf("results: read %s: %w", key.Name(), err)
	}
	return data, nil
}

func (s *FSStore) List(_ context.Context, site int, debug bool) ([]Key, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("results: list %s: %w", s.dir, err)
	}

	var keys []Key
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if k, ok := matches(entry.Name(), site, debug); ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name() < keys[j].Name() })
	return keys, nil
}

// UploadStream writes an object below the store directory. Objects live in
// sub directories and never show up in List.
func (s *FSStore) UploadStream(_ context.Context, objectKey string, stream io.Reader) error {
	path := filepath.Join(s.dir, filepath.FromSlash(objectKey))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(file, stream)
	return err
}

func (s *FSStore) Delete(_ context.Context, key Key) error {
	err := os.Remove(filepath.Join(s.dir, key.Name()))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("results: delete %s: %w", key.Name(), err)
	}
	return nil
}
