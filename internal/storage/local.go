package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore writes snapshots below a directory.
type LocalStore struct {
	root string
}

// NewLocalStore ensures root exists.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		root = "./snapshots"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	return &LocalStore{root: root}, nil
}

// Save writes the snapshot and returns its file path.
func (s *LocalStore) Save(_ context.Context, snap Snapshot) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(objectKey("", snap)))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}
	if err := os.WriteFile(p, snap.Data, 0o600); err != nil {
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	return p, nil
}

// Ping checks the directory is still there.
func (s *LocalStore) Ping(context.Context) error {
	st, err := os.Stat(s.root)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", s.root)
	}
	return nil
}
