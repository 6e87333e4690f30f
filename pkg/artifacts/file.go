package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore keeps artifacts on the local filesystem. It is used for
// single-host deployments and tests.
type FileStore struct {
	root    string
	baseURL string
}

// NewFileStore creates a file store rooted at root
func NewFileStore(root, baseURL string) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &FileStore{root: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put writes data under path and returns a file:// URL
func (s *FileStore) Put(ctx context.Context, data []byte, path string) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return "file://" + full, nil
}

// Get reads the file behind a file:// URL or a path relative to the root
func (s *FileStore) Get(ctx context.Context, url string) ([]byte, error) {
	var full string
	if p, ok := strings.CutPrefix(url, "file://"); ok {
		full = filepath.Clean(p)
		if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
			return nil, fmt.Errorf("path %s escapes artifact root", url)
		}
	} else {
		var err error
		if full, err = s.resolve(url); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// PresignPut returns an upload URL under the configured base URL.
// The file store has no signing; the URL is only a location.
func (s *FileStore) PresignPut(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if _, err := s.resolve(path); err != nil {
		return "", err
	}
	if s.baseURL == "" {
		return "file://" + filepath.Join(s.root, path), nil
	}
	return s.baseURL + "/" + strings.TrimPrefix(path, "/"), nil
}

// DeletePrefix removes every file under prefix
func (s *FileStore) DeletePrefix(ctx context.Context, prefix string) error {
	full, err := s.resolve(prefix)
	if err != nil {
		return err
	}
	if full == s.root {
		return fmt.Errorf("refusing to delete artifact root")
	}
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("failed to delete %s: %w", prefix, err)
	}
	return nil
}

func (s *FileStore) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	full := filepath.Join(s.root, filepath.FromSlash(path))
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes artifact root", path)
	}
	return full, nil
}
