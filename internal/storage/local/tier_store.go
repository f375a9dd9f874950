// Package local implements a cache tier backend on the local filesystem.
//
// Each tier is a directory under BaseDir holding one JSON snapshot file per
// cached URL, named by the SHA-256 of the URL.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/JakeFAU/offline-catalog-worker/internal/hash/sha256"
	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

const snapshotExt = ".json"

// Config captures the parameters for the local filesystem tier store.
type Config struct {
	// BaseDir is the root directory where tiers are stored.
	BaseDir string
}

// TierStore implements offline.TierBackend on a directory tree.
type TierStore struct {
	baseDir string
}

// New creates a filesystem-backed tier store, creating BaseDir when missing.
func New(cfg Config) (*TierStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}
	return &TierStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// tierDir resolves name under baseDir, rejecting anything that escapes it.
func (s *TierStore) tierDir(name string) (string, error) {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid tier name %q", name)
	}
	dir := filepath.Join(s.baseDir, name)
	if !strings.HasPrefix(dir, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return dir, nil
}

// Open creates the tier directory when missing and returns a handle.
func (s *TierStore) Open(_ context.Context, name string) (offline.Tier, error) {
	dir, err := s.tierDir(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create tier %s: %w", name, err)
	}
	return &Tier{name: name, dir: dir}, nil
}

// Names lists the tier directories.
func (s *TierStore) Names(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// Delete removes the tier directory and every snapshot in it.
func (s *TierStore) Delete(_ context.Context, name string) error {
	dir, err := s.tierDir(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete tier %s: %w", name, err)
	}
	return nil
}

// Tier is a handle onto one tier directory.
type Tier struct {
	name string
	dir  string
}

// Name returns the tier name.
func (t *Tier) Name() string {
	return t.name
}

func (t *Tier) path(url string) string {
	return filepath.Join(t.dir, sha256.Sum([]byte(url))+snapshotExt)
}

// Match reads and decodes the snapshot for url.
func (t *Tier) Match(_ context.Context, url string) (*offline.Response, error) {
	data, err := os.ReadFile(t.path(url))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, offline.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot for %s: %w", url, err)
	}
	var resp offline.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", url, err)
	}
	return &resp, nil
}

// Put writes a JSON snapshot of resp, replacing any previous one atomically.
func (t *Tier) Put(_ context.Context, url string, resp *offline.Response) error {
	if resp == nil {
		return fmt.Errorf("put %s: nil response", url)
	}
	if _, err := os.Stat(t.dir); err != nil {
		return fmt.Errorf("put %s: %w", url, offline.ErrTierClosed)
	}
	snapshot := resp.Clone()
	snapshot.URL = url
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot for %s: %w", url, err)
	}
	tmp, err := os.CreateTemp(t.dir, ".put-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.path(url)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Delete removes the snapshot for url.
func (t *Tier) Delete(_ context.Context, url string) error {
	if err := os.Remove(t.path(url)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete snapshot for %s: %w", url, err)
	}
	return nil
}

// Keys lists the URLs recorded in the tier's snapshots.
func (t *Tier) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(t.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list tier %s: %w", t.name, err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshotExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(t.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		var head struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Name(), err)
		}
		keys = append(keys, head.URL)
	}
	slices.Sort(keys)
	return keys, nil
}
