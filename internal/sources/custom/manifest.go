package custom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	manifestFile = "manifest.json"
	specsDir     = "specs"
	lockTimeout  = 5 * time.Second

	// noService is the directory used for specs of providers without services
	noService = "_"
)

// ManifestEntry describes one imported spec version
type ManifestEntry struct {
	ID          string   `json:"id"`
	Provider    string   `json:"provider"`
	Service     string   `json:"service,omitempty"`
	Version     string   `json:"version"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	// File is relative to the store directory
	File       string    `json:"file"`
	Imported   time.Time `json:"imported"`
	Updated    time.Time `json:"updated"`
	OpenAPIVer string    `json:"openapiVer,omitempty"`
	Endpoints  int       `json:"endpoints"`
	Origin     string    `json:"origin,omitempty"`
}

// Key returns the manifest key "provider[:service]:version"
func (e ManifestEntry) Key() string {
	return e.ID + ":" + e.Version
}

// Manifest indexes every imported spec by Key
type Manifest struct {
	Version int                      `json:"version"`
	Specs   map[string]ManifestEntry `json:"specs"`
}

func newManifest() *Manifest {
	return &Manifest{Version: 1, Specs: make(map[string]ManifestEntry)}
}

// Entries returns the manifest entries ordered by key
func (m *Manifest) Entries() []ManifestEntry {
	keys := make([]string, 0, len(m.Specs))
	for k := range m.Specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]ManifestEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.Specs[k])
	}
	return out
}

// readManifest loads path. A missing file is an empty manifest.
func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newManifest(), nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m := newManifest()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if m.Specs == nil {
		m.Specs = make(map[string]ManifestEntry)
	}
	return m, nil
}

// writeFileAtomic writes data to a temp file next to path and renames it into place
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}

// updateManifest applies fn to the on-disk manifest under the cross-process lock
// and writes the result back.
func (s *Store) updateManifest(ctx context.Context, fn func(*Manifest) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("failed to lock manifest: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	m, err := readManifest(s.manifestPath())
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := writeFileAtomic(s.manifestPath(), data); err != nil {
		return err
	}

	s.mu.Lock()
	s.manifest = m
	s.modTime = time.Time{}
	s.mu.Unlock()
	return nil
}
