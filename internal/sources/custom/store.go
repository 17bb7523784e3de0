// Package custom implements the locally-managed custom-spec source.
//
// Specs live under a directory as parsed JSON documents indexed by manifest.json:
//
//	<dir>/manifest.json
//	<dir>/specs/<provider>/<service or _>/<version>.json
//
// Import and Remove are used by the import CLI. Both signal running servers
// through the cache invalidation flag.
package custom

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"apidirectory/internal/cache"
	"apidirectory/internal/core"
	"apidirectory/internal/openapi"
)

// Config configures a custom store
type Config struct {
	// Dir holds the manifest and the imported specs
	Dir string

	// Cache is the store's own sub-cache ("custom:" namespace). Nil disables caching.
	Cache cache.Store

	// CacheDir is the persistent cache directory that receives the invalidation
	// flag after Import and Remove. Empty skips the flag.
	CacheDir string

	// SpecTTL is how long parsed documents stay in the sub-cache (default 8h)
	SpecTTL time.Duration
}

// Store is the custom source
type Store struct {
	dir      string
	cacheDir string
	cache    cache.Store
	specTTL  time.Duration

	lock    *flock.Flock
	writeMu sync.Mutex

	mu       sync.RWMutex
	manifest *Manifest
	modTime  time.Time
}

var _ core.Source = (*Store)(nil)

// New opens the store in cfg.Dir, creating it if needed
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("custom specs directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create custom specs directory: %w", err)
	}
	store := cfg.Cache
	if store == nil {
		store = cache.NewNopStore()
	}
	if cfg.SpecTTL <= 0 {
		cfg.SpecTTL = 8 * time.Hour
	}
	return &Store{
		dir:      cfg.Dir,
		cacheDir: cfg.CacheDir,
		cache:    store,
		specTTL:  cfg.SpecTTL,
		lock:     flock.New(filepath.Join(cfg.Dir, manifestFile+".lock")),
	}, nil
}

// Dir returns the store directory
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) manifestPath() string {
	return filepath.Join(s.dir, manifestFile)
}

// Manifest returns the current manifest, reloading it when the file changed on disk
func (s *Store) Manifest() (*Manifest, error) {
	info, err := os.Stat(s.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return newManifest(), nil
		}
		return nil, core.NewNetworkError(core.SourceCustom, 500, "failed to stat manifest", err)
	}

	s.mu.RLock()
	if s.manifest != nil && info.ModTime().Equal(s.modTime) {
		m := s.manifest
		s.mu.RUnlock()
		return m, nil
	}
	s.mu.RUnlock()

	m, err := readManifest(s.manifestPath())
	if err != nil {
		return nil, core.NewNetworkError(core.SourceCustom, 500, err.Error(), err)
	}
	s.mu.Lock()
	s.manifest = m
	s.modTime = info.ModTime()
	s.mu.Unlock()
	return m, nil
}

// ImportRequest describes one spec to add to the store
type ImportRequest struct {
	Provider string
	// Service is optional
	Service string
	// Version defaults to info.version of the document
	Version string
	// Data is the OpenAPI or Swagger document, JSON or YAML
	Data []byte
	// Origin records where the document came from (path or URL)
	Origin string
}

// Import parses and stores a spec, replacing any existing spec with the same key
func (s *Store) Import(ctx context.Context, req ImportRequest) (*ManifestEntry, error) {
	if err := validName("provider", req.Provider, true); err != nil {
		return nil, err
	}
	if err := validName("service", req.Service, false); err != nil {
		return nil, err
	}

	doc, err := openapi.Parse(req.Data)
	if err != nil {
		return nil, core.NewValidationError(fmt.Sprintf("invalid OpenAPI document: %v", err))
	}
	info := doc.Info()
	version := req.Version
	if version == "" {
		version = info.Version
	}
	if err := validName("version", version, true); err != nil {
		return nil, err
	}

	id := req.Provider
	if req.Service != "" {
		id += ":" + req.Service
	}
	serviceDir := req.Service
	if serviceDir == "" {
		serviceDir = noService
	}
	rel := filepath.ToSlash(filepath.Join(specsDir, req.Provider, serviceDir, version+".json"))

	data, err := doc.JSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	now := time.Now().UTC()
	entry := ManifestEntry{
		ID:          id,
		Provider:    req.Provider,
		Service:     req.Service,
		Version:     version,
		Title:       info.Title,
		Description: info.Description,
		Categories:  info.Categories,
		File:        rel,
		Imported:    now,
		Updated:     now,
		OpenAPIVer:  doc.SpecVersion(),
		Endpoints:   doc.CountEndpoints(),
		Origin:      req.Origin,
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := writeFileAtomic(filepath.Join(s.dir, filepath.FromSlash(rel)), data); err != nil {
		return nil, err
	}
	err = s.updateManifest(ctx, func(m *Manifest) error {
		if prev, ok := m.Specs[entry.Key()]; ok {
			entry.Imported = prev.Imported
		}
		m.Specs[entry.Key()] = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	slog.Info("custom spec imported", "id", entry.Key(), "endpoints", entry.Endpoints, "origin", entry.Origin)
	return &entry, nil
}

// Remove deletes apiID from the store. An id with a version removes that version;
// an id without one removes every version. It returns the removed entries.
func (s *Store) Remove(ctx context.Context, apiID string) ([]ManifestEntry, error) {
	if apiID == "" {
		return nil, core.NewValidationError("api id is required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var removed []ManifestEntry
	err := s.updateManifest(ctx, func(m *Manifest) error {
		if e, ok := m.Specs[apiID]; ok {
			removed = append(removed, e)
			delete(m.Specs, apiID)
			return nil
		}
		for key, e := range m.Specs {
			if e.ID == apiID {
				removed = append(removed, e)
				delete(m.Specs, key)
			}
		}
		if len(removed) == 0 {
			return core.NewNotFoundError(core.SourceCustom, fmt.Sprintf("custom spec %s not found", apiID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, e := range removed {
		path := filepath.Join(s.dir, filepath.FromSlash(e.File))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove custom spec file", "path", path, "error", err)
		}
	}
	s.invalidate(ctx)
	slog.Info("custom spec removed", "id", apiID, "versions", len(removed))
	return removed, nil
}

// invalidate drops this store's sub-cache and flags the persistent cache as stale
func (s *Store) invalidate(ctx context.Context) {
	s.cache.Clear(ctx)
	if s.cacheDir == "" {
		return
	}
	if err := cache.CreateInvalidationFlag(s.cacheDir); err != nil {
		slog.Warn("failed to create cache invalidation flag", "dir", s.cacheDir, "error", err)
	}
}

func validName(field, v string, required bool) error {
	if v == "" {
		if required {
			return core.NewValidationError(field + " is required")
		}
		return nil
	}
	if v == "." || v == ".." || v == noService || strings.ContainsAny(v, `/\:`) {
		return core.NewValidationError(fmt.Sprintf("invalid %s %q", field, v))
	}
	return nil
}
