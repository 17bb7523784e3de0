package custom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"apidirectory/internal/cache"
	"apidirectory/internal/core"
	"apidirectory/internal/openapi"
)

// Name identifies the source
func (s *Store) Name() string {
	return core.SourceCustom
}

// list groups manifest entries into directory records keyed by ApiId
func (s *Store) list() (core.APIList, map[string]ManifestEntry, error) {
	m, err := s.Manifest()
	if err != nil {
		return nil, nil, err
	}
	list := make(core.APIList)
	latest := make(map[string]time.Time)
	for _, e := range m.Entries() {
		rec := list[e.ID]
		if rec.Versions == nil {
			rec.Versions = make(map[string]core.VersionInfo)
			rec.Added = e.Imported.Format(time.RFC3339)
		}
		rec.Versions[e.Version] = versionInfo(e)
		// the most recently updated version is preferred
		if t, ok := latest[e.ID]; !ok || e.Updated.After(t) {
			latest[e.ID] = e.Updated
			rec.Preferred = e.Version
		}
		list[e.ID] = rec
	}
	return list, m.Specs, nil
}

func versionInfo(e ManifestEntry) core.VersionInfo {
	return core.VersionInfo{
		Added:      e.Imported.Format(time.RFC3339),
		Updated:    e.Updated.Format(time.RFC3339),
		OpenAPIVer: e.OpenAPIVer,
		Link:       e.Origin,
		Info: core.Info{
			Title:        e.Title,
			Version:      e.Version,
			Description:  e.Description,
			Categories:   e.Categories,
			ProviderName: e.Provider,
			ServiceName:  e.Service,
		},
	}
}

func (s *Store) GetProviders(_ context.Context) (*core.ProvidersResponse, error) {
	m, err := s.Manifest()
	if err != nil {
		return nil, err
	}
	providers := []string{}
	for _, e := range m.Entries() {
		if !slices.Contains(providers, e.Provider) {
			providers = append(providers, e.Provider)
		}
	}
	sort.Strings(providers)
	return &core.ProvidersResponse{Data: providers}, nil
}

func (s *Store) GetProvider(_ context.Context, provider string) (*core.ProviderAPIs, error) {
	list, _, err := s.list()
	if err != nil {
		return nil, err
	}
	apis := make(map[string]core.APIRecord)
	for id, rec := range list {
		if core.ProviderOf(id) == provider {
			apis[id] = rec
		}
	}
	if len(apis) == 0 {
		return nil, core.NewNotFoundError(core.SourceCustom, fmt.Sprintf("provider %s not found", provider))
	}
	return &core.ProviderAPIs{APIs: apis}, nil
}

func (s *Store) GetServices(_ context.Context, provider string) (*core.ServicesResponse, error) {
	m, err := s.Manifest()
	if err != nil {
		return nil, err
	}
	found := false
	services := []string{}
	for _, e := range m.Entries() {
		if e.Provider != provider {
			continue
		}
		found = true
		if e.Service != "" && !slices.Contains(services, e.Service) {
			services = append(services, e.Service)
		}
	}
	if !found {
		return nil, core.NewNotFoundError(core.SourceCustom, fmt.Sprintf("provider %s not found", provider))
	}
	sort.Strings(services)
	return &core.ServicesResponse{Data: services}, nil
}

func (s *Store) GetAPI(_ context.Context, provider, version string) (*core.APIRecord, error) {
	return s.record(provider, version)
}

func (s *Store) GetServiceAPI(_ context.Context, provider, service, version string) (*core.APIRecord, error) {
	return s.record(provider+":"+service, version)
}

// record returns the record of id if it has version
func (s *Store) record(id, version string) (*core.APIRecord, error) {
	list, _, err := s.list()
	if err != nil {
		return nil, err
	}
	rec, ok := list[id]
	if !ok {
		return nil, core.NewNotFoundError(core.SourceCustom, fmt.Sprintf("API %s not found", id))
	}
	if _, ok := rec.Versions[version]; !ok {
		return nil, core.NewNotFoundError(core.SourceCustom, fmt.Sprintf("API %s has no version %s", id, version))
	}
	return &rec, nil
}

func (s *Store) ListAPIs(_ context.Context) (core.APIList, error) {
	list, _, err := s.list()
	return list, err
}

func (s *Store) SearchAPIs(_ context.Context, query string, page, limit int) (*core.SearchResponse, error) {
	list, _, err := s.list()
	if err != nil {
		return nil, err
	}
	hits := []core.SearchResult{}
	for _, id := range list.SortedIDs() {
		hit := core.NewSearchResult(id, list[id])
		if hit.Matches(query) {
			hits = append(hits, hit)
		}
	}
	start, end := core.Window(page, limit, len(hits))
	return &core.SearchResponse{
		Results:    hits[start:end],
		Pagination: core.NewPagination(page, limit, len(hits)),
	}, nil
}

// GetMetrics counts the store's content in the directory metrics shape
func (s *Store) GetMetrics(_ context.Context) (json.RawMessage, error) {
	m, err := s.Manifest()
	if err != nil {
		return nil, err
	}
	var metrics core.Metrics
	apis := make(map[string]struct{})
	providers := make(map[string]struct{})
	for _, e := range m.Specs {
		metrics.NumSpecs++
		metrics.NumEndpoints += int64(e.Endpoints)
		apis[e.ID] = struct{}{}
		providers[e.Provider] = struct{}{}
	}
	metrics.NumAPIs = int64(len(apis))
	metrics.NumProviders = int64(len(providers))
	return json.Marshal(metrics)
}

func (s *Store) HasProvider(_ context.Context, provider string) (bool, error) {
	m, err := s.Manifest()
	if err != nil {
		return false, err
	}
	for _, e := range m.Specs {
		if e.Provider == provider {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) HasAPI(_ context.Context, apiID string) (bool, error) {
	list, _, err := s.list()
	if err != nil {
		return false, err
	}
	_, ok := list.Resolve(apiID)
	return ok, nil
}

func (s *Store) GetAPIEndpoints(ctx context.Context, apiID string, page, limit int, tag string) (*core.EndpointList, error) {
	doc, err := s.document(ctx, apiID)
	if err != nil {
		return nil, err
	}
	return doc.EndpointPage(page, limit, tag), nil
}

func (s *Store) GetEndpointDetails(ctx context.Context, apiID, method, path string) (*core.EndpointDetails, error) {
	doc, err := s.document(ctx, apiID)
	if err != nil {
		return nil, err
	}
	details, err := doc.Details(method, path)
	return details, sourced(err)
}

func (s *Store) GetEndpointSchema(ctx context.Context, apiID, method, path string) (*core.EndpointSchema, error) {
	doc, err := s.document(ctx, apiID)
	if err != nil {
		return nil, err
	}
	schema, err := doc.Schema(method, path)
	return schema, sourced(err)
}

func (s *Store) GetEndpointExamples(ctx context.Context, apiID, method, path string) (*core.EndpointExamples, error) {
	doc, err := s.document(ctx, apiID)
	if err != nil {
		return nil, err
	}
	examples, err := doc.Examples(method, path)
	return examples, sourced(err)
}

func (s *Store) GetOpenAPISpec(ctx context.Context, apiID string) (json.RawMessage, error) {
	doc, err := s.document(ctx, apiID)
	if err != nil {
		return nil, err
	}
	return doc.JSON()
}

// document loads the stored spec of apiID through the sub-cache.
// The cache key carries the update time so a re-import is never served stale.
func (s *Store) document(ctx context.Context, apiID string) (*openapi.Document, error) {
	list, specs, err := s.list()
	if err != nil {
		return nil, err
	}
	resolved, ok := list.Resolve(apiID)
	if !ok {
		return nil, core.NewNotFoundError(core.SourceCustom, fmt.Sprintf("API %s not found", apiID))
	}
	entry := specs[resolved.ID+":"+resolved.Version]

	key := fmt.Sprintf("spec:%s:%d", entry.Key(), entry.Updated.UnixNano())
	data, err := cache.WarmCache(ctx, s.cache, key, s.specTTL, func(context.Context) (json.RawMessage, error) {
		body, err := os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(entry.File)))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, core.NewNotFoundError(core.SourceCustom, fmt.Sprintf("spec file for %s is missing", entry.Key()))
			}
			return nil, core.NewNetworkError(core.SourceCustom, 500, "failed to read spec file", err)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	doc, err := openapi.Parse(data)
	if err != nil {
		return nil, core.NewNetworkError(core.SourceCustom, 500, fmt.Sprintf("stored spec %s is invalid: %v", entry.Key(), err), err)
	}
	return doc, nil
}

func sourced(err error) error {
	var dirErr *core.DirectoryError
	if errors.As(err, &dirErr) && dirErr.Source == "" {
		dirErr.Source = core.SourceCustom
	}
	return err
}
