// Package directory implements core.Source for HTTP directories with the APIs.guru layout.
// The primary public directory and the secondary mirror are both instances of this adapter.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"apidirectory/internal/cache"
	"apidirectory/internal/core"
	"apidirectory/internal/openapi"
	"apidirectory/internal/pkg/dirclient"
)

// TTLs controls how long the adapter keeps each document in its own sub-cache
type TTLs struct {
	List     time.Duration
	Provider time.Duration
	API      time.Duration
	Spec     time.Duration
	Metrics  time.Duration
}

// DefaultTTLs returns the sub-cache TTLs used when none are configured
func DefaultTTLs() TTLs {
	return TTLs{
		List:     24 * time.Hour,
		Provider: 12 * time.Hour,
		API:      8 * time.Hour,
		Spec:     8 * time.Hour,
		Metrics:  time.Hour,
	}
}

// Config configures a directory source
type Config struct {
	// Name is core.SourcePrimary or core.SourceSecondary
	Name   string
	Client *dirclient.Client
	Layout Layout

	// Cache is the adapter's sub-cache; keys are written without a namespace prefix.
	// Nil disables caching in the adapter.
	Cache cache.Store
	TTLs  TTLs
}

// Source reads one HTTP directory
type Source struct {
	name   string
	client *dirclient.Client
	layout Layout
	cache  cache.Store
	ttls   TTLs
}

var _ core.Source = (*Source)(nil)

// New creates a directory source
func New(cfg Config) (*Source, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("source name is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("source %s: client is required", cfg.Name)
	}
	store := cfg.Cache
	if store == nil {
		store = cache.NewNopStore()
	}
	ttls := cfg.TTLs
	if ttls == (TTLs{}) {
		ttls = DefaultTTLs()
	}
	return &Source{
		name:   cfg.Name,
		client: cfg.Client,
		layout: cfg.Layout.withDefaults(),
		cache:  store,
		ttls:   ttls,
	}, nil
}

// Name identifies the source
func (s *Source) Name() string {
	return s.name
}

// fetch reads endpoint through the sub-cache
func fetch[T any](ctx context.Context, s *Source, key, endpoint string, ttl time.Duration) (T, error) {
	return cache.WarmCache(ctx, s.cache, key, ttl, func(ctx context.Context) (T, error) {
		var out T
		err := s.client.GetJSON(ctx, endpoint, &out)
		return out, err
	})
}

func (s *Source) GetProviders(ctx context.Context) (*core.ProvidersResponse, error) {
	resp, err := fetch[core.ProvidersResponse](ctx, s, "providers", s.layout.Providers, s.ttls.List)
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		resp.Data = []string{}
	}
	return &resp, nil
}

func (s *Source) GetProvider(ctx context.Context, provider string) (*core.ProviderAPIs, error) {
	resp, err := fetch[core.ProviderAPIs](ctx, s, "provider:"+provider,
		expand(s.layout.Provider, provider, "", ""), s.ttls.Provider)
	if err != nil {
		return nil, err
	}
	if resp.APIs == nil {
		resp.APIs = map[string]core.APIRecord{}
	}
	return &resp, nil
}

func (s *Source) GetServices(ctx context.Context, provider string) (*core.ServicesResponse, error) {
	resp, err := fetch[core.ServicesResponse](ctx, s, "services:"+provider,
		expand(s.layout.Services, provider, "", ""), s.ttls.Provider)
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		resp.Data = []string{}
	}
	return &resp, nil
}

func (s *Source) GetAPI(ctx context.Context, provider, version string) (*core.APIRecord, error) {
	rec, err := fetch[core.APIRecord](ctx, s, "api:"+provider+":"+version,
		expand(s.layout.API, provider, "", version), s.ttls.API)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Source) GetServiceAPI(ctx context.Context, provider, service, version string) (*core.APIRecord, error) {
	rec, err := fetch[core.APIRecord](ctx, s, "api:"+provider+":"+service+":"+version,
		expand(s.layout.ServiceAPI, provider, service, version), s.ttls.API)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Source) ListAPIs(ctx context.Context) (core.APIList, error) {
	list, err := fetch[core.APIList](ctx, s, "list", s.layout.List, s.ttls.List)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = core.APIList{}
	}
	return list, nil
}

// SearchAPIs filters list.json by substring over id, title and description, ordered by id
func (s *Source) SearchAPIs(ctx context.Context, query string, page, limit int) (*core.SearchResponse, error) {
	list, err := s.ListAPIs(ctx)
	if err != nil {
		return nil, err
	}
	var hits []core.SearchResult
	for _, id := range list.SortedIDs() {
		hit := core.NewSearchResult(id, list[id])
		if hit.Matches(query) {
			hits = append(hits, hit)
		}
	}
	start, end := core.Window(page, limit, len(hits))
	results := slices.Clone(hits[start:end])
	if results == nil {
		results = []core.SearchResult{}
	}
	return &core.SearchResponse{
		Results:    results,
		Pagination: core.NewPagination(page, limit, len(hits)),
	}, nil
}

func (s *Source) GetMetrics(ctx context.Context) (json.RawMessage, error) {
	return fetch[json.RawMessage](ctx, s, "metrics", s.layout.Metrics, s.ttls.Metrics)
}

func (s *Source) HasProvider(ctx context.Context, provider string) (bool, error) {
	resp, err := s.GetProviders(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(resp.Data, provider), nil
}

func (s *Source) HasAPI(ctx context.Context, apiID string) (bool, error) {
	list, err := s.ListAPIs(ctx)
	if err != nil {
		return false, err
	}
	_, ok := list.Resolve(apiID)
	return ok, nil
}

func (s *Source) GetAPIEndpoints(ctx context.Context, apiID string, page, limit int, tag string) (*core.EndpointList, error) {
	doc, err := s.document(ctx, apiID)
	if err != nil {
		return nil, err
	}
	return doc.EndpointPage(page, limit, tag), nil
}

func (s *Source) GetEndpointDetails(ctx context.Context, apiID, method, path string) (*core.EndpointDetails, error) {
	doc, err := s.document(ctx, apiID)
	if err != nil {
		return nil, err
	}
	v, err := doc.Details(method, path)
	return attribute(s.name, v, err)
}

func (s *Source) GetEndpointSchema(ctx context.Context, apiID, method, path string) (*core.EndpointSchema, error) {
	doc, err := s.document(ctx, apiID)
	if err != nil {
		return nil, err
	}
	v, err := doc.Schema(method, path)
	return attribute(s.name, v, err)
}

func (s *Source) GetEndpointExamples(ctx context.Context, apiID, method, path string) (*core.EndpointExamples, error) {
	doc, err := s.document(ctx, apiID)
	if err != nil {
		return nil, err
	}
	v, err := doc.Examples(method, path)
	return attribute(s.name, v, err)
}

func (s *Source) GetOpenAPISpec(ctx context.Context, apiID string) (json.RawMessage, error) {
	doc, err := s.document(ctx, apiID)
	if err != nil {
		return nil, err
	}
	return doc.JSON()
}

// document resolves apiID in list.json and loads the referenced spec through the sub-cache
func (s *Source) document(ctx context.Context, apiID string) (*openapi.Document, error) {
	list, err := s.ListAPIs(ctx)
	if err != nil {
		return nil, err
	}
	resolved, ok := list.Resolve(apiID)
	if !ok {
		return nil, core.NewNotFoundError(s.name, fmt.Sprintf("API %s not found", apiID))
	}
	specURL := resolved.Info.SwaggerURL
	if specURL == "" {
		specURL = resolved.Info.SwaggerYamlURL
	}
	if specURL == "" {
		return nil, core.NewNotFoundError(s.name, fmt.Sprintf("API %s has no spec URL", apiID))
	}

	key := "spec:" + resolved.ID + ":" + resolved.Version
	data, err := cache.WarmCache(ctx, s.cache, key, s.ttls.Spec, func(ctx context.Context) (json.RawMessage, error) {
		body, err := s.client.GetRaw(ctx, specURL)
		if err != nil {
			return nil, err
		}
		doc, err := openapi.Parse(body)
		if err != nil {
			return nil, core.NewNetworkError(s.name, 502, fmt.Sprintf("invalid spec for %s: %v", apiID, err), err)
		}
		return doc.JSON()
	})
	if err != nil {
		return nil, err
	}
	return openapi.Parse(data)
}

// attribute stamps the source name on document errors that were raised without one
func attribute[T any](source string, v T, err error) (T, error) {
	var dirErr *core.DirectoryError
	if errors.As(err, &dirErr) && dirErr.Source == "" {
		dirErr.Source = source
	}
	return v, err
}
