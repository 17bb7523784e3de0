// Package sourcetest provides an in-memory core.Source for engine and server tests.
package sourcetest

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"apidirectory/internal/core"
	"apidirectory/internal/openapi"
)

// Fake serves a fixed APIList. Every method can be delayed or made to fail.
type Fake struct {
	SourceName string
	APIs       core.APIList
	// Specs maps an ApiId (without version) to its OpenAPI document
	Specs   map[string][]byte
	Metrics json.RawMessage

	// Delay is applied to every call before it answers
	Delay time.Duration
	// Err fails every call
	Err error
	// FailOn fails the named methods only
	FailOn map[string]error
	// Panic makes every call panic
	Panic bool

	mu    sync.Mutex
	calls map[string]int
}

var _ core.Source = (*Fake)(nil)

// New returns a fake named name serving apis
func New(name string, apis core.APIList) *Fake {
	if apis == nil {
		apis = core.APIList{}
	}
	return &Fake{SourceName: name, APIs: apis, Specs: map[string][]byte{}}
}

// Record builds a single-version record
func Record(version, title, description string) core.APIRecord {
	return core.APIRecord{
		Preferred: version,
		Versions: map[string]core.VersionInfo{
			version: {Info: core.Info{Title: title, Version: version, Description: description}},
		},
	}
}

// Calls returns how often method was called
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// TotalCalls returns the number of calls across all methods
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *Fake) enter(ctx context.Context, method string) error {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[method]++
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return core.NewTimeoutError(f.SourceName, "request timed out", ctx.Err())
		}
	}
	if f.Panic {
		panic(fmt.Sprintf("%s: %s exploded", f.SourceName, method))
	}
	if err, ok := f.FailOn[method]; ok {
		return err
	}
	return f.Err
}

func (f *Fake) notFound(what string) error {
	return core.NewNotFoundError(f.SourceName, what+" not found")
}

func (f *Fake) Name() string {
	return f.SourceName
}

func (f *Fake) GetProviders(ctx context.Context) (*core.ProvidersResponse, error) {
	if err := f.enter(ctx, "GetProviders"); err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for id := range f.APIs {
		seen[core.ProviderOf(id)] = struct{}{}
	}
	providers := slices.Sorted(maps.Keys(seen))
	if providers == nil {
		providers = []string{}
	}
	return &core.ProvidersResponse{Data: providers}, nil
}

func (f *Fake) GetProvider(ctx context.Context, provider string) (*core.ProviderAPIs, error) {
	if err := f.enter(ctx, "GetProvider"); err != nil {
		return nil, err
	}
	apis := map[string]core.APIRecord{}
	for id, rec := range f.APIs {
		if core.ProviderOf(id) == provider {
			apis[id] = rec
		}
	}
	if len(apis) == 0 {
		return nil, f.notFound("provider " + provider)
	}
	return &core.ProviderAPIs{APIs: apis}, nil
}

func (f *Fake) GetServices(ctx context.Context, provider string) (*core.ServicesResponse, error) {
	if err := f.enter(ctx, "GetServices"); err != nil {
		return nil, err
	}
	found := false
	services := []string{}
	for id := range f.APIs {
		if core.ProviderOf(id) != provider {
			continue
		}
		found = true
		if svc := core.ServiceOf(id); svc != "" {
			services = append(services, svc)
		}
	}
	if !found {
		return nil, f.notFound("provider " + provider)
	}
	sort.Strings(services)
	return &core.ServicesResponse{Data: services}, nil
}

func (f *Fake) GetAPI(ctx context.Context, provider, version string) (*core.APIRecord, error) {
	if err := f.enter(ctx, "GetAPI"); err != nil {
		return nil, err
	}
	return f.record(provider, version)
}

func (f *Fake) GetServiceAPI(ctx context.Context, provider, service, version string) (*core.APIRecord, error) {
	if err := f.enter(ctx, "GetServiceAPI"); err != nil {
		return nil, err
	}
	return f.record(provider+":"+service, version)
}

func (f *Fake) record(id, version string) (*core.APIRecord, error) {
	rec, ok := f.APIs[id]
	if !ok {
		return nil, f.notFound("API " + id)
	}
	if _, ok := rec.Versions[version]; !ok {
		return nil, f.notFound("version " + version + " of " + id)
	}
	return &rec, nil
}

func (f *Fake) ListAPIs(ctx context.Context) (core.APIList, error) {
	if err := f.enter(ctx, "ListAPIs"); err != nil {
		return nil, err
	}
	return maps.Clone(f.APIs), nil
}

func (f *Fake) SearchAPIs(ctx context.Context, query string, page, limit int) (*core.SearchResponse, error) {
	if err := f.enter(ctx, "SearchAPIs"); err != nil {
		return nil, err
	}
	hits := []core.SearchResult{}
	for _, id := range f.APIs.SortedIDs() {
		if hit := core.NewSearchResult(id, f.APIs[id]); hit.Matches(query) {
			hits = append(hits, hit)
		}
	}
	start, end := core.Window(page, limit, len(hits))
	return &core.SearchResponse{
		Results:    hits[start:end],
		Pagination: core.NewPagination(page, limit, len(hits)),
	}, nil
}

func (f *Fake) GetMetrics(ctx context.Context) (json.RawMessage, error) {
	if err := f.enter(ctx, "GetMetrics"); err != nil {
		return nil, err
	}
	if f.Metrics == nil {
		return json.RawMessage(`{}`), nil
	}
	return f.Metrics, nil
}

func (f *Fake) HasProvider(ctx context.Context, provider string) (bool, error) {
	if err := f.enter(ctx, "HasProvider"); err != nil {
		return false, err
	}
	for id := range f.APIs {
		if core.ProviderOf(id) == provider {
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) HasAPI(ctx context.Context, apiID string) (bool, error) {
	if err := f.enter(ctx, "HasAPI"); err != nil {
		return false, err
	}
	_, ok := f.APIs.Resolve(apiID)
	return ok, nil
}

func (f *Fake) document(apiID string) (*openapi.Document, error) {
	resolved, ok := f.APIs.Resolve(apiID)
	if !ok {
		return nil, f.notFound("API " + apiID)
	}
	data, ok := f.Specs[resolved.ID]
	if !ok {
		return nil, f.notFound("spec of " + apiID)
	}
	return openapi.Parse(data)
}

func (f *Fake) GetAPIEndpoints(ctx context.Context, apiID string, page, limit int, tag string) (*core.EndpointList, error) {
	if err := f.enter(ctx, "GetAPIEndpoints"); err != nil {
		return nil, err
	}
	doc, err := f.document(apiID)
	if err != nil {
		return nil, err
	}
	return doc.EndpointPage(page, limit, tag), nil
}

func (f *Fake) GetEndpointDetails(ctx context.Context, apiID, method, path string) (*core.EndpointDetails, error) {
	if err := f.enter(ctx, "GetEndpointDetails"); err != nil {
		return nil, err
	}
	doc, err := f.document(apiID)
	if err != nil {
		return nil, err
	}
	return doc.Details(method, path)
}

func (f *Fake) GetEndpointSchema(ctx context.Context, apiID, method, path string) (*core.EndpointSchema, error) {
	if err := f.enter(ctx, "GetEndpointSchema"); err != nil {
		return nil, err
	}
	doc, err := f.document(apiID)
	if err != nil {
		return nil, err
	}
	return doc.Schema(method, path)
}

func (f *Fake) GetEndpointExamples(ctx context.Context, apiID, method, path string) (*core.EndpointExamples, error) {
	if err := f.enter(ctx, "GetEndpointExamples"); err != nil {
		return nil, err
	}
	doc, err := f.document(apiID)
	if err != nil {
		return nil, err
	}
	return doc.Examples(method, path)
}

func (f *Fake) GetOpenAPISpec(ctx context.Context, apiID string) (json.RawMessage, error) {
	if err := f.enter(ctx, "GetOpenAPISpec"); err != nil {
		return nil, err
	}
	doc, err := f.document(apiID)
	if err != nil {
		return nil, err
	}
	return doc.JSON()
}
