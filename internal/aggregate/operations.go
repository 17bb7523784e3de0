package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"apidirectory/internal/core"
)

// GetProviders returns the union of every source's providers
func (e *Engine) GetProviders(ctx context.Context) (*core.ProvidersResponse, error) {
	return cached(ctx, e, KeyPrefix+"providers", e.ttls.Providers, func(ctx context.Context) (*core.ProvidersResponse, bool, error) {
		outcomes := fanOut(ctx, e, "providers", func(ctx context.Context, src core.Source) (*core.ProvidersResponse, error) {
			return src.GetProviders(ctx)
		})
		var sets [][]string
		for _, o := range outcomes {
			if o.err == nil && o.value != nil {
				sets = append(sets, o.value.Data)
			}
		}
		return &core.ProvidersResponse{Data: unionStrings(sets...)}, succeeded(outcomes), nil
	})
}

// GetProvider returns the APIs of provider from every source. Records with the
// same ApiId come whole from the highest-precedence source that has them.
func (e *Engine) GetProvider(ctx context.Context, provider string) (*core.ProviderAPIs, error) {
	if err := required("provider", provider); err != nil {
		return nil, err
	}
	return cached(ctx, e, KeyPrefix+"provider:"+provider, e.ttls.Provider, func(ctx context.Context) (*core.ProviderAPIs, bool, error) {
		outcomes := fanOut(ctx, e, "provider", func(ctx context.Context, src core.Source) (*core.ProviderAPIs, error) {
			return src.GetProvider(ctx, provider)
		})
		var layers []map[string]core.APIRecord
		for _, o := range outcomes {
			if o.err == nil && o.value != nil {
				layers = append(layers, o.value.APIs)
			}
		}
		return &core.ProviderAPIs{APIs: mergeRecords(layers...)}, succeeded(outcomes), nil
	})
}

// ListAPIs returns every API of every source merged by precedence
func (e *Engine) ListAPIs(ctx context.Context) (core.APIList, error) {
	return cached(ctx, e, KeyPrefix+"list", e.ttls.Providers, func(ctx context.Context) (core.APIList, bool, error) {
		outcomes := fanOut(ctx, e, "list", func(ctx context.Context, src core.Source) (core.APIList, error) {
			return src.ListAPIs(ctx)
		})
		var layers []map[string]core.APIRecord
		for _, o := range outcomes {
			if o.err == nil {
				layers = append(layers, o.value)
			}
		}
		return core.APIList(mergeRecords(layers...)), succeeded(outcomes), nil
	})
}

// GetServices returns the services of provider from the first source that has it
func (e *Engine) GetServices(ctx context.Context, provider string) (*core.ServicesResponse, error) {
	if err := required("provider", provider); err != nil {
		return nil, err
	}
	return cached(ctx, e, KeyPrefix+"services:"+provider, e.ttls.Provider, func(ctx context.Context) (*core.ServicesResponse, bool, error) {
		v, _, err := fallbackChain(ctx, e, "services", []string{provider}, hasProvider,
			func(ctx context.Context, src core.Source, provider string) (*core.ServicesResponse, error) {
				return src.GetServices(ctx, provider)
			})
		return v, true, err
	})
}

// GetAPI returns the record of provider at version from the first source that has it
func (e *Engine) GetAPI(ctx context.Context, provider, version string) (*core.APIRecord, error) {
	if err := required("provider", provider); err != nil {
		return nil, err
	}
	if err := required("version", version); err != nil {
		return nil, err
	}
	id := provider + ":" + version
	return cached(ctx, e, KeyPrefix+"api:"+id, e.ttls.API, func(ctx context.Context) (*core.APIRecord, bool, error) {
		v, _, err := fallbackChain(ctx, e, "api", []string{id}, hasAPI,
			func(ctx context.Context, src core.Source, _ string) (*core.APIRecord, error) {
				return src.GetAPI(ctx, provider, version)
			})
		return v, true, err
	})
}

// GetServiceAPI returns the record of provider:service at version from the first source that has it
func (e *Engine) GetServiceAPI(ctx context.Context, provider, service, version string) (*core.APIRecord, error) {
	if err := required("provider", provider); err != nil {
		return nil, err
	}
	if err := required("service", service); err != nil {
		return nil, err
	}
	if err := required("version", version); err != nil {
		return nil, err
	}
	id := provider + ":" + service + ":" + version
	return cached(ctx, e, KeyPrefix+"api:"+id, e.ttls.API, func(ctx context.Context) (*core.APIRecord, bool, error) {
		v, _, err := fallbackChain(ctx, e, "service_api", []string{id}, hasAPI,
			func(ctx context.Context, src core.Source, _ string) (*core.APIRecord, error) {
				return src.GetServiceAPI(ctx, provider, service, version)
			})
		return v, true, err
	})
}

// SearchAPIs searches every source and returns one page of the deduplicated matches.
// The primary answers with its native search; the other sources are filtered locally.
// Matches are ordered custom, secondary, primary and the first occurrence of an id wins.
func (e *Engine) SearchAPIs(ctx context.Context, query string, page, limit int) (*core.SearchResponse, error) {
	if err := required("query", query); err != nil {
		return nil, err
	}
	if err := validatePage(page, limit); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%ssearch:%s:%d:%d", KeyPrefix, query, page, limit)
	return cached(ctx, e, key, e.ttls.Search, func(ctx context.Context) (*core.SearchResponse, bool, error) {
		outcomes := fanOut(ctx, e, "search", func(ctx context.Context, src core.Source) ([]core.SearchResult, error) {
			if src == e.primary {
				return e.searchAll(ctx, src, query)
			}
			list, err := src.ListAPIs(ctx)
			if err != nil {
				return nil, err
			}
			return filterList(list, query), nil
		})
		var groups [][]core.SearchResult
		for _, o := range outcomes {
			if o.err == nil {
				groups = append(groups, o.value)
			}
		}
		hits := dedupResults(groups...)
		start, end := core.Window(page, limit, len(hits))
		return &core.SearchResponse{
			Results:    hits[start:end],
			Pagination: core.NewPagination(page, limit, len(hits)),
		}, succeeded(outcomes), nil
	})
}

// searchAll collects the primary's native search results page by page
func (e *Engine) searchAll(ctx context.Context, src core.Source, query string) ([]core.SearchResult, error) {
	var all []core.SearchResult
	for page := 1; page <= e.searchPages; page++ {
		resp, err := src.SearchAPIs(ctx, query, page, searchPageSize)
		if err != nil {
			if page > 1 {
				// keep what the earlier pages returned
				return all, nil
			}
			return nil, err
		}
		all = append(all, resp.Results...)
		if !resp.Pagination.HasNext {
			break
		}
	}
	return all, nil
}

// GetMetrics sums the numeric counters of every source
func (e *Engine) GetMetrics(ctx context.Context) (*core.Metrics, error) {
	return cached(ctx, e, KeyPrefix+"metrics", e.ttls.Metrics, func(ctx context.Context) (*core.Metrics, bool, error) {
		outcomes := fanOut(ctx, e, "metrics", func(ctx context.Context, src core.Source) (json.RawMessage, error) {
			return src.GetMetrics(ctx)
		})
		var docs []json.RawMessage
		for _, o := range outcomes {
			if o.err == nil {
				docs = append(docs, o.value)
			}
		}
		return sumMetrics(docs...), succeeded(outcomes), nil
	})
}

// GetPopularAPIs ranks the merged list by well-known providers, then by version count
func (e *Engine) GetPopularAPIs(ctx context.Context, limit int) ([]core.SearchResult, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	key := KeyPrefix + "popular:" + strconv.Itoa(limit)
	return cached(ctx, e, key, e.ttls.Popular, func(ctx context.Context) ([]core.SearchResult, bool, error) {
		list, err := e.ListAPIs(ctx)
		if err != nil {
			return nil, false, err
		}
		return rankPopular(list, limit), len(list) > 0, nil
	})
}

// GetRecentlyUpdatedAPIs orders the merged list by the update time of the preferred version
func (e *Engine) GetRecentlyUpdatedAPIs(ctx context.Context, limit int) ([]core.SearchResult, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	key := KeyPrefix + "recent:" + strconv.Itoa(limit)
	return cached(ctx, e, key, e.ttls.Recent, func(ctx context.Context) ([]core.SearchResult, bool, error) {
		list, err := e.ListAPIs(ctx)
		if err != nil {
			return nil, false, err
		}
		return rankRecent(list, limit), len(list) > 0, nil
	})
}

// GetAPISummary describes apiID using the first source that knows it
func (e *Engine) GetAPISummary(ctx context.Context, apiID string) (*core.APISummary, error) {
	if err := required("api id", apiID); err != nil {
		return nil, err
	}
	return cached(ctx, e, KeyPrefix+"summary:"+apiID, e.ttls.API, func(ctx context.Context) (*core.APISummary, bool, error) {
		v, _, err := fallbackChain(ctx, e, "summary", candidates(apiID), hasAPI,
			func(ctx context.Context, src core.Source, id string) (*core.APISummary, error) {
				list, err := src.ListAPIs(ctx)
				if err != nil {
					return nil, err
				}
				resolved, ok := list.Resolve(id)
				if !ok {
					return nil, core.NewNotFoundError(src.Name(), fmt.Sprintf("API %s not found", id))
				}
				return core.NewAPISummary(resolved.ID, resolved.Record, src.Name()), nil
			})
		return v, true, err
	})
}

// GetOpenAPISpec returns the document of apiID from the first source that knows it
func (e *Engine) GetOpenAPISpec(ctx context.Context, apiID string) (json.RawMessage, error) {
	if err := required("api id", apiID); err != nil {
		return nil, err
	}
	return cached(ctx, e, KeyPrefix+"spec:"+apiID, e.ttls.Spec, func(ctx context.Context) (json.RawMessage, bool, error) {
		v, _, err := fallbackChain(ctx, e, "spec", candidates(apiID), hasAPI,
			func(ctx context.Context, src core.Source, id string) (json.RawMessage, error) {
				return src.GetOpenAPISpec(ctx, id)
			})
		return v, true, err
	})
}

// GetAPIEndpoints lists one page of the endpoints of apiID. The endpoints of one
// API always come from a single source.
func (e *Engine) GetAPIEndpoints(ctx context.Context, apiID string, page, limit int, tag string) (*core.EndpointList, error) {
	if err := required("api id", apiID); err != nil {
		return nil, err
	}
	if err := validatePage(page, limit); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%sendpoints:%s:%d:%d:%s", KeyPrefix, apiID, page, limit, tag)
	return cached(ctx, e, key, e.ttls.Endpoints, func(ctx context.Context) (*core.EndpointList, bool, error) {
		v, _, err := fallbackChain(ctx, e, "endpoints", candidates(apiID), hasAPI,
			func(ctx context.Context, src core.Source, id string) (*core.EndpointList, error) {
				return src.GetAPIEndpoints(ctx, id, page, limit, tag)
			})
		return v, true, err
	})
}

// GetEndpointDetails describes one operation of apiID
func (e *Engine) GetEndpointDetails(ctx context.Context, apiID, method, path string) (*core.EndpointDetails, error) {
	return endpoint(ctx, e, "details", apiID, method, path,
		func(ctx context.Context, src core.Source, id, method, path string) (*core.EndpointDetails, error) {
			return src.GetEndpointDetails(ctx, id, method, path)
		})
}

// GetEndpointSchema returns the request and response schemas of one operation of apiID
func (e *Engine) GetEndpointSchema(ctx context.Context, apiID, method, path string) (*core.EndpointSchema, error) {
	return endpoint(ctx, e, "schema", apiID, method, path,
		func(ctx context.Context, src core.Source, id, method, path string) (*core.EndpointSchema, error) {
			return src.GetEndpointSchema(ctx, id, method, path)
		})
}

// GetEndpointExamples returns the request and response examples of one operation of apiID
func (e *Engine) GetEndpointExamples(ctx context.Context, apiID, method, path string) (*core.EndpointExamples, error) {
	return endpoint(ctx, e, "examples", apiID, method, path,
		func(ctx context.Context, src core.Source, id, method, path string) (*core.EndpointExamples, error) {
			return src.GetEndpointExamples(ctx, id, method, path)
		})
}

func endpoint[T any](
	ctx context.Context,
	e *Engine,
	kind, apiID, method, path string,
	fetch func(ctx context.Context, src core.Source, id, method, path string) (T, error),
) (T, error) {
	var zero T
	if err := required("api id", apiID); err != nil {
		return zero, err
	}
	if err := required("method", method); err != nil {
		return zero, err
	}
	if err := required("path", path); err != nil {
		return zero, err
	}
	method = strings.ToUpper(method)
	key := fmt.Sprintf("%sendpoint:%s:%s:%s:%s", KeyPrefix, kind, apiID, method, path)
	return cached(ctx, e, key, e.ttls.Spec, func(ctx context.Context) (T, bool, error) {
		v, _, err := fallbackChain(ctx, e, "endpoint_"+kind, candidates(apiID), hasAPI,
			func(ctx context.Context, src core.Source, id string) (T, error) {
				return fetch(ctx, src, id, method, path)
			})
		return v, true, err
	})
}
