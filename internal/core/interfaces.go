package core

import (
	"context"
	"encoding/json"
)

// Source names in precedence order, highest first
const (
	SourceCustom    = "custom"
	SourceSecondary = "secondary"
	SourcePrimary   = "primary"
)

// Source is the read surface every directory adapter implements.
// The aggregation engine depends on nothing else.
type Source interface {
	// Name identifies the source in logs, metrics and error messages
	Name() string

	GetProviders(ctx context.Context) (*ProvidersResponse, error)
	GetProvider(ctx context.Context, provider string) (*ProviderAPIs, error)
	GetServices(ctx context.Context, provider string) (*ServicesResponse, error)
	GetAPI(ctx context.Context, provider, version string) (*APIRecord, error)
	GetServiceAPI(ctx context.Context, provider, service, version string) (*APIRecord, error)
	ListAPIs(ctx context.Context) (APIList, error)
	SearchAPIs(ctx context.Context, query string, page, limit int) (*SearchResponse, error)

	// GetMetrics returns the raw metrics document; the engine coerces malformed fields
	GetMetrics(ctx context.Context) (json.RawMessage, error)

	HasProvider(ctx context.Context, provider string) (bool, error)
	HasAPI(ctx context.Context, apiID string) (bool, error)

	GetAPIEndpoints(ctx context.Context, apiID string, page, limit int, tag string) (*EndpointList, error)
	GetEndpointDetails(ctx context.Context, apiID, method, path string) (*EndpointDetails, error)
	GetEndpointSchema(ctx context.Context, apiID, method, path string) (*EndpointSchema, error)
	GetEndpointExamples(ctx context.Context, apiID, method, path string) (*EndpointExamples, error)

	// GetOpenAPISpec returns the preferred version's document as JSON
	GetOpenAPISpec(ctx context.Context, apiID string) (json.RawMessage, error)
}
