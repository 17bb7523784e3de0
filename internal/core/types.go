package core

import (
	"encoding/json"
	"sort"
	"strings"
)

// Info carries the descriptive part of a version entry
type Info struct {
	Title        string   `json:"title,omitempty"`
	Version      string   `json:"version,omitempty"`
	Description  string   `json:"description,omitempty"`
	Categories   []string `json:"x-apisguru-categories,omitempty"`
	ProviderName string   `json:"x-providerName,omitempty"`
	ServiceName  string   `json:"x-serviceName,omitempty"`
	Logo         *Logo    `json:"x-logo,omitempty"`
	Contact      *Contact `json:"contact,omitempty"`
}

// Logo is the x-logo extension used by directory entries
type Logo struct {
	URL string `json:"url"`
}

// Contact is the info.contact object of an OpenAPI document
type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

// ExternalDocs points to documentation outside the spec
type ExternalDocs struct {
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
}

// VersionInfo describes one version of an API
type VersionInfo struct {
	Added          string        `json:"added,omitempty"`
	Updated        string        `json:"updated,omitempty"`
	SwaggerURL     string        `json:"swaggerUrl,omitempty"`
	SwaggerYamlURL string        `json:"swaggerYamlUrl,omitempty"`
	OpenAPIVer     string        `json:"openapiVer,omitempty"`
	Link           string        `json:"link,omitempty"`
	Info           Info          `json:"info"`
	ExternalDocs   *ExternalDocs `json:"externalDocs,omitempty"`
}

// APIRecord is one API with all of its known versions.
// Preferred must be a key of Versions.
type APIRecord struct {
	Added     string                 `json:"added,omitempty"`
	Preferred string                 `json:"preferred"`
	Versions  map[string]VersionInfo `json:"versions"`
}

// PreferredVersion returns the VersionInfo of the preferred version.
// When Preferred is missing from Versions the lexically greatest version is used.
func (r *APIRecord) PreferredVersion() (string, VersionInfo, bool) {
	if r == nil || len(r.Versions) == 0 {
		return "", VersionInfo{}, false
	}
	if v, ok := r.Versions[r.Preferred]; ok {
		return r.Preferred, v, true
	}
	keys := r.VersionKeys()
	last := keys[len(keys)-1]
	return last, r.Versions[last], true
}

// VersionKeys returns the version keys in sorted order
func (r *APIRecord) VersionKeys() []string {
	keys := make([]string, 0, len(r.Versions))
	for k := range r.Versions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// APIList maps an ApiId to its record, as served by list.json
type APIList map[string]APIRecord

// SortedIDs returns the ids of the list in ascending order
func (l APIList) SortedIDs() []string {
	ids := make([]string, 0, len(l))
	for id := range l {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResolvedAPI is the result of resolving an ApiId against an APIList
type ResolvedAPI struct {
	ID      string
	Version string
	Record  APIRecord
	Info    VersionInfo
}

// Resolve finds apiID in the list. An exact id match resolves to the preferred
// version. Otherwise the last segment is treated as a version of the prefix id,
// and it resolves only if the prefix record knows that version.
func (l APIList) Resolve(apiID string) (*ResolvedAPI, bool) {
	if rec, ok := l[apiID]; ok {
		ver, info, ok := rec.PreferredVersion()
		if !ok {
			return nil, false
		}
		return &ResolvedAPI{ID: apiID, Version: ver, Record: rec, Info: info}, true
	}
	base, ver, ok := SplitVersion(apiID)
	if !ok {
		return nil, false
	}
	rec, ok := l[base]
	if !ok {
		return nil, false
	}
	info, ok := rec.Versions[ver]
	if !ok {
		return nil, false
	}
	return &ResolvedAPI{ID: base, Version: ver, Record: rec, Info: info}, true
}

// SplitVersion splits "a:b:c" into ("a:b", "c"). It fails for ids without a colon.
func SplitVersion(apiID string) (string, string, bool) {
	i := strings.LastIndex(apiID, ":")
	if i <= 0 || i == len(apiID)-1 {
		return "", "", false
	}
	return apiID[:i], apiID[i+1:], true
}

// APIPrefix drops the trailing version segment of an ApiId with three segments,
// or the second segment of a two-segment id. Single-segment ids have no prefix.
func APIPrefix(apiID string) (string, bool) {
	base, _, ok := SplitVersion(apiID)
	return base, ok
}

// ProviderOf returns the provider segment of an ApiId
func ProviderOf(apiID string) string {
	provider, _, _ := strings.Cut(apiID, ":")
	return provider
}

// ServiceOf returns the service segment of an unversioned "provider:service" id
func ServiceOf(apiID string) string {
	_, rest, ok := strings.Cut(apiID, ":")
	if !ok {
		return ""
	}
	service, _, _ := strings.Cut(rest, ":")
	return service
}

// ProvidersResponse is the body of providers.json
type ProvidersResponse struct {
	Data []string `json:"data"`
}

// ServicesResponse is the body of {provider}/services.json
type ServicesResponse struct {
	Data []string `json:"data"`
}

// ProviderAPIs is the body of {provider}.json
type ProviderAPIs struct {
	APIs map[string]APIRecord `json:"apis"`
}

// SearchResult is one hit of a search
type SearchResult struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Provider    string   `json:"provider"`
	Preferred   string   `json:"preferred"`
	Categories  []string `json:"categories"`
}

// NewSearchResult builds a search hit from a list entry
func NewSearchResult(id string, rec APIRecord) SearchResult {
	ver, info, _ := rec.PreferredVersion()
	provider := info.Info.ProviderName
	if provider == "" {
		provider = ProviderOf(id)
	}
	categories := info.Info.Categories
	if categories == nil {
		categories = []string{}
	}
	return SearchResult{
		ID:          id,
		Title:       info.Info.Title,
		Description: info.Info.Description,
		Provider:    provider,
		Preferred:   ver,
		Categories:  categories,
	}
}

// Matches reports whether id, title or description contain query, case-insensitively
func (r SearchResult) Matches(query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(r.ID), q) ||
		strings.Contains(strings.ToLower(r.Title), q) ||
		strings.Contains(strings.ToLower(r.Description), q)
}

// Pagination describes a page window over a result set
type Pagination struct {
	Page         int  `json:"page"`
	Limit        int  `json:"limit"`
	TotalResults int  `json:"total_results"`
	TotalPages   int  `json:"total_pages"`
	HasNext      bool `json:"has_next"`
	HasPrevious  bool `json:"has_previous"`
}

// NewPagination computes the pagination block for total results
func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{
		Page:         page,
		Limit:        limit,
		TotalResults: total,
		TotalPages:   pages,
		HasNext:      page < pages,
		HasPrevious:  page > 1,
	}
}

// Window returns the [start, end) bounds of page within total items
func Window(page, limit, total int) (int, int) {
	if page < 1 || limit <= 0 || page-1 > total/limit {
		return total, total
	}
	start := min((page-1)*limit, total)
	end := start + limit
	if end > total {
		end = total
	}
	return start, end
}

// SearchResponse is a page of search results
type SearchResponse struct {
	Results    []SearchResult `json:"results"`
	Pagination Pagination     `json:"pagination"`
}

// Metrics is the directory-wide counter snapshot. All counters are additive across sources.
type Metrics struct {
	NumSpecs     int64 `json:"numSpecs"`
	NumAPIs      int64 `json:"numAPIs"`
	NumEndpoints int64 `json:"numEndpoints"`
	NumProviders int64 `json:"numProviders"`
	Unreachable  int64 `json:"unreachable"`
	Invalid      int64 `json:"invalid"`
	Unofficial   int64 `json:"unofficial"`
	Fixes        int64 `json:"fixes"`
}

// MetricFields lists the JSON names of the additive Metrics counters
var MetricFields = []string{
	"numSpecs", "numAPIs", "numEndpoints", "numProviders",
	"unreachable", "invalid", "unofficial", "fixes",
}

// Field returns a pointer to the counter named by its JSON field name
func (m *Metrics) Field(name string) *int64 {
	switch name {
	case "numSpecs":
		return &m.NumSpecs
	case "numAPIs":
		return &m.NumAPIs
	case "numEndpoints":
		return &m.NumEndpoints
	case "numProviders":
		return &m.NumProviders
	case "unreachable":
		return &m.Unreachable
	case "invalid":
		return &m.Invalid
	case "unofficial":
		return &m.Unofficial
	case "fixes":
		return &m.Fixes
	}
	return nil
}

// EndpointSummary is one operation in an endpoint listing
type EndpointSummary struct {
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	Summary     string   `json:"summary,omitempty"`
	Description string   `json:"description,omitempty"`
	OperationID string   `json:"operationId,omitempty"`
	Tags        []string `json:"tags"`
	Deprecated  bool     `json:"deprecated,omitempty"`
}

// EndpointList is a page of endpoints of one API version
type EndpointList struct {
	Results       []EndpointSummary `json:"results"`
	Pagination    Pagination        `json:"pagination"`
	AvailableTags []string          `json:"available_tags"`
}

// Parameter is one operation parameter
type Parameter struct {
	Name        string `json:"name"`
	In          string `json:"in"`
	Required    bool   `json:"required"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// ResponseInfo is one documented response of an operation
type ResponseInfo struct {
	Code         string   `json:"code"`
	Description  string   `json:"description,omitempty"`
	ContentTypes []string `json:"content_types,omitempty"`
}

// EndpointDetails describes one operation without its schemas
type EndpointDetails struct {
	Method      string                `json:"method"`
	Path        string                `json:"path"`
	Summary     string                `json:"summary,omitempty"`
	Description string                `json:"description,omitempty"`
	OperationID string                `json:"operationId,omitempty"`
	Tags        []string              `json:"tags"`
	Deprecated  bool                  `json:"deprecated,omitempty"`
	Parameters  []Parameter           `json:"parameters"`
	Responses   []ResponseInfo        `json:"responses"`
	Consumes    []string              `json:"consumes,omitempty"`
	Produces    []string              `json:"produces,omitempty"`
	Security    []map[string][]string `json:"security,omitempty"`
}

// EndpointSchema carries the resolved request and response schemas of one operation
type EndpointSchema struct {
	Method      string                     `json:"method"`
	Path        string                     `json:"path"`
	Parameters  []json.RawMessage          `json:"parameters,omitempty"`
	RequestBody json.RawMessage            `json:"requestBody,omitempty"`
	Responses   map[string]json.RawMessage `json:"responses,omitempty"`
}

// Example is one request or response example
type Example struct {
	ContentType string          `json:"content_type,omitempty"`
	StatusCode  string          `json:"status_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Value       json.RawMessage `json:"example"`
}

// EndpointExamples lists the examples documented for one operation
type EndpointExamples struct {
	Method           string    `json:"method"`
	Path             string    `json:"path"`
	RequestExamples  []Example `json:"request_examples"`
	ResponseExamples []Example `json:"response_examples"`
}

// APISummary is a compact description of one API
type APISummary struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Provider     string        `json:"provider"`
	Service      string        `json:"service,omitempty"`
	Preferred    string        `json:"preferred"`
	Versions     []string      `json:"versions"`
	Categories   []string      `json:"categories"`
	Updated      string        `json:"updated,omitempty"`
	SwaggerURL   string        `json:"swaggerUrl,omitempty"`
	ExternalDocs *ExternalDocs `json:"externalDocs,omitempty"`
	Source       string        `json:"source"`
}

// NewAPISummary summarizes rec under id
func NewAPISummary(id string, rec APIRecord, source string) *APISummary {
	ver, info, _ := rec.PreferredVersion()
	hit := NewSearchResult(id, rec)
	return &APISummary{
		ID:           id,
		Title:        hit.Title,
		Description:  hit.Description,
		Provider:     hit.Provider,
		Service:      ServiceOf(id),
		Preferred:    ver,
		Versions:     rec.VersionKeys(),
		Categories:   hit.Categories,
		Updated:      info.Updated,
		SwaggerURL:   info.SwaggerURL,
		ExternalDocs: info.ExternalDocs,
		Source:       source,
	}
}
