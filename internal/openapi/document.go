// Package openapi reads OpenAPI 3.x and Swagger 2.0 documents and extracts the
// endpoint views served by the directory.
package openapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/tidwall/gjson"
	"sigs.k8s.io/yaml"

	"apidirectory/internal/core"
)

// httpMethods in the order endpoints are listed for one path
var httpMethods = []string{
	http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete,
	http.MethodOptions, http.MethodHead, http.MethodPatch, http.MethodTrace,
}

// Document is a parsed OpenAPI or Swagger document. Swagger 2.0 input is
// converted to the OpenAPI 3 model; the original is kept for the fields the
// conversion drops.
type Document struct {
	spec    *openapi3.T
	swagger *openapi2.T
	source  json.RawMessage
}

// Parse decodes a JSON or YAML document and resolves its local references.
func Parse(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	encoded, err := yaml.YAMLToJSON(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	root := gjson.ParseBytes(encoded)
	if !root.IsObject() {
		return nil, fmt.Errorf("document root is not a mapping")
	}

	loader := openapi3.NewLoader()
	doc := &Document{source: encoded}
	switch {
	case root.Get("openapi").Exists():
		doc.spec, err = loader.LoadFromData(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid OpenAPI document: %w", err)
		}
	case root.Get("swagger").Exists():
		var v2 openapi2.T
		if err := json.Unmarshal(encoded, &v2); err != nil {
			return nil, fmt.Errorf("invalid Swagger document: %w", err)
		}
		doc.swagger = &v2
		doc.spec, err = openapi2conv.ToV3WithLoader(&v2, loader, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to convert Swagger document: %w", err)
		}
	default:
		return nil, fmt.Errorf("document has neither openapi nor swagger version")
	}
	return doc, nil
}

// JSON returns the document as received, encoded as JSON
func (d *Document) JSON() (json.RawMessage, error) {
	return d.source, nil
}

// IsSwagger2 reports whether the document uses the Swagger 2.0 layout
func (d *Document) IsSwagger2() bool {
	return d.swagger != nil
}

// SpecVersion returns the openapi or swagger version string
func (d *Document) SpecVersion() string {
	if d.swagger != nil {
		return d.swagger.Swagger
	}
	return d.spec.OpenAPI
}

// Info returns the document's info block
func (d *Document) Info() core.Info {
	info := d.spec.Info
	if info == nil {
		return core.Info{}
	}
	out := core.Info{
		Title:        info.Title,
		Version:      info.Version,
		Description:  info.Description,
		ProviderName: extString(info.Extensions, "x-providerName"),
		ServiceName:  extString(info.Extensions, "x-serviceName"),
	}
	if cats, ok := info.Extensions["x-apisguru-categories"].([]any); ok {
		for _, c := range cats {
			out.Categories = append(out.Categories, fmt.Sprint(c))
		}
	}
	if logo, ok := info.Extensions["x-logo"].(map[string]any); ok {
		out.Logo = &core.Logo{URL: extString(logo, "url")}
	}
	if c := info.Contact; c != nil {
		out.Contact = &core.Contact{Name: c.Name, Email: c.Email, URL: c.URL}
	}
	return out
}

// ExternalDocs returns the top-level externalDocs, if any
func (d *Document) ExternalDocs() *core.ExternalDocs {
	docs := d.spec.ExternalDocs
	if docs == nil {
		return nil
	}
	return &core.ExternalDocs{Description: docs.Description, URL: docs.URL}
}

type operation struct {
	method   string
	path     string
	op       *openapi3.Operation
	pathItem *openapi3.PathItem
}

// operations lists every operation sorted by path, then by method order
func (d *Document) operations() []operation {
	paths := d.spec.Paths.Map()
	keys := make([]string, 0, len(paths))
	for p := range paths {
		keys = append(keys, p)
	}
	sort.Strings(keys)

	var ops []operation
	for _, p := range keys {
		item := paths[p]
		if item == nil {
			continue
		}
		for _, m := range httpMethods {
			if op := item.GetOperation(m); op != nil {
				ops = append(ops, operation{method: m, path: p, op: op, pathItem: item})
			}
		}
	}
	return ops
}

func (d *Document) find(method, path string) (operation, error) {
	m := strings.ToUpper(method)
	item := d.spec.Paths.Value(path)
	if item == nil {
		return operation{}, core.NewNotFoundError("", fmt.Sprintf("path %s not found", path))
	}
	var op *openapi3.Operation
	if slices.Contains(httpMethods, m) {
		op = item.GetOperation(m)
	}
	if op == nil {
		return operation{}, core.NewNotFoundError("", fmt.Sprintf("operation %s %s not found", m, path))
	}
	return operation{method: m, path: path, op: op, pathItem: item}, nil
}

// CountEndpoints returns the number of operations in the document
func (d *Document) CountEndpoints() int {
	return len(d.operations())
}

// swaggerOperation returns the unconverted Swagger 2.0 operation behind o
func (d *Document) swaggerOperation(o operation) *openapi2.Operation {
	if d.swagger == nil || o.method == http.MethodTrace {
		return nil
	}
	item := d.swagger.Paths[o.path]
	if item == nil {
		return nil
	}
	return item.GetOperation(o.method)
}

// swaggerResponse returns a Swagger 2.0 response, following a #/responses/ reference
func (d *Document) swaggerResponse(op *openapi2.Operation, code string) *openapi2.Response {
	if op == nil {
		return nil
	}
	resp := op.Responses[code]
	if resp != nil && resp.Ref != "" {
		resp = d.swagger.Responses[strings.TrimPrefix(resp.Ref, "#/responses/")]
	}
	return resp
}

func extString(ext map[string]any, key string) string {
	switch v := ext[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func raw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
