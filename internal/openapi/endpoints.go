package openapi

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"apidirectory/internal/core"
)

// maxInlineDepth bounds how many nested $refs the schema view expands
const maxInlineDepth = 8

// Endpoints lists the operations of the document, optionally restricted to one tag
func (d *Document) Endpoints(tag string) []core.EndpointSummary {
	out := []core.EndpointSummary{}
	for _, o := range d.operations() {
		if tag != "" && !slices.ContainsFunc(o.op.Tags, func(t string) bool { return strings.EqualFold(t, tag) }) {
			continue
		}
		out = append(out, core.EndpointSummary{
			Method:      o.method,
			Path:        o.path,
			Summary:     o.op.Summary,
			Description: o.op.Description,
			OperationID: o.op.OperationID,
			Tags:        tagsOf(o.op),
			Deprecated:  o.op.Deprecated,
		})
	}
	return out
}

// Tags returns every tag used by an operation or declared at the top level, sorted
func (d *Document) Tags() []string {
	seen := make(map[string]struct{})
	for _, t := range d.spec.Tags {
		if t != nil && t.Name != "" {
			seen[t.Name] = struct{}{}
		}
	}
	for _, o := range d.operations() {
		for _, t := range o.op.Tags {
			seen[t] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// EndpointPage returns one page of endpoints together with the available tags
func (d *Document) EndpointPage(page, limit int, tag string) *core.EndpointList {
	all := d.Endpoints(tag)
	start, end := core.Window(page, limit, len(all))
	return &core.EndpointList{
		Results:       all[start:end],
		Pagination:    core.NewPagination(page, limit, len(all)),
		AvailableTags: d.Tags(),
	}
}

// Details describes one operation
func (d *Document) Details(method, path string) (*core.EndpointDetails, error) {
	o, err := d.find(method, path)
	if err != nil {
		return nil, err
	}

	out := &core.EndpointDetails{
		Method:      o.method,
		Path:        o.path,
		Summary:     o.op.Summary,
		Description: o.op.Description,
		OperationID: o.op.OperationID,
		Tags:        tagsOf(o.op),
		Deprecated:  o.op.Deprecated,
		Parameters:  []core.Parameter{},
		Responses:   []core.ResponseInfo{},
		Consumes:    d.consumes(o),
		Produces:    d.produces(o),
		Security:    d.security(o),
	}

	for _, p := range parameters(o) {
		var typ string
		if p.Schema != nil && p.Schema.Value != nil {
			if types := p.Schema.Value.Type.Slice(); len(types) > 0 {
				typ = types[0]
			}
		}
		out.Parameters = append(out.Parameters, core.Parameter{
			Name:        p.Name,
			In:          p.In,
			Required:    p.Required,
			Type:        typ,
			Description: p.Description,
		})
	}

	responses := o.op.Responses.Map()
	for _, code := range sortedKeys(responses) {
		resp := responses[code].Value
		if resp == nil {
			continue
		}
		info := core.ResponseInfo{Code: code}
		if resp.Description != nil {
			info.Description = *resp.Description
		}
		if len(resp.Content) > 0 {
			info.ContentTypes = sortedKeys(resp.Content)
		}
		out.Responses = append(out.Responses, info)
	}
	return out, nil
}

// Schema returns the operation's parameters, request body and responses with $refs expanded
func (d *Document) Schema(method, path string) (*core.EndpointSchema, error) {
	o, err := d.find(method, path)
	if err != nil {
		return nil, err
	}

	out := &core.EndpointSchema{Method: o.method, Path: o.path}
	for _, p := range parameters(o) {
		param := *p
		param.Schema = inline(param.Schema, 0)
		param.Content = inlineContent(param.Content)
		out.Parameters = append(out.Parameters, raw(param))
	}
	if body := o.op.RequestBody; body != nil && body.Value != nil {
		rb := *body.Value
		rb.Content = inlineContent(rb.Content)
		out.RequestBody = raw(rb)
	}
	if responses := o.op.Responses.Map(); len(responses) > 0 {
		out.Responses = make(map[string]json.RawMessage, len(responses))
		for code, ref := range responses {
			if ref.Value == nil {
				continue
			}
			resp := *ref.Value
			resp.Content = inlineContent(resp.Content)
			out.Responses[code] = raw(resp)
		}
	}
	return out, nil
}

// Examples collects request and response examples of one operation
func (d *Document) Examples(method, path string) (*core.EndpointExamples, error) {
	o, err := d.find(method, path)
	if err != nil {
		return nil, err
	}

	out := &core.EndpointExamples{
		Method:           o.method,
		Path:             o.path,
		RequestExamples:  []core.Example{},
		ResponseExamples: []core.Example{},
	}

	if body := o.op.RequestBody; body != nil && body.Value != nil {
		out.RequestExamples = append(out.RequestExamples, contentExamples(body.Value.Content, "")...)
	}
	for _, p := range parameters(o) {
		if v, ok := p.Extensions["x-example"]; ok {
			out.RequestExamples = append(out.RequestExamples, core.Example{Description: p.Name, Value: raw(v)})
		}
		if p.Example != nil {
			out.RequestExamples = append(out.RequestExamples, core.Example{Description: p.Name, Value: raw(p.Example)})
		}
	}

	swaggerOp := d.swaggerOperation(o)
	responses := o.op.Responses.Map()
	for _, code := range sortedKeys(responses) {
		if resp := responses[code].Value; resp != nil {
			out.ResponseExamples = append(out.ResponseExamples, contentExamples(resp.Content, code)...)
		}
		// Swagger 2.0 keeps examples keyed by mime type on the response
		if v2 := d.swaggerResponse(swaggerOp, code); v2 != nil {
			for _, ct := range sortedKeys(v2.Examples) {
				out.ResponseExamples = append(out.ResponseExamples, core.Example{
					ContentType: ct,
					StatusCode:  code,
					Value:       raw(v2.Examples[ct]),
				})
			}
		}
	}
	return out, nil
}

func contentExamples(content openapi3.Content, code string) []core.Example {
	var out []core.Example
	for _, ct := range sortedKeys(content) {
		media := content[ct]
		if media == nil {
			continue
		}
		if media.Example != nil {
			out = append(out, core.Example{ContentType: ct, StatusCode: code, Value: raw(media.Example)})
		}
		for _, name := range sortedKeys(media.Examples) {
			ex := media.Examples[name]
			if ex == nil || ex.Value == nil || ex.Value.Value == nil {
				continue
			}
			desc := ex.Value.Summary
			if desc == "" {
				desc = name
			}
			out = append(out, core.Example{ContentType: ct, StatusCode: code, Description: desc, Value: raw(ex.Value.Value)})
		}
		if s := media.Schema; s != nil && s.Value != nil && s.Value.Example != nil {
			out = append(out, core.Example{ContentType: ct, StatusCode: code, Description: "schema example", Value: raw(s.Value.Example)})
		}
	}
	return out
}

// parameters merges path-level and operation-level parameters; the operation wins on name+in
func parameters(o operation) []*openapi3.Parameter {
	var out []*openapi3.Parameter
	index := make(map[string]int)
	add := func(list openapi3.Parameters) {
		for _, ref := range list {
			if ref == nil || ref.Value == nil {
				continue
			}
			p := ref.Value
			key := p.In + ":" + p.Name
			if i, ok := index[key]; ok {
				out[i] = p
				continue
			}
			index[key] = len(out)
			out = append(out, p)
		}
	}
	add(o.pathItem.Parameters)
	add(o.op.Parameters)
	return out
}

func (d *Document) consumes(o operation) []string {
	if op := d.swaggerOperation(o); op != nil {
		if len(op.Consumes) > 0 {
			return op.Consumes
		}
		return d.swagger.Consumes
	}
	if body := o.op.RequestBody; body != nil && body.Value != nil {
		return sortedKeys(body.Value.Content)
	}
	return nil
}

func (d *Document) produces(o operation) []string {
	if op := d.swaggerOperation(o); op != nil {
		if len(op.Produces) > 0 {
			return op.Produces
		}
		return d.swagger.Produces
	}
	seen := make(map[string]struct{})
	for _, ref := range o.op.Responses.Map() {
		if ref.Value == nil {
			continue
		}
		for ct := range ref.Value.Content {
			seen[ct] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	return sortedKeys(seen)
}

func (d *Document) security(o operation) []map[string][]string {
	reqs := d.spec.Security
	if o.op.Security != nil {
		reqs = *o.op.Security
	}
	var out []map[string][]string
	for _, req := range reqs {
		m := make(map[string][]string, len(req))
		for name, scopes := range req {
			if scopes == nil {
				scopes = []string{}
			}
			m[name] = scopes
		}
		out = append(out, m)
	}
	return out
}

func tagsOf(op *openapi3.Operation) []string {
	if op.Tags == nil {
		return []string{}
	}
	return op.Tags
}

// inline copies s with resolved $refs replaced by their targets. References
// nested deeper than maxInlineDepth stay as $ref pointers so recursive schemas terminate.
func inline(s *openapi3.SchemaRef, depth int) *openapi3.SchemaRef {
	if s == nil || s.Value == nil {
		return s
	}
	if s.Ref != "" {
		if depth >= maxInlineDepth {
			return &openapi3.SchemaRef{Ref: s.Ref}
		}
		depth++
	}

	v := *s.Value
	v.Items = inline(v.Items, depth)
	v.Not = inline(v.Not, depth)
	v.AdditionalProperties.Schema = inline(v.AdditionalProperties.Schema, depth)
	v.AllOf = inlineAll(v.AllOf, depth)
	v.AnyOf = inlineAll(v.AnyOf, depth)
	v.OneOf = inlineAll(v.OneOf, depth)
	if v.Properties != nil {
		props := make(openapi3.Schemas, len(v.Properties))
		for name, p := range v.Properties {
			props[name] = inline(p, depth)
		}
		v.Properties = props
	}
	return &openapi3.SchemaRef{Value: &v}
}

func inlineAll(refs openapi3.SchemaRefs, depth int) openapi3.SchemaRefs {
	if refs == nil {
		return nil
	}
	out := make(openapi3.SchemaRefs, len(refs))
	for i, r := range refs {
		out[i] = inline(r, depth)
	}
	return out
}

func inlineContent(content openapi3.Content) openapi3.Content {
	if content == nil {
		return nil
	}
	out := make(openapi3.Content, len(content))
	for ct, media := range content {
		if media == nil {
			continue
		}
		m := *media
		m.Schema = inline(m.Schema, 0)
		out[ct] = &m
	}
	return out
}
