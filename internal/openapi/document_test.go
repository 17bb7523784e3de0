package openapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"apidirectory/internal/core"
)

const petstoreYAML = `
openapi: 3.0.0
info:
  title: Petstore
  version: 1.0.0
  description: Sample pets
  x-apisguru-categories: [ecommerce]
  x-providerName: petstore.io
  x-logo:
    url: https://petstore.io/logo.png
  contact:
    email: pets@petstore.io
externalDocs:
  url: https://petstore.io/docs
tags:
  - name: admin
paths:
  /pets:
    parameters:
      - name: limit
        in: query
        schema:
          type: integer
    get:
      operationId: listPets
      summary: List pets
      tags: [pets]
      parameters:
        - name: limit
          in: query
          required: true
          schema:
            type: integer
      responses:
        200:
          description: A list of pets
          content:
            application/json:
              schema:
                type: array
                items:
                  $ref: '#/components/schemas/Pet'
              example:
                - id: 1
                  name: Rex
    post:
      operationId: createPet
      tags: [pets]
      requestBody:
        content:
          application/json:
            schema:
              $ref: '#/components/schemas/Pet'
            examples:
              rex:
                summary: A dog
                value:
                  name: Rex
      responses:
        '201':
          $ref: '#/components/responses/Created'
  /pets/{id}:
    delete:
      operationId: deletePet
      deprecated: true
      tags: [admin]
      security:
        - api_key: []
      parameters:
        - $ref: '#/components/parameters/PetID'
      responses:
        '204':
          description: Deleted
components:
  parameters:
    PetID:
      name: id
      in: path
      required: true
      schema:
        type: string
  responses:
    Created:
      description: Created
  schemas:
    Pet:
      type: object
      properties:
        id:
          type: integer
        name:
          type: string
        parent:
          $ref: '#/components/schemas/Pet'
`

const swaggerJSON = `{
  "swagger": "2.0",
  "info": {"title": "Legacy", "version": "v1"},
  "produces": ["application/json"],
  "paths": {
    "/items": {
      "post": {
        "parameters": [
          {"name": "body", "in": "body", "schema": {"$ref": "#/definitions/Item"}},
          {"name": "dryRun", "in": "query", "type": "boolean", "x-example": true}
        ],
        "responses": {
          "200": {
            "description": "ok",
            "schema": {"$ref": "#/definitions/Item"},
            "examples": {"application/json": {"id": "a"}}
          }
        }
      }
    }
  },
  "definitions": {"Item": {"type": "object", "properties": {"id": {"type": "string"}}}}
}`

func TestParse(t *testing.T) {
	t.Run("YAML", func(t *testing.T) {
		doc, err := Parse([]byte(petstoreYAML))
		require.NoError(t, err)
		assert.Equal(t, "3.0.0", doc.SpecVersion())
		assert.False(t, doc.IsSwagger2())

		info := doc.Info()
		assert.Equal(t, "Petstore", info.Title)
		assert.Equal(t, "1.0.0", info.Version)
		assert.Equal(t, []string{"ecommerce"}, info.Categories)
		assert.Equal(t, "petstore.io", info.ProviderName)
		require.NotNil(t, info.Logo)
		assert.Equal(t, "https://petstore.io/logo.png", info.Logo.URL)
		require.NotNil(t, info.Contact)
		assert.Equal(t, "pets@petstore.io", info.Contact.Email)
		require.NotNil(t, doc.ExternalDocs())
		assert.Equal(t, "https://petstore.io/docs", doc.ExternalDocs().URL)
	})

	t.Run("JSON", func(t *testing.T) {
		doc, err := Parse([]byte(swaggerJSON))
		require.NoError(t, err)
		assert.True(t, doc.IsSwagger2())
		assert.Equal(t, "2.0", doc.SpecVersion())
		assert.Equal(t, "Legacy", doc.Info().Title)
		assert.Equal(t, 1, doc.CountEndpoints())
	})

	t.Run("Rejects", func(t *testing.T) {
		inputs := []string{
			"",
			"   ",
			"{bad json",
			"- just\n- a list\n",
			"title: nothing\n",
			`{"openapi":"3.0.0","info":{"title":"x","version":"1"},"paths":{"/a":{"get":{"responses":{"200":{"$ref":"#/components/responses/Missing"}}}}}}`,
		}
		for _, input := range inputs {
			_, err := Parse([]byte(input))
			assert.Error(t, err, "input %q", input)
		}
	})

	t.Run("JSONRoundTrip", func(t *testing.T) {
		doc, err := Parse([]byte(petstoreYAML))
		require.NoError(t, err)
		data, err := doc.JSON()
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(data, &decoded))
		responses := decoded["paths"].(map[string]any)["/pets"].(map[string]any)["get"].(map[string]any)["responses"].(map[string]any)
		assert.Contains(t, responses, "200", "integer response codes become string keys")
	})
}

func TestEndpoints(t *testing.T) {
	doc, err := Parse([]byte(petstoreYAML))
	require.NoError(t, err)

	all := doc.Endpoints("")
	require.Len(t, all, 3)
	assert.Equal(t, "GET", all[0].Method)
	assert.Equal(t, "/pets", all[0].Path)
	assert.Equal(t, "POST", all[1].Method)
	assert.Equal(t, "DELETE", all[2].Method)
	assert.True(t, all[2].Deprecated)

	assert.Len(t, doc.Endpoints("PETS"), 2)
	assert.Equal(t, []string{"admin", "pets"}, doc.Tags())
	assert.Equal(t, 3, doc.CountEndpoints())

	page := doc.EndpointPage(2, 2, "")
	require.Len(t, page.Results, 1)
	assert.Equal(t, "DELETE", page.Results[0].Method)
	assert.Equal(t, 3, page.Pagination.TotalResults)
	assert.True(t, page.Pagination.HasPrevious)
	assert.False(t, page.Pagination.HasNext)
}

func TestDetails(t *testing.T) {
	doc, err := Parse([]byte(petstoreYAML))
	require.NoError(t, err)

	t.Run("OperationParameterOverridesPathLevel", func(t *testing.T) {
		d, err := doc.Details("get", "/pets")
		require.NoError(t, err)
		require.Len(t, d.Parameters, 1)
		assert.Equal(t, core.Parameter{Name: "limit", In: "query", Required: true, Type: "integer"}, d.Parameters[0])
		require.Len(t, d.Responses, 1)
		assert.Equal(t, []string{"application/json"}, d.Responses[0].ContentTypes)
	})

	t.Run("ReferencedParameterAndSecurity", func(t *testing.T) {
		d, err := doc.Details("DELETE", "/pets/{id}")
		require.NoError(t, err)
		require.Len(t, d.Parameters, 1)
		assert.Equal(t, "id", d.Parameters[0].Name)
		assert.Equal(t, "string", d.Parameters[0].Type)
		assert.Equal(t, []map[string][]string{{"api_key": {}}}, d.Security)
	})

	t.Run("ReferencedResponse", func(t *testing.T) {
		d, err := doc.Details("POST", "/pets")
		require.NoError(t, err)
		assert.Equal(t, []string{"application/json"}, d.Consumes)
		require.Len(t, d.Responses, 1)
		assert.Equal(t, "Created", d.Responses[0].Description)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := doc.Details("PATCH", "/pets")
		assert.True(t, core.IsNotFound(err))
		_, err = doc.Details("GET", "/nope")
		assert.True(t, core.IsNotFound(err))
	})

	t.Run("UnknownMethodIsNotFound", func(t *testing.T) {
		for _, method := range []string{"CONNECT", "FETCH", ""} {
			var err error
			require.NotPanics(t, func() { _, err = doc.Details(method, "/pets") })
			assert.True(t, core.IsNotFound(err), "method %q", method)
		}
	})

	t.Run("ProducesFromResponses", func(t *testing.T) {
		d, err := doc.Details("GET", "/pets")
		require.NoError(t, err)
		assert.Equal(t, []string{"application/json"}, d.Produces)
		assert.Empty(t, d.Consumes)
	})

	t.Run("Swagger2", func(t *testing.T) {
		legacy, err := Parse([]byte(swaggerJSON))
		require.NoError(t, err)

		d, err := legacy.Details("post", "/items")
		require.NoError(t, err)
		assert.Equal(t, []string{"application/json"}, d.Produces)
		require.Len(t, d.Parameters, 1)
		assert.Equal(t, core.Parameter{Name: "dryRun", In: "query", Type: "boolean"}, d.Parameters[0])
		require.Len(t, d.Responses, 1)
		assert.Equal(t, "ok", d.Responses[0].Description)
		assert.Equal(t, []string{"application/json"}, d.Responses[0].ContentTypes)
	})
}

func TestSchema(t *testing.T) {
	t.Run("OpenAPI3", func(t *testing.T) {
		doc, err := Parse([]byte(petstoreYAML))
		require.NoError(t, err)

		s, err := doc.Schema("POST", "/pets")
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(s.RequestBody, &body))
		schema := body["content"].(map[string]any)["application/json"].(map[string]any)["schema"].(map[string]any)
		assert.Equal(t, "object", schema["type"])
		assert.Contains(t, s.Responses, "201")
	})

	t.Run("RecursiveSchemaStopsExpanding", func(t *testing.T) {
		doc, err := Parse([]byte(petstoreYAML))
		require.NoError(t, err)

		s, err := doc.Schema("POST", "/pets")
		require.NoError(t, err)
		body := gjson.GetBytes(s.RequestBody, `content.application/json.schema`)
		require.True(t, body.Exists(), string(s.RequestBody))

		assert.Equal(t, "object", body.Get("type").String())
		assert.Equal(t, "object", body.Get("properties.parent.type").String(), "first level is expanded")

		depth := 0
		node := body
		for node.Get("properties.parent").Exists() {
			node = node.Get("properties.parent")
			depth++
			require.LessOrEqual(t, depth, maxInlineDepth)
		}
		assert.Equal(t, "#/components/schemas/Pet", node.Get("$ref").String())
	})

	t.Run("Swagger2BodyParameter", func(t *testing.T) {
		doc, err := Parse([]byte(swaggerJSON))
		require.NoError(t, err)

		s, err := doc.Schema("POST", "/items")
		require.NoError(t, err)
		var body struct {
			Content map[string]struct {
				Schema struct {
					Type       string `json:"type"`
					Properties map[string]struct {
						Type string `json:"type"`
					} `json:"properties"`
				} `json:"schema"`
			} `json:"content"`
		}
		require.NoError(t, json.Unmarshal(s.RequestBody, &body), string(s.RequestBody))
		require.Len(t, body.Content, 1)
		for _, media := range body.Content {
			assert.Equal(t, "object", media.Schema.Type)
			assert.Equal(t, "string", media.Schema.Properties["id"].Type)
		}
		require.Len(t, s.Parameters, 1)
		assert.Equal(t, "dryRun", gjson.GetBytes(s.Parameters[0], "name").String())
		assert.Contains(t, s.Responses, "200")
	})
}

func TestExamples(t *testing.T) {
	t.Run("OpenAPI3", func(t *testing.T) {
		doc, err := Parse([]byte(petstoreYAML))
		require.NoError(t, err)

		get, err := doc.Examples("GET", "/pets")
		require.NoError(t, err)
		require.Len(t, get.ResponseExamples, 1)
		assert.Equal(t, "200", get.ResponseExamples[0].StatusCode)
		assert.JSONEq(t, `[{"id":1,"name":"Rex"}]`, string(get.ResponseExamples[0].Value))

		post, err := doc.Examples("POST", "/pets")
		require.NoError(t, err)
		require.Len(t, post.RequestExamples, 1)
		assert.Equal(t, "A dog", post.RequestExamples[0].Description)
	})

	t.Run("Swagger2", func(t *testing.T) {
		doc, err := Parse([]byte(swaggerJSON))
		require.NoError(t, err)

		ex, err := doc.Examples("POST", "/items")
		require.NoError(t, err)
		require.Len(t, ex.RequestExamples, 1)
		assert.Equal(t, "dryRun", ex.RequestExamples[0].Description)
		require.Len(t, ex.ResponseExamples, 1)
		assert.Equal(t, "application/json", ex.ResponseExamples[0].ContentType)
	})
}
