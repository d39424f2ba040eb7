package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request bodies are schema-validated before decoding so malformed
// payloads are rejected with a precise message instead of surfacing as
// zero-valued fields deep in the engine.

const authorizeSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["tenantId", "applicationKey", "threadId", "requestId", "requestType", "userId"],
	"properties": {
		"tenantId": {"type": "string", "minLength": 1},
		"applicationKey": {"type": "string", "minLength": 1},
		"clientApplicationKey": {"type": "string"},
		"conversationId": {"type": "string"},
		"threadId": {"type": "string", "minLength": 1},
		"requestId": {"type": "string", "minLength": 1},
		"sequenceNumber": {"type": "integer", "minimum": 0},
		"requestType": {"enum": ["prompt", "reply", "enriched_prompt", "rag"]},
		"userId": {"type": "string", "minLength": 1},
		"roles": {"type": "array", "items": {"type": "string"}},
		"groups": {"type": "array", "items": {"type": "string"}},
		"traits": {"type": "array", "items": {"type": "string"}},
		"requestText": {"type": "array", "items": {"type": "string"}},
		"context": {"type": "object"},
		"requestDateTime": {"type": "string"}
	}
}`

const vectorDBSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["tenantId", "applicationKey", "vectorStoreId", "userId"],
	"properties": {
		"tenantId": {"type": "string", "minLength": 1},
		"applicationKey": {"type": "string", "minLength": 1},
		"vectorStoreId": {"type": "string", "minLength": 1},
		"requestId": {"type": "string"},
		"userId": {"type": "string", "minLength": 1},
		"groups": {"type": "array", "items": {"type": "string"}}
	}
}`

type validator struct {
	authorize *jsonschema.Schema
	vectorDB  *jsonschema.Schema
}

func newValidator() (*validator, error) {
	authorize, err := compileSchema("authorize", authorizeSchema)
	if err != nil {
		return nil, err
	}
	vectorDB, err := compileSchema("vectordb", vectorDBSchema)
	if err != nil {
		return nil, err
	}
	return &validator{authorize: authorize, vectorDB: vectorDB}, nil
}

func compileSchema(name, raw string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://warden.schemas.local/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("server: load %s schema: %w", name, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("server: compile %s schema: %w", name, err)
	}
	return schema, nil
}

// check validates raw JSON against schema and decodes it into dst.
func check(schema *jsonschema.Schema, raw []byte, dst any) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	return dec.Decode(dst)
}
