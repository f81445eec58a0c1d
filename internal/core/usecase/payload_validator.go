package usecase

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// PayloadValidator checks aggregate documents against the JSON schema of
// their kind. Kinds without a schema accept any JSON object.
type PayloadValidator struct {
	schemas map[domain.EntityKind]*santhosh.Schema
}

func NewPayloadValidator() (*PayloadValidator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	v := &PayloadValidator{schemas: map[domain.EntityKind]*santhosh.Schema{}}
	for _, e := range entries {
		name := e.Name()
		kind := domain.EntityKind(name[:len(name)-len(path.Ext(name))])
		if !kind.Valid() {
			return nil, fmt.Errorf("schema %s names no entity kind", name)
		}
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		compiled, err := compileSchema(raw)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[kind] = compiled
	}
	return v, nil
}

// Validate returns *domain.ErrSchemaViolation when data does not conform.
func (v *PayloadValidator) Validate(kind domain.EntityKind, data json.RawMessage) error {
	if !json.Valid(data) {
		return &domain.ErrSchemaViolation{Errors: []string{"document must be valid json"}}
	}
	sch, ok := v.schemas[kind]
	if !ok {
		return nil
	}
	return runValidation(sch, data)
}

// compileSchema builds a *santhosh.Schema from raw JSON.
func compileSchema(schemaJSON json.RawMessage) (*santhosh.Schema, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	compiler.AssertFormat = true
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

// runValidation validates data against a pre-compiled schema.
func runValidation(sch *santhosh.Schema, data json.RawMessage) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return &domain.ErrSchemaViolation{Errors: collectValidationErrors(ve)}
		}
		return &domain.ErrSchemaViolation{Errors: []string{err.Error()}}
	}
	return nil
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		msgs = append(msgs, ve.Error())
	}
	return msgs
}
