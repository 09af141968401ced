package registry

import (
	"bytes"
	"embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemaOnce     sync.Once
	schemaErr      error
	metadataSchema *jsonschema.Schema
	sourceSchema   *jsonschema.Schema
)

func compileSchemas() error {
	schemaOnce.Do(func() {
		metadataSchema, schemaErr = compileSchema("metadata.schema.json")
		if schemaErr != nil {
			return
		}
		sourceSchema, schemaErr = compileSchema("source.schema.json")
	})
	return schemaErr
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded schema %s: %w", name, err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded schema %s: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource %s: %w", name, err)
	}

	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	return schema, nil
}

// ValidateMetadataBytes checks raw metadata.json content against the
// metadata schema. Failures wrap ErrInvalidMetadata.
func ValidateMetadataBytes(data []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: not valid JSON: %v", ErrInvalidMetadata, err)
	}
	if err := metadataSchema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return nil
}

// ValidateSourceBytes checks raw source.json content against the source
// schema. Failures wrap ErrInvalidSource.
func ValidateSourceBytes(data []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: not valid JSON: %v", ErrInvalidSource, err)
	}
	if err := sourceSchema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	return nil
}
