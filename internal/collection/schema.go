package collection

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/*.schema.json
var schemaFS embed.FS

var (
	collectionSchema  *jsonschema.Schema
	environmentSchema *jsonschema.Schema
	compileOnce       sync.Once
	compileErr        error
)

func compileSchemas() error {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		for _, name := range []string{"collection.schema.json", "environment.schema.json"} {
			data, err := schemaFS.ReadFile("schema/" + name)
			if err != nil {
				compileErr = fmt.Errorf("read %s: %w", name, err)
				return
			}
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
			if err != nil {
				compileErr = fmt.Errorf("unmarshal %s: %w", name, err)
				return
			}
			if err := compiler.AddResource(name, doc); err != nil {
				compileErr = fmt.Errorf("add %s: %w", name, err)
				return
			}
		}
		var err error
		if collectionSchema, err = compiler.Compile("collection.schema.json"); err != nil {
			compileErr = fmt.Errorf("compile collection schema: %w", err)
			return
		}
		if environmentSchema, err = compiler.Compile("environment.schema.json"); err != nil {
			compileErr = fmt.Errorf("compile environment schema: %w", err)
		}
	})
	return compileErr
}

// ValidateCollection checks raw JSON against the collection schema.
func ValidateCollection(data []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}
	return validate(collectionSchema, data, "collection")
}

// ValidateEnvironment checks raw JSON against the environment schema.
func ValidateEnvironment(data []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}
	return validate(environmentSchema, data, "environment")
}

func validate(schema *jsonschema.Schema, data []byte, kind string) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid %s JSON: %w", kind, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%s validation failed: %w", kind, err)
	}
	return nil
}
