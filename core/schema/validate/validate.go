package validate

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/kaptinlin/jsonschema"

	coreerrors "github.com/davidahmann/attest/core/errors"
)

// Kind names one on-disk record schema.
type Kind string

const (
	KindManifest    Kind = "manifest"
	KindSBOM        Kind = "sbom"
	KindSignatures  Kind = "signatures"
	KindTrustScore  Kind = "trust_score"
	KindLedgerEntry Kind = "ledger_entry"
)

//go:embed schemas/*.schema.json
var schemaFiles embed.FS

var compiled struct {
	sync.Mutex
	schemas map[Kind]*jsonschema.Schema
}

// JSON validates one JSON document against the schema for kind. Validation
// failures are classified as schema violations.
func JSON(kind Kind, data []byte) error {
	schema, err := loadSchema(kind)
	if err != nil {
		return err
	}
	return validateJSON(schema, data)
}

// Decode validates data against kind and then decodes it into T.
func Decode[T any](kind Kind, data []byte) (T, error) {
	var value T
	if err := JSON(kind, data); err != nil {
		return value, err
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, coreerrors.SchemaViolation(fmt.Errorf("decode %s: %w", kind, err))
	}
	return value, nil
}

// ReadFile reads path and decodes it with Decode.
func ReadFile[T any](kind Kind, path string) (T, error) {
	var value T
	// #nosec G304 -- record paths come from the pipeline layout.
	data, err := os.ReadFile(path)
	if err != nil {
		return value, fmt.Errorf("read %s: %w", kind, err)
	}
	value, err = Decode[T](kind, data)
	if err != nil {
		return value, fmt.Errorf("%s: %w", path, err)
	}
	return value, nil
}

func loadSchema(kind Kind) (*jsonschema.Schema, error) {
	compiled.Lock()
	defer compiled.Unlock()
	if schema, ok := compiled.schemas[kind]; ok {
		return schema, nil
	}
	data, err := schemaFiles.ReadFile("schemas/" + string(kind) + ".schema.json")
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", kind, err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(data)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", kind, err)
	}
	if compiled.schemas == nil {
		compiled.schemas = map[Kind]*jsonschema.Schema{}
	}
	compiled.schemas[kind] = schema
	return schema, nil
}

func validateJSON(schema *jsonschema.Schema, data []byte) error {
	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return coreerrors.SchemaViolation(fmt.Errorf("schema validation failed: %v", result.Errors))
}
