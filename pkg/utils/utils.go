// Package utils holds small helpers shared across the module.
package utils

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaFromConfig reflects a JSON schema from a configuration struct. The
// schema is what editors and host processes validate config files against.
func SchemaFromConfig(config any) (string, error) {
	schema := jsonschema.Reflect(config)

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}
