package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/dittobd/pkg/config"
)

// runSchema writes the JSON schema of the configuration file to path, or
// to out when path is empty.
func runSchema(out io.Writer, path string) error {
	schemaJSON, err := json.MarshalIndent(configSchema(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}
	schemaJSON = append(schemaJSON, '\n')

	if path == "" {
		_, err = out.Write(schemaJSON)
		return err
	}
	if err := os.WriteFile(path, schemaJSON, 0644); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}
	fmt.Fprintf(out, "JSON schema written to %s\n", path)
	return nil
}

func configSchema() *jsonschema.Schema {
	sizeType := reflect.TypeOf(config.Size(0))

	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "yaml",
		// Sizes are written as "10GiB" or as a plain byte count.
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t != sizeType {
				return nil
			}
			return &jsonschema.Schema{
				OneOf: []*jsonschema.Schema{
					{Type: "string", Pattern: `^\s*[0-9.]+\s*[A-Za-z]*\s*$`},
					{Type: "integer"},
				},
			}
		},
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "DittoBD Configuration"
	schema.Description = "Configuration file of the dittobd nbdkit plugin"
	return schema
}
