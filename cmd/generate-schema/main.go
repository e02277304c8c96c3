// Command generate-schema writes the JSON schema of the dittomedia
// configuration file, for editor completion and CI validation.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/dittomedia/pkg/config"
)

func main() {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "mapstructure",
	}

	schema := reflector.Reflect(&config.Config{})

	schema.Title = "DittoMedia Configuration"
	schema.Description = "Configuration schema for the dittomedia storage service"
	schema.Version = "1.0.0"

	// Driver options are free-form and validated by each driver
	if storage, ok := schema.Properties.Get("storage"); ok {
		if backends, ok := storage.Properties.Get("backends"); ok && backends.Items != nil {
			if options, ok := backends.Items.Properties.Get("options"); ok {
				options.AdditionalProperties = jsonschema.TrueSchema
			}
		}
	}

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling schema: %v\n", err)
		os.Exit(1)
	}

	outputFile := "config.schema.json"
	if len(os.Args) > 1 {
		outputFile = os.Args[1]
	}

	if err := os.WriteFile(outputFile, schemaJSON, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("JSON schema written to %s\n", outputFile)
}
