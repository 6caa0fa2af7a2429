// generate-schema writes the JSON schema of the DittoDrive configuration file.
//
//	go run ./cmd/generate-schema -o config.schema.json
//	go run ./cmd/generate-schema -o -   # stdout
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/dittodrive/pkg/config"
)

func main() {
	output := flag.String("o", "config.schema.json", "output file, - for stdout")
	id := flag.String("id", "https://github.com/marmos91/dittodrive/config.schema.json", "schema $id")
	flag.Parse()

	// Keys follow the mapstructure tags viper decodes with.
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "mapstructure",
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = jsonschema.ID(*id)
	schema.Title = "DittoDrive Configuration"
	schema.Description = "Configuration file of the dittodrive command. Every key may also be set through DITTODRIVE_<SECTION>_<KEY>."

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling schema: %v\n", err)
		os.Exit(1)
	}
	data = append(data, '\n')

	if *output == "-" {
		_, _ = os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(*output, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("JSON schema written to %s\n", *output)
}
