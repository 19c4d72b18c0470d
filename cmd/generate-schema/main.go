// Command generate-schema writes the JSON schema of the ttableserver config
// file, for editor completion and validation of config.yaml.
//
//	go run ./cmd/generate-schema [output]
//
// The output defaults to config.schema.json; "-" writes to stdout.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/marmos91/ttableserver/pkg/config"
)

const defaultOutput = "config.schema.json"

func main() {
	output := defaultOutput
	if len(os.Args) > 1 {
		output = os.Args[1]
	}

	if err := run(output); err != nil {
		fmt.Fprintf(os.Stderr, "generate-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(output string) error {
	if output == "-" {
		return writeSchema(os.Stdout)
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := writeSchema(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Printf("Config schema written to %s\n", output)
	return nil
}

// configSchema reflects config.Config using the mapstructure keys viper
// reads, so the schema matches the YAML/TOML file layout.
func configSchema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		FieldNameTag:   "mapstructure",
		DoNotReference: true,
	}

	s := r.Reflect(&config.Config{})
	s.Title = "ttableserver configuration"
	s.Description = "Model location, lookup server, loader, S3 and metrics settings for ttableserver. " +
		"Every key can also be set through a TTABLE_ environment variable."
	return s
}

func writeSchema(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(configSchema()); err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	return nil
}
