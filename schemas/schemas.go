// Package schemas embeds the JSON schemas for the operator protocol and tuning files.
package schemas

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const baseURL = "https://scatterdrop.dev/schemas/"

//go:embed *.schema.json
var FS embed.FS

// Compile compiles the embedded schema called name, e.g. "pointer.schema.json".
// Every embedded schema is registered first so relative $refs resolve.
func Compile(name string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	files, err := fs.Glob(FS, "*.schema.json")
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		r, err := FS.Open(f)
		if err != nil {
			return nil, err
		}
		err = c.AddResource(baseURL+f, r)
		r.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
	}
	return c.Compile(baseURL + name)
}

// MustCompile is Compile for package initialization.
func MustCompile(name string) *jsonschema.Schema {
	s, err := Compile(name)
	if err != nil {
		panic(err)
	}
	return s
}
