package httpapi

import (
	"bytes"
	"embed"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// schemas holds the compiled request body schemas.
type schemas struct {
	saveItem    *jsonschema.Schema
	spicyLyrics *jsonschema.Schema
	settings    *jsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	c := jsonschema.NewCompiler()
	compile := func(name string) (*jsonschema.Schema, error) {
		b, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("httpapi: schema %s: %w", name, err)
		}
		url := "mem://" + name
		if err := c.AddResource(url, doc); err != nil {
			return nil, err
		}
		return c.Compile(url)
	}
	var (
		s   schemas
		err error
	)
	if s.saveItem, err = compile("save_item.json"); err != nil {
		return nil, err
	}
	if s.spicyLyrics, err = compile("spicy_lyrics.json"); err != nil {
		return nil, err
	}
	if s.settings, err = compile("settings.json"); err != nil {
		return nil, err
	}
	return &s, nil
}

// validate checks a raw JSON body against sch.
func validate(sch *jsonschema.Schema, body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return err
	}
	return sch.Validate(inst)
}
