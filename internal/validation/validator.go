// Package validation checks JSON request payloads against the embedded
// schemas in schemas/.
package validation

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema names, matching the file names under schemas/ without ".json".
const (
	AdminQuotaReset    = "admin.quota_reset"
	AdminOverageReport = "admin.overage_report"
	BillingEvent       = "billing.event"
	AuthMagicLink      = "auth.magic_link"
	APIKeyCreate       = "apikeys.create"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrValidation can be used with errors.Is to detect payloads that are valid
// JSON but do not match their schema.
var ErrValidation = errors.New("validation failed")

// ErrInvalidJSON is returned for bodies that do not parse.
var ErrInvalidJSON = errors.New("invalid JSON")

type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// New compiles every embedded schema.
func New() (*Validator, error) {
	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}
	schemas := make(map[string]*jsonschema.Schema, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		data, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", e.Name(), err)
		}
		id := "https://edgeog.dev/schemas/" + name
		schemas[name], err = jsonschema.CompileString(id, string(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", name, err)
		}
	}
	return &Validator{schemas: schemas}, nil
}

// MustNew is New for program start-up; the schemas are compiled into the
// binary, so a failure is a build defect.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks raw against the named schema.
func (v *Validator) Validate(name string, raw []byte) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// Decode validates raw and then unmarshals it into dst.
func (v *Validator) Decode(name string, raw []byte, dst any) error {
	if err := v.Validate(name, raw); err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
