package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	tetherschema "github.com/Paintersrp/tether/schema"
)

const schemaURL = "tether.v1.json"

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaURL, bytes.NewReader(tetherschema.ConfigV1Schema)); err != nil {
		return nil, fmt.Errorf("add config schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return schema, nil
})

// validateAgainstSchema checks the raw YAML document before it is decoded so
// type errors are reported with their location in the file.
func validateAgainstSchema(doc map[string]any) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("load config schema: %w", err)
	}

	// The validator expects encoding/json values; YAML ints and nested maps
	// are re-encoded to match.
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("prepare config for schema validation: %w", err)
	}
	dec := json.NewDecoder(&buf)
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("prepare config for schema validation: %w", err)
	}

	err = schema.Validate(instance)
	if err == nil {
		return nil
	}
	var vErr *jsonschema.ValidationError
	if !errors.As(err, &vErr) {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return fmt.Errorf("schema validation failed:\n%s", strings.Join(schemaProblems(vErr), "\n"))
}

// schemaProblems flattens a validation error into one "- field: message" line
// per leaf failure.
func schemaProblems(vErr *jsonschema.ValidationError) []string {
	seen := make(map[string]struct{})
	var lines []string
	for _, unit := range vErr.BasicOutput().Errors {
		if unit.Error == "" || strings.HasPrefix(unit.Error, "doesn't validate with") {
			continue
		}
		line := fmt.Sprintf("- %s: %s", fieldPath(unit.InstanceLocation), unit.Error)
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		lines = append(lines, fmt.Sprintf("- %s: %s", fieldPath(vErr.InstanceLocation), vErr.Message))
	}
	sort.Strings(lines)
	return lines
}

// fieldPath turns a JSON pointer such as /backend/resourceDirs/0 into
// backend.resourceDirs[0].
func fieldPath(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return "config"
	}
	var b strings.Builder
	for _, segment := range strings.Split(pointer, "/") {
		segment = strings.NewReplacer("~1", "/", "~0", "~").Replace(segment)
		if _, err := strconv.Atoi(segment); err == nil {
			b.WriteString("[" + segment + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(segment)
	}
	return b.String()
}
