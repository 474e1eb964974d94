package aitools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateSchema reflects T into a closed, inlined JSON schema suitable for
// structured LLM output.
func GenerateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	m, err := schemaToMap(reflector.Reflect(v))
	if err != nil {
		panic(err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m
}

func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// enumOf returns the allowed values of a top-level string property.
func enumOf(schema map[string]any, field string) []string {
	props, _ := schema["properties"].(map[string]any)
	prop, _ := props[field].(map[string]any)
	raw, _ := prop["enum"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func checkEnum(schema map[string]any, field, value string) error {
	allowed := enumOf(schema, field)
	for _, v := range allowed {
		if v == value {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %q not in %v", ErrInvalidOutput, field, value, allowed)
}
