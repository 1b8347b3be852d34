package openapi

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// operation keys recognized inside a path item. Everything else at that
// level is path metadata (parameters, summary, $ref, extensions).
var operationMethods = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

// Parse decodes an OpenAPI 3.x or Swagger 2.0 document into the normalized
// specification model. JSON documents are decoded through the YAML parser as
// well: JSON is a YAML subset, and using one decoder keeps scalar types (and
// therefore endpoint fingerprints) identical regardless of source format.
func Parse(data []byte) (*Specification, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode api document: %w", err)
	}
	doc := asMap(normalizeKeys(raw))
	if doc == nil {
		return nil, fmt.Errorf("decode api document: empty document")
	}

	if _, hasOpenAPI := doc["openapi"]; !hasOpenAPI {
		if _, hasSwagger := doc["swagger"]; !hasSwagger {
			return nil, fmt.Errorf("decode api document: neither 'openapi' nor 'swagger' version marker found")
		}
	}

	spec := &Specification{}
	if info := asMap(doc["info"]); info != nil {
		spec.Title = asString(info["title"])
		spec.Version = asString(info["version"])
	}

	paths := asMap(doc["paths"])
	for path, rawItem := range paths {
		item := asMap(rawItem)
		if item == nil {
			continue
		}
		inherited := parseParameters(item["parameters"])
		for _, method := range operationMethods {
			op := asMap(item[method])
			if op == nil {
				continue
			}
			spec.Endpoints = append(spec.Endpoints, normalizeOperation(method, path, op, inherited))
		}
	}

	// Map iteration order is random; give callers a stable listing.
	sort.Slice(spec.Endpoints, func(i, j int) bool {
		if spec.Endpoints[i].Path != spec.Endpoints[j].Path {
			return spec.Endpoints[i].Path < spec.Endpoints[j].Path
		}
		return spec.Endpoints[i].Method < spec.Endpoints[j].Method
	})

	return spec, nil
}

func normalizeOperation(method, path string, op map[string]any, inherited []Parameter) Endpoint {
	e := Endpoint{
		Method:      strings.ToUpper(method),
		Path:        path,
		OperationID: asString(op["operationId"]),
		Summary:     asString(op["summary"]),
		Description: asString(op["description"]),
		Tags:        asStringSlice(op["tags"]),
		RequestBody: asMap(op["requestBody"]),
		Responses:   asMap(op["responses"]),
	}

	// Path-level parameters apply to every operation unless shadowed by an
	// operation-level parameter with the same (in, name).
	own := parseParameters(op["parameters"])
	seen := make(map[string]bool, len(own))
	for _, p := range own {
		seen[p.In+"\x00"+p.Name] = true
	}
	e.Parameters = own
	for _, p := range inherited {
		if !seen[p.In+"\x00"+p.Name] {
			e.Parameters = append(e.Parameters, p)
		}
	}

	return e
}

func parseParameters(raw any) []Parameter {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	params := make([]Parameter, 0, len(list))
	for _, entry := range list {
		m := asMap(entry)
		if m == nil {
			continue
		}
		p := Parameter{
			Name:        asString(m["name"]),
			In:          asString(m["in"]),
			Required:    asBool(m["required"]),
			Description: asString(m["description"]),
			Schema:      asMap(m["schema"]),
		}
		// Swagger 2.0 puts the type on the parameter itself; OpenAPI 3.x
		// nests it under schema.
		p.Type = asString(m["type"])
		if p.Type == "" && p.Schema != nil {
			p.Type = asString(p.Schema["type"])
		}
		params = append(params, p)
	}
	return params
}

// normalizeKeys rewrites every mapping in a decoded document to string
// keys. yaml.v3 yields map[any]any for mappings with non-string keys,
// which unquoted numeric response codes ("200:") produce all the time;
// without stringification those blocks would be dropped here and would
// not survive JSON marshaling downstream.
func normalizeKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeKeys(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeKeys(item)
		}
		return out
	case []any:
		for i := range val {
			val[i] = normalizeKeys(val[i])
		}
		return val
	default:
		return v
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asStringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
