// Package openapi holds the normalized API specification model consumed by
// the change-detection core, plus a loader for OpenAPI 3.x and Swagger 2.0
// documents in JSON or YAML form.
package openapi

import "strings"

// Parameter is one operation parameter reduced to the fields that matter
// for test generation and change detection.
type Parameter struct {
	Name        string         `json:"name"`
	In          string         `json:"in"` // query, path, header, cookie, body, formData
	Type        string         `json:"type,omitempty"`
	Required    bool           `json:"required"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// Endpoint is one normalized API operation.
type Endpoint struct {
	Method      string         `json:"method"`
	Path        string         `json:"path"`
	OperationID string         `json:"operation_id,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Parameters  []Parameter    `json:"parameters,omitempty"`
	RequestBody map[string]any `json:"request_body,omitempty"`
	Responses   map[string]any `json:"responses,omitempty"`
}

// ID returns the endpoint's stable identity: "METHOD:path" with the method
// uppercased. This is the sole key correlating specification endpoints with
// persisted state across runs.
func (e Endpoint) ID() string {
	return strings.ToUpper(e.Method) + ":" + e.Path
}

// Specification is an already-parsed API document.
type Specification struct {
	Title     string     `json:"title"`
	Version   string     `json:"version"`
	Endpoints []Endpoint `json:"endpoints"`
}

// EndpointIDs returns the identity of every endpoint, preserving order.
func (s *Specification) EndpointIDs() []string {
	ids := make([]string, 0, len(s.Endpoints))
	for _, e := range s.Endpoints {
		ids = append(ids, e.ID())
	}
	return ids
}
