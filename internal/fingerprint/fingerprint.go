// Package fingerprint computes deterministic content digests used for
// change detection between runs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"git.home.luguber.info/inful/specgen/internal/openapi"
)

// Content returns a 32-character lowercase hex fingerprint of arbitrary
// bytes: SHA-256 truncated to 128 bits. Change detection only needs
// collision resistance, not cryptographic strength, and the short form
// keeps the state file diffable.
func Content(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// ContentString is Content for string input.
func ContentString(s string) string {
	return Content([]byte(s))
}

// normalizedParameter is the structural projection of a parameter used for
// hashing. Field order is fixed by the struct; schema maps serialize with
// sorted keys under encoding/json.
type normalizedParameter struct {
	Name        string         `json:"name"`
	In          string         `json:"in"`
	Type        string         `json:"type"`
	Required    bool           `json:"required"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

// normalizedEndpoint is the structural projection of an endpoint. Tags and
// parameters are sorted so declaration order in the source document never
// affects the fingerprint.
type normalizedEndpoint struct {
	Method      string                `json:"method"`
	Path        string                `json:"path"`
	OperationID string                `json:"operation_id"`
	Summary     string                `json:"summary"`
	Description string                `json:"description"`
	Tags        []string              `json:"tags"`
	Parameters  []normalizedParameter `json:"parameters"`
	RequestBody map[string]any        `json:"request_body"`
	Responses   map[string]any        `json:"responses"`
}

// Endpoint computes the stable fingerprint of one endpoint's normalized
// definition. Two endpoints with identical meaning but different tag or
// parameter declaration order hash identically; any semantic field change
// changes the hash.
func Endpoint(e openapi.Endpoint) string {
	norm := normalizedEndpoint{
		Method:      strings.ToUpper(e.Method),
		Path:        e.Path,
		OperationID: e.OperationID,
		Summary:     e.Summary,
		Description: e.Description,
		Tags:        append([]string(nil), e.Tags...),
		RequestBody: e.RequestBody,
		Responses:   e.Responses,
	}
	sort.Strings(norm.Tags)

	norm.Parameters = make([]normalizedParameter, 0, len(e.Parameters))
	for _, p := range e.Parameters {
		norm.Parameters = append(norm.Parameters, normalizedParameter(p))
	}
	sort.Slice(norm.Parameters, func(i, j int) bool {
		if norm.Parameters[i].In != norm.Parameters[j].In {
			return norm.Parameters[i].In < norm.Parameters[j].In
		}
		return norm.Parameters[i].Name < norm.Parameters[j].Name
	})

	data, err := json.Marshal(norm)
	if err != nil {
		// The projection is built from plain maps, slices and scalars; a
		// marshal failure means a non-serializable value leaked into the
		// parsed document, which the loader does not produce.
		panic(fmt.Sprintf("fingerprint: marshal normalized endpoint: %v", err))
	}
	return Content(data)
}
