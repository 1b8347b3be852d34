package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"git.home.luguber.info/inful/specgen/internal/openapi"
)

// systemPrompt frames every generation request.
const systemPrompt = `You are an expert API test engineer. Given one API endpoint definition, produce a thorough set of test cases covering the happy path, validation errors, authorization failures and relevant edge cases. Answer in Markdown with one "## Test case" section per case, each containing the request to send and the assertions to make on the response.`

// BuildRequest renders the generation request for one endpoint.
func BuildRequest(e openapi.Endpoint) Request {
	var b strings.Builder

	fmt.Fprintf(&b, "Endpoint: %s %s\n", strings.ToUpper(e.Method), e.Path)
	if e.OperationID != "" {
		fmt.Fprintf(&b, "Operation: %s\n", e.OperationID)
	}
	if e.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", e.Summary)
	}
	if e.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", e.Description)
	}
	if len(e.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(e.Tags, ", "))
	}

	if len(e.Parameters) > 0 {
		b.WriteString("\nParameters:\n")
		for _, p := range e.Parameters {
			required := "optional"
			if p.Required {
				required = "required"
			}
			fmt.Fprintf(&b, "- %s (%s, %s, %s)", p.Name, p.In, p.Type, required)
			if p.Description != "" {
				fmt.Fprintf(&b, ": %s", p.Description)
			}
			b.WriteByte('\n')
		}
	}

	if e.RequestBody != nil {
		b.WriteString("\nRequest body:\n")
		writeJSONBlock(&b, e.RequestBody)
	}
	if e.Responses != nil {
		b.WriteString("\nResponses:\n")
		writeJSONBlock(&b, e.Responses)
	}

	b.WriteString("\nGenerate the test cases now.")

	return Request{
		System: systemPrompt,
		Prompt: b.String(),
	}
}

func writeJSONBlock(b *strings.Builder, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(b, "%v\n", v)
		return
	}
	b.WriteString("```json\n")
	b.Write(data)
	b.WriteString("\n```\n")
}

// CountTestCases counts the test-case sections in generated Markdown. Used
// to fill the endpoint state when the provider reports no structured count.
func CountTestCases(content string) int {
	count := strings.Count(strings.ToLower(content), "## test case")
	if count == 0 && strings.TrimSpace(content) != "" {
		// Free-form output still represents at least one case.
		count = 1
	}
	return count
}
