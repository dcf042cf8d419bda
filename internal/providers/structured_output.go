package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// maxStructuredRepairAttempts limits self-repair loops when structured
// output parsing/validation fails.
const maxStructuredRepairAttempts = 2

// roundTrip performs one provider call for msgs and reports token usage.
type roundTrip func(ctx context.Context, msgs []Message) (content string, promptTokens, completionTokens int, err error)

// complete drives call until it produces an acceptable answer. Plain requests
// take one round trip. Structured requests are parsed and validated locally,
// and the model is asked to repair invalid output a bounded number of times.
func complete(ctx context.Context, req *ChatRequest, res *ChatResult, call roundTrip) error {
	msgs := append([]Message(nil), req.Messages...)
	for attempt := 0; ; attempt++ {
		res.Attempts++
		content, pt, ct, err := call(ctx, msgs)
		if err != nil {
			return err
		}
		res.addUsage(pt, ct)
		res.Content = content

		if req.ResponseFormat == nil {
			return nil
		}
		parsed, err := parseStructuredJSON(content)
		if err == nil {
			err = validateStructuredJSON(req.ResponseFormat.Schema, parsed)
		}
		if err == nil {
			res.ParsedJSON = parsed
			return nil
		}
		if attempt >= maxStructuredRepairAttempts {
			return transient(fmt.Errorf("structured output %s: %w", req.ResponseFormat.Name, err))
		}
		msgs = append(msgs,
			Message{Role: "assistant", Content: content},
			User(structuredRepairPrompt(req.ResponseFormat.Schema, content, err)),
		)
	}
}

// parseStructuredJSON parses JSON from model output, with lightweight recovery
// for markdown code fences and surrounding text.
func parseStructuredJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty structured output")
	}

	for _, candidate := range []string{content, stripCodeFences(content), extractJSONCandidate(content)} {
		if candidate == "" {
			continue
		}
		var parsed any
		if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
			continue
		}
		return json.Marshal(parsed)
	}
	return nil, fmt.Errorf("output is not JSON")
}

func stripCodeFences(content string) string {
	if !strings.HasPrefix(content, "```") {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) < 2 {
		return ""
	}
	lines = lines[1:]
	if last := len(lines) - 1; strings.TrimSpace(lines[last]) == "```" {
		lines = lines[:last]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// extractJSONCandidate returns the outermost object or array in content.
func extractJSONCandidate(content string) string {
	start := strings.IndexAny(content, "{[")
	if start < 0 {
		return ""
	}
	closer := "}"
	if content[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(content, closer)
	if end < start {
		return ""
	}
	return content[start : end+1]
}

var compiledSchemas sync.Map // string(schema) -> *jsonschema.Schema

// validateStructuredJSON validates parsed JSON against schemaRaw.
func validateStructuredJSON(schemaRaw, parsed json.RawMessage) error {
	if len(schemaRaw) == 0 {
		return nil
	}
	schema, err := compileSchema(schemaRaw)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(parsed, &doc); err != nil {
		return fmt.Errorf("decode structured output: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("structured output does not match schema: %w", err)
	}
	return nil
}

func compileSchema(schemaRaw json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schemaRaw)
	if s, ok := compiledSchemas.Load(key); ok {
		return s.(*jsonschema.Schema), nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaRaw)); err != nil {
		return nil, fmt.Errorf("load structured schema: %w", err)
	}
	s, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile structured schema: %w", err)
	}
	compiledSchemas.Store(key, s)
	return s, nil
}

func structuredRepairPrompt(schemaRaw json.RawMessage, lastOutput string, issue error) string {
	lastOutput = strings.TrimSpace(lastOutput)
	if len(lastOutput) > 12000 {
		lastOutput = lastOutput[:12000] + "\n...[truncated]"
	}

	return fmt.Sprintf(`Return ONLY valid JSON (no markdown, no commentary) that strictly conforms to this schema.

Schema:
%s

Your previous output:
%s

Validation issue:
%v`, schemaRaw, lastOutput, issue)
}

// schemaInstruction renders the schema into a system prompt suffix for
// providers without native schema enforcement.
func schemaInstruction(rf *ResponseFormat) string {
	return fmt.Sprintf("Respond with a single JSON object named %s conforming to this JSON Schema:\n%s", rf.Name, rf.Schema)
}
