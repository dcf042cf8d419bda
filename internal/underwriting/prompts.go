package underwriting

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var promptFuncs = template.FuncMap{
	"json": func(v any) string {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	},
	"money": func(v any) string {
		f, _ := v.(float64)
		return fmt.Sprintf("$%.2f", f)
	},
	"join": func(v any, sep string) string {
		items, _ := v.([]any)
		if len(items) == 0 {
			return "none"
		}
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = fmt.Sprint(it)
		}
		return strings.Join(parts, sep)
	},
}

var prompts = template.Must(template.New("prompts").Funcs(promptFuncs).ParseFS(promptFS, "prompts/*.tmpl"))

// SystemPrompt returns the system prompt shared by every LLM stage.
func SystemPrompt() string {
	var b bytes.Buffer
	if err := prompts.ExecuteTemplate(&b, "system.tmpl", nil); err != nil {
		panic(err)
	}
	return strings.TrimSpace(b.String())
}

// RenderPrompt renders the user prompt of stage for input. explain asks the
// model for an explanation alongside its answer.
func RenderPrompt(stage string, input json.RawMessage, explain bool) (string, error) {
	data := map[string]any{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &data); err != nil {
			return "", fmt.Errorf("decode %s input: %w", stage, err)
		}
	}
	data["explain"] = explain

	var b bytes.Buffer
	if err := prompts.ExecuteTemplate(&b, stage+".tmpl", data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", stage, err)
	}
	return strings.TrimSpace(b.String()), nil
}
