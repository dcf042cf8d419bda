package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseStructuredJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{name: "plain", content: `{"ok":true}`, want: `{"ok":true}`},
		{name: "code fence", content: "```json\n{\"ok\":true}\n```", want: `{"ok":true}`},
		{name: "surrounding text", content: "Here you go: {\"ok\": true} hope that helps", want: `{"ok":true}`},
		{name: "array", content: "result: [1, 2]", want: `[1,2]`},
		{name: "empty", content: "  ", wantErr: true},
		{name: "prose", content: "no json here", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStructuredJSON(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseStructuredJSON(%q) = %s, want error", tt.content, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseStructuredJSON() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

var levelSchema = json.RawMessage(`{
	"type":"object",
	"properties":{"level":{"type":"integer","minimum":1,"maximum":3}},
	"required":["level"],
	"additionalProperties":false
}`)

func TestValidateStructuredJSON(t *testing.T) {
	if err := validateStructuredJSON(levelSchema, json.RawMessage(`{"level":2}`)); err != nil {
		t.Fatalf("valid output rejected: %v", err)
	}
	if err := validateStructuredJSON(levelSchema, json.RawMessage(`{"level":5}`)); err == nil {
		t.Fatal("out of range output accepted")
	}
	if err := validateStructuredJSON(nil, json.RawMessage(`{"anything":1}`)); err != nil {
		t.Fatalf("no schema should accept anything: %v", err)
	}
}

func TestComplete_RepairsInvalidOutput(t *testing.T) {
	replies := []string{`{"level":9}`, "```json\n{\"level\":3}\n```"}
	var seen [][]Message
	call := func(ctx context.Context, msgs []Message) (string, int, int, error) {
		seen = append(seen, msgs)
		r := replies[len(seen)-1]
		return r, 10, 2, nil
	}

	req := &ChatRequest{
		Messages:       []Message{User("rate it")},
		ResponseFormat: &ResponseFormat{Name: "level", Schema: levelSchema},
	}
	res := &ChatResult{}
	if err := complete(context.Background(), req, res, call); err != nil {
		t.Fatalf("complete() error = %v", err)
	}
	if string(res.ParsedJSON) != `{"level":3}` {
		t.Errorf("ParsedJSON = %s", res.ParsedJSON)
	}
	if res.Attempts != 2 || res.PromptTokens != 20 || res.TotalTokens != 24 {
		t.Errorf("attempts=%d prompt=%d total=%d", res.Attempts, res.PromptTokens, res.TotalTokens)
	}
	if n := len(seen[1]); n != 3 || !strings.Contains(seen[1][2].Content, "Validation issue") {
		t.Errorf("repair turn missing, second call got %d messages", n)
	}
}

func TestComplete_GivesUpAsTransient(t *testing.T) {
	calls := 0
	call := func(ctx context.Context, msgs []Message) (string, int, int, error) {
		calls++
		return "not json", 0, 0, nil
	}
	req := &ChatRequest{
		Messages:       []Message{User("x")},
		ResponseFormat: &ResponseFormat{Name: "level", Schema: levelSchema},
	}
	err := complete(context.Background(), req, &ChatResult{}, call)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}
	if calls != maxStructuredRepairAttempts+1 {
		t.Errorf("calls = %d, want %d", calls, maxStructuredRepairAttempts+1)
	}
}

func TestComplete_PlainRequestIsOneCall(t *testing.T) {
	calls := 0
	res := &ChatResult{}
	err := complete(context.Background(), &ChatRequest{Messages: []Message{User("hi")}}, res,
		func(ctx context.Context, msgs []Message) (string, int, int, error) {
			calls++
			return "not json at all", 1, 1, nil
		})
	if err != nil || calls != 1 || res.Content != "not json at all" {
		t.Fatalf("err=%v calls=%d content=%q", err, calls, res.Content)
	}
}
