package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	VertexName          = "vertex"
	VertexDefaultModel  = "gemini-1.5-pro"
	VertexDefaultRegion = "us-central1"
)

// VertexConfig holds configuration for the Vertex AI Gemini client.
// Credentials come from the environment (ADC).
type VertexConfig struct {
	ProjectID    string
	Region       string
	DefaultModel string
	RPM          int
}

// VertexClient implements LLMClient with Gemini on Vertex AI.
type VertexClient struct {
	base         *genai.Client
	projectID    string
	region       string
	defaultModel string
	limiter      *RateLimiter
}

// NewVertexClient dials Vertex AI.
func NewVertexClient(ctx context.Context, cfg VertexConfig) (*VertexClient, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("%w: vertex needs a project id", ErrNotConfigured)
	}
	if cfg.Region == "" {
		cfg.Region = VertexDefaultRegion
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = VertexDefaultModel
	}

	base, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &VertexClient{
		base:         base,
		projectID:    cfg.ProjectID,
		region:       cfg.Region,
		defaultModel: cfg.DefaultModel,
		limiter:      NewRateLimiter(cfg.RPM),
	}, nil
}

// Name returns the client identifier.
func (c *VertexClient) Name() string {
	return VertexName
}

// Close releases the underlying connection.
func (c *VertexClient) Close() error {
	return c.base.Close()
}

// Chat sends the conversation to Gemini. System messages become the system
// instruction; structured requests force a JSON response.
func (c *VertexClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	name := req.Model
	if name == "" {
		name = c.defaultModel
	}
	res := &ChatResult{
		Provider:  VertexName,
		ModelUsed: name,
		RequestID: req.RequestID,
	}
	if res.RequestID == "" {
		res.RequestID = uuid.NewString()
	}

	model := c.base.GenerativeModel(name)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		model.GenerationConfig.MaxOutputTokens = genai.Ptr(int32(req.MaxTokens))
	}
	var system []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
		}
	}
	if req.ResponseFormat != nil {
		model.GenerationConfig.ResponseMIMEType = "application/json"
		system = append(system, schemaInstruction(req.ResponseFormat))
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))},
		}
	}

	err := complete(ctx, req, res, func(ctx context.Context, msgs []Message) (string, int, int, error) {
		history, last := toGeminiHistory(msgs)
		if last == "" {
			return "", 0, 0, errors.New("vertex: conversation has no user turn")
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return "", 0, 0, err
		}
		session := model.StartChat()
		session.History = history
		resp, err := session.SendMessage(ctx, genai.Text(last))
		if err != nil {
			return "", 0, 0, c.classify(err)
		}
		text := geminiText(resp)
		if text == "" {
			return "", 0, 0, transient(errors.New("vertex: empty response"))
		}
		var pt, ct int
		if u := resp.UsageMetadata; u != nil {
			pt, ct = int(u.PromptTokenCount), int(u.CandidatesTokenCount)
		}
		return text, pt, ct, nil
	})
	res.ExecutionTime = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("vertex chat: %w", err)
	}
	return res, nil
}

func (c *VertexClient) classify(err error) error {
	switch status.Code(err) {
	case codes.ResourceExhausted:
		c.limiter.Record429()
		return transient(err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
		return transient(err)
	}
	return err
}

// toGeminiHistory splits msgs into prior turns and the final user text.
// System messages are carried by the model's system instruction.
func toGeminiHistory(msgs []Message) ([]*genai.Content, string) {
	var turns []*genai.Content
	for _, m := range msgs {
		switch m.Role {
		case "system":
			continue
		case "assistant":
			turns = append(turns, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			turns = append(turns, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != "user" {
		return turns, ""
	}
	last := turns[len(turns)-1]
	return turns[:len(turns)-1], string(last.Parts[0].(genai.Text))
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

var _ LLMClient = (*VertexClient)(nil)
