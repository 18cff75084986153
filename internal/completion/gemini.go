package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiConfig selects the Gemini API (APIKey) or Vertex AI (Project and
// Location) backend.
type GeminiConfig struct {
	APIKey   string
	Project  string
	Location string
}

// GeminiProvider calls Gemini through the Google GenAI SDK.
type GeminiProvider struct {
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{}
	switch {
	case strings.TrimSpace(cfg.APIKey) != "":
		cc.APIKey = strings.TrimSpace(cfg.APIKey)
		cc.Backend = genai.BackendGeminiAPI
	case strings.TrimSpace(cfg.Project) != "" && strings.TrimSpace(cfg.Location) != "":
		cc.Project = strings.TrimSpace(cfg.Project)
		cc.Location = strings.TrimSpace(cfg.Location)
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, fmt.Errorf("gemini: %w (set GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT and GOOGLE_CLOUD_LOCATION)", ErrMissingCredential)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (string, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		var role genai.Role = genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if strings.TrimSpace(req.System) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	res, err := p.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &StatusError{Status: apiErr.Code, Message: apiErr.Message}
		}
		var apiErrPtr *genai.APIError
		if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
			return "", &StatusError{Status: apiErrPtr.Code, Message: apiErrPtr.Message}
		}
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	if res == nil || len(res.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrMalformedResponse)
	}
	return res.Text(), nil
}
