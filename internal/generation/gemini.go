package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// contentGenerator is the slice of genai.Models used by GeminiModel.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiModel adapts the genai client to llms.Model so it shares the
// Client's prompts, rate limiting and retries.
type GeminiModel struct {
	models contentGenerator
	model  string
}

var _ llms.Model = (*GeminiModel)(nil)

// NewGeminiModel creates a Gemini API backed model.
func NewGeminiModel(ctx context.Context, apiKey, model, baseURL string) (*GeminiModel, error) {
	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	cli, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiModel{models: cli.Models, model: model}, nil
}

// GenerateContent sends messages as one Gemini request. System messages become
// the system instruction and AI messages are replayed with the model role.
func (g *GeminiModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}

	cfg := &genai.GenerateContentConfig{}
	if opts.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}

	contents, system := toGeminiContents(messages)
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(contents) == 0 {
		return nil, errors.New("gemini: no user content to send")
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return fromGeminiResponse(resp), nil
}

// Call sends a single prompt.
func (g *GeminiModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, g, prompt, options...)
}

func toGeminiContents(messages []llms.MessageContent) ([]*genai.Content, string) {
	var contents []*genai.Content
	var system []string
	for _, m := range messages {
		text := messageText(m)
		if text == "" {
			continue
		}
		switch m.Role {
		case schema.ChatMessageTypeSystem:
			system = append(system, text)
		case schema.ChatMessageTypeAI:
			contents = append(contents, genai.NewContentFromText(text, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}
	}
	return contents, strings.Join(system, "\n\n")
}

func messageText(m llms.MessageContent) string {
	var parts []string
	for _, p := range m.Parts {
		if tc, ok := p.(llms.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// fromGeminiResponse maps each candidate onto one choice.
func fromGeminiResponse(resp *genai.GenerateContentResponse) *llms.ContentResponse {
	out := &llms.ContentResponse{}
	if resp == nil {
		return out
	}
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		var text strings.Builder
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part != nil && !part.Thought {
					text.WriteString(part.Text)
				}
			}
		}
		out.Choices = append(out.Choices, &llms.ContentChoice{
			Content:    text.String(),
			StopReason: string(cand.FinishReason),
		})
	}
	return out
}
