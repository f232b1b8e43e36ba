package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIConfig configures the OpenAI-compatible chat provider.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // empty for api.openai.com; set for compatible gateways
	Model       string
	Temperature float64
}

// OpenAI generates JSON-object responses through the chat completions API.
type OpenAI struct {
	client      openai.Client
	model       string
	temperature float64
}

// NewOpenAI returns an OpenAI provider. The client does not retry; the
// stage executor owns the retry policy.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

// Generate sends the request and returns the first choice's content.
func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	system, err := systemPrompt(req)
	if err != nil {
		return "", err
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(req.Prompt),
		},
		Model:       o.model,
		Temperature: openai.Float(o.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	})
	if err != nil {
		return "", Wrap(err)
	}
	if len(resp.Choices) == 0 {
		return "", NewError(KindTransport, "model returned no choices")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", NewError(KindPolicy, "response blocked by content filter")
	}
	if choice.Message.Refusal != "" {
		return "", NewError(KindPolicy, "model refused: %s", choice.Message.Refusal)
	}
	return choice.Message.Content, nil
}

// systemPrompt combines the request's guidance with the JSON Schema of
// the expected record.
func systemPrompt(req Request) (string, error) {
	var b strings.Builder
	if req.System != "" {
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}
	b.WriteString("Respond with a single JSON object and nothing else.")
	if req.Schema != nil {
		doc, err := json.Marshal(req.Schema.Document())
		if err != nil {
			return "", fmt.Errorf("marshal %s schema: %w", req.Schema.Name, err)
		}
		b.WriteString(" The object must satisfy this JSON Schema:\n")
		b.Write(doc)
	}
	return b.String(), nil
}
