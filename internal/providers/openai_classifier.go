package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIClassifierName         = "openai"
	openAIClassifierDefaultModel = "gpt-4o-mini"
)

// OpenAIClassifierConfig holds configuration for the OpenAI classifier.
type OpenAIClassifierConfig struct {
	APIKey     string
	Model      string        // "gpt-4o-mini" (default)
	MaxRetries int           // Retry attempts for SDK transport
	Timeout    time.Duration // HTTP timeout
	BaseURL    string        // Optional (tests)
	HTTPClient *http.Client  // Optional (tests)
	Logger     *slog.Logger
}

// OpenAIClassifier picks a subtype by sending the batch pages as a PDF to a
// chat model and validating its JSON answer.
type OpenAIClassifier struct {
	model  string
	client openai.Client
	logger *slog.Logger
}

// NewOpenAIClassifier creates a new OpenAI classifier.
func NewOpenAIClassifier(cfg OpenAIClassifierConfig) *OpenAIClassifier {
	if cfg.Model == "" {
		cfg.Model = openAIClassifierDefaultModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClassifier{
		model:  cfg.Model,
		client: openai.NewClient(opts...),
		logger: cfg.Logger.With("provider", OpenAIClassifierName),
	}
}

// Name returns the provider identifier.
func (c *OpenAIClassifier) Name() string {
	return OpenAIClassifierName
}

// Input reports that classification reads page bytes.
func (c *OpenAIClassifier) Input() ClassifyInput {
	return InputDocument
}

// Model returns the configured model.
func (c *OpenAIClassifier) Model() string {
	return c.model
}

type openAIClassification struct {
	Type       *string `json:"type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classify extracts the target pages and asks the model to pick one rule.
func (c *OpenAIClassifier) Classify(ctx context.Context, req *ClassifyRequest) (*ClassifyResult, error) {
	if req == nil || req.Document == nil {
		return nil, fmt.Errorf("classify requires the source document")
	}
	if len(req.TargetPages) == 0 {
		return nil, fmt.Errorf("classify requires target pages")
	}
	if len(req.Rules) == 0 {
		return nil, nil
	}

	first, last := slices.Min(req.TargetPages), slices.Max(req.TargetPages)
	pages, err := req.Document.Extract(first+1, last+1)
	if err != nil {
		return nil, fmt.Errorf("failed to extract pages for classification: %w", err)
	}

	schemaRaw, err := classificationSchema(req.Rules)
	if err != nil {
		return nil, err
	}
	schema, err := compileStructuredSchema("classification.json", schemaRaw)
	if err != nil {
		return nil, err
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(classificationSystemPrompt(req.Rules, schemaRaw)),
		openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(fmt.Sprintf("Classify pages %d-%d of this loan document.", first+1, last+1)),
			openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
				FileData: openai.String("data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pages)),
				Filename: openai.String(fmt.Sprintf("pages_%d_%d.pdf", first+1, last+1)),
			}),
		}),
	}

	var lastErr error
	for attempt := 0; attempt <= maxStructuredRepairAttempts; attempt++ {
		resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:       openai.ChatModel(c.model),
			Messages:    messages,
			Temperature: openai.Float(0),
		})
		if err != nil {
			return nil, mapOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("%s classification failed: no choices in response", OpenAIClassifierName)
		}
		content := resp.Choices[0].Message.Content

		var out openAIClassification
		if err := schema.decode(content, &out); err != nil {
			lastErr = err
			c.logger.Debug("structured output rejected", "attempt", attempt+1, "error", err)
			messages = append(messages,
				openai.AssistantMessage(content),
				openai.UserMessage(structuredRepairPrompt(schemaRaw, content, err)),
			)
			continue
		}

		result := &ClassifyResult{Confidence: out.Confidence, Reasoning: out.Reasoning}
		if out.Type != nil && ruleExists(req.Rules, *out.Type) {
			t := *out.Type
			result.Type = &t
		}
		return result, nil
	}
	return nil, fmt.Errorf("%s classification failed: %w", OpenAIClassifierName, lastErr)
}

func ruleExists(rules []ClassifyRule, t string) bool {
	for _, r := range rules {
		if r.Type == t {
			return true
		}
	}
	return false
}

// classificationSchema restricts the answer type to the rule types or null.
func classificationSchema(rules []ClassifyRule) (json.RawMessage, error) {
	enum := make([]any, 0, len(rules)+1)
	for _, r := range rules {
		enum = append(enum, r.Type)
	}
	enum = append(enum, nil)

	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"type", "confidence", "reasoning"},
		"properties": map[string]any{
			"type":       map[string]any{"type": []string{"string", "null"}, "enum": enum},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"reasoning":  map[string]any{"type": "string"},
		},
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to build classification schema: %w", err)
	}
	return b, nil
}

func classificationSystemPrompt(rules []ClassifyRule, schemaRaw json.RawMessage) string {
	var b strings.Builder
	b.WriteString("You classify pages of mortgage loan documents. Choose the single best matching type from the list below, ")
	b.WriteString("or null if none match. Confidence is a number between 0 and 1.\n\nTypes:\n")
	for _, r := range rules {
		fmt.Fprintf(&b, "- %s: %s\n", r.Type, r.Description)
	}
	b.WriteString("\nRespond with JSON only, matching this schema:\n")
	b.Write(schemaRaw)
	return b.String()
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			retryAfter := time.Duration(0)
			if apiErr.Response != nil {
				retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return &RateLimitError{
				Message:    fmt.Sprintf("OpenAI rate limited: %s", apiErr.Message),
				RetryAfter: retryAfter,
				StatusCode: apiErr.StatusCode,
			}
		}
		msg := apiErr.Message
		if msg == "" {
			msg = fmt.Sprintf("status %d", apiErr.StatusCode)
		}
		return &APIError{Service: OpenAIClassifierName, Operation: "classification", StatusCode: apiErr.StatusCode, Message: msg}
	}
	return err
}

var _ Classifier = (*OpenAIClassifier)(nil)
