package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	LlamaCloudName    = "llamacloud"
	LlamaCloudBaseURL = "https://api.cloud.llamaindex.ai"
)

// LlamaCloudConfig holds configuration for the LlamaCloud client.
type LlamaCloudConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	RateLimit  int           // Requests per minute (default: 120)
	MaxRetries int           // Max attempts per HTTP call (default: 3)
	RetryDelay time.Duration // Base delay between attempts (default: 1s)
	HTTPClient *http.Client  // Optional (tests)
	Logger     *slog.Logger
}

// LlamaCloudClient registers files, runs split jobs and classifies page
// batches against LlamaCloud. It implements Service.
type LlamaCloudClient struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	limiter    *RateLimiter
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewLlamaCloudClient creates a new LlamaCloud client.
func NewLlamaCloudClient(cfg LlamaCloudConfig) *LlamaCloudClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = LlamaCloudBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 120
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &LlamaCloudClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		client:     httpClient,
		limiter:    NewRateLimiter(cfg.RateLimit),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger.With("provider", LlamaCloudName),
	}
}

// Name returns the client identifier.
func (c *LlamaCloudClient) Name() string {
	return LlamaCloudName
}

// Input reports that classification reads a registered file.
func (c *LlamaCloudClient) Input() ClassifyInput {
	return InputRegisteredFile
}

// RateLimiterStatus returns the limiter state for status endpoints.
func (c *LlamaCloudClient) RateLimiterStatus() RateLimiterStatus {
	return c.limiter.Status()
}

// RegisterFile uploads the bytes and returns the file id.
func (c *LlamaCloudClient) RegisterFile(ctx context.Context, name string, data []byte, purpose FilePurpose) (string, error) {
	body, contentType, err := multipartFile(name, data, map[string]string{"purpose": string(purpose)})
	if err != nil {
		return "", fmt.Errorf("failed to encode upload: %w", err)
	}

	var resp llamaFileResponse
	if err := c.do(ctx, "file upload", http.MethodPost, "/api/v1/files", body, contentType, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &APIError{Service: LlamaCloudName, Operation: "file upload", Message: "response missing file id"}
	}
	c.logger.Debug("registered file", "file_id", resp.ID, "purpose", purpose, "bytes", len(data))
	return resp.ID, nil
}

// CreateSplitJob starts a split job over a registered file. Pages matching
// no category are returned as uncategorized.
func (c *LlamaCloudClient) CreateSplitJob(ctx context.Context, fileHandle string, categories []SplitCategory) (string, error) {
	req := llamaSplitRequest{
		DocumentInput: llamaDocumentInput{Type: "file_id", Value: fileHandle},
		Categories:    categories,
		Strategy:      llamaSplitStrategy{AllowUncategorized: true},
	}
	body, err := jsonBody(req)
	if err != nil {
		return "", err
	}

	var resp llamaSplitResponse
	if err := c.do(ctx, "split job creation", http.MethodPost, "/api/v1/beta/split", body, "application/json", &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &APIError{Service: LlamaCloudName, Operation: "split job creation", Message: "response missing job id"}
	}
	return resp.ID, nil
}

// GetSplitJob fetches the current state of a split job.
func (c *LlamaCloudClient) GetSplitJob(ctx context.Context, jobID string) (*SplitJob, error) {
	var resp llamaSplitResponse
	if err := c.do(ctx, "split job status", http.MethodGet, "/api/v1/beta/split/"+jobID, nil, "", &resp); err != nil {
		return nil, err
	}
	job := &SplitJob{
		ID:           resp.ID,
		Status:       normalizeSplitStatus(resp.Status),
		ErrorMessage: resp.ErrorMessage,
	}
	if resp.Result != nil {
		job.Segments = resp.Result.Segments
	}
	return job, nil
}

// Classify asks for the best matching rule for the target pages of a
// registered file. Only the top prediction is returned.
func (c *LlamaCloudClient) Classify(ctx context.Context, req *ClassifyRequest) (*ClassifyResult, error) {
	if req == nil || req.FileHandle == "" {
		return nil, fmt.Errorf("classify requires a registered file")
	}
	payload := llamaClassifyRequest{
		FileIDs: []string{req.FileHandle},
		Rules:   req.Rules,
		Mode:    "MULTIMODAL",
		ParsingConfiguration: llamaParsingConfiguration{
			TargetPages: req.TargetPages,
		},
	}
	body, err := jsonBody(payload)
	if err != nil {
		return nil, err
	}

	var resp llamaClassifyResponse
	if err := c.do(ctx, "classification", http.MethodPost, "/api/v1/classifier/classify", body, "application/json", &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 || resp.Items[0].Result == nil {
		return nil, nil
	}
	r := resp.Items[0].Result
	return &ClassifyResult{
		Type:       r.Type,
		Confidence: r.Confidence,
		Reasoning:  r.Reasoning,
	}, nil
}

func normalizeSplitStatus(s string) string {
	switch s {
	case "completed", "COMPLETED", "SUCCESS", "success":
		return SplitStatusCompleted
	case "failed", "FAILED", "ERROR", "error", "CANCELLED", "cancelled":
		return SplitStatusFailed
	case "processing", "PROCESSING", "RUNNING", "running":
		return SplitStatusProcessing
	default:
		return SplitStatusPending
	}
}

var _ Service = (*LlamaCloudClient)(nil)
