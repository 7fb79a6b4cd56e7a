package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/urlshield/urlshield/internal/common"
)

// ProviderConfig configures one escalation provider.
type ProviderConfig struct {
	// APIKey authenticates against the provider. Required.
	APIKey string
	// Model selects the model; empty uses the provider default.
	Model string
	// BaseURL overrides the API endpoint.
	BaseURL string
	// Timeout bounds one analysis round trip.
	Timeout time.Duration
	// RequestsPerMinute throttles outbound calls.
	RequestsPerMinute int
}

// chatClient is a chat-completions escalation client. Both supported
// providers speak the same wire format and differ only in endpoint, default
// model, and extra headers.
type chatClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	name       string
	baseURL    string
	apiKey     string
	model      string
}

// NewOpenRouter creates the primary escalation provider.
func NewOpenRouter(cfg ProviderConfig) (Client, error) {
	return newChatClient("openrouter", "https://openrouter.ai/api/v1", "anthropic/claude-3.5-sonnet", cfg)
}

// NewOpenAI creates the fallback escalation provider.
func NewOpenAI(cfg ProviderConfig) (Client, error) {
	return newChatClient("openai", "https://api.openai.com/v1", "gpt-4o-mini", cfg)
}

func newChatClient(name, defaultBaseURL, defaultModel string, cfg ProviderConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s API key", common.ErrMissingConfig, name)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	rpm := cfg.RequestsPerMinute
	if rpm == 0 {
		rpm = 20
	}

	return &chatClient{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60), 1),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

func (c *chatClient) Name() string {
	return c.name
}

const systemPrompt = `You are a financial compliance analyst. You review web pages that mention a regulated brokerage brand and decide whether the page violates financial marketing regulations. Respond only with a JSON object containing:
1. "category": "BLACKLIST", "WHITELIST", or "NEEDS_REVIEW"
2. "confidence": a float between 0.0 and 1.0
3. "explanation": a short justification
4. "compliance_issues": an array of specific issues found (empty array if none)`

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze sends the URL's evidence to the provider and parses its verdict.
func (c *chatClient) Analyze(ctx context.Context, input Input) (*Analysis, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	jsonBody, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(input)},
		},
		Temperature: 0.1,
		MaxTokens:   500,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", strings.NewReader(string(jsonBody)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %s", common.ErrRateLimit, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s API error (status %d): %s", c.name, resp.StatusCode, string(body))
	}

	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return parseAnalysis(response.Choices[0].Message.Content)
}

func buildPrompt(input Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", input.URL)
	if input.Title != "" {
		fmt.Fprintf(&b, "Page title: %s\n", input.Title)
	}

	b.WriteString("\nBrand mention contexts:\n")
	for i, ctx := range input.Contexts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, ctx)
	}

	if len(input.RuleHits) > 0 {
		b.WriteString("\nDeterministic rule hits already found:\n")
		for _, hit := range input.RuleHits {
			fmt.Fprintf(&b, "- %s (%s severity): %q\n", hit.RuleName, hit.Severity, hit.Text)
		}
	}

	b.WriteString("\nClassify this page.")
	return b.String()
}
