package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CompletionRequest represents the request structure for the llama.cpp
// /completion endpoint. Prompt may be a string or a token id array.
type CompletionRequest struct {
	Prompt            any  `json:"prompt"`
	NPredict          int  `json:"n_predict"`
	NProbs            int  `json:"n_probs,omitempty"`
	PostSamplingProbs bool `json:"post_sampling_probs"`
	Stream            bool `json:"stream"`
	CachePrompt       bool `json:"cache_prompt"`
}

type CompletionResponse struct {
	Content                 string             `json:"content"`
	Stop                    bool               `json:"stop"`
	Model                   string             `json:"model"`
	Tokens                  []int              `json:"tokens,omitempty"`
	StopType                string             `json:"stop_type"`
	TokensCached            int                `json:"tokens_cached"`
	TokensEvaluated         int                `json:"tokens_evaluated"`
	CompletionProbabilities []TokenProbability `json:"completion_probabilities,omitempty"`
}

// TokenProbability is one generated position with its most likely
// alternatives.
type TokenProbability struct {
	ID          int        `json:"id"`
	Token       string     `json:"token"`
	Logprob     float64    `json:"logprob"`
	TopLogprobs []TopToken `json:"top_logprobs"`
}

// TopToken is a candidate token and its log-probability.
type TopToken struct {
	ID      int     `json:"id"`
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

type Client struct {
	BaseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return NewClientWithTimeout(baseURL, 60*time.Second)
}

// NewClientWithTimeout constructs a client using the provided timeout for HTTP requests.
func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	url := fmt.Sprintf("%s/completion", c.BaseURL)
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(bodyBytes))
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorBody map[string]any
		if json.Unmarshal(respBodyBytes, &errorBody) == nil {
			return CompletionResponse{}, fmt.Errorf("server returned %d: %v", resp.StatusCode, errorBody)
		}
		return CompletionResponse{}, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBodyBytes))
	}

	var respBody CompletionResponse
	if err := json.Unmarshal(respBodyBytes, &respBody); err != nil {
		return CompletionResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return respBody, nil
}
