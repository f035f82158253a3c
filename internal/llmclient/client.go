// Package llmclient is the capability-polymorphic LLM Client (C15, §4.15): a
// uniform contract over chat completion, vision captioning, and embedding,
// with correlation-tagged analytics and per-model concurrency limits.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/concurrency"
	"github.com/jepras/constructionrag/internal/retry"
)

// CallContext tags every client call with the correlation fields analytics
// are grouped by (§4.15).
type CallContext struct {
	CorrelationID string
	Pipeline      string
	Step          string
	RunID         string
	DocumentID    string
}

// Client is the uniform LLM capability contract.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	visionKey  string
	embedKey   string
	logger     *logrus.Logger
	retryPolicy retry.Policy

	semaphores   map[string]*concurrency.Semaphore
	semaphoresMu sync.Mutex
	maxPerModel  int

	metrics *metrics
}

type metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewClient wires a client against an OpenAI-compatible endpoint, matching
// the request/response shape the teacher's OpenRouter provider used. Vision
// and embedding calls may carry distinct API keys (§6.7).
func NewClient(baseURL, apiKey, visionKey, embedKey string, logger *logrus.Logger, registry *prometheus.Registry) *Client {
	m := &metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_client_calls_total",
			Help: "LLM client calls by capability and outcome.",
		}, []string{"capability", "model", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "llm_client_call_duration_seconds",
			Help: "LLM client call latency by capability.",
		}, []string{"capability", "model"}),
	}
	if registry != nil {
		registry.MustRegister(m.calls, m.duration)
	}

	return &Client{
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		baseURL:     baseURL,
		apiKey:      apiKey,
		visionKey:   visionKey,
		embedKey:    embedKey,
		logger:      logger,
		retryPolicy: retry.DefaultPolicy(),
		semaphores:  make(map[string]*concurrency.Semaphore),
		maxPerModel: 3,
		metrics:     m,
	}
}

func (c *Client) semaphoreFor(model string) *concurrency.Semaphore {
	c.semaphoresMu.Lock()
	defer c.semaphoresMu.Unlock()
	s, ok := c.semaphores[model]
	if !ok {
		s = concurrency.NewSemaphore(c.maxPerModel)
		c.semaphores[model] = s
	}
	return s
}

// Complete performs a text-completion call (§4.15).
func (c *Client) Complete(ctx context.Context, cc CallContext, model, prompt string, maxTokens int, temperature float64) (string, error) {
	payload := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}

	var resp chatResponse
	err := c.call(ctx, cc, "completion", model, c.apiKey, "/chat/completions", payload, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", apperr.New("generation.empty_response", apperr.CategoryGeneration, "llm returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// VisionCaption performs a vision-captioning call over an image reference
// (§4.8, §4.15). imageRef is passed as a user-message image_url per the
// OpenAI-compatible vision shape.
func (c *Client) VisionCaption(ctx context.Context, cc CallContext, model, imageRef, prompt string) (string, error) {
	payload := map[string]any{
		"model": model,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": prompt},
					{"type": "image_url", "image_url": map[string]string{"url": imageRef}},
				},
			},
		},
	}

	var resp chatResponse
	err := c.call(ctx, cc, "vision", model, c.visionKey, "/chat/completions", payload, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", apperr.New("enrichment.empty_caption", apperr.CategoryEnrichment, "vision model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed embeds a batch of texts with a single model call (§4.10, §4.15).
func (c *Client) Embed(ctx context.Context, cc CallContext, model string, texts []string) ([][]float32, error) {
	payload := map[string]any{
		"model": model,
		"input": texts,
	}

	var resp embeddingResponse
	err := c.call(ctx, cc, "embedding", model, c.embedKey, "/embeddings", payload, &resp)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, apperr.New("embedding.bad_index", apperr.CategoryEmbedding, "embedding response index out of range")
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// call applies the per-model semaphore and retry policy around doRequest,
// and emits the correlation-tagged analytics log line and metrics. Neither
// the metric updates nor the log write return an error, so analytics never
// fail the call (§4.15).
func (c *Client) call(ctx context.Context, cc CallContext, capability, model, apiKey, endpoint string, payload, result any) error {
	sem := c.semaphoreFor(model)
	if err := sem.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire model semaphore: %w", err)
	}
	defer sem.Release()

	start := time.Now()
	outcome := "ok"

	err := retry.Do(ctx, c.retryPolicy, isRetryable, func() error {
		return c.doRequest(ctx, apiKey, endpoint, payload, result)
	})

	duration := time.Since(start)
	if err != nil {
		outcome = "error"
	}

	if c.metrics != nil {
		c.metrics.calls.WithLabelValues(capability, model, outcome).Inc()
		c.metrics.duration.WithLabelValues(capability, model).Observe(duration.Seconds())
	}
	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"correlation_id": cc.CorrelationID,
			"pipeline":       cc.Pipeline,
			"step":           cc.Step,
			"run_id":         cc.RunID,
			"document_id":    cc.DocumentID,
			"capability":     capability,
			"model":          model,
			"duration_ms":    duration.Milliseconds(),
			"outcome":        outcome,
		}).Debug("llm client call")
	}

	return err
}

func isRetryable(err error) bool {
	var appErr *apperr.Error
	if ae, ok := err.(*apperr.Error); ok {
		appErr = ae
		return appErr.Retryable()
	}
	return false
}

// doRequest performs one HTTP round trip, matching the teacher's
// OpenRouter doRequest shape: marshal payload, set bearer auth, decode JSON.
func (c *Client) doRequest(ctx context.Context, apiKey, endpoint string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.New("external_api.request_failed", apperr.CategoryExternalAPI, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return apperr.New("external_api.rate_limited", apperr.CategoryExternalAPI, "rate limited").WithKind(apperr.KindRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return apperr.New("external_api.bad_status", apperr.CategoryExternalAPI,
			fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody))).WithKind(apperr.KindVendorError)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
