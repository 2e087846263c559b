// Package ollama is a small client for the Ollama HTTP API covering
// embeddings, completion, chat, vision prompts and model management.
package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
)

const backendName = "ollama"

type Config struct {
	BaseURL        string
	EmbeddingModel string
	Timeout        time.Duration
	MaxIdleConns   int
	Temperature    float64
	TopP           float64
	// PullTimeout bounds a model download, which outlasts normal calls.
	PullTimeout time.Duration
}

// Client is safe for concurrent use; every call shares one pooled transport.
type Client struct {
	baseURL    string
	embedModel string
	options    map[string]interface{}
	httpClient *http.Client
	pullClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 50
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = 30 * time.Minute
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.MaxIdleConns
	transport.MaxIdleConnsPerHost = cfg.MaxIdleConns
	transport.IdleConnTimeout = 90 * time.Second

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		embedModel: cfg.EmbeddingModel,
		options: map[string]interface{}{
			"temperature": cfg.Temperature,
			"top_p":       cfg.TopP,
		},
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		pullClient: &http.Client{
			Timeout:   cfg.PullTimeout,
			Transport: transport,
		},
	}
}

// generateResponse is one object of /api/generate, or one NDJSON line when streaming.
type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

type chatResponse struct {
	Model   string             `json:"model"`
	Message models.ChatMessage `json:"message"`
	Done    bool               `json:"done"`
	Error   string             `json:"error,omitempty"`
}

// ModelInfo describes one locally available model.
type ModelInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Embed implements embedding.Backend with the configured embedding model.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp struct {
		Embedding []float64 `json:"embedding"`
		Error     string    `json:"error,omitempty"`
	}
	err := c.postJSON(ctx, "embed", "/api/embeddings", map[string]interface{}{
		"model":  c.embedModel,
		"prompt": text,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &models.BackendError{Backend: backendName, Op: "embed", Message: resp.Error}
	}
	if len(resp.Embedding) == 0 {
		return nil, &models.BackendError{Backend: backendName, Op: "embed", Message: "empty embedding"}
	}

	out := make([]float32, len(resp.Embedding))
	for i, f := range resp.Embedding {
		out[i] = float32(f)
	}
	return out, nil
}

// Generate runs a non-streaming completion.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	var resp generateResponse
	err := c.postJSON(ctx, "generate", "/api/generate", map[string]interface{}{
		"model":   model,
		"prompt":  prompt,
		"stream":  false,
		"options": c.options,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", &models.BackendError{Backend: backendName, Op: "generate", Message: resp.Error}
	}
	return resp.Response, nil
}

// GenerateStream yields response fragments in order until the backend marks
// the stream done. The request starts when iteration begins; breaking out of
// the loop closes the connection.
func (c *Client) GenerateStream(ctx context.Context, model, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body, err := c.open(ctx, "generate_stream", "/api/generate", map[string]interface{}{
			"model":   model,
			"prompt":  prompt,
			"stream":  true,
			"options": c.options,
		})
		if err != nil {
			yield("", err)
			return
		}
		defer body.Close()

		dec := json.NewDecoder(body)
		for {
			var chunk generateResponse
			if err := dec.Decode(&chunk); err != nil {
				if errors.Is(err, io.EOF) {
					yield("", &models.BackendError{Backend: backendName, Op: "generate_stream", Message: "stream ended before done"})
					return
				}
				yield("", classify("generate_stream", err))
				return
			}
			if chunk.Error != "" {
				yield("", &models.BackendError{Backend: backendName, Op: "generate_stream", Message: chunk.Error})
				return
			}
			if chunk.Response != "" && !yield(chunk.Response, nil) {
				return
			}
			if chunk.Done {
				return
			}
		}
	}
}

// Chat sends a message list and returns the assistant reply.
func (c *Client) Chat(ctx context.Context, model string, messages []models.ChatMessage) (string, error) {
	var resp chatResponse
	err := c.postJSON(ctx, "chat", "/api/chat", map[string]interface{}{
		"model":    model,
		"messages": messages,
		"stream":   false,
		"options":  c.options,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", &models.BackendError{Backend: backendName, Op: "chat", Message: resp.Error}
	}
	return resp.Message.Content, nil
}

// AnalyzeImage prompts a vision model with one image.
func (c *Client) AnalyzeImage(ctx context.Context, model string, img []byte, prompt string) (string, error) {
	var resp generateResponse
	err := c.postJSON(ctx, "analyze_image", "/api/generate", map[string]interface{}{
		"model":  model,
		"prompt": prompt,
		"images": []string{base64.StdEncoding.EncodeToString(img)},
		"stream": false,
		"options": map[string]interface{}{
			"temperature": 0,
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", &models.BackendError{Backend: backendName, Op: "analyze_image", Message: resp.Error}
	}
	return resp.Response, nil
}

func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify("list_models", err)
	}
	defer resp.Body.Close()
	if err := checkStatus("list_models", resp); err != nil {
		return nil, err
	}

	var out struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Models, nil
}

// Pull downloads model and returns once Ollama reports success.
func (c *Client) Pull(ctx context.Context, model string) error {
	rc, err := c.send(ctx, c.pullClient, http.MethodPost, "pull", "/api/pull", map[string]interface{}{
		"model":  model,
		"stream": false,
	})
	if err != nil {
		return err
	}
	defer rc.Close()

	var resp struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}
	if err := json.NewDecoder(rc).Decode(&resp); err != nil {
		return classify("pull", fmt.Errorf("failed to decode response: %w", err))
	}
	if resp.Error != "" {
		return &models.BackendError{Backend: backendName, Op: "pull", Message: resp.Error}
	}
	return nil
}

// Delete removes an installed model. An unknown model wraps models.ErrNotFound.
func (c *Client) Delete(ctx context.Context, model string) error {
	rc, err := c.send(ctx, c.httpClient, http.MethodDelete, "delete", "/api/delete", map[string]interface{}{
		"model": model,
	})
	if err != nil {
		var be *models.BackendError
		if errors.As(err, &be) && be.StatusCode == http.StatusNotFound {
			return fmt.Errorf("model %q: %w", model, models.ErrNotFound)
		}
		return err
	}
	return rc.Close()
}

// Ping reports whether the server answers at all.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, body interface{}, out interface{}) error {
	rc, err := c.open(ctx, op, path, body)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := json.NewDecoder(rc).Decode(out); err != nil {
		return classify(op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// open sends a POST and returns the body of a 200 response.
func (c *Client) open(ctx context.Context, op, path string, body interface{}) (io.ReadCloser, error) {
	return c.send(ctx, c.httpClient, http.MethodPost, op, path, body)
}

func (c *Client) send(ctx context.Context, hc *http.Client, method, op, path string, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, classify(op, err)
	}
	if err := checkStatus(op, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	return &models.BackendError{Backend: backendName, Op: op, StatusCode: resp.StatusCode, Message: msg}
}

// classify marks connectivity and timeout failures as transient.
func classify(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return models.Unavailable(backendName, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &models.BackendError{Backend: backendName, Op: op, Message: err.Error(), Err: err}
}
