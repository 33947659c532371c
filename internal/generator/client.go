// Package generator calls the external content generator collaborator.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/contentloop/publishd/internal/pipeline"
)

// Config controls the generator client.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client requests articles over HTTP. Every call produces a fresh article;
// nothing is cached, so a retried job regenerates its content.
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type generateRequest struct {
	Topic        string `json:"topic"`
	Instructions string `json:"instructions,omitempty"`
}

// Generate asks the collaborator for a title and HTML body. All failure
// modes, including structurally unusable output, classify as content
// generation failures so the worker can retry with a fresh generation.
func (c *Client) Generate(ctx context.Context, topic, instructions string) (pipeline.GeneratedArticle, error) {
	body, err := json.Marshal(generateRequest{Topic: topic, Instructions: instructions})
	if err != nil {
		return pipeline.GeneratedArticle{}, fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return pipeline.GeneratedArticle{}, fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return pipeline.GeneratedArticle{}, pipeline.Classify(
			pipeline.ErrKindContentGeneration, fmt.Errorf("call generator: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return pipeline.GeneratedArticle{}, pipeline.Errorf(
			pipeline.ErrKindContentGeneration,
			"generator returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var article pipeline.GeneratedArticle
	if err := json.NewDecoder(resp.Body).Decode(&article); err != nil {
		return pipeline.GeneratedArticle{}, pipeline.Classify(
			pipeline.ErrKindContentGeneration, fmt.Errorf("decode generator response: %w", err))
	}
	if article.Title == "" || article.HTMLContent == "" {
		return pipeline.GeneratedArticle{}, pipeline.Errorf(
			pipeline.ErrKindContentGeneration, "generator returned an empty title or body")
	}
	return article, nil
}
