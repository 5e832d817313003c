// Package vapi registers the relay as a custom transcriber of a voice
// assistant on the orchestrator's REST API.
package vapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const ProviderCustomTranscriber = "custom-transcriber"

var ErrMissingCredentials = errors.New("vapi api key and assistant id are required")

type TranscriberServer struct {
	URL string `json:"url"`
}

type Transcriber struct {
	Provider string            `json:"provider"`
	Server   TranscriberServer `json:"server"`
}

type AssistantPatch struct {
	Transcriber Transcriber `json:"transcriber"`
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vapi api error: status %d: %s", e.Status, e.Body)
}

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// RegisterTranscriber points the assistant's transcriber at wsURL and
// returns the API's JSON answer.
func (c *Client) RegisterTranscriber(ctx context.Context, assistantID, wsURL string) (json.RawMessage, error) {
	if c.APIKey == "" || assistantID == "" {
		return nil, ErrMissingCredentials
	}
	body, err := json.Marshal(AssistantPatch{
		Transcriber: Transcriber{
			Provider: ProviderCustomTranscriber,
			Server:   TranscriberServer{URL: wsURL},
		},
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/assistant/%s", c.BaseURL, url.PathEscape(assistantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("patch assistant: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	log.Info().
		Str("module", "vapi").
		Str("assistant", assistantID).
		Str("url", wsURL).
		Int("status", resp.StatusCode).
		Msg("transcriber registered")
	return json.RawMessage(respBody), nil
}
