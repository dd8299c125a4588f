package aiservice

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ivankoval/vault-inbox/internal/core/ports"
)

func (c *Client) postJSON(ctx context.Context, httpClient *http.Client, operation, path string, payload, out any) error {
	resp, err := c.post(ctx, httpClient, operation, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

// postStream consumes a newline-delimited JSON stream of text deltas,
// invoking the handler with the cumulative text after each delta.
func (c *Client) postStream(ctx context.Context, httpClient *http.Client, operation, path string, payload any, handler ports.StreamHandler) (string, error) {
	resp, err := c.post(ctx, httpClient, operation, path, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var cumulative strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk struct {
			Delta string `json:"delta"`
			Done  bool   `json:"done"`
		}
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("decode %s stream chunk: %w", operation, err)
		}
		if chunk.Delta != "" {
			cumulative.WriteString(chunk.Delta)
			if handler != nil {
				if err := handler(ctx, cumulative.String()); err != nil {
					return cumulative.String(), err
				}
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read %s stream: %w", operation, err)
	}
	return cumulative.String(), nil
}

func (c *Client) post(ctx context.Context, httpClient *http.Client, operation, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ai %s request: %w", operation, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, newHTTPStatusError(operation, resp)
	}
	return resp, nil
}

func newHTTPStatusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &HTTPStatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}
