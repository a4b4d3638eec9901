// Package remote implements sandbox.Provider against an external sandbox
// vendor's HTTP API, wrapped in a circuit breaker so a flapping vendor
// can't pile up goroutines waiting on doomed requests.
package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/CoderRahul01/unideploy/pkg/sandbox"
)

// Client is a sandbox.Provider backed by a remote vendor's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// New creates a Client. baseURL is the vendor's API root (no trailing
// slash); apiKey is sent as a Bearer token.
func New(baseURL, apiKey string) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sandbox-provider",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
	})

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    cb,
	}
}

type createResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	URL    string `json:"url"`
}

// Create asks the vendor to boot a sandbox. Build/run log lines streamed
// back over the HTTP response body are forwarded to req.OnStdout.
func (c *Client) Create(ctx context.Context, req sandbox.CreateRequest) (sandbox.Instance, error) {
	body, err := json.Marshal(map[string]any{
		"repo_url":  req.RepoURL,
		"image_tag": req.ImageTag,
		"env_vars":  req.EnvVars,
		"tier":      req.Tier,
		"resources": sandbox.ResourcesFor(req.Tier),
	})
	if err != nil {
		return sandbox.Instance{}, fmt.Errorf("encoding create request: %w", err)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sandboxes", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("sandbox provider returned status %d", resp.StatusCode)
		}

		bodyReader := bufio.NewReader(resp.Body)
		streamLines(bodyReader, req.OnStdout)

		var cr createResponse
		if err := json.NewDecoder(bodyReader).Decode(&cr); err != nil {
			return nil, fmt.Errorf("decoding create response: %w", err)
		}
		return cr, nil
	})
	if err != nil {
		return sandbox.Instance{}, fmt.Errorf("creating sandbox: %w", err)
	}

	cr := result.(createResponse)
	return sandbox.Instance{ID: cr.ID, Status: cr.Status, URL: cr.URL}, nil
}

func (c *Client) Kill(ctx context.Context, id string) error {
	_, err := c.breaker.Execute(func() (any, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/sandboxes/"+id, nil)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
			return nil, fmt.Errorf("sandbox provider returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

func (c *Client) Connect(ctx context.Context, id string) (sandbox.Instance, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sandboxes/"+id, nil)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("sandbox provider returned status %d", resp.StatusCode)
		}

		var cr createResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return nil, fmt.Errorf("decoding connect response: %w", err)
		}
		return cr, nil
	})
	if err != nil {
		return sandbox.Instance{}, err
	}
	cr := result.(createResponse)
	return sandbox.Instance{ID: cr.ID, Status: cr.Status, URL: cr.URL}, nil
}

type verifyResponse struct {
	Status string `json:"status"`
	Output string `json:"output"`
	Error  string `json:"error"`
}

func (c *Client) Verify(ctx context.Context, workspace, focusFile, patch, errorLog string) (sandbox.VerifyResult, error) {
	body, err := json.Marshal(map[string]string{
		"workspace":  workspace,
		"focus_file": focusFile,
		"patch":      patch,
		"error_log":  errorLog,
	})
	if err != nil {
		return sandbox.VerifyResult{}, fmt.Errorf("encoding verify request: %w", err)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var vr verifyResponse
		if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
			return nil, fmt.Errorf("decoding verify response: %w", err)
		}
		return vr, nil
	})
	if err != nil {
		return sandbox.VerifyResult{}, err
	}
	vr := result.(verifyResponse)
	return sandbox.VerifyResult{Status: vr.Status, Output: vr.Output, Error: vr.Error}, nil
}

func (c *Client) ListActive(ctx context.Context) ([]string, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sandboxes", nil)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var ids []string
		if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
			return nil, fmt.Errorf("decoding list response: %w", err)
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// streamLines reads newline-delimited log lines from r until it hits what
// looks like the trailing JSON object, forwarding each to onLine. The vendor
// API streams build/run output first and the final status object last.
func streamLines(r *bufio.Reader, onLine func(string)) {
	if onLine == nil {
		return
	}
	for {
		// Peek rather than read, so the trailing JSON object stays in r for
		// the caller to decode.
		if next, err := r.Peek(1); err == nil && next[0] == '{' {
			return
		}
		line, err := r.ReadString('\n')
		trimmed := bytes.TrimSpace([]byte(line))
		if len(trimmed) > 0 {
			onLine(string(trimmed))
		}
		if err != nil {
			return
		}
	}
}
