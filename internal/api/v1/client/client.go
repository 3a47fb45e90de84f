// Package client is a Go client for the installer API, used by the CLI.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	routes "github.com/edulution-io/installer/internal/api/v1/routes"
	"github.com/edulution-io/installer/internal/checks"
	"github.com/edulution-io/installer/internal/job"
	"github.com/edulution-io/installer/internal/types"
)

// DefaultTimeout is the default timeout for API requests
const DefaultTimeout = 30 * time.Second

// StreamEvent is one event received from the SSE stream.
type StreamEvent struct {
	ID   uint64
	Kind string
	Data string
}

// Client defines the interface for interacting with the installer API
type Client interface {
	HealthCheck(ctx context.Context) (map[string]string, error)
	GetStatus(ctx context.Context) (*job.Snapshot, error)
	StartPlaybook(ctx context.Context, req types.PlaybookStartRequest) (*types.StartResponse, error)
	StartBootstrap(ctx context.Context, req types.BootstrapRequest) (*types.StartResponse, error)
	GetRequirements(ctx context.Context, playbook string) (*checks.RequirementsResult, error)
	Finish(ctx context.Context) error

	// StreamEvents follows the SSE stream from cursor, invoking fn for every
	// event until the stream ends or ctx is cancelled. It returns the next
	// cursor, suitable for resuming.
	StreamEvents(ctx context.Context, cursor uint64, fn func(StreamEvent)) (uint64, error)
}

// ClientOptions contains configuration options for the API client
type ClientOptions struct {
	// BaseURL is the base URL of the API
	BaseURL string

	// Timeout is the request timeout
	Timeout time.Duration
}

// DefaultOptions returns the default client options
func DefaultOptions() *ClientOptions {
	return &ClientOptions{
		BaseURL: routes.DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// APIClient implements the Client interface
type APIClient struct {
	baseURL string
	timeout time.Duration

	// httpClient serves the SSE stream, which needs an unbuffered body the
	// fiber agent does not expose.
	httpClient *http.Client
}

// NewClient creates a new API client with the given options
func NewClient(opts *ClientOptions) (Client, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	// Validate the base URL
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	return &APIClient{
		baseURL:    opts.BaseURL,
		timeout:    opts.Timeout,
		httpClient: &http.Client{},
	}, nil
}

// createAgent creates a new Fiber Agent for the given method and endpoint
func (c *APIClient) createAgent(ctx context.Context, method, endpoint string, body interface{}) (*fiber.Agent, error) {
	fullURL := c.baseURL + endpoint

	var agent *fiber.Agent
	switch method {
	case http.MethodGet:
		agent = fiber.Get(fullURL)
	case http.MethodPost:
		agent = fiber.Post(fullURL)
	case http.MethodDelete:
		agent = fiber.Delete(fullURL)
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	// Set timeout from context or client default
	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	} else {
		agent.Timeout(c.timeout)
	}

	agent.Set("Content-Type", "application/json")
	agent.Set("Accept", "application/json")

	if body != nil {
		agent.JSON(body)
	}

	return agent, nil
}

// executeRequest creates an agent, sends the request, and unwraps the
// response envelope into v.
func (c *APIClient) executeRequest(ctx context.Context, method, endpoint string, body, v interface{}) error {
	agent, err := c.createAgent(ctx, method, endpoint, body)
	if err != nil {
		return err
	}

	statusCode, respBody, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("error sending request: %w", errs[0])
	}

	var envelope struct {
		Slug  string          `json:"slug"`
		Error string          `json:"error"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		if statusCode < 200 || statusCode >= 300 {
			return &fiber.Error{Code: statusCode, Message: "unknown error"}
		}
		return fmt.Errorf("error decoding response: %w", err)
	}

	if statusCode < 200 || statusCode >= 300 {
		msg := envelope.Error
		if msg == "" {
			msg = "unknown error"
		}
		return &fiber.Error{Code: statusCode, Message: msg}
	}

	if v != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, v); err != nil {
			return fmt.Errorf("error decoding response data: %w", err)
		}
	}
	return nil
}

// HealthCheck checks the health of the API
func (c *APIClient) HealthCheck(ctx context.Context) (map[string]string, error) {
	agent, err := c.createAgent(ctx, http.MethodGet, routes.HealthCheckURL(), nil)
	if err != nil {
		return nil, err
	}
	statusCode, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("error sending request: %w", errs[0])
	}
	if statusCode != http.StatusOK {
		return nil, &fiber.Error{Code: statusCode, Message: "health check failed"}
	}
	var response map[string]string
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}
	return response, nil
}

// GetStatus retrieves the current job status
func (c *APIClient) GetStatus(ctx context.Context) (*job.Snapshot, error) {
	var snap job.Snapshot
	if err := c.executeRequest(ctx, http.MethodGet, routes.StatusURL(), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// StartPlaybook starts a playbook job
func (c *APIClient) StartPlaybook(ctx context.Context, req types.PlaybookStartRequest) (*types.StartResponse, error) {
	var response types.StartResponse
	if err := c.executeRequest(ctx, http.MethodPost, routes.PlaybookStartURL(), req, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// StartBootstrap starts an SSH bootstrap job
func (c *APIClient) StartBootstrap(ctx context.Context, req types.BootstrapRequest) (*types.StartResponse, error) {
	var response types.StartResponse
	if err := c.executeRequest(ctx, http.MethodPost, routes.BootstrapURL(), req, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// GetRequirements retrieves the requirement checks for a playbook
func (c *APIClient) GetRequirements(ctx context.Context, playbook string) (*checks.RequirementsResult, error) {
	var response checks.RequirementsResult
	if err := c.executeRequest(ctx, http.MethodGet, routes.RequirementsURL(playbook), nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Finish asks the installer to render its output files and shut down
func (c *APIClient) Finish(ctx context.Context) error {
	return c.executeRequest(ctx, http.MethodPost, routes.FinishURL(), nil, nil)
}

// StreamEvents follows the SSE stream starting at cursor.
func (c *APIClient) StreamEvents(ctx context.Context, cursor uint64, fn func(StreamEvent)) (uint64, error) {
	streamURL := fmt.Sprintf("%s%s?cursor=%d", c.baseURL, routes.StreamURL(), cursor)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return cursor, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return cursor, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return cursor, &fiber.Error{Code: resp.StatusCode, Message: "stream request failed"}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var ev StreamEvent
	var data []string
	flush := func() {
		if len(data) == 0 {
			return
		}
		ev.Data = strings.Join(data, "\n")
		fn(ev)
		cursor = ev.ID + 1
		ev = StreamEvent{}
		data = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseUint(line[4:], 10, 64); err == nil {
				ev.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			ev.Kind = line[7:]
		case strings.HasPrefix(line, "data: "):
			data = append(data, line[6:])
		}
	}
	flush()

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return cursor, err
	}
	return cursor, nil
}
