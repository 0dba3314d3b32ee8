package dataservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ammar0144/entity4go/pkg/metadata"
)

const maxErrorBody = 64 * 1024

// Client talks to a data service over HTTP
type Client struct {
	baseURL     string
	serviceName string
	http        *http.Client
	logger      *slog.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the service at baseURL, e.g.
// NewClient("http://localhost:8080", "Northwind") targets http://localhost:8080/breeze/Northwind
func NewClient(baseURL, serviceName string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		serviceName: serviceName,
		http:        &http.Client{Timeout: 30 * time.Second},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ServiceName returns the target service name
func (c *Client) ServiceName() string {
	return c.serviceName
}

func (c *Client) endpoint(name string) string {
	return c.baseURL + "/breeze/" + url.PathEscape(c.serviceName) + "/" + url.PathEscape(name)
}

// FetchMetadata downloads the service's metadata into a new store
func (c *Client) FetchMetadata(ctx context.Context) (*metadata.Store, error) {
	data, err := c.do(ctx, http.MethodGet, c.endpoint("Metadata"), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}

	store := metadata.NewStore(c.serviceName)
	if err := store.Import(data); err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	return store, nil
}

// ExecuteQuery runs req against its resource
func (c *Client) ExecuteQuery(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if req.Resource == "" {
		return nil, fmt.Errorf("%w: resource is required", ErrInvalidQuery)
	}

	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	target := c.endpoint(req.Resource) + "?" + url.Values{"query": {string(encoded)}}.Encode()

	data, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", req.Resource, err)
	}

	var result QueryResult
	if err := decode(data, &result); err != nil {
		return nil, fmt.Errorf("query %s: decode response: %w", req.Resource, err)
	}
	return &result, nil
}

// SaveChanges posts bundle and returns the saved values and key mappings
func (c *Client) SaveChanges(ctx context.Context, bundle SaveBundle) (*SaveResult, error) {
	body, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSaveBundle, err)
	}

	data, err := c.do(ctx, http.MethodPost, c.endpoint("SaveChanges"), body)
	if err != nil {
		return nil, fmt.Errorf("save changes: %w", err)
	}

	var result SaveResult
	if err := decode(data, &result); err != nil {
		return nil, fmt.Errorf("save changes: decode response: %w", err)
	}
	return &result, nil
}

// Reset asks the service to restore its sample data
func (c *Client) Reset(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodPost, c.endpoint("Reset"), nil); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	c.logger.Debug("data service call", "method", method, "url", target, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeServerError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

func decodeServerError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	serverErr := &ServerError{StatusCode: resp.StatusCode, Code: CodeInternal}
	var body ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		serverErr.Message = body.Error
		serverErr.EntityErrors = body.EntityErrors
		if body.Code != "" {
			serverErr.Code = body.Code
		}
	} else {
		serverErr.Message = strings.TrimSpace(string(data))
		if serverErr.Message == "" {
			serverErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return serverErr
}

// decode keeps numbers as json.Number so integer keys survive untouched
func decode(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
