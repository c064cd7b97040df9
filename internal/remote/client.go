// Package remote talks to the hosted ProClean database over its REST
// interface.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	restPrefix    = "/rest/v1/"
	maxErrorBody  = 4 << 10
	headerAPIKey  = "apikey"
	headerPrefer  = "Prefer"
	preferMinimal = "return=minimal"

	TableCustomers = "customers"
	TablePackages  = "packages"
	TableStock     = "stock"
)

var (
	// ErrMissingIdentifier indicates an update or delete payload without id or code.
	ErrMissingIdentifier = errors.New("remote: payload has no id or code")
	errMissingBaseURL    = errors.New("remote: base url is required")
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client issues table requests against the remote REST endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(10*time.Second, WithHTTPLogger(cfg.Logger))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func (c *Client) CreatePackage(ctx context.Context, data map[string]any) error {
	return c.Insert(ctx, TablePackages, data)
}

func (c *Client) UpdatePackage(ctx context.Context, data map[string]any) error {
	column, value, err := identify(data)
	if err != nil {
		return err
	}
	return c.Update(ctx, TablePackages, column, value, data)
}

func (c *Client) DeletePackage(ctx context.Context, data map[string]any) error {
	column, value, err := identify(data)
	if err != nil {
		return err
	}
	return c.Delete(ctx, TablePackages, column, value)
}

func (c *Client) UpdateStock(ctx context.Context, data map[string]any) error {
	column, value, err := identify(data)
	if err != nil {
		return err
	}
	return c.Update(ctx, TableStock, column, value, data)
}

func (c *Client) CreateCustomer(ctx context.Context, data map[string]any) error {
	return c.Insert(ctx, TableCustomers, data)
}

// Ping performs the cheapest read the remote accepts. It is the
// connectivity probe.
func (c *Client) Ping(ctx context.Context) error {
	query := url.Values{}
	query.Set("select", "id")
	query.Set("limit", "1")
	return c.do(ctx, http.MethodGet, TableCustomers, query, nil, nil)
}

// Insert creates one row.
func (c *Client) Insert(ctx context.Context, table string, data map[string]any) error {
	return c.do(ctx, http.MethodPost, table, nil, data, nil)
}

// Update patches the rows whose column equals value.
func (c *Client) Update(ctx context.Context, table, column, value string, data map[string]any) error {
	return c.do(ctx, http.MethodPatch, table, equals(column, value), data, nil)
}

// Delete removes the rows whose column equals value.
func (c *Client) Delete(ctx context.Context, table, column, value string) error {
	return c.do(ctx, http.MethodDelete, table, equals(column, value), nil, nil)
}

// Select reads rows matching every filter pair. A limit of zero is unbounded.
func (c *Client) Select(ctx context.Context, table string, filter map[string]string, limit int) ([]map[string]any, error) {
	query := url.Values{}
	for column, value := range filter {
		query.Set(column, "eq."+value)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var rows []map[string]any
	if err := c.do(ctx, http.MethodGet, table, query, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) do(ctx context.Context, method, table string, query url.Values, body any, dest any) error {
	endpoint := c.baseURL + restPrefix + url.PathEscape(table)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encode %s body: %w", table, err)
		}
		payload = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		request.Header.Set(headerPrefer, preferMinimal)
	}
	if c.apiKey != "" {
		request.Header.Set(headerAPIKey, c.apiKey)
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, table, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
		c.logger.Debug("remote request rejected",
			zap.String("method", method),
			zap.String("table", table),
			zap.Int("status", response.StatusCode))
		return &StatusError{StatusCode: response.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}
	if dest == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(dest); err != nil {
		return fmt.Errorf("remote: decode %s response: %w", table, err)
	}
	return nil
}

func equals(column, value string) url.Values {
	query := url.Values{}
	query.Set(column, "eq."+value)
	return query
}

// identify picks the row key of a mutation payload, preferring id over code.
func identify(data map[string]any) (string, string, error) {
	for _, column := range []string{"id", "code"} {
		raw, ok := data[column]
		if !ok || raw == nil {
			continue
		}
		value := strings.TrimSpace(fmt.Sprint(raw))
		if value != "" {
			return column, value, nil
		}
	}
	return "", "", ErrMissingIdentifier
}
