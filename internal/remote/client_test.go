package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type capturedRequest struct {
	Method string
	Path   string
	Query  string
	APIKey string
	Auth   string
	Prefer string
	Body   map[string]any
}

func newCapturingServer(t *testing.T, status int, response string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		request := capturedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			APIKey: r.Header.Get("apikey"),
			Auth:   r.Header.Get("Authorization"),
			Prefer: r.Header.Get("Prefer"),
		}
		if r.Body != nil {
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
				request.Body = body
			}
		}
		captured = append(captured, request)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return server, &captured
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:    baseURL + "/",
		APIKey:     "workstation-token",
		HTTPClient: NewHTTPClient(time.Second, WithMaxRetries(0)),
	})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}
	return client
}

func TestMutationsUseRESTConventions(t *testing.T) {
	server, captured := newCapturingServer(t, http.StatusCreated, "")
	client := newTestClient(t, server.URL)
	ctx := context.Background()

	if err := client.CreateCustomer(ctx, map[string]any{"id": "c1", "name": "Ali"}); err != nil {
		t.Fatalf("create customer: %v", err)
	}
	if err := client.UpdatePackage(ctx, map[string]any{"code": "P-1", "status": "delivered"}); err != nil {
		t.Fatalf("update package: %v", err)
	}
	if err := client.UpdateStock(ctx, map[string]any{"id": "s1", "code": "A1", "qty": 3}); err != nil {
		t.Fatalf("update stock: %v", err)
	}
	if err := client.DeletePackage(ctx, map[string]any{"id": "p9"}); err != nil {
		t.Fatalf("delete package: %v", err)
	}

	requests := *captured
	if len(requests) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(requests))
	}
	expectations := []struct {
		method string
		path   string
		query  string
	}{
		{http.MethodPost, "/rest/v1/customers", ""},
		{http.MethodPatch, "/rest/v1/packages", "code=eq.P-1"},
		{http.MethodPatch, "/rest/v1/stock", "id=eq.s1"},
		{http.MethodDelete, "/rest/v1/packages", "id=eq.p9"},
	}
	for index, want := range expectations {
		got := requests[index]
		if got.Method != want.method || got.Path != want.path || got.Query != want.query {
			t.Fatalf("request %d: got %s %s?%s", index, got.Method, got.Path, got.Query)
		}
		if got.APIKey != "workstation-token" || got.Auth != "Bearer workstation-token" {
			t.Fatalf("request %d missing credentials: %+v", index, got)
		}
		if got.Prefer != "return=minimal" {
			t.Fatalf("request %d missing prefer header", index)
		}
	}
	if requests[0].Body["name"] != "Ali" {
		t.Fatalf("unexpected create body: %+v", requests[0].Body)
	}
	if requests[2].Body["qty"] != float64(3) {
		t.Fatalf("unexpected stock body: %+v", requests[2].Body)
	}
}

func TestNonSuccessStatusBecomesStatusError(t *testing.T) {
	server, _ := newCapturingServer(t, http.StatusConflict, `{"message":"duplicate"}`)
	client := newTestClient(t, server.URL)

	err := client.CreatePackage(context.Background(), map[string]any{"code": "P-1"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusConflict || statusErr.Body != `{"message":"duplicate"}` {
		t.Fatalf("unexpected status error: %+v", statusErr)
	}
}

func TestUpdateWithoutIdentifierFails(t *testing.T) {
	server, captured := newCapturingServer(t, http.StatusOK, "")
	client := newTestClient(t, server.URL)

	err := client.UpdateStock(context.Background(), map[string]any{"qty": 1})
	if !errors.Is(err, ErrMissingIdentifier) {
		t.Fatalf("expected ErrMissingIdentifier, got %v", err)
	}
	if len(*captured) != 0 {
		t.Fatalf("expected no request to be sent")
	}
}

func TestPingAndSelect(t *testing.T) {
	server, captured := newCapturingServer(t, http.StatusOK, `[{"id":"c1","name":"Ali"}]`)
	client := newTestClient(t, server.URL)
	ctx := context.Background()

	if err := client.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	rows, err := client.Select(ctx, TableCustomers, map[string]string{"name": "Ali"}, 5)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != "c1" {
		t.Fatalf("unexpected rows: %+v", rows)
	}

	requests := *captured
	if requests[0].Method != http.MethodGet || requests[0].Query != "limit=1&select=id" {
		t.Fatalf("unexpected ping request: %+v", requests[0])
	}
	if requests[1].Query != "limit=5&name=eq.Ali" {
		t.Fatalf("unexpected select query: %q", requests[1].Query)
	}
	if requests[0].Prefer != "" {
		t.Fatalf("reads must not send a prefer header")
	}
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		BaseURL:    server.URL,
		HTTPClient: NewHTTPClient(time.Second, WithMaxRetries(2), WithRetryWait(time.Millisecond, 5*time.Millisecond)),
	})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClientDoesNotRetryTooManyRequests(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		BaseURL:    server.URL,
		HTTPClient: NewHTTPClient(time.Second, WithMaxRetries(3), WithRetryWait(time.Millisecond, time.Millisecond)),
	})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}
	err = client.Ping(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 status error, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts.Load())
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{BaseURL: "  "}); err == nil {
		t.Fatalf("expected missing base url error")
	}
}
