// Package client is the Go SDK for the interaction API. It owns a cached
// per-section view and serializes mutations: each write waits for the
// server, refetches the aggregate, and only then swaps the cached view.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotAuthenticated is returned synchronously, before any network
	// I/O, when the client has no bearer token.
	ErrNotAuthenticated = errors.New("client: not authenticated")
	// ErrBusy is returned while a previous mutation is still in flight.
	ErrBusy = errors.New("client: mutation already in flight")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client: closed")
)

// APIError is a server-reported failure, decoded from the response envelope.
type APIError struct {
	Kind    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client

	mu         sync.Mutex
	submitting bool
	closed     bool
	section    string
	view       map[string]any
	lastError  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// New creates a client bound to one section of the plan. token may be
// empty; mutations will then fail with ErrNotAuthenticated without
// touching the network.
func New(baseURL, token, section string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		section: section,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// View returns the cached aggregate for the client's section. ok is false
// until the first successful fetch.
func (c *Client) View() (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view, c.view != nil
}

// LastError returns the message recorded by the most recent failed
// operation, or empty after a success.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// IsSubmitting reports whether a mutation is currently in flight.
func (c *Client) IsSubmitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitting
}

// Close abandons the client, resetting the cached view and error
// state. A mutation still in flight completes its request but will
// not swap the cached view afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.view = nil
	c.lastError = ""
}

// AddComment posts a comment, then refreshes the cached view.
func (c *Client) AddComment(ctx context.Context, content string) error {
	return c.mutate(ctx, http.MethodPost, "/marketing/comments/"+c.section, map[string]any{"content": content})
}

// AddQuestion posts a question, then refreshes the cached view.
func (c *Client) AddQuestion(ctx context.Context, content string) error {
	return c.mutate(ctx, http.MethodPost, "/marketing/questions/"+c.section, map[string]any{"content": content})
}

// AnswerQuestion sets a question's answer, then refreshes the cached view.
func (c *Client) AnswerQuestion(ctx context.Context, questionID, answer string) error {
	return c.mutate(ctx, http.MethodPut, "/marketing/questions/"+questionID+"/answer", map[string]any{"answer": answer})
}

// ToggleLike flips the caller's like, then refreshes the cached view.
func (c *Client) ToggleLike(ctx context.Context, reaction string) error {
	return c.mutate(ctx, http.MethodPost, "/marketing/likes/"+c.section, map[string]any{"reaction": reaction})
}

// SubmitApproval appends an approval decision, then refreshes the cached view.
func (c *Client) SubmitApproval(ctx context.Context, status, comments string) error {
	return c.mutate(ctx, http.MethodPost, "/marketing/approvals/"+c.section, map[string]any{"status": status, "comments": comments})
}

// FetchInteractions loads the four-kind aggregate for the section and
// swaps it into the cached view.
func (c *Client) FetchInteractions(ctx context.Context) (map[string]any, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}
	data, err := c.do(ctx, http.MethodGet, "/marketing/interactions/"+c.section, nil)
	if err != nil {
		c.recordError(err)
		return nil, err
	}
	var view map[string]any
	if err := json.Unmarshal(data, &view); err != nil {
		err = &APIError{Kind: "NETWORK_ERROR", Message: "malformed aggregate payload"}
		c.recordError(err)
		return nil, err
	}
	if err := degradedAggregate(view); err != nil {
		c.recordError(err)
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	c.view = view
	c.lastError = ""
	return view, nil
}

// degradedAggregate reports an aggregate that resolved only partially,
// carrying per-kind failures under "errors". A partial aggregate counts
// as a failed read and never replaces the cached view.
func degradedAggregate(view map[string]any) error {
	errs, ok := view["errors"].(map[string]any)
	if !ok || len(errs) == 0 {
		return nil
	}
	kinds := make([]string, 0, len(errs))
	for kind := range errs {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return &APIError{Kind: "DEGRADED_AGGREGATE", Message: "aggregate read failed for: " + strings.Join(kinds, ", ")}
}

// mutate runs one write: guard, request, await, refetch, swap. The cached
// view is only replaced after both the write and the refetch succeed;
// any failure leaves the previous view untouched.
func (c *Client) mutate(ctx context.Context, method, path string, body map[string]any) error {
	if c.token == "" {
		return ErrNotAuthenticated
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.submitting {
		c.mu.Unlock()
		return ErrBusy
	}
	c.submitting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.submitting = false
		c.mu.Unlock()
	}()

	if _, err := c.do(ctx, method, path, body); err != nil {
		c.recordError(err)
		return err
	}

	data, err := c.do(ctx, http.MethodGet, "/marketing/interactions/"+c.section, nil)
	if err != nil {
		c.recordError(err)
		return err
	}
	var view map[string]any
	if err := json.Unmarshal(data, &view); err != nil {
		err = &APIError{Kind: "NETWORK_ERROR", Message: "malformed aggregate payload"}
		c.recordError(err)
		return err
	}
	if err := degradedAggregate(view); err != nil {
		c.recordError(err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.view = view
	c.lastError = ""
	return nil
}

func (c *Client) recordError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.lastError = err.Error()
}

func (c *Client) do(ctx context.Context, method, path string, body map[string]any) (json.RawMessage, error) {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, &APIError{Kind: "NETWORK_ERROR", Message: err.Error()}
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &APIError{Kind: "NETWORK_ERROR", Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &APIError{Kind: "NETWORK_ERROR", Message: err.Error()}
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &APIError{Kind: "NETWORK_ERROR", Status: resp.StatusCode, Message: "malformed response"}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrNotAuthenticated
	}
	if !env.Success {
		kind := env.Code
		if kind == "" {
			kind = "SERVER_ERROR"
		}
		return nil, &APIError{Kind: kind, Status: resp.StatusCode, Message: env.Message}
	}
	return env.Data, nil
}
