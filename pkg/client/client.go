package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrDenied is wrapped by the *DeniedError returned when a modify request is
// refused.
var ErrDenied = errors.New("modification denied")

// DeniedError carries the reason the daemon gave for refusing a modify request:
// "not_registered", "invalid_token", "not_owner" or "session_active".
type DeniedError struct {
	Status int
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDenied, e.Reason)
}

func (e *DeniedError) Unwrap() error { return ErrDenied }

// APIError is returned for any other non-2xx response.
type APIError struct {
	Status  int
	Message string
	Reason  string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("server error %d (%s): %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// UploadResult is the token and first ledger block of a newly uploaded file.
type UploadResult struct {
	Path        string `json:"path"`
	Token       string `json:"token"`
	Fingerprint string `json:"fingerprint"`
	Address     string `json:"address"`
	Index       int    `json:"index"`
}

// Session describes an open authorized-editing session.
type Session struct {
	ID                 string    `json:"id"`
	Path               string    `json:"path"`
	Address            string    `json:"address"`
	PreEditFingerprint string    `json:"pre_edit_fingerprint"`
	StartedAt          time.Time `json:"started_at"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// Grant is returned by Modify on success.
type Grant struct {
	Decision      string   `json:"decision"`
	Session       *Session `json:"session"`
	SessionTicket string   `json:"session_ticket"`
}

// Payload is the body of a ledger block.
type Payload struct {
	Action      string    `json:"action"`
	Path        string    `json:"path"`
	Fingerprint string    `json:"fingerprint"`
	Address     string    `json:"address"`
	Token       string    `json:"token"`
	Timestamp   time.Time `json:"timestamp"`
}

// Block is one ledger block.
type Block struct {
	Index    int     `json:"index"`
	PrevHash string  `json:"prev_hash"`
	Payload  Payload `json:"payload"`
	Hash     string  `json:"hash"`
}

// FileStatus describes one watched file.
type FileStatus struct {
	Path        string    `json:"path"`
	Fingerprint string    `json:"fingerprint"`
	Address     string    `json:"address"`
	BlockIndex  int       `json:"block_index"`
	UpdatedAt   time.Time `json:"updated_at"`
	Mode        string    `json:"mode"`
	Session     *Session  `json:"session,omitempty"`
}

// LogEntry is one activity line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Path      string    `json:"path,omitempty"`
}

// LedgerOverview is the chain length and current root hash.
type LedgerOverview struct {
	Blocks int    `json:"blocks"`
	Root   string `json:"root"`
}

// VerifyResult reports ledger integrity.
type VerifyResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Client talks to a wardend daemon.
type Client struct {
	base       string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		c.httpClient = &http.Client{Timeout: d}
		return nil
	}
}

// New creates a Client for the daemon at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", base, err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Upload registers content under filename for principal.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader, principal string) (*UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("principal", principal); err != nil {
		return nil, err
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, content); err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/files", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out UploadResult
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadFile opens path on the local disk and uploads it.
func (c *Client) UploadFile(ctx context.Context, path, principal string) (*UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return c.Upload(ctx, path, f, principal)
}

// Modify requests an authorized edit of name. A refusal is returned as a
// *DeniedError.
func (c *Client) Modify(ctx context.Context, name, token, principal string) (*Grant, error) {
	b, err := json.Marshal(map[string]string{"token": token, "principal": principal})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.fileURL(name, "modify"), bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Grant
		Reason string `json:"reason"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response (HTTP %d): %w", status, err)
	}
	if resp.Decision == "denied" {
		return nil, &DeniedError{Status: status, Reason: resp.Reason}
	}
	if status >= 300 {
		return nil, &APIError{Status: status, Message: resp.Error}
	}
	return &resp.Grant, nil
}

// Done completes the edit session for name and returns the new ledger block.
func (c *Client) Done(ctx context.Context, name, ticket string) (*Block, error) {
	req, err := c.ticketRequest(ctx, name, "done", ticket)
	if err != nil {
		return nil, err
	}
	var out Block
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel abandons the edit session for name.
func (c *Client) Cancel(ctx context.Context, name, ticket string) error {
	req, err := c.ticketRequest(ctx, name, "cancel", ticket)
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}

// Files lists every watched file.
func (c *Client) Files(ctx context.Context) ([]FileStatus, error) {
	var out struct {
		Files []FileStatus `json:"files"`
	}
	if err := c.get(ctx, "/api/v1/files", &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// History returns every ledger block recorded for name.
func (c *Client) History(ctx context.Context, name string) ([]Block, error) {
	var out struct {
		Blocks []Block `json:"blocks"`
	}
	if err := c.get(ctx, "/api/v1/files/"+url.PathEscape(name)+"/history", &out); err != nil {
		return nil, err
	}
	return out.Blocks, nil
}

// Logs returns up to limit recent activity lines; 0 returns all retained.
func (c *Client) Logs(ctx context.Context, limit int) ([]LogEntry, error) {
	var out struct {
		Entries []LogEntry `json:"entries"`
	}
	if err := c.get(ctx, "/api/v1/logs?limit="+strconv.Itoa(limit), &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// Ledger returns the chain length and root hash.
func (c *Client) Ledger(ctx context.Context) (*LedgerOverview, error) {
	var out LedgerOverview
	if err := c.get(ctx, "/api/v1/ledger", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyLedger asks the daemon to walk the full chain.
func (c *Client) VerifyLedger(ctx context.Context) (*VerifyResult, error) {
	var out VerifyResult
	if err := c.get(ctx, "/api/v1/ledger/verify", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Block fetches the block at idx.
func (c *Client) Block(ctx context.Context, idx int) (*Block, error) {
	var out Block
	if err := c.get(ctx, "/api/v1/ledger/entries/"+strconv.Itoa(idx), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) fileURL(name, action string) string {
	return c.base + "/api/v1/files/" + url.PathEscape(name) + "/" + action
}

func (c *Client) ticketRequest(ctx context.Context, name, action, ticket string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.fileURL(name, action), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if ticket != "" {
		req.Header.Set("Authorization", "Bearer "+ticket)
	}
	return req, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.doJSON(req, out)
}

// doJSON executes req and decodes a 2xx body into out. Other statuses
// become an *APIError.
func (c *Client) doJSON(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	status, body, err := c.doStatusBody(req)
	if err != nil {
		return err
	}
	if status >= 300 {
		var e struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		if json.Unmarshal(body, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(body))
		}
		return &APIError{Status: status, Message: e.Error, Reason: e.Reason}
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// doStatusBody is a lower-level HTTP call that returns (statusCode, body, error)
// without failing on 4xx responses. The caller interprets the status code.
func (c *Client) doStatusBody(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
