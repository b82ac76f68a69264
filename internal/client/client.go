// Package client is a REST client for the backing service.
package client

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

	"github.com/google/uuid"

	"github.com/mmynk/receiptsync/internal/models"
)

// ErrRejected matches every non-2xx response.
var ErrRejected = errors.New("request rejected by backend")

// StatusError is returned for non-2xx responses. Body holds the server's
// diagnostic text.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrRejected
}

// Client talks to one backing service. It is safe for concurrent use.
type Client struct {
	baseURL  string
	http     *http.Client
	clientID string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClientID sets the X-Client-ID sent with mutations. Defaults to a
// random UUID.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

// New creates a Client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 10 * time.Second},
		clientID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientID returns the identity this client reports to the service.
func (c *Client) ClientID() string {
	return c.clientID
}

// WebSocketURL returns the real-time endpoint for a group.
func (c *Client) WebSocketURL(groupID string) string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/groups/" + url.PathEscape(groupID) + "?client_id=" + url.QueryEscape(c.clientID)
}

func (c *Client) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	var g models.Group
	if _, err := c.do(ctx, http.MethodGet, "/groups/"+url.PathEscape(groupID), nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) GroupVersion(ctx context.Context, groupID string) (models.Version, error) {
	var info models.VersionInfo
	if _, err := c.do(ctx, http.MethodGet, "/groups/"+url.PathEscape(groupID)+"/version", nil, &info); err != nil {
		return "", err
	}
	return info.Version, nil
}

func (c *Client) GetReceipt(ctx context.Context, receiptID string) (*models.Receipt, error) {
	var r models.Receipt
	if _, err := c.do(ctx, http.MethodGet, "/receipts/"+url.PathEscape(receiptID), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) ListGroups(ctx context.Context) ([]models.Group, error) {
	var groups []models.Group
	if _, err := c.do(ctx, http.MethodGet, "/groups/", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (c *Client) CreateGroup(ctx context.Context, in models.NewGroup) (*models.Group, error) {
	var g models.Group
	if _, err := c.do(ctx, http.MethodPost, "/groups/", in, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) UpdateGroup(ctx context.Context, groupID string, patch models.GroupPatch) (*models.Group, models.Version, error) {
	var g models.Group
	v, err := c.do(ctx, http.MethodPatch, "/groups/"+url.PathEscape(groupID), patch, &g)
	if err != nil {
		return nil, "", err
	}
	return &g, v, nil
}

func (c *Client) CreateReceipt(ctx context.Context, groupID string, in models.NewReceipt) (*models.Receipt, models.Version, error) {
	var r models.Receipt
	v, err := c.do(ctx, http.MethodPost, "/groups/"+url.PathEscape(groupID)+"/receipts/", in, &r)
	if err != nil {
		return nil, "", err
	}
	return &r, v, nil
}

func (c *Client) UpdateReceipt(ctx context.Context, receiptID string, patch models.ReceiptPatch) (*models.Receipt, models.Version, error) {
	var r models.Receipt
	v, err := c.do(ctx, http.MethodPatch, "/receipts/"+url.PathEscape(receiptID), patch, &r)
	if err != nil {
		return nil, "", err
	}
	return &r, v, nil
}

func (c *Client) DeleteReceipt(ctx context.Context, receiptID string) (models.Version, error) {
	return c.do(ctx, http.MethodDelete, "/receipts/"+url.PathEscape(receiptID), nil, nil)
}

func (c *Client) CreateEntry(ctx context.Context, receiptID string, in models.NewEntry) (*models.Entry, models.Version, error) {
	var e models.Entry
	v, err := c.do(ctx, http.MethodPost, "/receipts/"+url.PathEscape(receiptID)+"/entries/", in, &e)
	if err != nil {
		return nil, "", err
	}
	return &e, v, nil
}

func (c *Client) UpdateEntry(ctx context.Context, entryID string, patch models.EntryPatch) (*models.Entry, models.Version, error) {
	var e models.Entry
	v, err := c.do(ctx, http.MethodPatch, "/receipt-entries/"+url.PathEscape(entryID), patch, &e)
	if err != nil {
		return nil, "", err
	}
	return &e, v, nil
}

func (c *Client) DeleteEntry(ctx context.Context, receiptID, entryID string) (models.Version, error) {
	return c.do(ctx, http.MethodDelete,
		"/receipts/"+url.PathEscape(receiptID)+"/entries/"+url.PathEscape(entryID), nil, nil)
}

// do performs one request. It returns the X-Group-Version header, which is
// empty for reads.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (models.Version, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(models.HeaderClientID, c.clientID)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Code: resp.StatusCode, Body: readError(resp.Body)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return "", fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
		}
	}
	return models.Version(resp.Header.Get(models.HeaderGroupVersion)), nil
}

// readError returns the "error" field of a JSON error body, or the raw text.
func readError(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 64<<10))
	var body models.ErrorBody
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
