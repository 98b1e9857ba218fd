// Package client is a typed HTTP client for the devintel API.
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
	"strconv"
	"strings"
	"time"

	"devintel/internal/domain"
)

const apiKeyHeader = "X-ADV-Key"

var (
	ErrRejected           = errors.New("request rejected")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Client is a lightweight helper around http.Client. Methods return the
// decoded envelope whenever the server sent one, alongside any error.
// AdminToken is only needed for IssueKey and RevokeKey.
type Client struct {
	BaseURL    string
	APIKey     string
	AdminToken string
	HTTP       *http.Client
}

var defaultHTTP = &http.Client{Timeout: 10 * time.Second}

func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), APIKey: apiKey, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) IssueKey(ctx context.Context, clientID string) (domain.ADVKeyNetworkResponse, error) {
	var out domain.ADVKeyNetworkResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/keys", map[string]string{"clientId": clientID}, &out)
	return out, err
}

func (c *Client) ValidateKey(ctx context.Context, key string) (domain.ADVKeyFunctionResponse, error) {
	var out domain.ADVKeyFunctionResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/keys/validate", map[string]string{"key": key}, &out)
	return out, err
}

func (c *Client) RevokeKey(ctx context.Context, key string) (domain.ADVKeyFunctionResponse, error) {
	var out domain.ADVKeyFunctionResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/keys/revoke", map[string]string{"key": key}, &out)
	return out, err
}

// SubmitProfile posts p. With wait set the server scores it before replying.
func (c *Client) SubmitProfile(ctx context.Context, p domain.Profile, wait bool) (domain.ProfileResponse, error) {
	path := "/v1/profiles"
	if wait {
		path += "?wait=true"
	}
	var out domain.ProfileResponse
	err := c.doJSON(ctx, http.MethodPost, path, p, &out)
	return out, err
}

func (c *Client) GetProfile(ctx context.Context, id string) (domain.ProfileResponse, error) {
	var out domain.ProfileResponse
	err := c.doJSON(ctx, http.MethodGet, "/v1/profiles/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) ListSiteProfiles(ctx context.Context, site string, limit, offset int) ([]domain.Profile, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/v1/sites/" + url.PathEscape(site) + "/profiles"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []domain.Profile
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// doJSON sends in as JSON and decodes the reply into out, mapping status codes
// to sentinel errors.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = defaultHTTP
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set(apiKeyHeader, c.APIKey)
	}
	if c.AdminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AdminToken)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if out != nil && len(bytes.TrimSpace(b)) > 0 && json.Valid(b) {
		if err := json.Unmarshal(b, out); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode: %w", err)
		}
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		return ErrRejected
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return ErrBackendUnavailable
	default:
		return errors.New(resp.Status)
	}
}
