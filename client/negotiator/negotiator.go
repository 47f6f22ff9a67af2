// Package negotiator is the client of the snapshot origin API.
package negotiator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	model "snapshot-service/models"

	"github.com/imroc/req"
	"github.com/tidwall/gjson"
)

// DefaultRequestTimeout bound of one control-plane call
const DefaultRequestTimeout = 30 * time.Second

// TokenSource supplies the bearer credential of API calls
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ServerConfig caps advertised by the origin
type ServerConfig struct {
	Caps              model.Caps `json:"caps"`
	DefaultExpiryDays int        `json:"default_expiry_days"`
}

// Client origin API client
type Client struct {
	baseURL string
	timeout time.Duration
	r       *req.Req
	tokens  TokenSource
}

// New create an API client for the origin at baseURL
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	r := req.New()
	r.SetTimeout(timeout)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		r:       r,
	}
}

// SetTokenSource set the credential used by authenticated calls
func (c *Client) SetTokenSource(tokens TokenSource) {
	c.tokens = tokens
}

// BaseURL origin the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ProxyURL absolute URL of a proxy upload path returned with a destination
func (c *Client) ProxyURL(proxyPath string) string {
	if u, err := url.Parse(proxyPath); err == nil && u.IsAbs() {
		return proxyPath
	}
	return c.baseURL + "/" + strings.TrimLeft(proxyPath, "/")
}

func (c *Client) authHeader(ctx context.Context) (req.Header, error) {
	if c.tokens == nil {
		return nil, ErrAuthRequired
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrAuthRequired
	}
	return req.Header{"Authorization": "Bearer " + token}, nil
}

// call perform one request and decode the envelope data into out
func (c *Client) call(ctx context.Context, method, path string, authenticated bool, body interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	header := req.Header{"Accept": "application/json"}
	if authenticated {
		auth, err := c.authHeader(ctx)
		if err != nil {
			return err
		}
		header = auth
		header["Accept"] = "application/json"
	}

	args := []interface{}{header, ctx}
	if body != nil {
		args = append(args, req.BodyJSON(body))
	}
	resp, err := c.r.Do(method, c.baseURL+path, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	data, err := Classify(resp.Response().StatusCode, resp.Bytes())
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decode(data, out)
}

func decode(data gjson.Result, out interface{}) error {
	if !data.Exists() || data.Type == gjson.Null {
		return fmt.Errorf("response has no data")
	}
	if err := json.Unmarshal([]byte(data.Raw), out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// FetchCaps get the caps of new sessions
func (c *Client) FetchCaps(ctx context.Context) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := c.call(ctx, "GET", "/api/v1/config", false, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IssueToken exchange an api key for an access token
func (c *Client) IssueToken(ctx context.Context, apiKey string) (string, time.Time, error) {
	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := c.call(ctx, "POST", "/api/v1/auth/token", false, map[string]string{"api_key": apiKey}, &out); err != nil {
		return "", time.Time{}, err
	}
	return out.Token, out.ExpiresAt, nil
}

// OpenSession open an empty snapshot session
func (c *Client) OpenSession(ctx context.Context, request model.OpenSessionRequest) (*model.SessionInfo, error) {
	var info model.SessionInfo
	if err := c.call(ctx, "POST", "/api/v1/snapshots", true, request, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetUploadDestination negotiate where one file is written
func (c *Client) GetUploadDestination(ctx context.Context, sessionID string, request model.DestinationRequest) (*model.UploadDestination, error) {
	var dest model.UploadDestination
	path := "/api/v1/snapshots/" + url.PathEscape(sessionID) + "/destinations"
	if err := c.call(ctx, "POST", path, true, request, &dest); err != nil {
		return nil, err
	}
	return &dest, nil
}

// Finalize submit the manifest and publish the snapshot
func (c *Client) Finalize(ctx context.Context, sessionID string, request model.FinalizeRequest) (*model.Snapshot, error) {
	var snap model.Snapshot
	path := "/api/v1/snapshots/" + url.PathEscape(sessionID) + "/finalize"
	if err := c.call(ctx, "POST", path, true, request, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
