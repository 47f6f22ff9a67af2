package uploader

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"snapshot-service/client/negotiator"
	model "snapshot-service/models"
)

// Transport writes the body of one file to a destination
type Transport interface {
	Name() string
	Supports(dest *model.UploadDestination) bool
	Send(ctx context.Context, dest *model.UploadDestination, body io.Reader, size int64, contentType string) error
}

// DirectTransport writes straight to the pre-authorized destination URL
type DirectTransport struct {
	client *http.Client
}

// NewDirectTransport create a direct transport; a nil client means http.DefaultClient
func NewDirectTransport(client *http.Client) *DirectTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &DirectTransport{client: client}
}

func (t *DirectTransport) Name() string { return "direct" }

func (t *DirectTransport) Supports(dest *model.UploadDestination) bool {
	return dest.URL != ""
}

func (t *DirectTransport) Send(ctx context.Context, dest *model.UploadDestination, body io.Reader, size int64, contentType string) error {
	method := dest.Method
	if method == "" {
		method = http.MethodPut
	}
	req, err := newUploadRequest(ctx, method, dest.URL, body, size, contentType)
	if err != nil {
		return err
	}
	for k, v := range dest.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("storage answered HTTP %d: %s", resp.StatusCode, snippet)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// ProxyEndpoint resolves proxy paths against the origin
type ProxyEndpoint interface {
	ProxyURL(proxyPath string) string
}

// ProxyTransport sends the file through the origin, authenticated with the bearer token
type ProxyTransport struct {
	client   *http.Client
	endpoint ProxyEndpoint
	tokens   negotiator.TokenSource
}

// NewProxyTransport create the origin fallback transport
func NewProxyTransport(client *http.Client, endpoint ProxyEndpoint, tokens negotiator.TokenSource) *ProxyTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &ProxyTransport{client: client, endpoint: endpoint, tokens: tokens}
}

func (t *ProxyTransport) Name() string { return "proxy" }

func (t *ProxyTransport) Supports(dest *model.UploadDestination) bool {
	return dest.ProxyPath != ""
}

func (t *ProxyTransport) Send(ctx context.Context, dest *model.UploadDestination, body io.Reader, size int64, contentType string) error {
	token, err := t.tokens.Token(ctx)
	if err != nil {
		return err
	}
	req, err := newUploadRequest(ctx, http.MethodPut, t.endpoint.ProxyURL(dest.ProxyPath), body, size, contentType)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read origin response: %w", err)
	}
	_, err = negotiator.Classify(resp.StatusCode, raw)
	return err
}

func newUploadRequest(ctx context.Context, method, url string, body io.Reader, size int64, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.ContentLength = size
	if size == 0 {
		req.Body = http.NoBody
	}
	req.Header.Set("Content-Type", contentType)
	return req, nil
}
