// Package credential supplies bearer tokens to the staging client.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"snapshot-service/client/negotiator"
	"snapshot-service/common"
)

// refreshSkew tokens this close to expiry are renewed before use
const refreshSkew = 30 * time.Second

// Issuer exchanges an api key for a token
type Issuer interface {
	IssueToken(ctx context.Context, apiKey string) (string, time.Time, error)
}

type cachedToken struct {
	Server    string    `json:"server"`
	KeyDigest string    `json:"key_digest"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// APIKeyProvider caches the token issued for an api key, in memory and
// optionally in a file shared by later runs.
type APIKeyProvider struct {
	apiKey    string
	server    string
	issuer    Issuer
	cachePath string
	now       func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewAPIKeyProvider create a provider; cachePath may be empty to disable the file cache
func NewAPIKeyProvider(apiKey, server string, issuer Issuer, cachePath string) *APIKeyProvider {
	return &APIKeyProvider{
		apiKey:    apiKey,
		server:    server,
		issuer:    issuer,
		cachePath: cachePath,
		now:       time.Now,
	}
}

func (p *APIKeyProvider) valid() bool {
	return p.token != "" && p.now().Add(refreshSkew).Before(p.expiresAt)
}

// Token current token, issuing one when none is cached or the cached one expired
func (p *APIKeyProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.valid() {
		return p.token, nil
	}
	if p.loadCache() && p.valid() {
		return p.token, nil
	}
	return p.issueLocked(ctx)
}

// Refresh discard the current token and issue a new one
func (p *APIKeyProvider) Refresh(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	return p.issueLocked(ctx)
}

func (p *APIKeyProvider) issueLocked(ctx context.Context) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("%w: no api key configured", negotiator.ErrAuthRequired)
	}
	token, expiresAt, err := p.issuer.IssueToken(ctx, p.apiKey)
	if err != nil {
		return "", err
	}
	p.token, p.expiresAt = token, expiresAt
	p.saveCache()
	return token, nil
}

func (p *APIKeyProvider) keyDigest() string {
	return common.DigestBytes([]byte(p.apiKey))
}

func (p *APIKeyProvider) loadCache() bool {
	if p.cachePath == "" {
		return false
	}
	raw, err := os.ReadFile(p.cachePath)
	if err != nil {
		return false
	}
	var c cachedToken
	if err := json.Unmarshal(raw, &c); err != nil {
		return false
	}
	if c.Server != p.server || c.KeyDigest != p.keyDigest() {
		return false
	}
	p.token, p.expiresAt = c.Token, c.ExpiresAt
	return true
}

// saveCache is best effort; a run without a writable config dir still works
func (p *APIKeyProvider) saveCache() {
	if p.cachePath == "" {
		return
	}
	raw, err := json.Marshal(cachedToken{
		Server:    p.server,
		KeyDigest: p.keyDigest(),
		Token:     p.token,
		ExpiresAt: p.expiresAt,
	})
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.cachePath), 0o700); err != nil {
		return
	}
	tmp := p.cachePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return
	}
	if err := os.Rename(tmp, p.cachePath); err != nil {
		os.Remove(tmp)
	}
}
