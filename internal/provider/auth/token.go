// Package auth manages the OAuth client-credentials token for the official
// game API. The token is owned by an injected provider with an explicit
// invalidation path, not a process-wide variable.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jensholdgaard/guildsync/internal/clock"
	"github.com/jensholdgaard/guildsync/internal/provider"
)

// expirySlack is subtracted from the reported token lifetime so a token is
// refreshed slightly before the provider would reject it.
const expirySlack = time.Minute

// TokenProvider fetches and caches a client-credentials access token.
type TokenProvider struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	clock        clock.Clock
	logger       *slog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// New returns a TokenProvider for the given token endpoint and credentials.
func New(tokenURL, clientID, clientSecret string, httpClient *http.Client, clk clock.Clock, logger *slog.Logger) *TokenProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenProvider{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		clock:        clk,
		logger:       logger,
	}
}

// Token returns a valid access token, fetching a new one if the cached
// token is missing or near expiry.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.clock.Now().Before(p.expiresAt) {
		return p.token, nil
	}
	return p.refreshLocked(ctx)
}

// Invalidate discards the cached token so the next Token call fetches a
// fresh one. Called after the API rejects a request as unauthorized.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	p.expiresAt = time.Time{}
}

func (p *TokenProvider) refreshLocked(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", provider.NewFetchError(provider.ClassifyTransport(err), "official", p.tokenURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", provider.NewFetchError(provider.ErrAuth, "official", p.tokenURL,
			fmt.Errorf("token endpoint returned %d", resp.StatusCode))
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", provider.NewFetchError(provider.ErrParse, "official", p.tokenURL, err)
	}
	if body.AccessToken == "" {
		return "", provider.NewFetchError(provider.ErrAuth, "official", p.tokenURL,
			fmt.Errorf("token endpoint returned an empty access_token"))
	}

	p.token = body.AccessToken
	p.expiresAt = p.clock.Now().Add(time.Duration(body.ExpiresIn)*time.Second - expirySlack)

	p.logger.DebugContext(ctx, "refreshed provider access token",
		slog.Time("expires_at", p.expiresAt),
	)
	return p.token, nil
}
