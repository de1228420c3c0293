// Package helloasso is the registration platform client: OAuth2 token
// management and the paginated listing fetcher.
package helloasso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tournament-registry/internal/cache"
	"github.com/tournament-registry/internal/config"
	"github.com/tournament-registry/internal/domain"
	"github.com/tournament-registry/internal/retry"
)

const (
	// tokens closer than this to expiry are not handed out
	tokenFreshness = 60 * time.Second
	// subtracted from the advertised lifetime before caching
	tokenSafetyMargin = 300 * time.Second
)

// Token is a bearer credential; ExpiresAt is unix milliseconds
type Token struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   int64  `json:"expiresAt"`
}

func (t Token) usableAt(now time.Time) bool {
	return t.AccessToken != "" && t.ExpiresAt > now.Add(tokenFreshness).UnixMilli()
}

// TokenManager obtains client-credentials tokens and keeps them in two
// layers: an in-process cache and the shared cache.
type TokenManager struct {
	cfg        *config.HelloAssoConfig
	httpClient *http.Client
	memory     *cache.Cache
	shared     *cache.Cache
	retry      retry.Options
	logger     *slog.Logger

	// serializes exchanges so concurrent callers in one process share a token
	mu sync.Mutex
}

// NewTokenManager creates a token manager. memory is normally backed by a
// cache.MemoryStore; shared by the deployment's store.
func NewTokenManager(
	cfg *config.HelloAssoConfig,
	httpClient *http.Client,
	memory *cache.Cache,
	shared *cache.Cache,
	retryOpts retry.Options,
	logger *slog.Logger,
) *TokenManager {
	return &TokenManager{
		cfg:        cfg,
		httpClient: httpClient,
		memory:     memory,
		shared:     shared,
		retry:      retryOpts,
		logger:     logger,
	}
}

// Token returns a bearer token, exchanging credentials when neither cache
// layer holds one that stays valid for at least another minute.
func (m *TokenManager) Token(ctx context.Context, forceRefresh bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !forceRefresh {
		now := m.memory.Now()
		if t, ok := cache.Get[Token](ctx, m.memory, cache.KeyHelloAssoToken); ok && t.usableAt(now) {
			return t.AccessToken, nil
		}
		if t, ok := cache.Get[Token](ctx, m.shared, cache.KeyHelloAssoToken); ok && t.usableAt(now) {
			cache.Set(ctx, m.memory, cache.KeyHelloAssoToken, t, time.UnixMilli(t.ExpiresAt).Sub(now))
			return t.AccessToken, nil
		}
	}

	m.invalidate(ctx)

	resp, err := retry.Do(ctx, m.retry, m.exchange)
	if err != nil {
		return "", err
	}

	ttl := time.Duration(resp.ExpiresIn)*time.Second - tokenSafetyMargin
	if ttl < 0 {
		ttl = 0
	}
	token := Token{
		AccessToken: resp.AccessToken,
		ExpiresAt:   m.memory.Now().Add(ttl).UnixMilli(),
	}

	cache.Set(ctx, m.memory, cache.KeyHelloAssoToken, token, ttl)
	cache.Set(ctx, m.shared, cache.KeyHelloAssoToken, token, ttl)

	m.logger.Info("obtained helloasso access token", "expires_in", resp.ExpiresIn)
	return token.AccessToken, nil
}

// Invalidate drops the token from both layers
func (m *TokenManager) Invalidate(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidate(ctx)
}

func (m *TokenManager) invalidate(ctx context.Context) {
	m.memory.Delete(ctx, cache.KeyHelloAssoToken)
	m.shared.Delete(ctx, cache.KeyHelloAssoToken)
}

func (m *TokenManager) exchange(ctx context.Context) (tokenResponse, error) {
	var out tokenResponse

	if m.cfg.ClientID == "" || m.cfg.ClientSecret == "" {
		return out, domain.BadRequest("HelloAsso client credentials not configured")
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return out, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	res, err := m.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, domain.Transport("HelloAsso auth", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		switch res.StatusCode {
		case http.StatusUnauthorized:
			return out, domain.Unauthorized("HelloAsso authentication failed: " + string(body))
		case http.StatusTooManyRequests:
			return out, domain.RateLimited("HelloAsso rate limit exceeded", retryAfter(res))
		default:
			return out, domain.Upstream("HelloAsso auth error: "+string(body), res.StatusCode, "HELLOASSO_AUTH_ERROR")
		}
	}

	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decoding token response: %w", err)
	}
	if out.AccessToken == "" {
		return out, domain.Upstream("HelloAsso auth response carried no access token", res.StatusCode, "HELLOASSO_AUTH_ERROR")
	}
	return out, nil
}
