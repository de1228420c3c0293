package helloasso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tournament-registry/internal/config"
	"github.com/tournament-registry/internal/domain"
	"github.com/tournament-registry/internal/retry"
)

// TokenSource hands out bearer tokens
type TokenSource interface {
	Token(ctx context.Context, forceRefresh bool) (string, error)
	Invalidate(ctx context.Context)
}

// errTokenRejected marks a 401 from the API. It is not retryable so the
// backoff loop surfaces it immediately.
type errTokenRejected struct {
	body string
}

func (e *errTokenRejected) Error() string {
	return "helloasso rejected access token: " + e.body
}

// Client reads registrations from the platform API
type Client struct {
	cfg        *config.HelloAssoConfig
	httpClient *http.Client
	tokens     TokenSource
	retry      retry.Options
	logger     *slog.Logger
}

// NewClient creates a new API client
func NewClient(
	cfg *config.HelloAssoConfig,
	httpClient *http.Client,
	tokens TokenSource,
	retryOpts retry.Options,
	logger *slog.Logger,
) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		tokens:     tokens,
		retry:      retryOpts,
		logger:     logger,
	}
}

// FetchRecords walks the configured listing and returns platform-neutral records
func (c *Client) FetchRecords(ctx context.Context) ([]domain.RawItem, error) {
	if c.cfg.Source == config.SourceOrders {
		orders, err := c.FetchOrders(ctx)
		if err != nil {
			return nil, err
		}
		var records []domain.RawItem
		for _, o := range orders {
			records = append(records, o.RawItems()...)
		}
		return records, nil
	}

	items, err := c.FetchItems(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]domain.RawItem, 0, len(items))
	for _, it := range items {
		records = append(records, it.ToRaw())
	}
	return records, nil
}

// FetchItems returns every item of the event form, custom fields included
func (c *Client) FetchItems(ctx context.Context) ([]Item, error) {
	return fetchAll[Item](ctx, c, "items", url.Values{"withDetails": {"true"}})
}

// FetchOrders returns every order of the event form
func (c *Client) FetchOrders(ctx context.Context) ([]Order, error) {
	return fetchAll[Order](ctx, c, "orders", nil)
}

func fetchAll[T any](ctx context.Context, c *Client, resource string, extra url.Values) ([]T, error) {
	if c.cfg.OrganizationSlug == "" || c.cfg.FormSlug == "" {
		return nil, domain.BadRequest("HelloAsso organization or form slug not configured")
	}

	endpoint := fmt.Sprintf("/organizations/%s/forms/Event/%s/%s",
		url.PathEscape(c.cfg.OrganizationSlug), url.PathEscape(c.cfg.FormSlug), resource)

	var (
		all          []T
		continuation string
	)
	for pageNum := 0; pageNum < c.cfg.MaxPages; pageNum++ {
		params := url.Values{"pageSize": {strconv.Itoa(c.cfg.PageSize)}}
		for k, v := range extra {
			params[k] = v
		}
		if continuation != "" {
			params.Set("continuationToken", continuation)
		} else {
			params.Set("pageIndex", "1")
		}

		var p page[T]
		if err := c.get(ctx, endpoint+"?"+params.Encode(), &p); err != nil {
			return nil, err
		}
		all = append(all, p.Data...)

		if p.Pagination.ContinuationToken == "" || len(p.Data) == 0 {
			continuation = ""
			break
		}
		continuation = p.Pagination.ContinuationToken
	}
	if continuation != "" {
		c.logger.Warn("helloasso page cap reached, returning partial listing",
			"resource", resource, "max_pages", c.cfg.MaxPages, "count", len(all))
	}

	c.logger.Info("fetched helloasso listing", "resource", resource, "count", len(all))
	return all, nil
}

// get performs an authenticated GET. A 401 invalidates the token and the
// call is retried exactly once with a fresh one, outside the backoff loop.
func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	token, err := c.tokens.Token(ctx, false)
	if err != nil {
		return err
	}

	err = c.getWithRetry(ctx, endpoint, token, out)

	var rejected *errTokenRejected
	if !errors.As(err, &rejected) {
		return err
	}

	c.logger.Warn("helloasso token rejected, refreshing", "endpoint", endpoint)
	c.tokens.Invalidate(ctx)
	token, err = c.tokens.Token(ctx, true)
	if err != nil {
		return err
	}

	// the replay gets the same backoff as the first attempt; a second 401 is final
	err = c.getWithRetry(ctx, endpoint, token, out)
	if errors.As(err, &rejected) {
		return domain.Unauthorized("HelloAsso API unauthorized: " + rejected.body)
	}
	return err
}

func (c *Client) getWithRetry(ctx context.Context, endpoint, token string, out any) error {
	_, err := retry.Do(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.do(ctx, endpoint, token, out)
	})
	return err
}

func (c *Client) do(ctx context.Context, endpoint, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBase+endpoint, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.Transport("HelloAsso API", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		switch res.StatusCode {
		case http.StatusUnauthorized:
			return &errTokenRejected{body: string(body)}
		case http.StatusNotFound:
			return domain.NotFound("HelloAsso resource not found: " + stripQuery(endpoint))
		case http.StatusTooManyRequests:
			return domain.RateLimited("HelloAsso rate limit exceeded", retryAfter(res))
		default:
			return domain.Upstream("HelloAsso API error: "+string(body), res.StatusCode, "HELLOASSO_API_ERROR")
		}
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", stripQuery(endpoint), err)
	}
	return nil
}

func stripQuery(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

// retryAfter reads a Retry-After header given in seconds
func retryAfter(res *http.Response) time.Duration {
	s, err := strconv.Atoi(strings.TrimSpace(res.Header.Get("Retry-After")))
	if err != nil || s < 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}
