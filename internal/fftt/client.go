// Package fftt looks up federation rankings by license number.
package fftt

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tournament-registry/internal/cache"
	"github.com/tournament-registry/internal/config"
	"github.com/tournament-registry/internal/domain"
	"github.com/tournament-registry/internal/retry"
)

const (
	playerEndpoint = "xml_joueur.php"
	defaultPoints  = 500
)

// notFound is cached in place of a ranking when the federation has no record
var notFound = json.RawMessage(`"NOT_FOUND"`)

// joueur is one entry of the federation's player listing
type joueur struct {
	Licence string `json:"licence"`
	Nom     string `json:"nom"`
	Prenom  string `json:"prenom"`
	Club    string `json:"club"`
	NClub   string `json:"nclub"`
	Sexe    string `json:"sexe"`
	Cat     string `json:"cat"`
	Point   string `json:"point"`
	Echelon string `json:"echelon"`
	Place   string `json:"place"`
}

type listResponse struct {
	Liste []joueur `json:"liste"`
}

func (j joueur) ranking() *domain.Ranking {
	return &domain.Ranking{
		LicenseNumber: j.Licence,
		FirstName:     j.Prenom,
		LastName:      j.Nom,
		Club:          j.Club,
		ClubCode:      j.NClub,
		Points:        parsePoints(j.Point),
		Category:      j.Cat,
		Gender:        j.Sexe,
	}
}

// Timestamp formats t the way the signature expects: YYYYMMDDHHmmss, local time
func Timestamp(t time.Time) string {
	return t.Local().Format("20060102150405")
}

// Sign computes the request signature: md5 hex of serial, password and timestamp
func Sign(serial, password, timestamp string) string {
	sum := md5.Sum([]byte(serial + password + timestamp))
	return hex.EncodeToString(sum[:])
}

// LookupReport counts the outcomes of a batch lookup
type LookupReport struct {
	Requested int `json:"requested"`
	Found     int `json:"found"`
	NotFound  int `json:"notFound"`
	Failed    int `json:"failed"`
}

// Degraded reports whether any lookup failed outright
func (r LookupReport) Degraded() bool {
	return r.Failed > 0
}

// Client queries the federation API
type Client struct {
	cfg        *config.FFTTConfig
	httpClient *http.Client
	cache      *cache.Cache
	limiter    *rate.Limiter
	retry      retry.Options
	logger     *slog.Logger
}

// NewClient creates a federation client. Results are cached in c.
func NewClient(
	cfg *config.FFTTConfig,
	httpClient *http.Client,
	c *cache.Cache,
	retryOpts retry.Options,
	logger *slog.Logger,
) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		cache:      c,
		limiter:    rate.NewLimiter(limit, burst),
		retry:      retryOpts,
		logger:     logger,
	}
}

// Lookup returns the ranking for one license. A license the federation does
// not know yields (nil, nil) and is remembered for the cache TTL.
func (c *Client) Lookup(ctx context.Context, license string) (*domain.Ranking, error) {
	key := cache.FFTTPlayerKey(license)

	if raw, ok := cache.Get[json.RawMessage](ctx, c.cache, key); ok {
		if string(raw) == string(notFound) {
			return nil, nil
		}
		var r domain.Ranking
		if err := json.Unmarshal(raw, &r); err == nil {
			return &r, nil
		}
	}

	resp, err := retry.Do(ctx, c.retry, func(ctx context.Context) (listResponse, error) {
		return c.fetchPlayer(ctx, license)
	})
	if err != nil {
		if domain.IsNotFoundError(err) {
			cache.Set(ctx, c.cache, key, notFound, c.cfg.CacheTTL)
			return nil, nil
		}
		return nil, err
	}

	if len(resp.Liste) == 0 {
		cache.Set(ctx, c.cache, key, notFound, c.cfg.CacheTTL)
		return nil, nil
	}

	r := resp.Liste[0].ranking()
	cache.Set(ctx, c.cache, key, r, c.cfg.CacheTTL)
	return r, nil
}

// LookupMany resolves a set of licenses in chunks of the configured batch
// size, all lookups of a chunk running concurrently. A failed lookup maps to
// nil and is counted; it never aborts the batch.
func (c *Client) LookupMany(ctx context.Context, licenses []string) (map[string]*domain.Ranking, LookupReport) {
	unique := dedupe(licenses)
	results := make(map[string]*domain.Ranking, len(unique))
	report := LookupReport{Requested: len(unique)}

	size := c.cfg.BatchSize
	if size <= 0 {
		size = 10
	}

	var found, missing, failed atomic.Int32
	for start := 0; start < len(unique); start += size {
		chunk := unique[start:min(start+size, len(unique))]
		out := make([]*domain.Ranking, len(chunk))

		var g errgroup.Group
		for i, license := range chunk {
			i, license := i, license
			g.Go(func() error {
				r, err := c.Lookup(ctx, license)
				switch {
				case err != nil:
					failed.Add(1)
					c.logger.Error("federation lookup failed", "license", license, "error", err)
				case r == nil:
					missing.Add(1)
				default:
					found.Add(1)
				}
				out[i] = r
				return nil
			})
		}
		_ = g.Wait()

		for i, license := range chunk {
			results[license] = out[i]
		}
	}

	report.Found = int(found.Load())
	report.NotFound = int(missing.Load())
	report.Failed = int(failed.Load())

	c.logger.Info("federation lookups complete",
		"requested", report.Requested,
		"found", report.Found,
		"not_found", report.NotFound,
		"failed", report.Failed,
	)
	return results, report
}

func (c *Client) fetchPlayer(ctx context.Context, license string) (listResponse, error) {
	var out listResponse

	if c.cfg.Serial == "" || c.cfg.Password == "" {
		return out, domain.BadRequest("FFTT API credentials not configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return out, err
	}

	tm := Timestamp(time.Now())
	params := url.Values{
		"serie":   {c.cfg.Serial},
		"tm":      {tm},
		"tmc":     {Sign(c.cfg.Serial, c.cfg.Password, tm)},
		"licence": {license},
	}

	endpoint := strings.TrimRight(c.cfg.APIBase, "/") + "/" + playerEndpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return out, fmt.Errorf("building federation request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, domain.Transport("FFTT API", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		switch res.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return out, domain.Unauthorized("FFTT authentication failed: " + string(body))
		case http.StatusNotFound:
			return out, domain.NotFound("FFTT resource not found")
		case http.StatusTooManyRequests:
			return out, domain.RateLimited("FFTT rate limit exceeded", 0)
		default:
			return out, domain.Upstream("FFTT API error: "+string(body), res.StatusCode, "FFTT_API_ERROR")
		}
	}

	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decoding federation response: %w", err)
	}
	return out, nil
}

// parsePoints reads the leading integer of s. Missing, invalid, out of range
// or zero values fall back to the federation floor of 500.
func parsePoints(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return defaultPoints
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n == 0 {
		return defaultPoints
	}
	return n
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
