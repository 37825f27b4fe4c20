// Package xtream is the transport client for Xtream-codes panels
// (player_api.php). It owns retries, backoff, request pacing, and response
// decoding; normalization of the decoded rows into catalog values lives in
// the fetch package.
package xtream

import (
	"compress/gzip"
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

	"github.com/andybalholm/brotli"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/snapetech/xtreamcache/internal/catalog"
	"github.com/snapetech/xtreamcache/internal/logx"
	"github.com/snapetech/xtreamcache/internal/safeurl"
)

// Error taxonomy. Transport errors cover connectivity and HTTP status
// failures; parse errors cover malformed payloads, including numeric fields
// that fail strict validation.
var (
	ErrTransport = errors.New("xtream: transport error")
	ErrParse     = errors.New("xtream: parse error")
)

const (
	maxRetries     = 3
	initialBackoff = 2 * time.Second
	maxBackoff     = 60 * time.Second

	defaultTimeout         = 90 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
	maxIdleConnsPerHost    = 16

	userAgent = "XtreamCache/1.0"
)

// Client talks to one provider account. Safe for concurrent use.
type Client struct {
	baseURL string
	user    string
	pass    string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger

	backoffInitial time.Duration
	backoffMax     time.Duration
	timeout        time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default tuned HTTP client (used by tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit paces requests at rps with the given burst. The provider
// throttles aggressive clients, so every request waits on this limiter.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithBackoff overrides the retry backoff window (used by tests).
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		c.backoffInitial = initial
		c.backoffMax = max
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
// Ignored when WithHTTPClient is also given.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New returns a client for baseURL with the given account credentials.
func New(baseURL, user, pass string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		user:           user,
		pass:           pass,
		limiter:        rate.NewLimiter(rate.Limit(5), 1),
		log:            logx.WithComponent("xtream"),
		backoffInitial: initialBackoff,
		backoffMax:     maxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = newHTTPClient()
		if c.timeout > 0 {
			c.http.Timeout = c.timeout
		}
	}
	return c
}

func newHTTPClient() *http.Client {
	tr := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
		DisableCompression:  true, // Accept-Encoding set per request; we decode ourselves
	}
	// Some panels sit behind fronts that speak h2; opportunistic upgrade.
	_ = http2.ConfigureTransport(tr)
	return &http.Client{Timeout: defaultTimeout, Transport: tr}
}

// Categories lists the provider categories for kind.
func (c *Client) Categories(ctx context.Context, kind catalog.Kind) ([]Category, error) {
	var out []Category
	if err := c.getJSON(ctx, categoriesAction(kind), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Streams lists the entries of one category for kind.
func (c *Client) Streams(ctx context.Context, kind catalog.Kind, categoryID int) ([]Stream, error) {
	params := url.Values{"category_id": {strconv.Itoa(categoryID)}}
	var out []Stream
	if err := c.getJSON(ctx, streamsAction(kind), params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Session fetches account and server info (the bare player_api call).
func (c *Client) Session(ctx context.Context) (SessionInfo, error) {
	var w wireSession
	if err := c.getJSON(ctx, "", nil, &w); err != nil {
		return SessionInfo{}, err
	}
	info := SessionInfo{
		ActiveConnections: w.UserInfo.ActiveCons.Int(),
		MaxConnections:    w.UserInfo.MaxConnections.Int(),
		ServerTime:        w.ServerInfo.TimeNow,
		Timezone:          w.ServerInfo.Timezone,
		OutputFormats:     w.UserInfo.AllowedOutputFormats,
	}
	if exp := strings.TrimSpace(w.UserInfo.ExpDate); exp != "" && exp != "null" {
		n, err := strconv.ParseInt(exp, 10, 64)
		if err != nil {
			return SessionInfo{}, fmt.Errorf("%w: exp_date %q: %v", ErrParse, exp, err)
		}
		info.ExpiresAt = n
	}
	return info, nil
}

func categoriesAction(kind catalog.Kind) string {
	switch kind {
	case catalog.KindLive:
		return "get_live_categories"
	case catalog.KindSeries:
		return "get_series_categories"
	default:
		return "get_vod_categories"
	}
}

func streamsAction(kind catalog.Kind) string {
	switch kind {
	case catalog.KindLive:
		return "get_live_streams"
	case catalog.KindSeries:
		return "get_series"
	default:
		return "get_vod_streams"
	}
}

// getJSON performs one API call and decodes the response into out. Decode
// failures (including strict numeric validation inside FlexInt) are parse
// errors; everything between the socket and a 200 body is a transport error.
func (c *Client) getJSON(ctx context.Context, action string, params url.Values, out any) error {
	label := actionLabel(action)
	u := c.apiURL(action, params)
	body, err := c.get(ctx, u)
	if err != nil {
		providerRequests.WithLabelValues(label, "transport_error").Inc()
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		providerRequests.WithLabelValues(label, "parse_error").Inc()
		return fmt.Errorf("%w: %s: %v", ErrParse, label, err)
	}
	providerRequests.WithLabelValues(label, "ok").Inc()
	return nil
}

func (c *Client) apiURL(action string, params url.Values) string {
	q := url.Values{
		"username": {c.user},
		"password": {c.pass},
	}
	if action != "" {
		q.Set("action", action)
	}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return c.baseURL + "/player_api.php?" + q.Encode()
}

func actionLabel(action string) string {
	if action == "" {
		return "session"
	}
	return action
}

// get fetches u with retries on retryable statuses, honoring Retry-After and
// the client's rate limiter. Cancellation is observed at every wait point.
func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	redacted := safeurl.Redact(u)
	var lastErr error
	backoff := c.backoffInitial
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		body, status, hinted, err := c.doOnce(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		} else if status == http.StatusOK {
			return body, nil
		} else {
			lastErr = fmt.Errorf("%s: HTTP %d", redacted, status)
			if !retryableStatus(status) {
				return nil, fmt.Errorf("%w: %s", ErrTransport, lastErr)
			}
		}
		if attempt == maxRetries {
			break
		}
		wait := backoff
		if hinted > 0 {
			wait = hinted
		}
		if backoff < c.backoffMax {
			backoff *= 2
		}
		c.log.Debug().
			Str("event", "xtream.retry").
			Str("url", redacted).
			Dur("wait", wait).
			Int("attempt", attempt+1).
			Msg("retrying provider call")
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: get %s: %v", ErrTransport, redacted, lastErr)
}

// doOnce performs a single round trip. hinted carries a Retry-After wait
// when the panel sent one on a non-200 response.
func (c *Client) doOnce(ctx context.Context, u string) (body []byte, status int, hinted time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Encoding", "gzip, br")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		hinted = retryAfter(resp)
	}
	reader, err := decodeBody(resp)
	if err != nil {
		return nil, resp.StatusCode, hinted, err
	}
	body, err = io.ReadAll(reader)
	if err != nil {
		return nil, resp.StatusCode, hinted, err
	}
	return body, resp.StatusCode, hinted, nil
}

// retryAfter parses Retry-After (seconds or HTTP-date), capped at
// maxBackoff. Returns 0 when absent or invalid.
func retryAfter(resp *http.Response) time.Duration {
	s := resp.Header.Get("Retry-After")
	if s == "" {
		return 0
	}
	if sec, err := strconv.Atoi(s); err == nil && sec > 0 {
		return min(time.Duration(sec)*time.Second, maxBackoff)
	}
	if t, err := http.ParseTime(s); err == nil {
		d := time.Until(t)
		if d < 0 {
			return initialBackoff
		}
		return min(d, maxBackoff)
	}
	return 0
}

// decodeBody unwraps the response per Content-Encoding. Panels behind
// Cloudflare routinely serve brotli.
func decodeBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "br":
		return brotli.NewReader(resp.Body), nil
	case "gzip":
		return gzip.NewReader(resp.Body)
	default:
		return resp.Body, nil
	}
}

// retryableStatus reports statuses worth a backoff-and-retry: throttling,
// lock contention, timeout, and 5xx.
func retryableStatus(code int) bool {
	if code == http.StatusTooManyRequests || code == http.StatusLocked || code == http.StatusRequestTimeout {
		return true
	}
	return code >= 500 && code < 600
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
