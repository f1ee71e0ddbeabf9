// Package weather fetches current METAR conditions for the overlay badge.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	userAgent         = "webcam-capture/1.0 (+https://github.com/i474232898/webcam-capture)"
	defaultRetryAfter = 60 * time.Second
	maxBodyBytes      = 1 << 20
)

// Outcome labels passed to Options.Observer.
const (
	OutcomeOK          = "ok"
	OutcomeCached      = "cached"
	OutcomeNoData      = "no_data"
	OutcomeRateLimited = "rate_limited"
	OutcomeInvalid     = "invalid"
	OutcomeHTTPError   = "http_error"
	OutcomeTransport   = "transport_error"
	OutcomeCircuitOpen = "circuit_open"
)

// Options configures a Client.
type Options struct {
	APIURL     string
	Timeout    time.Duration
	CacheTTL   time.Duration
	HTTPClient *http.Client
	// Observer, if set, is called once per Current call with an Outcome label.
	Observer func(outcome string)
}

type cacheEntry struct {
	conditions Conditions
	fetchedAt  time.Time
}

// Client is a METAR client for the aviationweather.gov data API.
type Client struct {
	apiURL   string
	http     *http.Client
	cacheTTL time.Duration
	cb       *gobreaker.CircuitBreaker
	observe  func(string)
	logger   *zap.Logger
	now      func() time.Time

	mu           sync.Mutex
	cache        map[string]cacheEntry
	limitedUntil time.Time
}

// result carries soft outcomes through the breaker without counting them as failures.
type result struct {
	conditions Conditions
	soft       error
}

// NewClient builds a Client. A zero Timeout defaults to 10 seconds.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	observe := opts.Observer
	if observe == nil {
		observe = func(string) {}
	}
	log := logger.Named("weather")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "metar",
		MaxRequests: 1,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		apiURL:   opts.APIURL,
		http:     httpClient,
		cacheTTL: opts.CacheTTL,
		cb:       cb,
		observe:  observe,
		logger:   log,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
}

// Current returns the latest conditions for a 4 character ICAO station code.
func (c *Client) Current(ctx context.Context, station string) (Conditions, error) {
	station = strings.ToUpper(strings.TrimSpace(station))
	if len(station) != 4 {
		c.observe(OutcomeInvalid)
		return Conditions{}, fmt.Errorf("%w: station %q", ErrInvalidRequest, station)
	}

	if cached, ok, err := c.fromCache(station); ok {
		return cached, err
	}

	out, err := c.cb.Execute(func() (interface{}, error) {
		return c.fetch(ctx, station)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.observe(OutcomeCircuitOpen)
			return Conditions{}, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			c.observe(OutcomeHTTPError)
			return Conditions{}, err
		}
		c.observe(OutcomeTransport)
		return Conditions{}, fmt.Errorf("fetch METAR %s: %w", station, err)
	}

	res, ok := out.(result)
	if !ok {
		return Conditions{}, fmt.Errorf("unexpected result type from circuit breaker")
	}
	if res.soft != nil {
		c.observe(softOutcome(res.soft))
		return Conditions{}, res.soft
	}

	c.mu.Lock()
	c.cache[station] = cacheEntry{conditions: res.conditions, fetchedAt: c.now()}
	c.mu.Unlock()
	c.observe(OutcomeOK)
	return res.conditions, nil
}

func (c *Client) fromCache(station string) (Conditions, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Before(c.limitedUntil) {
		c.observe(OutcomeRateLimited)
		return Conditions{}, true, &RateLimitedError{RetryAfter: c.limitedUntil.Sub(now), Until: c.limitedUntil}
	}
	if entry, ok := c.cache[station]; ok && c.cacheTTL > 0 && now.Sub(entry.fetchedAt) < c.cacheTTL {
		c.observe(OutcomeCached)
		return entry.conditions, true, nil
	}
	return Conditions{}, false, nil
}

// fetch performs one request. Transport errors and 5xx are returned as errors so
// the breaker counts them; every other outcome is a result.
func (c *Client) fetch(ctx context.Context, station string) (result, error) {
	req, err := c.newRequest(ctx, station)
	if err != nil {
		return result{soft: err}, nil
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return result{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return result{}, fmt.Errorf("read body: %w", err)
	}

	c.logger.Debug("METAR response",
		zap.String("station", station),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
	)

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return result{soft: ErrNoData}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := retryAfter(resp.Header.Get("Retry-After"), c.now())
		until := c.now().Add(wait)
		c.mu.Lock()
		c.limitedUntil = until
		c.mu.Unlock()
		return result{soft: &RateLimitedError{RetryAfter: wait, Until: until}}, nil
	case resp.StatusCode == http.StatusBadRequest:
		return result{soft: ErrInvalidRequest}, nil
	case resp.StatusCode >= 500:
		return result{}, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return result{soft: &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}}, nil
	}

	var records []metarRecord
	if len(strings.TrimSpace(string(body))) == 0 {
		return result{soft: ErrNoData}, nil
	}
	if err := json.Unmarshal(body, &records); err != nil {
		return result{soft: fmt.Errorf("decode METAR response: %w", err)}, nil
	}
	if len(records) == 0 {
		return result{soft: ErrNoData}, nil
	}
	return result{conditions: records[0].conditions(station)}, nil
}

func (c *Client) newRequest(ctx context.Context, station string) (*http.Request, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	q := u.Query()
	q.Set("ids", station)
	q.Set("format", "json")
	q.Set("taf", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// retryAfter parses a Retry-After header as seconds or an HTTP date.
func retryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return defaultRetryAfter
}

func softOutcome(err error) string {
	var rl *RateLimitedError
	var httpErr *HTTPError
	switch {
	case errors.Is(err, ErrNoData):
		return OutcomeNoData
	case errors.Is(err, ErrInvalidRequest):
		return OutcomeInvalid
	case errors.As(err, &rl):
		return OutcomeRateLimited
	case errors.As(err, &httpErr):
		return OutcomeHTTPError
	default:
		return OutcomeTransport
	}
}
