package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the X-Capture-Timestamp format: ISO-8601 UTC with a Z suffix.
const TimestampLayout = "2006-01-02T15:04:05Z"

// HTTPSink PUTs the image to an HTTP endpoint with a bearer token.
type HTTPSink struct {
	url    string
	key    string
	client *http.Client
}

// NewHTTPSink builds the API sink. A nil client uses http.DefaultClient;
// per-attempt timeouts come from the request context.
func NewHTTPSink(url, key string, client *http.Client) *HTTPSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSink{url: url, key: key, client: client}
}

func (s *HTTPSink) Name() string { return "api" }

func (s *HTTPSink) Put(ctx context.Context, p Payload) (Receipt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.url, bytes.NewReader(p.Image))
	if err != nil {
		return Receipt{}, markTerminal(fmt.Errorf("build request: %w", err))
	}
	req.ContentLength = int64(len(p.Image))
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("X-Capture-Timestamp", p.CapturedAt.UTC().Format(TimestampLayout))
	req.Header.Set("X-Location", p.Location)
	req.Header.Set("X-Is-Day", strconv.FormatBool(p.IsDay))

	resp, err := s.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("put %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(body)), 512),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	// The image is delivered once the sink answers 2xx; an unreadable
	// receipt only loses the id.
	var receipt Receipt
	if len(bytes.TrimSpace(body)) > 0 {
		_ = json.Unmarshal(body, &receipt)
	}
	if receipt.SizeBytes == 0 {
		receipt.SizeBytes = int64(len(p.Image))
	}
	return receipt, nil
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
