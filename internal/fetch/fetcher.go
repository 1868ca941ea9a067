// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

// Package fetch implements the per-worker HTTP client.
//
// One Fetcher exists per worker process. It owns the login session
// cookie, the optional proxy, and the pacing clock: requests are spaced
// so that wait = max(0, lastRequestAt + 60/rpm - now), which x/time/rate
// computes for us. Transport failures are retried up to the per-URL
// budget; remote HTTP errors are not. A redirect onto the login wall is
// the forbidden signal: the session is dead and the task must stop.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/doufen-org/graveyard/internal/metrics"
)

// SiteRoot is the base URL relative requests resolve against.
const SiteRoot = "https://www.douban.com/"

// loginWall marks the auth-wall redirect target. Landing here means the
// cookie is no longer accepted.
const loginWall = "/accounts/login"

const userAgent = "Mozilla/5.0 (Windows NT 6.1; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/60.0.3112.105 Safari/537.36"

var (
	// ErrSessionInvalid reports a login-wall redirect or a redirect loop.
	// The account behind the session must be flagged invalid.
	ErrSessionInvalid = errors.New("fetch: login session invalid")

	// ErrExhausted reports that the per-URL retry budget ran out.
	// Callers treat it as a skippable failure that does not kill the task.
	ErrExhausted = errors.New("fetch: retries exhausted")
)

// HTTPError is a non-2xx response. It is reported without retrying.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetch: %s returned HTTP %d", e.URL, e.StatusCode)
}

// Response is a fetched page.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   *url.URL
}

// Config configures one Fetcher.
type Config struct {
	// Cookie is the account's raw session cookie string.
	Cookie string

	// Proxy is an optional proxy URL. Each proxy gets its own worker,
	// so pacing stays per-session.
	Proxy string

	// RequestsPerMinute caps the request rate. Default 60.
	RequestsPerMinute int

	// Timeout bounds one request. Default 5s.
	Timeout time.Duration

	// Retries is the per-URL transport retry budget. Default 5.
	Retries int
}

// Fetcher is the per-worker HTTP client.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*Response]
	extra   map[string]string // cookies merged in after construction
}

// New builds a Fetcher. The pacing clock starts full, so the first
// request goes out immediately.
func New(cfg Config) (*Fetcher, error) {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 5
	}

	transport := &http.Transport{}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("fetch: bad proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if strings.Contains(req.URL.Path, loginWall) {
				return ErrSessionInvalid
			}
			if len(via) >= 10 {
				return ErrSessionInvalid
			}
			return nil
		},
	}

	breaker := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name: "site",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Only transport failures count against the breaker; a remote
		// 4xx/5xx or the login wall is the site answering.
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, ErrSessionInvalid) {
				return true
			}
			var httpErr *HTTPError
			return errors.As(err, &httpErr)
		},
		Timeout: 30 * time.Second,
	})

	return &Fetcher{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		breaker: breaker,
		extra:   make(map[string]string),
	}, nil
}

// MergeCookie adds a cookie to the session on top of the account cookie
// string. The interests API requires a frodotk token obtained from the
// mobile site.
func (f *Fetcher) MergeCookie(name, value string) {
	f.extra[name] = value
}

// Get resolves rawurl against base (SiteRoot when base is empty), waits
// for the pacing clock, and fetches it.
//
// Outcomes:
//   - 2xx: the Response.
//   - other statuses: (*HTTPError); not retried.
//   - login-wall redirect or redirect loop: ErrSessionInvalid.
//   - transport errors: retried with pacing up to the budget, then
//     ErrExhausted.
func (f *Fetcher) Get(ctx context.Context, rawurl string, base ...string) (*Response, error) {
	root := SiteRoot
	if len(base) > 0 && base[0] != "" {
		root = base[0]
	}
	baseURL, err := url.Parse(root)
	if err != nil {
		return nil, err
	}
	ref, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	target := baseURL.ResolveReference(ref)

	var resp *Response
	attempt := 0
	op := func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		if attempt > 1 {
			metrics.FetchRetries.Inc()
		}

		r, err := f.breaker.Execute(func() (*Response, error) {
			return f.do(ctx, target)
		})
		if err != nil {
			var httpErr *HTTPError
			switch {
			case errors.Is(err, ErrSessionInvalid):
				metrics.FetchRequests.WithLabelValues("forbidden").Inc()
				return backoff.Permanent(err)
			case errors.As(err, &httpErr):
				metrics.FetchRequests.WithLabelValues("http_error").Inc()
				return backoff.Permanent(err)
			case ctx.Err() != nil:
				return backoff.Permanent(ctx.Err())
			default:
				metrics.FetchRequests.WithLabelValues("transport_error").Inc()
				return err
			}
		}
		metrics.FetchRequests.WithLabelValues("ok").Inc()
		resp = r
		return nil
	}

	// The limiter provides the spacing between attempts; backoff only
	// counts them. Retry hands back the wrapped error itself, so the
	// non-retryable outcomes are recognized by their own types here.
	err = backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(0), uint64(f.cfg.Retries-1)), ctx))
	if err != nil {
		var httpErr *HTTPError
		switch {
		case errors.Is(err, ErrSessionInvalid),
			errors.As(err, &httpErr),
			errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %s: %v", ErrExhausted, target, err)
		}
	}
	return resp, nil
}

func (f *Fetcher) do(ctx context.Context, target *url.URL) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	cookie := f.cfg.Cookie
	for name, value := range f.extra {
		if cookie != "" {
			cookie += "; "
		}
		cookie += name + "=" + value
	}
	req.Header.Set("Cookie", cookie)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept",
		"text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.8")
	req.Header.Set("Referer", SiteRoot)
	req.Header.Set("Pragma", "no-cache")

	res, err := f.client.Do(req)
	if err != nil {
		// CheckRedirect errors arrive wrapped in *url.Error.
		if errors.Is(err, ErrSessionInvalid) {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: res.StatusCode, URL: target.String()}
	}
	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       body,
		FinalURL:   res.Request.URL,
	}, nil
}

// Cookie returns a cookie value from the most recent session state:
// merged extras first, then the configured account cookie string.
func (f *Fetcher) Cookie(name string) string {
	if v, ok := f.extra[name]; ok {
		return v
	}
	for _, part := range strings.Split(f.cfg.Cookie, ";") {
		if k, v, ok := strings.Cut(strings.TrimSpace(part), "="); ok && k == name {
			return v
		}
	}
	return ""
}
