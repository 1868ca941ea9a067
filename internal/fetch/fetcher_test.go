// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetReturnsBodyAndHeaders(t *testing.T) {
	var gotCookie, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f, err := New(Config{Cookie: "dbcl2=abc", RequestsPerMinute: 6000})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := f.Get(context.Background(), "/people/me/", srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Body) != "<html>ok</html>" {
		t.Fatalf("body = %q", resp.Body)
	}
	if gotCookie != "dbcl2=abc" {
		t.Fatalf("cookie = %q", gotCookie)
	}
	if gotUA == "" || gotUA == "Go-http-client/1.1" {
		t.Fatalf("user agent not set: %q", gotUA)
	}
}

func TestMergeCookieAppends(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
	}))
	defer srv.Close()

	f, _ := New(Config{Cookie: "dbcl2=abc", RequestsPerMinute: 6000})
	f.MergeCookie("frodotk", "token123")
	if _, err := f.Get(context.Background(), "/", srv.URL); err != nil {
		t.Fatal(err)
	}
	if gotCookie != "dbcl2=abc; frodotk=token123" {
		t.Fatalf("cookie = %q", gotCookie)
	}
}

func TestPacingSpacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	// 600 rpm = one request per 100ms.
	f, _ := New(Config{RequestsPerMinute: 600})

	const n = 3
	start := time.Now()
	for i := 0; i < n; i++ {
		if _, err := f.Get(context.Background(), "/", srv.URL); err != nil {
			t.Fatal(err)
		}
	}
	elapsed := time.Since(start)
	if min := (n - 1) * 100 * time.Millisecond; elapsed < min {
		t.Fatalf("elapsed %v < %v for %d paced requests", elapsed, min, n)
	}
}

func TestHTTPErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f, _ := New(Config{RequestsPerMinute: 6000})
	_, err := f.Get(context.Background(), "/", srv.URL)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusNotFound {
		t.Fatalf("want HTTPError 404, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("server hit %d times, HTTP errors must not retry", hits.Load())
	}
}

func TestTransportErrorRetriesThenExhausts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		// Kill the connection mid-response to force a transport error.
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("no hijacker")
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Fatal(err)
		}
		_ = conn.Close()
	}))
	defer srv.Close()

	f, _ := New(Config{RequestsPerMinute: 6000, Retries: 3})
	_, err := f.Get(context.Background(), "/", srv.URL)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("want ErrExhausted, got %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("server hit %d times, want 3", hits.Load())
	}
}

func TestLoginWallRedirectIsSessionInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/accounts/login?source=main", http.StatusFound)
	}))
	defer srv.Close()

	f, _ := New(Config{RequestsPerMinute: 6000})
	_, err := f.Get(context.Background(), "/people/me/", srv.URL)
	if !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("want ErrSessionInvalid, got %v", err)
	}
}

func TestCookieLookup(t *testing.T) {
	f, _ := New(Config{Cookie: "bid=xyz; dbcl2=abc", RequestsPerMinute: 6000})
	f.MergeCookie("frodotk", "token123")
	f.MergeCookie("dbcl2", "overridden")

	tests := []struct {
		name string
		want string
	}{
		{"frodotk", "token123"},
		{"dbcl2", "overridden"}, // merged value wins over the account string
		{"bid", "xyz"},
		{"missing", ""},
	}
	for _, tt := range tests {
		if got := f.Cookie(tt.name); got != tt.want {
			t.Errorf("Cookie(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestBadProxyFailsConstruction(t *testing.T) {
	if _, err := New(Config{Proxy: "://bad"}); err == nil {
		t.Fatal("bad proxy must fail New")
	}
}
