// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// startBackend runs an HTTP server on 127.0.0.1 and returns its port.
func startBackend(t *testing.T, handler http.Handler) int {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestHandler_RoundTrip(t *testing.T) {
	port := startBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "path=%s", r.URL.Path)
	}))

	table := NewTable("/agents")
	table.AddRoute(port)
	h := NewHandler(table, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/agents/%d/x", port), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "path=/x", rec.Body.String())
}

func TestHandler_RemoveRouteUnreachable(t *testing.T) {
	port := startBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	table := NewTable("/agents")
	table.AddRoute(port)
	h := NewHandler(table, zap.NewNop())

	target := fmt.Sprintf("/agents/%d/", port)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	table.RemoveRoute(port)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_UnknownPathsRejected(t *testing.T) {
	table := NewTable("/agents")
	h := NewHandler(table, zap.NewNop())

	for _, path := range []string{"/other/5001/x", "/agents/notaport/x", "/agents"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, "path %s", path)
	}
}

func TestHandler_RewritesHTMLThroughRoute(t *testing.T) {
	html := `<html><head><link href="/style.css"><script src="/app.js"></script></head>` +
		`<body><form action="/submit"><img src="//cdn.example.com/i.png"></form></body></html>`
	port := startBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, html)
	}))

	table := NewTable("/agents")
	table.AddRoute(port)
	h := NewHandler(table, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/agents/%d/", port), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	prefix := fmt.Sprintf("/agents/%d", port)
	assert.Contains(t, body, `href="`+prefix+`/style.css"`)
	assert.Contains(t, body, `src="`+prefix+`/app.js"`)
	assert.Contains(t, body, `action="`+prefix+`/submit"`)
	assert.Contains(t, body, `src="//cdn.example.com/i.png"`, "protocol-relative untouched")
	assert.Equal(t, strconv.Itoa(len(body)), rec.Header().Get("Content-Length"))
}

func TestTable_SnapshotStaleness(t *testing.T) {
	table := NewTable("/agents")
	snap := table.Current()

	select {
	case <-snap.Stale():
		t.Fatal("fresh snapshot must not be stale")
	default:
	}

	table.AddRoute(5001)

	select {
	case <-snap.Stale():
	default:
		t.Fatal("previous snapshot should be signalled stale after AddRoute")
	}

	// The old snapshot still serves its old view; the new one has the route.
	_, ok := snap.Route(5001)
	assert.False(t, ok)
	_, ok = table.Current().Route(5001)
	assert.True(t, ok)
}

func TestHTMLRewriter(t *testing.T) {
	rw := NewHTMLRewriter()

	cases := []struct{ in, want string }{
		{`src="/a.js"`, `src="/p/9000/a.js"`},
		{`href='/x/y'`, `href='/p/9000/x/y'`},
		{`action="/post"`, `action="/p/9000/post"`},
		{`style="background:url(/bg.png)"`, `style="background:url(/p/9000/bg.png)"`},
		{`url('/bg.png')`, `url('/p/9000/bg.png')`},
		{`src="//cdn/a.js"`, `src="//cdn/a.js"`},
		{`href="http://x/a"`, `href="http://x/a"`},
		{`href="/"`, `href="/p/9000/"`},
	}
	for _, tc := range cases {
		got := string(rw.Rewrite([]byte(tc.in), "/p/9000"))
		assert.Equal(t, tc.want, got, "input %s", tc.in)
	}
}
