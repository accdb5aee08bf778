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
	"bytes"
	"io"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Handler serves {basePath}/{port}/** by forwarding to the routed agent
// with the prefix stripped. Each request resolves against the table's
// current snapshot, so adds and removes take effect immediately.
type Handler struct {
	table    *Table
	rewriter *HTMLRewriter
	logger   *zap.Logger
}

// NewHandler creates a proxy handler over table.
func NewHandler(table *Table, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		table:    table,
		rewriter: NewHTMLRewriter(),
		logger:   logger,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	port, rest, ok := h.splitPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	route, ok := h.table.Current().Route(port)
	if !ok {
		http.NotFound(w, r)
		return
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(route.Origin)
			pr.Out.URL.Path = rest
			pr.Out.URL.RawPath = ""
			// Ask the agent for an identity encoding so HTML can be
			// rewritten without decompressing.
			pr.Out.Header.Del("Accept-Encoding")
			pr.SetXForwarded()
		},
		ModifyResponse: func(resp *http.Response) error {
			return h.rewriteResponse(resp, route.Prefix)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.logger.Warn("Proxy upstream error",
				zap.Int("port", route.Port),
				zap.String("path", rest),
				zap.Error(err))
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	rp.ServeHTTP(w, r)
}

// splitPath extracts the port segment and the remaining path from
// {basePath}/{port}/rest.
func (h *Handler) splitPath(path string) (port int, rest string, ok bool) {
	base := h.table.BasePath()
	if !strings.HasPrefix(path, base+"/") {
		return 0, "", false
	}
	tail := strings.TrimPrefix(path, base+"/")

	seg, rest, found := strings.Cut(tail, "/")
	if !found {
		rest = ""
	}
	port, err := strconv.Atoi(seg)
	if err != nil || port <= 0 {
		return 0, "", false
	}
	return port, "/" + rest, true
}

// rewriteResponse adjusts HTML bodies so absolute-rooted references resolve
// under the route's external prefix.
func (h *Handler) rewriteResponse(resp *http.Response, prefix string) error {
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "text/html") {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if cerr := resp.Body.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	rewritten := h.rewriter.Rewrite(body, prefix)
	resp.Body = io.NopCloser(bytes.NewReader(rewritten))
	resp.ContentLength = int64(len(rewritten))
	resp.Header.Set("Content-Length", strconv.Itoa(len(rewritten)))
	return nil
}
