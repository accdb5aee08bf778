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

import "regexp"

// HTMLRewriter prefixes absolute-rooted references in HTML passing through a
// route so the agent's own web UI resolves assets under the external prefix.
// Regexes are compiled once per instance, not held in package globals, so
// tests can construct isolated rewriters.
type HTMLRewriter struct {
	// attr matches src="/x", href='/x', action="/x". The character after
	// the leading slash is captured to leave protocol-relative //host URLs
	// alone (Go regexp has no lookahead).
	attr *regexp.Regexp
	// cssURL matches url(/x), url('/x), url("/x) in inline styles.
	cssURL *regexp.Regexp
}

// NewHTMLRewriter creates a rewriter.
func NewHTMLRewriter() *HTMLRewriter {
	return &HTMLRewriter{
		attr:   regexp.MustCompile(`((?:src|href|action)=["'])/([^/])`),
		cssURL: regexp.MustCompile(`(url\(['"]?)/([^/])`),
	}
}

// Rewrite prefixes absolute-rooted references in body with prefix
// (e.g. "/agents/5001"). Already protocol-relative references ("//cdn/…")
// are left untouched.
func (rw *HTMLRewriter) Rewrite(body []byte, prefix string) []byte {
	repl := []byte("${1}" + prefix + "/${2}")
	body = rw.attr.ReplaceAll(body, repl)
	body = rw.cssURL.ReplaceAll(body, repl)
	return body
}
