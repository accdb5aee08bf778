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
// Package proxy routes external {basePath}/{port}/** traffic to local agent
// servers on 127.0.0.1:{port}, rewriting HTML so agent web UIs stay usable
// behind the prefix.
package proxy

import (
	"fmt"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
)

// Route maps one allocated port to its external prefix and internal origin.
type Route struct {
	Port int
	// Prefix is the external path prefix, e.g. /agents/5001.
	Prefix string
	// Origin is the internal target, e.g. http://127.0.0.1:5001.
	Origin *url.URL
}

// Snapshot is an immutable view of the route set. Readers keep using a
// snapshot until its Stale channel signals that a newer one was published.
type Snapshot struct {
	routes map[int]Route
	stale  chan struct{}
}

// Route looks up the route for a port.
func (s *Snapshot) Route(port int) (Route, bool) {
	r, ok := s.routes[port]
	return r, ok
}

// Routes returns the route set ordered by port.
func (s *Snapshot) Routes() []Route {
	out := make([]Route, 0, len(s.routes))
	for _, r := range s.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// Stale is closed when this snapshot has been superseded.
func (s *Snapshot) Stale() <-chan struct{} {
	return s.stale
}

// Table is the live routing table. Writers build a full new snapshot per
// change and publish it atomically; readers are lock-free.
type Table struct {
	basePath string

	mu      sync.Mutex // serializes writers only
	current atomic.Pointer[Snapshot]
}

// NewTable creates a table publishing routes under basePath
// (e.g. "/agents").
func NewTable(basePath string) *Table {
	t := &Table{basePath: basePath}
	t.current.Store(&Snapshot{
		routes: map[int]Route{},
		stale:  make(chan struct{}),
	})
	return t
}

// BasePath returns the external base path routes are published under.
func (t *Table) BasePath() string {
	return t.basePath
}

// Current returns the latest published snapshot.
func (t *Table) Current() *Snapshot {
	return t.current.Load()
}

// AddRoute publishes a new snapshot containing a route for port.
func (t *Table) AddRoute(port int) Route {
	origin := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", port)}
	route := Route{
		Port:   port,
		Prefix: fmt.Sprintf("%s/%d", t.basePath, port),
		Origin: origin,
	}
	t.publish(func(routes map[int]Route) {
		routes[port] = route
	})
	return route
}

// RemoveRoute publishes a new snapshot without the route for port.
// Removing an unknown port is a no-op.
func (t *Table) RemoveRoute(port int) {
	t.publish(func(routes map[int]Route) {
		delete(routes, port)
	})
}

func (t *Table) publish(mutate func(map[int]Route)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.current.Load()
	next := make(map[int]Route, len(prev.routes)+1)
	for k, v := range prev.routes {
		next[k] = v
	}
	mutate(next)

	t.current.Store(&Snapshot{
		routes: next,
		stale:  make(chan struct{}),
	})
	close(prev.stale)
}
