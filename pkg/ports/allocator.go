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
// Package ports hands out local TCP ports for agent servers from a bounded pool.
package ports

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCapacityExceeded is returned when every port in the pool is allocated.
var ErrCapacityExceeded = errors.New("port pool capacity exceeded")

// Allocator manages the pool [basePort, basePort+maxConcurrent). Released
// ports are reused before fresh ones. A port is never handed out twice
// without an intervening release.
type Allocator struct {
	basePort      int
	maxConcurrent int

	mu       sync.Mutex
	next     int   // next never-used offset from basePort
	released []int // ports returned to the pool, reused LIFO
	inUse    map[int]struct{}
}

// NewAllocator creates an allocator for [basePort, basePort+maxConcurrent).
func NewAllocator(basePort, maxConcurrent int) *Allocator {
	return &Allocator{
		basePort:      basePort,
		maxConcurrent: maxConcurrent,
		inUse:         make(map[int]struct{}),
	}
}

// AllocatePort returns a free port from the pool. It prefers previously
// released ports and fails with ErrCapacityExceeded once the number of
// outstanding allocations reaches the concurrency limit.
func (a *Allocator) AllocatePort() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.inUse) >= a.maxConcurrent {
		return 0, fmt.Errorf("%w: %d servers already active", ErrCapacityExceeded, a.maxConcurrent)
	}

	var port int
	if n := len(a.released); n > 0 {
		port = a.released[n-1]
		a.released = a.released[:n-1]
	} else {
		port = a.basePort + a.next
		a.next++
	}
	a.inUse[port] = struct{}{}
	return port, nil
}

// ReleasePort returns port to the pool. Double release is a caller bug and
// is not detected here.
func (a *Allocator) ReleasePort(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, port)
	a.released = append(a.released, port)
}

// Allocated returns the number of outstanding allocations.
func (a *Allocator) Allocated() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}

// Capacity returns the configured maximum number of concurrent allocations.
func (a *Allocator) Capacity() int {
	return a.maxConcurrent
}
