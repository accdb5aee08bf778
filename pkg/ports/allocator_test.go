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
package ports

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_SequentialFromBase(t *testing.T) {
	a := NewAllocator(5000, 10)

	p1, err := a.AllocatePort()
	require.NoError(t, err)
	p2, err := a.AllocatePort()
	require.NoError(t, err)

	assert.Equal(t, 5000, p1)
	assert.Equal(t, 5001, p2)
	assert.Equal(t, 2, a.Allocated())
}

func TestAllocator_CapacityExceeded(t *testing.T) {
	a := NewAllocator(5000, 1)

	_, err := a.AllocatePort()
	require.NoError(t, err)

	_, err = a.AllocatePort()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCapacityExceeded))
}

func TestAllocator_ReleaseAndReuse(t *testing.T) {
	a := NewAllocator(5000, 2)

	p1, err := a.AllocatePort()
	require.NoError(t, err)
	_, err = a.AllocatePort()
	require.NoError(t, err)

	a.ReleasePort(p1)
	assert.Equal(t, 1, a.Allocated())

	p3, err := a.AllocatePort()
	require.NoError(t, err)
	assert.Equal(t, p1, p3, "released port is reused")

	// Pool is full again; the counter must not have grown past capacity.
	_, err = a.AllocatePort()
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestAllocator_NeverDoubleAllocates(t *testing.T) {
	a := NewAllocator(6000, 8)

	held := make(map[int]bool)
	for i := 0; i < 8; i++ {
		p, err := a.AllocatePort()
		require.NoError(t, err)
		assert.False(t, held[p], "port %d handed out twice", p)
		held[p] = true
	}
}
