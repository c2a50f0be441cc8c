// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package idgen

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlakeIncreases(t *testing.T) {
	f, err := NewFlake()
	require.NoError(t, err)

	a, err := f.Next()
	require.NoError(t, err)
	b, err := f.Next()
	require.NoError(t, err)
	assert.Greater(t, b, a)
}

func TestInstanceID(t *testing.T) {
	f, err := NewFlake()
	require.NoError(t, err)

	id, err := f.InstanceID()
	require.NoError(t, err)
	require.NotEmpty(t, id)
	_, err = strconv.ParseUint(id, 36, 64)
	assert.NoError(t, err)
}

func TestEventIDsMonotonic(t *testing.T) {
	gen := NewEventIDs()
	at := time.Date(2017, 6, 21, 10, 5, 0, 0, time.UTC)

	first := gen.Make(at)
	second := gen.Make(at)
	assert.Less(t, first, second)

	parsed, err := ulid.Parse(first)
	require.NoError(t, err)
	assert.Equal(t, at, ulid.Time(parsed.Time()).UTC())
}

func TestEventIDsConcurrent(t *testing.T) {
	gen := NewEventIDs()
	at := time.Now()

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				id := gen.Make(at)
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
}
