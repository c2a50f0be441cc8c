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

package admission

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTLEs(t *testing.T) {
	input := strings.Join([]string{
		"METOP-B",
		metopBLine1,
		metopBLine2,
		metopBOldLine1,
		metopBOldLine2,
		"BROKEN",
		metopBLine1[:68] + "0",
		metopBLine2,
	}, "\r\n")

	sets, skipped, err := ParseTLEs(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, sets, 2)

	assert.Equal(t, "METOP-B", sets[0].Name)
	assert.Equal(t, 38771, sets[0].Catalog)
	assert.Equal(t, time.Date(2017, 6, 21, 10, 0, 0, 0, time.UTC), sets[0].Epoch.Round(time.Second))

	assert.Equal(t, "", sets[1].Name)
	assert.Equal(t, time.Date(2017, 6, 14, 12, 0, 0, 0, time.UTC), sets[1].Epoch.Round(time.Second))
}

func TestParseTLERejects(t *testing.T) {
	tests := []struct {
		name  string
		line1 string
		line2 string
	}{
		{"short line", metopBLine1[:60], metopBLine2},
		{"bad checksum", metopBLine1, metopBLine2[:68] + "0"},
		{"catalog mismatch", metopBLine1, "2 38772  98.7124 232.4543 0001234  93.5678 266.5628 14.21475123249810"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTLE("x", tt.line1, tt.line2)
			assert.ErrorIs(t, err, errBadTLE)
		})
	}
}

func TestValidChecksum(t *testing.T) {
	assert.True(t, validChecksum(metopBLine1))
	assert.True(t, validChecksum(metopBLine2))
	assert.True(t, validChecksum(metopBOldLine1))
	assert.True(t, validChecksum(metopBOldLine2))
	assert.False(t, validChecksum(metopBLine1[:68]+"x"))
}

func TestParseEpoch(t *testing.T) {
	got, err := parseEpoch("17001.50000000")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2017, 1, 1, 12, 0, 0, 0, time.UTC), got.Round(time.Second))

	got, err = parseEpoch("98365.00000000")
	require.NoError(t, err)
	assert.Equal(t, 1998, got.Year())

	_, err = parseEpoch("17000.0")
	assert.ErrorIs(t, err, errBadTLE)
	_, err = parseEpoch("ab")
	assert.ErrorIs(t, err, errBadTLE)
}

func TestTLEStoreClosest(t *testing.T) {
	recent, err := parseTLE("METOP-B", metopBLine1, metopBLine2)
	require.NoError(t, err)
	old, err := parseTLE("METOP-B", metopBOldLine1, metopBOldLine2)
	require.NoError(t, err)
	store := NewTLEStore([]TLE{old, recent})

	got, err := store.Closest(38771, time.Date(2017, 6, 21, 10, 5, 0, 0, time.UTC), DefaultTLEMaxAge)
	require.NoError(t, err)
	assert.Equal(t, recent.Line1, got.Line1)

	got, err = store.Closest(38771, time.Date(2017, 6, 15, 0, 0, 0, 0, time.UTC), DefaultTLEMaxAge)
	require.NoError(t, err)
	assert.Equal(t, old.Line1, got.Line1)

	_, err = store.Closest(38771, time.Date(2017, 8, 1, 0, 0, 0, 0, time.UTC), DefaultTLEMaxAge)
	assert.ErrorIs(t, err, ErrNoValidTLEs)

	_, err = store.Closest(29499, time.Date(2017, 6, 21, 10, 5, 0, 0, time.UTC), DefaultTLEMaxAge)
	assert.ErrorIs(t, err, ErrNoValidTLEs)
}

func TestLoadTLEDir(t *testing.T) {
	store, err := LoadTLEDir(writeTLEDir(t))
	require.NoError(t, err)
	assert.Len(t, store.byCatalog[38771], 2)

	_, err = LoadTLEDir(t.TempDir() + "/missing")
	assert.Error(t, err)
}
