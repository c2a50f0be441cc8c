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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAreas(t *testing.T) {
	areas, err := parseAreas("areas.yaml", []byte(`areas:
  euron1:
    description: Northern Europe
    bbox: [-10, 50, 45, 75]
  baltic:
    polygon: [[10, 54], [30, 54], [30, 66], [10, 66]]
`))
	require.NoError(t, err)
	require.Len(t, areas, 2)

	euron1 := areas["euron1"]
	assert.Equal(t, "Northern Europe", euron1.Description)
	assert.Equal(t, []LonLat{{-10, 50}, {45, 50}, {45, 75}, {-10, 75}}, euron1.Polygon)
	assert.Len(t, areas["baltic"].Polygon, 4)
}

func TestParseAreasErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "areas:\n  a:\n    bbox: [0, 0, 1, 1]\n    colour: red\n"},
		{"both shapes", "areas:\n  a:\n    bbox: [0, 0, 1, 1]\n    polygon: [[0, 0], [1, 0], [1, 1]]\n"},
		{"short polygon", "areas:\n  a:\n    polygon: [[0, 0], [1, 0]]\n"},
		{"empty bbox", "areas:\n  a:\n    bbox: [1, 0, 1, 1]\n"},
		{"three value bbox", "areas:\n  a:\n    bbox: [0, 0, 1]\n"},
		{"no shape", "areas:\n  a:\n    description: nothing\n"},
		{"not yaml", "areas: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseAreas("areas.yaml", []byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestSelectAreas(t *testing.T) {
	all := map[string]Area{"b": {Name: "b"}, "a": {Name: "a"}}

	got, err := selectAreas(all, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)

	got, err = selectAreas(all, []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, []Area{{Name: "b"}}, got)

	_, err = selectAreas(all, []string{"c"})
	assert.Error(t, err)
}

func TestAreaContains(t *testing.T) {
	// L-shaped polygon to exercise the concave case.
	a := Area{Polygon: []LonLat{{0, 0}, {10, 0}, {10, 5}, {5, 5}, {5, 10}, {0, 10}}}

	tests := []struct {
		p    LonLat
		want bool
	}{
		{LonLat{2, 2}, true},
		{LonLat{8, 2}, true},
		{LonLat{2, 8}, true},
		{LonLat{8, 8}, false},
		{LonLat{-1, 5}, false},
		{LonLat{11, 2}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, a.Contains(tt.p), "point %+v", tt.p)
	}
}

func TestLoadAreasMissingFile(t *testing.T) {
	_, err := LoadAreas(AreaFileIn(t.TempDir()))
	assert.Error(t, err)
}
