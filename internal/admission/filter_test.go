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
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/granulefilter/internal/granule"
)

const (
	metopBLine1 = "1 38771U 12049A   17172.41666667  .00000017  00000-0  27793-4 0  9992"
	metopBLine2 = "2 38771  98.7124 232.4543 0001234  93.5678 266.5628 14.21475123249819"

	metopBOldLine1 = "1 38771U 12049A   17165.50000000  .00000017  00000-0  27793-4 0  9997"
	metopBOldLine2 = "2 38771  98.7124 225.6543 0001234  93.5678 266.5628 14.21475123239913"
)

var granuleStart = time.Date(2017, 6, 21, 10, 5, 0, 0, time.UTC)

func writeTLEDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	contents := strings.Join([]string{
		"METOP-B",
		metopBOldLine1,
		metopBOldLine2,
		"0 METOP-B",
		metopBLine1,
		metopBLine2,
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tle-20170621.txt"), []byte(contents), 0o644))
	return dir
}

func bboxAround(p LonLat, halfDeg float64) string {
	lonMin := math.Max(p.Lon-halfDeg, -180)
	lonMax := math.Min(p.Lon+halfDeg, 180)
	latMin := math.Max(p.Lat-halfDeg, -90)
	latMax := math.Min(p.Lat+halfDeg, 90)
	return fmt.Sprintf("[%f, %f, %f, %f]", lonMin, latMin, lonMax, latMax)
}

func referenceFootprint(t *testing.T) Footprint {
	t.Helper()
	tle, err := parseTLE("METOP-B", metopBLine1, metopBLine2)
	require.NoError(t, err)
	fp, err := ComputeFootprint(tle, granuleStart, Instruments["iasi"], DefaultSampleStep)
	require.NoError(t, err)
	return fp
}

func writeAreaFile(t *testing.T, body string) string {
	t.Helper()
	path := AreaFileIn(t.TempDir())
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func iasiMessage() *granule.Message {
	return &granule.Message{
		URI:         "/data/iasi.bin",
		StartTime:   granuleStart,
		Satellite:   "METOPB",
		Instruments: []string{"iasi"},
	}
}

func TestComputeFootprintShape(t *testing.T) {
	fp := referenceFootprint(t)

	// 3 minutes at 30 second steps, both ends included.
	require.Len(t, fp.Track, 7)
	require.Len(t, fp.Left, 7)
	require.Len(t, fp.Right, 7)

	for _, p := range fp.Track {
		assert.LessOrEqual(t, math.Abs(p.Lat), 90.0)
		assert.GreaterOrEqual(t, p.Lon, -180.0)
		assert.Less(t, p.Lon, 180.0)
	}

	// A sun-synchronous satellite covers roughly 7 km/s of ground track.
	d := greatCircleKm(fp.Track[0], fp.Track[len(fp.Track)-1])
	assert.InDelta(t, 1150, d, 250)

	// Swath edges sit the half swath width away from the track.
	assert.InDelta(t, 1100, greatCircleKm(fp.Track[3], fp.Left[3]), 1)
	assert.InDelta(t, 1100, greatCircleKm(fp.Track[3], fp.Right[3]), 1)
}

func greatCircleKm(a, b LonLat) float64 {
	φ1, φ2 := rad(a.Lat), rad(b.Lat)
	Δφ, Δλ := φ2-φ1, rad(b.Lon-a.Lon)
	h := math.Sin(Δφ/2)*math.Sin(Δφ/2) + math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

func TestGranuleFilterEvaluate(t *testing.T) {
	fp := referenceFootprint(t)
	center := fp.Track[3]
	antipode := LonLat{Lon: normLon(center.Lon + 180), Lat: -center.Lat}

	areaFile := writeAreaFile(t, fmt.Sprintf(`areas:
  overhead:
    description: box under the granule
    bbox: %s
  opposite:
    bbox: %s
`, bboxAround(center, 1), bboxAround(antipode, 1)))
	tleDir := writeTLEDir(t)

	tests := []struct {
		name  string
		areas []string
		want  bool
	}{
		{"inside", []string{"overhead"}, true},
		{"outside", []string{"opposite"}, false},
		{"any of several", []string{"opposite", "overhead"}, true},
		{"all areas", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewGranuleFilter(Config{AreaFile: areaFile, Areas: tt.areas, TLEDir: tleDir})
			got, err := f.Evaluate(context.Background(), iasiMessage())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGranuleFilterAreaInsideSwathIsAdmitted(t *testing.T) {
	fp := referenceFootprint(t)
	outline := fp.Outline()
	for i := 1; i < len(outline); i++ {
		if math.Abs(outline[i].Lon-outline[i-1].Lon) > 180 {
			t.Skip("footprint crosses the antimeridian")
		}
	}
	// Tiny box between the track and the left edge: no sample falls in it,
	// but its vertices are inside the footprint outline.
	mid := destination(fp.Track[3], bearing(fp.Track[3], fp.Left[3]), 500)
	areaFile := writeAreaFile(t, fmt.Sprintf("areas:\n  small:\n    bbox: %s\n", bboxAround(mid, 0.01)))

	f := NewGranuleFilter(Config{AreaFile: areaFile, TLEDir: writeTLEDir(t)})
	got, err := f.Evaluate(context.Background(), iasiMessage())
	require.NoError(t, err)
	assert.True(t, got)
}

func TestGranuleFilterErrors(t *testing.T) {
	areaFile := writeAreaFile(t, "areas:\n  world:\n    bbox: [-180, -90, 180, 90]\n")
	tleDir := writeTLEDir(t)

	tests := []struct {
		name     string
		cfg      Config
		mutate   func(m *granule.Message)
		wantKind string
	}{
		{
			name:     "missing uri",
			mutate:   func(m *granule.Message) { m.URI = "" },
			wantKind: "inconsistent_message",
		},
		{
			name:     "missing start time",
			mutate:   func(m *granule.Message) { m.StartTime = time.Time{} },
			wantKind: "inconsistent_message",
		},
		{
			name:     "missing instruments",
			mutate:   func(m *granule.Message) { m.Instruments = nil },
			wantKind: "inconsistent_message",
		},
		{
			name: "ascat without product",
			mutate: func(m *granule.Message) {
				m.Instruments = []string{"ascat"}
			},
			wantKind: "inconsistent_message",
		},
		{
			name:     "unknown platform",
			mutate:   func(m *granule.Message) { m.Satellite = "NOAA-19" },
			wantKind: "scene_not_supported",
		},
		{
			name:     "unknown instrument",
			mutate:   func(m *granule.Message) { m.Instruments = []string{"avhrr/3"} },
			wantKind: "scene_not_supported",
		},
		{
			name:     "no TLE near start time",
			mutate:   func(m *granule.Message) { m.StartTime = granuleStart.AddDate(1, 0, 0) },
			wantKind: "no_valid_tles",
		},
		{
			name:     "no TLE for platform",
			mutate:   func(m *granule.Message) { m.Satellite = "METOPA" },
			wantKind: "no_valid_tles",
		},
		{
			name:     "area file missing",
			cfg:      Config{AreaFile: filepath.Join(t.TempDir(), "nope.yaml"), TLEDir: tleDir},
			wantKind: "io_error",
		},
		{
			name:     "unknown area selected",
			cfg:      Config{AreaFile: areaFile, Areas: []string{"mars"}, TLEDir: tleDir},
			wantKind: "io_error",
		},
		{
			name:     "TLE dir missing",
			cfg:      Config{AreaFile: areaFile, TLEDir: filepath.Join(t.TempDir(), "nope")},
			wantKind: "io_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if cfg.AreaFile == "" {
				cfg = Config{AreaFile: areaFile, TLEDir: tleDir}
			}
			msg := iasiMessage()
			if tt.mutate != nil {
				tt.mutate(msg)
			}
			ok, err := NewGranuleFilter(cfg).Evaluate(context.Background(), msg)
			require.Error(t, err)
			assert.False(t, ok)
			assert.Equal(t, tt.wantKind, Kind(err))
		})
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "cancelled", Kind(fmt.Errorf("x: %w", context.Canceled)))
	assert.Equal(t, "scene_not_supported", Kind(fmt.Errorf("x: %w", ErrSceneNotSupported)))
}

func TestOracleFunc(t *testing.T) {
	var o Oracle = OracleFunc(func(context.Context, *granule.Message) (bool, error) { return true, nil })
	ok, err := o.Evaluate(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, ok)
}
