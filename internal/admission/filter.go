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
	"log/slog"
	"math"
	"path/filepath"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/cardinalhq/granulefilter/internal/granule"
	"github.com/cardinalhq/granulefilter/internal/logctx"
	"github.com/cardinalhq/granulefilter/internal/platform"
)

// InstrumentGeometry describes the granule extent of an instrument.
type InstrumentGeometry struct {
	Duration    time.Duration
	HalfSwathKm float64
	NeedProduct bool
}

// Instruments lists the instruments the filter can evaluate. EPS granules
// are three minutes long.
var Instruments = map[string]InstrumentGeometry{
	"iasi":  {Duration: 3 * time.Minute, HalfSwathKm: 1100},
	"ascat": {Duration: 3 * time.Minute, HalfSwathKm: 960, NeedProduct: true},
}

const (
	DefaultTLEMaxAge  = 7 * 24 * time.Hour
	DefaultSampleStep = 30 * time.Second
	minOrbitRadiusKm  = earthRadiusKm
)

// Config configures a GranuleFilter.
type Config struct {
	// AreaFile is the YAML area definition file.
	AreaFile string
	// Areas restricts the check to these area names; empty means all.
	Areas []string
	// TLEDir holds TLE files.
	TLEDir     string
	TLEMaxAge  time.Duration
	SampleStep time.Duration
}

// AreaFileIn returns the area file path inside dir.
func AreaFileIn(dir string) string {
	return filepath.Join(dir, AreaFileName)
}

// GranuleFilter is the Oracle that propagates TLEs with SGP4 and checks the
// granule footprint against area polygons. Area and TLE files are re-read on
// every evaluation so that updates on disk are picked up without a restart.
type GranuleFilter struct {
	cfg Config
}

var _ Oracle = (*GranuleFilter)(nil)

func NewGranuleFilter(cfg Config) *GranuleFilter {
	if cfg.TLEMaxAge <= 0 {
		cfg.TLEMaxAge = DefaultTLEMaxAge
	}
	if cfg.SampleStep <= 0 {
		cfg.SampleStep = DefaultSampleStep
	}
	return &GranuleFilter{cfg: cfg}
}

func (f *GranuleFilter) Evaluate(ctx context.Context, msg *granule.Message) (bool, error) {
	geom, platformName, err := checkMessage(msg)
	if err != nil {
		return false, err
	}

	all, err := LoadAreas(f.cfg.AreaFile)
	if err != nil {
		return false, err
	}
	areas, err := selectAreas(all, f.cfg.Areas)
	if err != nil {
		return false, err
	}

	store, err := LoadTLEDir(f.cfg.TLEDir)
	if err != nil {
		return false, err
	}
	catalog, _ := platform.NoradID(platformName)
	tle, err := store.Closest(catalog, msg.StartTime, f.cfg.TLEMaxAge)
	if err != nil {
		return false, err
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}

	fp, err := ComputeFootprint(tle, msg.StartTime, geom, f.cfg.SampleStep)
	if err != nil {
		return false, err
	}

	logger := logctx.FromContext(ctx)
	for _, a := range areas {
		if fp.Intersects(a) {
			logger.Debug("Granule footprint intersects area", slog.String("area", a.Name))
			return true, nil
		}
	}
	logger.Debug("Granule footprint outside all areas", slog.Int("areas", len(areas)))
	return false, nil
}

func checkMessage(msg *granule.Message) (InstrumentGeometry, string, error) {
	if msg == nil {
		return InstrumentGeometry{}, "", fmt.Errorf("%w: nil message", ErrInconsistentMessage)
	}
	if msg.URI == "" {
		return InstrumentGeometry{}, "", fmt.Errorf("%w: missing uri", ErrInconsistentMessage)
	}
	if msg.StartTime.IsZero() {
		return InstrumentGeometry{}, "", fmt.Errorf("%w: missing start_time", ErrInconsistentMessage)
	}
	if msg.Satellite == "" {
		return InstrumentGeometry{}, "", fmt.Errorf("%w: missing satellite", ErrInconsistentMessage)
	}
	instrument := msg.Instrument()
	if instrument == "" {
		return InstrumentGeometry{}, "", fmt.Errorf("%w: missing instruments", ErrInconsistentMessage)
	}

	name, _, ok := platform.Resolve(msg.Satellite)
	if !ok {
		return InstrumentGeometry{}, "", fmt.Errorf("%w: platform %q", ErrSceneNotSupported, name)
	}
	if _, ok := platform.NoradID(name); !ok {
		return InstrumentGeometry{}, "", fmt.Errorf("%w: no catalogue number for %q", ErrSceneNotSupported, name)
	}
	geom, ok := Instruments[instrument]
	if !ok {
		return InstrumentGeometry{}, "", fmt.Errorf("%w: instrument %q", ErrSceneNotSupported, instrument)
	}
	if geom.NeedProduct && msg.Product == "" {
		return InstrumentGeometry{}, "", fmt.Errorf("%w: %s granule without product", ErrInconsistentMessage, instrument)
	}
	return geom, name, nil
}

// ComputeFootprint samples the sub-satellite track and swath edges over the
// granule duration.
func ComputeFootprint(tle TLE, start time.Time, geom InstrumentGeometry, step time.Duration) (Footprint, error) {
	sat := satellite.TLEToSat(tle.Line1, tle.Line2, satellite.GravityWGS72)

	var track []LonLat
	for dt := time.Duration(0); dt <= geom.Duration; dt += step {
		p, err := subSatellitePoint(sat, start.Add(dt))
		if err != nil {
			return Footprint{}, fmt.Errorf("%w: %v", ErrNoValidTLEs, err)
		}
		track = append(track, p)
	}
	if len(track) < 2 {
		return Footprint{}, fmt.Errorf("%w: granule shorter than one sample step", ErrSceneNotSupported)
	}

	fp := Footprint{Track: track}
	for i, p := range track {
		var heading float64
		if i+1 < len(track) {
			heading = bearing(p, track[i+1])
		} else {
			heading = bearing(track[i-1], p)
		}
		l, r := swathEdges(p, heading, geom.HalfSwathKm)
		fp.Left = append(fp.Left, l)
		fp.Right = append(fp.Right, r)
	}
	return fp, nil
}

func subSatellitePoint(sat satellite.Satellite, t time.Time) (LonLat, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	pos, _ := satellite.Propagate(sat, year, int(month), day, hour, minute, sec)
	r := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if math.IsNaN(r) || r < minOrbitRadiusKm {
		return LonLat{}, fmt.Errorf("propagation to %s failed", t.Format(time.RFC3339))
	}

	gmst := satellite.ThetaG_JD(satellite.JDay(year, int(month), day, hour, minute, sec))
	_, _, ll := satellite.ECIToLLA(pos, gmst)
	return LonLat{Lon: normLon(deg(ll.Longitude)), Lat: deg(ll.Latitude)}, nil
}
