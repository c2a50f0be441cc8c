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

import "math"

const earthRadiusKm = 6371.0

// LonLat is a geodetic position in degrees.
type LonLat struct {
	Lon float64
	Lat float64
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }

// normLon wraps a longitude in degrees into [-180, 180).
func normLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// bearing returns the initial great-circle bearing from a to b in degrees.
func bearing(a, b LonLat) float64 {
	φ1, φ2 := rad(a.Lat), rad(b.Lat)
	Δλ := rad(b.Lon - a.Lon)
	y := math.Sin(Δλ) * math.Cos(φ2)
	x := math.Cos(φ1)*math.Sin(φ2) - math.Sin(φ1)*math.Cos(φ2)*math.Cos(Δλ)
	return math.Mod(deg(math.Atan2(y, x))+360, 360)
}

// destination moves distKm from p along the given bearing.
func destination(p LonLat, bearingDeg, distKm float64) LonLat {
	δ := distKm / earthRadiusKm
	θ := rad(bearingDeg)
	φ1, λ1 := rad(p.Lat), rad(p.Lon)

	φ2 := math.Asin(math.Sin(φ1)*math.Cos(δ) + math.Cos(φ1)*math.Sin(δ)*math.Cos(θ))
	λ2 := λ1 + math.Atan2(math.Sin(θ)*math.Sin(δ)*math.Cos(φ1), math.Cos(δ)-math.Sin(φ1)*math.Sin(φ2))
	return LonLat{Lon: normLon(deg(λ2)), Lat: deg(φ2)}
}

// swathEdges returns the left and right swath edge points for a track sample
// heading along the given bearing.
func swathEdges(center LonLat, heading, halfWidthKm float64) (left, right LonLat) {
	return destination(center, heading-90, halfWidthKm), destination(center, heading+90, halfWidthKm)
}

// Footprint is the ground coverage of a granule, sampled along track.
type Footprint struct {
	Track []LonLat
	Left  []LonLat
	Right []LonLat
}

// Outline returns the footprint as a closed polygon: left edge forward, right
// edge backward.
func (f Footprint) Outline() []LonLat {
	out := make([]LonLat, 0, len(f.Left)+len(f.Right))
	out = append(out, f.Left...)
	for i := len(f.Right) - 1; i >= 0; i-- {
		out = append(out, f.Right[i])
	}
	return out
}

// Intersects reports whether the footprint overlaps the area: either a
// footprint point lies in the area or an area vertex lies in the footprint.
func (f Footprint) Intersects(a Area) bool {
	for _, pts := range [][]LonLat{f.Track, f.Left, f.Right} {
		for _, p := range pts {
			if a.Contains(p) {
				return true
			}
		}
	}

	outline := Area{Polygon: f.Outline()}
	if len(outline.Polygon) < 3 {
		return false
	}
	for _, v := range a.Polygon {
		if outline.Contains(v) {
			return true
		}
	}
	return false
}
