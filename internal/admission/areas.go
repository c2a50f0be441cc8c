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
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// AreaFileName is the area definition file looked up in the area config
// directory.
const AreaFileName = "areas.yaml"

// Area is a named region of interest bounded by a lon/lat polygon.
type Area struct {
	Name        string
	Description string
	Polygon     []LonLat
}

type areaFile struct {
	Areas map[string]struct {
		Description string       `yaml:"description"`
		BBox        []float64    `yaml:"bbox"`
		Polygon     [][2]float64 `yaml:"polygon"`
	} `yaml:"areas"`
}

// LoadAreas reads area definitions from a YAML file of the form
//
//	areas:
//	  euron1:
//	    description: Northern Europe
//	    bbox: [-10, 50, 45, 75]   # lon_min, lat_min, lon_max, lat_max
//	  baltic:
//	    polygon: [[10, 54], [30, 54], [30, 66], [10, 66]]
func LoadAreas(path string) (map[string]Area, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read area definitions: %w", err)
	}
	return parseAreas(path, contents)
}

func parseAreas(path string, contents []byte) (map[string]Area, error) {
	var af areaFile
	dec := yaml.NewDecoder(bytes.NewReader(contents))
	dec.KnownFields(true)
	if err := dec.Decode(&af); err != nil {
		return nil, fmt.Errorf("failed to parse area definitions from %s: %w", path, err)
	}

	areas := make(map[string]Area, len(af.Areas))
	for name, def := range af.Areas {
		area := Area{Name: name, Description: def.Description}
		switch {
		case len(def.Polygon) > 0 && len(def.BBox) > 0:
			return nil, fmt.Errorf("area %q: bbox and polygon are mutually exclusive", name)
		case len(def.Polygon) > 0:
			if len(def.Polygon) < 3 {
				return nil, fmt.Errorf("area %q: polygon needs at least 3 vertices", name)
			}
			for _, v := range def.Polygon {
				area.Polygon = append(area.Polygon, LonLat{Lon: v[0], Lat: v[1]})
			}
		case len(def.BBox) == 4:
			lonMin, latMin, lonMax, latMax := def.BBox[0], def.BBox[1], def.BBox[2], def.BBox[3]
			if lonMin >= lonMax || latMin >= latMax {
				return nil, fmt.Errorf("area %q: empty bbox", name)
			}
			area.Polygon = []LonLat{
				{lonMin, latMin}, {lonMax, latMin}, {lonMax, latMax}, {lonMin, latMax},
			}
		default:
			return nil, fmt.Errorf("area %q: needs a 4-value bbox or a polygon", name)
		}
		areas[name] = area
	}
	return areas, nil
}

// selectAreas returns the named areas, or every area when names is empty.
func selectAreas(all map[string]Area, names []string) ([]Area, error) {
	if len(names) == 0 {
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		names = keys
	}

	out := make([]Area, 0, len(names))
	for _, n := range names {
		a, ok := all[n]
		if !ok {
			return nil, fmt.Errorf("area %q is not defined", n)
		}
		out = append(out, a)
	}
	return out, nil
}

// Contains reports whether p lies inside the area polygon. Polygons that
// cross the antimeridian are not supported.
func (a Area) Contains(p LonLat) bool {
	inside := false
	n := len(a.Polygon)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := a.Polygon[i], a.Polygon[j]
		if (vi.Lat > p.Lat) != (vj.Lat > p.Lat) &&
			p.Lon < (vj.Lon-vi.Lon)*(p.Lat-vi.Lat)/(vj.Lat-vi.Lat)+vi.Lon {
			inside = !inside
		}
	}
	return inside
}
