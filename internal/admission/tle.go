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
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const tleLineLength = 69

var errBadTLE = errors.New("invalid TLE")

// TLE is one two-line element set.
type TLE struct {
	Name    string
	Line1   string
	Line2   string
	Catalog int
	Epoch   time.Time
}

// ParseTLEs reads two- or three-line element sets from r. Sets that fail
// validation are skipped and counted.
func ParseTLEs(r io.Reader) (sets []TLE, skipped int, err error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \r\t")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}

	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(lines[i], "1 ") || i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "2 ") {
			continue
		}
		name := ""
		if i > 0 && !strings.HasPrefix(lines[i-1], "1 ") && !strings.HasPrefix(lines[i-1], "2 ") {
			name = strings.TrimSpace(strings.TrimPrefix(lines[i-1], "0 "))
		}
		tle, err := parseTLE(name, lines[i], lines[i+1])
		if err != nil {
			slog.Debug("Skipping TLE", slog.String("name", name), slog.Any("error", err))
			skipped++
		} else {
			sets = append(sets, tle)
		}
		i++
	}
	return sets, skipped, nil
}

func parseTLE(name, line1, line2 string) (TLE, error) {
	for n, line := range []string{line1, line2} {
		if len(line) != tleLineLength {
			return TLE{}, fmt.Errorf("%w: line %d has %d characters", errBadTLE, n+1, len(line))
		}
		if !validChecksum(line) {
			return TLE{}, fmt.Errorf("%w: line %d checksum mismatch", errBadTLE, n+1)
		}
	}

	catalog, err := strconv.Atoi(strings.TrimSpace(line1[2:7]))
	if err != nil {
		return TLE{}, fmt.Errorf("%w: catalog number: %v", errBadTLE, err)
	}
	if other, err := strconv.Atoi(strings.TrimSpace(line2[2:7])); err != nil || other != catalog {
		return TLE{}, fmt.Errorf("%w: catalog numbers differ between lines", errBadTLE)
	}

	epoch, err := parseEpoch(line1[18:32])
	if err != nil {
		return TLE{}, err
	}

	// go-satellite does not report parse errors, so check the numeric fields
	// it reads before handing the lines over.
	for _, field := range []string{line2[8:16], line2[17:25], line2[34:42], line2[43:51], line2[52:63]} {
		if _, err := strconv.ParseFloat(strings.TrimSpace(field), 64); err != nil {
			return TLE{}, fmt.Errorf("%w: orbital element %q", errBadTLE, field)
		}
	}
	if _, err := strconv.ParseFloat("0."+line2[26:33], 64); err != nil {
		return TLE{}, fmt.Errorf("%w: eccentricity %q", errBadTLE, line2[26:33])
	}

	return TLE{Name: name, Line1: line1, Line2: line2, Catalog: catalog, Epoch: epoch}, nil
}

func validChecksum(line string) bool {
	sum := 0
	for _, c := range line[:tleLineLength-1] {
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	want := line[tleLineLength-1]
	return want >= '0' && want <= '9' && sum%10 == int(want-'0')
}

// parseEpoch decodes the YYDDD.DDDDDDDD epoch field.
func parseEpoch(field string) (time.Time, error) {
	field = strings.TrimSpace(field)
	if len(field) < 5 {
		return time.Time{}, fmt.Errorf("%w: epoch %q", errBadTLE, field)
	}
	yy, err := strconv.Atoi(field[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: epoch year %q", errBadTLE, field[:2])
	}
	days, err := strconv.ParseFloat(field[2:], 64)
	if err != nil || days < 1 || days >= 367 {
		return time.Time{}, fmt.Errorf("%w: epoch day %q", errBadTLE, field[2:])
	}
	year := 2000 + yy
	if yy >= 57 {
		year = 1900 + yy
	}
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return start.Add(time.Duration((days - 1) * float64(24*time.Hour))), nil
}

// TLEStore holds element sets by NORAD catalogue number.
type TLEStore struct {
	byCatalog map[int][]TLE
}

func NewTLEStore(sets []TLE) *TLEStore {
	s := &TLEStore{byCatalog: make(map[int][]TLE)}
	for _, t := range sets {
		s.byCatalog[t.Catalog] = append(s.byCatalog[t.Catalog], t)
	}
	return s
}

// LoadTLEDir reads every regular file in dir.
func LoadTLEDir(dir string) (*TLEStore, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read TLE directory: %w", err)
	}

	var all []TLE
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open TLE file: %w", err)
		}
		sets, skipped, err := ParseTLEs(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read TLE file %s: %w", path, err)
		}
		if skipped > 0 {
			slog.Warn("Skipped invalid TLE sets", slog.String("file", path), slog.Int("count", skipped))
		}
		all = append(all, sets...)
	}
	return NewTLEStore(all), nil
}

// Closest returns the set for catalog whose epoch is nearest to at, provided
// it lies within maxAge of at.
func (s *TLEStore) Closest(catalog int, at time.Time, maxAge time.Duration) (TLE, error) {
	var (
		best  TLE
		found bool
		bestD time.Duration
	)
	for _, t := range s.byCatalog[catalog] {
		d := t.Epoch.Sub(at).Abs()
		if d > maxAge {
			continue
		}
		if !found || d < bestD {
			best, bestD, found = t, d, true
		}
	}
	if !found {
		return TLE{}, fmt.Errorf("%w: none for catalog %d within %s of %s",
			ErrNoValidTLEs, catalog, maxAge, at.Format(time.RFC3339))
	}
	return best, nil
}
