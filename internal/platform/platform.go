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

// Package platform holds the static naming tables for the supported
// satellite platforms.
package platform

import "strings"

// Canonical platform names.
const (
	MetopA = "Metop-A"
	MetopB = "Metop-B"
	MetopC = "Metop-C"
)

// aliases maps raw platform tokens as they appear on the wire to canonical
// names. Lookups are exact; both the upper- and lower-case spellings seen in
// EUMETCast notifications are listed.
var aliases = map[string]string{
	"METOPA": MetopA,
	"metopa": MetopA,
	"METOPB": MetopB,
	"metopb": MetopB,
	"METOPC": MetopC,
	"metopc": MetopC,
}

var letters = map[string]string{
	MetopA: "a",
	MetopB: "b",
	MetopC: "c",
}

// noradIDs are the NORAD catalogue numbers used to pick TLEs.
var noradIDs = map[string]int{
	MetopA: 29499,
	MetopB: 38771,
	MetopC: 43689,
}

// Canonical returns the canonical name for a raw platform token. Unknown
// tokens are returned unchanged so that an already canonical name passes
// through.
func Canonical(raw string) string {
	if name, ok := aliases[raw]; ok {
		return name
	}
	return raw
}

// Letter returns the single-letter code used in output filenames.
func Letter(name string) (string, bool) {
	l, ok := letters[name]
	return l, ok
}

// NoradID returns the NORAD catalogue number for a canonical platform name.
func NoradID(name string) (int, bool) {
	id, ok := noradIDs[name]
	return id, ok
}

// Resolve maps a raw platform token all the way to its canonical name and
// letter code. ok is false when the platform is not supported.
func Resolve(raw string) (name, letter string, ok bool) {
	name = Canonical(strings.TrimSpace(raw))
	letter, ok = Letter(name)
	return name, letter, ok
}

// Known returns the canonical names of all supported platforms.
func Known() []string {
	return []string{MetopA, MetopB, MetopC}
}
