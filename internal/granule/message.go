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

// Package granule decodes acquisition notifications in the posttroll wire
// format.
package granule

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Posttroll message types the filter cares about.
const (
	TypeFile = "file"
	TypeDel  = "del"
)

// ErrMalformed is returned when a message cannot be decoded at all.
var ErrMalformed = errors.New("malformed message")

// Message is one decoded acquisition notification.
type Message struct {
	// Envelope, empty for bare JSON payloads.
	Subject string
	Type    string
	Sender  string
	SentAt  time.Time

	URI         string
	StartTime   time.Time
	Satellite   string
	Instruments []string
	Product     string
}

// Path returns the filesystem path part of the message URI. A URI without a
// scheme is taken to be a path already.
func (m *Message) Path() (string, error) {
	if m.URI == "" {
		return "", fmt.Errorf("%w: uri is empty", ErrMalformed)
	}
	u, err := url.Parse(m.URI)
	if err != nil {
		return "", fmt.Errorf("%w: invalid uri %q: %v", ErrMalformed, m.URI, err)
	}
	if u.Scheme == "" {
		return m.URI, nil
	}
	if u.Path == "" {
		return "", fmt.Errorf("%w: uri %q has no path", ErrMalformed, m.URI)
	}
	return u.Path, nil
}

// Instrument returns the first instrument name, lower-cased. Messages carry a
// single instrument in practice.
func (m *Message) Instrument() string {
	if len(m.Instruments) == 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(m.Instruments[0]))
}

// payload is the JSON data section as trollstalker and friends publish it.
type payload struct {
	URI          string          `json:"uri"`
	StartTime    string          `json:"start_time"`
	Satellite    string          `json:"satellite"`
	PlatformName string          `json:"platform_name"`
	Instruments  json.RawMessage `json:"instruments"`
	Sensor       json.RawMessage `json:"sensor"`
	Product      string          `json:"product"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// ParseTime parses the ISO-like timestamps found in messages. Timestamps
// without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

func decodePayload(data []byte, m *Message) error {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	m.URI = p.URI
	m.Product = p.Product
	m.Satellite = p.Satellite
	if m.Satellite == "" {
		m.Satellite = p.PlatformName
	}

	instruments, err := stringList(p.Instruments)
	if err != nil {
		return fmt.Errorf("%w: instruments: %v", ErrMalformed, err)
	}
	if len(instruments) == 0 {
		if instruments, err = stringList(p.Sensor); err != nil {
			return fmt.Errorf("%w: sensor: %v", ErrMalformed, err)
		}
	}
	m.Instruments = instruments

	if p.StartTime != "" {
		t, err := ParseTime(p.StartTime)
		if err != nil {
			return fmt.Errorf("%w: start_time: %v", ErrMalformed, err)
		}
		m.StartTime = t
	}
	return nil
}

// stringList accepts either a JSON string or a JSON array of strings.
func stringList(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" {
			return nil, nil
		}
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, err
	}
	return many, nil
}
