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

package granule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	magic       = "pytroll:/"
	version     = "v1.01"
	contentJSON = "application/json"
	sentLayout  = "2006-01-02T15:04:05.000000"
)

// Decode parses a raw notification. Both the posttroll line format
//
//	pytroll://<subject> <type> <sender> <time> <version> application/json <data>
//
// and a bare JSON data object are accepted.
func Decode(raw []byte) (*Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformed)
	}

	if raw[0] == '{' {
		m := &Message{Type: TypeFile}
		if err := decodePayload(raw, m); err != nil {
			return nil, err
		}
		return m, nil
	}

	line := string(raw)
	if !strings.HasPrefix(line, magic) {
		return nil, fmt.Errorf("%w: not a posttroll message", ErrMalformed)
	}

	parts := strings.SplitN(strings.TrimPrefix(line, magic), " ", 7)
	if len(parts) < 5 {
		return nil, fmt.Errorf("%w: posttroll header has %d fields", ErrMalformed, len(parts))
	}

	m := &Message{
		Subject: parts[0],
		Type:    parts[1],
		Sender:  parts[2],
	}
	sentAt, err := ParseTime(parts[3])
	if err != nil {
		return nil, fmt.Errorf("%w: header time: %v", ErrMalformed, err)
	}
	m.SentAt = sentAt

	if len(parts) < 7 {
		// Messages like "beat" carry no data.
		return m, nil
	}
	if parts[5] != contentJSON {
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrMalformed, parts[5])
	}
	if err := decodePayload([]byte(parts[6]), m); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode renders a posttroll line carrying data as JSON.
func Encode(subject, typ, sender string, at time.Time, data any) ([]byte, error) {
	if !strings.HasPrefix(subject, "/") {
		subject = "/" + subject
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message data: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteString(subject)
	for _, field := range []string{typ, sender, at.UTC().Format(sentLayout), version, contentJSON} {
		buf.WriteByte(' ')
		buf.WriteString(field)
	}
	buf.WriteByte(' ')
	buf.Write(body)
	return buf.Bytes(), nil
}

// MatchesSubject reports whether the message subject starts with one of the
// given prefixes. An empty prefix list, or a message without a subject,
// matches.
func (m *Message) MatchesSubject(prefixes []string) bool {
	if len(prefixes) == 0 || m.Subject == "" {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(m.Subject, p) {
			return true
		}
	}
	return false
}
