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

package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
)

// FileConfig reads notifications from a file, one per line. "-" is stdin.
type FileConfig struct {
	Path string `mapstructure:"path"`
}

const maxLineBytes = 1 << 20

// LineSource yields one delivery per non-blank line and io.EOF at the end.
type LineSource struct {
	name   string
	closer io.Closer
	sc     *bufio.Scanner
	line   int
}

var _ Source = (*LineSource)(nil)

// OpenFileSource opens path, or stdin for "-".
func OpenFileSource(path string) (*LineSource, error) {
	if path == "-" {
		return NewLineSource("stdin", os.Stdin, nil), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open message file: %w", err)
	}
	return NewLineSource(path, f, f), nil
}

func NewLineSource(name string, r io.Reader, closer io.Closer) *LineSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &LineSource{name: name, closer: closer, sc: sc}
}

func (s *LineSource) Receive(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}
		if !s.sc.Scan() {
			if err := s.sc.Err(); err != nil {
				return Delivery{}, fmt.Errorf("failed to read %s: %w", s.name, err)
			}
			return Delivery{}, io.EOF
		}
		s.line++
		line := s.sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		raw := make([]byte, len(line))
		copy(raw, line)
		return Delivery{ID: s.name + ":" + strconv.Itoa(s.line), Raw: raw}, nil
	}
}

func (s *LineSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
