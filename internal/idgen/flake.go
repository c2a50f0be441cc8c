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

// Package idgen generates the identifiers the service stamps on its output.
package idgen

import (
	"errors"
	"strconv"
	"time"

	"github.com/sony/sonyflake"
)

var flakeEpoch = time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)

// Flake hands out roughly time-ordered 63-bit ids that are unique per host.
type Flake struct {
	sf *sonyflake.Sonyflake
}

func NewFlake() (*Flake, error) {
	sf, err := sonyflake.New(sonyflake.Settings{StartTime: flakeEpoch})
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, errors.New("failed to create Sonyflake instance")
	}
	return &Flake{sf: sf}, nil
}

func (f *Flake) Next() (uint64, error) {
	return f.sf.NextID()
}

// InstanceID returns a short base-36 id naming this process in logs, the
// status endpoint and the sender field of published events.
func (f *Flake) InstanceID() (string, error) {
	id, err := f.Next()
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(id, 36), nil
}
