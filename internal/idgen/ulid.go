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

package idgen

import (
	crand "crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventIDs makes monotonic ULIDs for published events. Safe for concurrent
// use.
type EventIDs struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewEventIDs() *EventIDs {
	return &EventIDs{entropy: ulid.Monotonic(crand.Reader, 0)}
}

func (e *EventIDs) Make(t time.Time) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), e.entropy).String()
}
