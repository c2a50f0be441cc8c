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

package dispatch

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/cardinalhq/granulefilter/internal/granule"
)

// deduplicator suppresses redeliveries of the same granule within a window.
type deduplicator struct {
	cache *ttlcache.Cache[string, struct{}]
}

func newDeduplicator(window time.Duration) *deduplicator {
	return &deduplicator{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, struct{}](window),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
	}
}

func dedupKey(msg *granule.Message) string {
	return msg.URI + "|" + msg.StartTime.Format(time.RFC3339Nano)
}

// seen records msg and reports whether it was already recorded.
func (d *deduplicator) seen(msg *granule.Message) bool {
	key := dedupKey(msg)
	if d.cache.Has(key) {
		return true
	}
	d.cache.Set(key, struct{}{}, ttlcache.DefaultTTL)
	return false
}

func (d *deduplicator) start() { go d.cache.Start() }
func (d *deduplicator) stop()  { d.cache.Stop() }
