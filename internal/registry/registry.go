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

// Package registry keeps the bounded record of recently seen scenes.
package registry

import (
	"fmt"
	"slices"
	"time"
)

// DefaultCapacity is the number of scenes kept by the dispatcher.
const DefaultCapacity = 5

const sceneLayout = "200601021504"

// SceneID identifies a scene by its start time, truncated to the minute. It
// is stored as minutes since the Unix epoch so ordering never depends on a
// string format.
type SceneID int64

// NewSceneID derives the scene identifier for a granule start time.
func NewSceneID(start time.Time) SceneID {
	return SceneID(start.UTC().Truncate(time.Minute).Unix() / 60)
}

// ParseSceneID parses the 12-digit YYYYMMDDHHMM form.
func ParseSceneID(s string) (SceneID, error) {
	if len(s) != len(sceneLayout) {
		return 0, fmt.Errorf("scene id %q: want %d digits", s, len(sceneLayout))
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("scene id %q: non-digit character", s)
		}
	}
	t, err := time.Parse(sceneLayout, s)
	if err != nil {
		return 0, fmt.Errorf("scene id %q: %w", s, err)
	}
	return NewSceneID(t), nil
}

// Time returns the start of the minute the scene identifies.
func (s SceneID) Time() time.Time {
	return time.Unix(int64(s)*60, 0).UTC()
}

func (s SceneID) String() string {
	return s.Time().Format(sceneLayout)
}

func (s SceneID) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SceneID) UnmarshalText(b []byte) error {
	id, err := ParseSceneID(string(b))
	if err != nil {
		return err
	}
	*s = id
	return nil
}

// Entry is one scene and the source path last seen for it.
type Entry struct {
	Scene SceneID `json:"scene"`
	Path  string  `json:"path"`
}

// Registry maps scene identifiers to the last source path seen for them. It
// holds at most capacity entries; on overflow the oldest scene is evicted.
// It is not safe for concurrent use.
type Registry struct {
	capacity int
	entries  map[SceneID]string
}

// New returns an empty registry. A non-positive capacity selects
// DefaultCapacity.
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity: capacity,
		entries:  make(map[SceneID]string, capacity+1),
	}
}

// Put records path for id, overwriting any previous path. If that pushes the
// registry over capacity, the smallest scene id is evicted and returned.
func (r *Registry) Put(id SceneID, path string) (evicted SceneID, ok bool) {
	r.entries[id] = path
	if len(r.entries) <= r.capacity {
		return 0, false
	}

	oldest := id
	for k := range r.entries {
		if k < oldest {
			oldest = k
		}
	}
	delete(r.entries, oldest)
	return oldest, true
}

// Get returns the path recorded for id.
func (r *Registry) Get(id SceneID) (string, bool) {
	p, ok := r.entries[id]
	return p, ok
}

// Len returns the number of scenes held.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Capacity returns the configured bound.
func (r *Registry) Capacity() int {
	return r.capacity
}

// Keys returns the scene ids in ascending order.
func (r *Registry) Keys() []SceneID {
	keys := make([]SceneID, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Entries returns a copy of the registry contents in ascending scene order.
func (r *Registry) Entries() []Entry {
	keys := r.Keys()
	out := make([]Entry, len(keys))
	for i, k := range keys {
		out[i] = Entry{Scene: k, Path: r.entries[k]}
	}
	return out
}
