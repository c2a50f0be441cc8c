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

package heartbeat

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runInBackground(t *testing.T, b *Beater) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	return cancel, done
}

func TestBeaterImmediateBeat(t *testing.T) {
	var calls atomic.Int64
	b := New(func(context.Context) error {
		calls.Add(1)
		return nil
	}, time.Hour, nil)

	cancel, done := runInBackground(t, b)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, int64(1), b.Sent())
}

func TestBeaterRepeats(t *testing.T) {
	var calls atomic.Int64
	b := New(func(context.Context) error {
		calls.Add(1)
		return nil
	}, 10*time.Millisecond, nil)

	cancel, done := runInBackground(t, b)
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, b.Sent(), int64(3))
}

func TestBeaterKeepsGoingAfterErrors(t *testing.T) {
	var calls atomic.Int64
	b := New(func(context.Context) error {
		if calls.Add(1)%2 == 1 {
			return errors.New("broker unavailable")
		}
		return nil
	}, 10*time.Millisecond, nil)

	cancel, done := runInBackground(t, b)
	require.Eventually(t, func() bool { return calls.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, b.Failed(), int64(2))
	assert.GreaterOrEqual(t, b.Sent(), int64(1))
}

func TestBeaterIgnoresErrorsAfterCancel(t *testing.T) {
	b := New(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, time.Hour, nil)

	cancel, done := runInBackground(t, b)
	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, b.Failed())
	assert.Zero(t, b.Sent())
}
