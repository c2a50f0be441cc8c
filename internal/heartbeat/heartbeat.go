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

// Package heartbeat runs a callback on a fixed interval until stopped.
package heartbeat

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// BeatFunc is called once per interval.
type BeatFunc func(ctx context.Context) error

// Beater calls a BeatFunc periodically. The first beat is sent immediately.
type Beater struct {
	beat     BeatFunc
	interval time.Duration
	ll       *slog.Logger

	sent   atomic.Int64
	failed atomic.Int64
}

func New(beat BeatFunc, interval time.Duration, logger *slog.Logger) *Beater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Beater{
		beat:     beat,
		interval: interval,
		ll:       logger.With(slog.String("component", "heartbeat")),
	}
}

// Run beats until ctx is done. Failed beats are logged and do not stop the
// loop. It always returns nil so it can run in an errgroup beside the
// dispatcher.
func (b *Beater) Run(ctx context.Context) error {
	b.ll.Debug("Starting heartbeat loop", slog.Duration("interval", b.interval))

	b.send(ctx)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.ll.Debug("Heartbeat loop stopped",
				slog.Int64("sent", b.sent.Load()), slog.Int64("failed", b.failed.Load()))
			return nil
		case <-ticker.C:
			b.send(ctx)
		}
	}
}

func (b *Beater) send(ctx context.Context) {
	if err := b.beat(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		b.failed.Add(1)
		b.ll.Warn("Failed to send heartbeat (continuing)", slog.Any("error", err))
		return
	}
	b.sent.Add(1)
}

// Sent returns the number of successful beats.
func (b *Beater) Sent() int64 { return b.sent.Load() }

// Failed returns the number of beats whose callback returned an error.
func (b *Beater) Failed() int64 { return b.failed.Load() }
