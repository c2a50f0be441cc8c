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
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Outcomes recorded per message. OutcomeCancelled marks a message interrupted
// by shutdown; it is left unacknowledged and not counted in the periodic stats.
const (
	OutcomeDistributed = "distributed"
	OutcomeDeleted     = "deleted"
	OutcomeNoAction    = "no_action"
	OutcomeSkipped     = "skipped"
	OutcomeFailed      = "failed"
	OutcomeCancelled   = "cancelled"
)

// StatsAggregator collects per-instrument outcomes and logs them
// periodically.
type StatsAggregator struct {
	mu       sync.Mutex
	stats    map[string]*instrumentStats
	interval time.Duration
	logger   *slog.Logger
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type instrumentStats struct {
	distributed int64
	deleted     int64
	noAction    int64
	skipped     int64
	failed      int64
}

func (s *instrumentStats) total() int64 {
	return s.distributed + s.deleted + s.noAction + s.skipped + s.failed
}

func NewStatsAggregator(interval time.Duration, logger *slog.Logger) *StatsAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsAggregator{
		stats:    make(map[string]*instrumentStats),
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins periodic reporting. A non-positive interval only reports on
// Stop.
func (sa *StatsAggregator) Start(ctx context.Context) {
	sa.wg.Add(1)
	go func() {
		defer sa.wg.Done()
		var tick <-chan time.Time
		if sa.interval > 0 {
			ticker := time.NewTicker(sa.interval)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			select {
			case <-ctx.Done():
				sa.report()
				return
			case <-sa.done:
				sa.report()
				return
			case <-tick:
				sa.report()
			}
		}
	}()
}

// Stop reports the remaining counts and waits for the reporter to exit.
func (sa *StatsAggregator) Stop() {
	sa.stopOnce.Do(func() { close(sa.done) })
	sa.wg.Wait()
}

// Record counts one outcome for an instrument.
func (sa *StatsAggregator) Record(instrument, outcome string) {
	if instrument == "" {
		instrument = "unknown"
	}
	sa.mu.Lock()
	defer sa.mu.Unlock()

	st := sa.stats[instrument]
	if st == nil {
		st = &instrumentStats{}
		sa.stats[instrument] = st
	}
	switch outcome {
	case OutcomeDistributed:
		st.distributed++
	case OutcomeDeleted:
		st.deleted++
	case OutcomeNoAction:
		st.noAction++
	case OutcomeSkipped:
		st.skipped++
	case OutcomeFailed:
		st.failed++
	}
}

// report logs and resets the counts.
func (sa *StatsAggregator) report() {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	var total int64
	instruments := make([]string, 0, len(sa.stats))
	for name, st := range sa.stats {
		if st.total() > 0 {
			total += st.total()
			instruments = append(instruments, name)
		}
	}
	if total == 0 {
		return
	}
	sort.Strings(instruments)

	attrs := []any{slog.Int64("total", total)}
	for _, name := range instruments {
		st := sa.stats[name]
		attrs = append(attrs, slog.Group(name,
			slog.Int64(OutcomeDistributed, st.distributed),
			slog.Int64(OutcomeDeleted, st.deleted),
			slog.Int64(OutcomeNoAction, st.noAction),
			slog.Int64(OutcomeSkipped, st.skipped),
			slog.Int64(OutcomeFailed, st.failed),
		))
	}
	sa.logger.Info("Dispatch stats", attrs...)

	sa.stats = make(map[string]*instrumentStats)
}
