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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/cardinalhq/granulefilter/internal/dispatch"

var (
	messagesTotal    metric.Int64Counter
	messagesSkipped  metric.Int64Counter
	fileOperations   metric.Int64Counter
	dispatchDuration metric.Float64Histogram

	tracer trace.Tracer
)

func init() {
	meter := otel.Meter(instrumentationName)
	tracer = otel.Tracer(instrumentationName)

	var err error
	messagesTotal, err = meter.Int64Counter(
		"granulefilter_messages_total",
		metric.WithDescription("Notifications handled, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create messagesTotal counter: %w", err))
	}

	messagesSkipped, err = meter.Int64Counter(
		"granulefilter_messages_skipped_total",
		metric.WithDescription("Notifications skipped before any file action, by reason"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create messagesSkipped counter: %w", err))
	}

	fileOperations, err = meter.Int64Counter(
		"granulefilter_file_operations_total",
		metric.WithDescription("File operations attempted, by kind and status"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create fileOperations counter: %w", err))
	}

	dispatchDuration, err = meter.Float64Histogram(
		"granulefilter_dispatch_duration_seconds",
		metric.WithDescription("Time to handle one notification"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create dispatchDuration histogram: %w", err))
	}
}
