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

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cardinalhq/oteltools/pkg/telemetry"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/host"
	iruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/granulefilter/internal/alert"
)

var meter = otel.Meter("github.com/cardinalhq/granulefilter")

// telemetrySettings select how the process logs and exports telemetry.
type telemetrySettings struct {
	ServiceName string
	InstanceID  string
	Verbose     bool
	// Extra handlers receive every record alongside stdout, e.g. the
	// critical-alert mailer.
	Extra []slog.Handler
}

func (s telemetrySettings) level() slog.Level {
	if s.Verbose || os.Getenv("DEBUG") != "" || os.Getenv("GRANULEFILTER_DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func otlpEnabled() bool {
	return os.Getenv("OTEL_SERVICE_NAME") != "" && os.Getenv("ENABLE_OTLP_TELEMETRY") == "true"
}

// newLogger builds the process logger: text to stdout plus every extra
// handler.
func newLogger(s telemetrySettings, stdout io.Writer, otlp bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: s.level(), ReplaceAttr: alert.ReplaceLevel}
	handlers := []slog.Handler{slog.NewTextHandler(stdout, opts)}
	handlers = append(handlers, s.Extra...)
	if otlp {
		handlers = append(handlers, otelslog.NewHandler(s.ServiceName))
	}

	var h slog.Handler = handlers[0]
	if len(handlers) > 1 {
		h = slogmulti.Fanout(handlers...)
	}
	return slog.New(h).With(
		slog.String("service", s.ServiceName),
		slog.String("instanceID", s.InstanceID),
	)
}

func setupTelemetry(s telemetrySettings) (context.Context, func() error, error) {
	// Catch signals to stop the process as gracefully as possible.
	doneCtx, doneCancel := handleSignals(context.Background())

	f := func() error {
		doneCancel()
		return nil
	}

	otlp := otlpEnabled()
	slog.SetDefault(newLogger(s, os.Stdout, otlp))

	if otlp {
		slog.Info("OpenTelemetry exporting enabled")

		otelShutdown, err := telemetry.SetupOTelSDK(doneCtx)
		if err != nil {
			doneCancel()
			return doneCtx, nil, fmt.Errorf("failed to setup OpenTelemetry SDK: %w", err)
		}

		if err := iruntime.Start(iruntime.WithMinimumReadMemStatsInterval(time.Second * 10)); err != nil {
			slog.Warn("failed to start runtime metrics", "error", err.Error())
		}

		if err := host.Start(); err != nil {
			slog.Warn("failed to start host metrics", "error", err.Error())
		}

		f = func() error {
			defer doneCancel()
			slog.Info("Shutting down OpenTelemetry SDK")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return otelShutdown(ctx)
		}
	}

	recordExists(s.ServiceName)
	return doneCtx, f, nil
}

// recordExists sets a gauge to 1 so that dashboards can tell the service is
// running.
func recordExists(serviceName string) {
	g, err := meter.Int64Gauge(
		"granulefilter.exists",
		metric.WithDescription("Indicates if the service is running (1) or not (0)"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create exists gauge: %w", err))
	}
	g.Record(context.Background(), 1, metric.WithAttributes(attribute.String("service", serviceName)))
}
