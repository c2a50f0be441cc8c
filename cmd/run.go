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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/granulefilter/config"
	"github.com/cardinalhq/granulefilter/internal/action"
	"github.com/cardinalhq/granulefilter/internal/admission"
	"github.com/cardinalhq/granulefilter/internal/alert"
	"github.com/cardinalhq/granulefilter/internal/dispatch"
	"github.com/cardinalhq/granulefilter/internal/healthcheck"
	"github.com/cardinalhq/granulefilter/internal/heartbeat"
	"github.com/cardinalhq/granulefilter/internal/idgen"
	"github.com/cardinalhq/granulefilter/internal/transport"
)

const serviceName = "granulefilter"

func init() {
	rootCmd.AddCommand(newRunCmd())
}

func newRunCmd() *cobra.Command {
	var (
		flags   configFlags
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consume granule notifications and distribute or remove the files",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			opts, err := flags.load(c)
			if err != nil {
				return err
			}
			return runDispatcher(opts, verbose)
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose mode")
	return cmd
}

func runDispatcher(opts *config.Options, verbose bool) error {
	flake, err := idgen.NewFlake()
	if err != nil {
		return fmt.Errorf("failed to create id generator: %w", err)
	}
	instanceID, err := flake.InstanceID()
	if err != nil {
		return fmt.Errorf("failed to create instance id: %w", err)
	}

	settings := telemetrySettings{ServiceName: serviceName, InstanceID: instanceID, Verbose: verbose}
	var alerts *alert.Handler
	if cfg := opts.AlertConfig(); cfg.Enabled() {
		alerts = alert.NewHandler(cfg, alert.SMTPMailer{Host: opts.MailHost})
		settings.Extra = append(settings.Extra, alerts)
	}

	doneCtx, doneFx, err := setupTelemetry(settings)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := doneFx(); err != nil {
			slog.Error("Error shutting down telemetry", slog.Any("error", err))
		}
	}()
	if alerts != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := alerts.Close(ctx); err != nil {
				slog.Warn("Alert mails still queued at exit", slog.Any("error", err))
			}
			slog.Info("Alert mailer stopped", slog.Int64("sent", alerts.Sent()), slog.Int64("dropped", alerts.Dropped()))
		}()
	}

	source, err := transport.Open(doneCtx, opts.Transport)
	if err != nil {
		return fmt.Errorf("failed to open %s source: %w", opts.Transport.Kind, err)
	}
	defer func() {
		if err := source.Close(); err != nil {
			slog.Warn("Failed to close source", slog.Any("error", err))
		}
	}()

	publisher, err := transport.OpenPublisher(opts.Transport.Kafka, opts.Publish, senderName())
	if err != nil {
		return fmt.Errorf("failed to open publisher: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			slog.Warn("Failed to close publisher", slog.Any("error", err))
		}
	}()

	deps := dispatch.Deps{
		Source:    source,
		Oracle:    admission.NewGranuleFilter(opts.AdmissionConfig()),
		Resolver:  action.NewResolver(opts.ActionSettings()),
		Executor:  action.NewExecutor(nil),
		Publisher: publisher,
		Logger:    slog.Default(),
	}
	var health *healthcheck.Server
	if opts.HealthPort > 0 {
		health = healthcheck.NewServer(opts.HealthPort)
		deps.Status = health
	}

	d, err := dispatch.New(opts.DispatchConfig(), deps)
	if err != nil {
		return err
	}

	slog.Info("Starting granule filter",
		slog.String("transport", opts.Transport.Kind),
		slog.Any("messageTypes", opts.MessageTypes),
		slog.Bool("distribute", opts.SirLocalDir != ""),
		slog.Bool("delete", opts.Delete),
		slog.Bool("dryRun", opts.DryRun))

	ctx, cancel := context.WithCancel(doneCtx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if health != nil {
		g.Go(func() error {
			return health.Start(gctx)
		})
		health.SetStatus(healthcheck.StatusHealthy)
		health.SetReady(true)
	}

	if opts.Publish.Topic != "" && opts.HeartbeatInterval > 0 {
		beater := heartbeat.New(func(ctx context.Context) error {
			return publisher.Publish(ctx, "beat", map[string]any{
				"min_interval": int(opts.HeartbeatInterval.Seconds()),
			})
		}, opts.HeartbeatInterval, slog.Default())
		g.Go(func() error {
			return beater.Run(gctx)
		})
	}

	g.Go(func() error {
		// A finite source ends the loop, which also stops the health server.
		defer cancel()
		err := d.Run(gctx)
		if err != nil && health != nil {
			health.SetStatus(healthcheck.StatusUnhealthy)
		}
		return err
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Granule filter stopped")
	return nil
}

// senderName is the posttroll sender of published events.
func senderName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return serviceName + "@" + host
}
