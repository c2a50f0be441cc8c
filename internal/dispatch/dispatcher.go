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

// Package dispatch runs the notification loop: decode, record the scene,
// ask the admission oracle, resolve the file action and carry it out.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/granulefilter/internal/action"
	"github.com/cardinalhq/granulefilter/internal/admission"
	"github.com/cardinalhq/granulefilter/internal/alert"
	"github.com/cardinalhq/granulefilter/internal/granule"
	"github.com/cardinalhq/granulefilter/internal/logctx"
	"github.com/cardinalhq/granulefilter/internal/registry"
	"github.com/cardinalhq/granulefilter/internal/transport"
)

// File error policies.
const (
	PolicyFatal = "fatal"
	PolicyLog   = "log"
)

// Skip reasons.
const (
	reasonDecodeFailed = "decode_failed"
	reasonFiltered     = "filtered"
	reasonDuplicate    = "duplicate"
	reasonMalformed    = "malformed"
	reasonUnsupported  = "unsupported"
)

const ackTimeout = 10 * time.Second

type Config struct {
	// MessageTypes are subject prefixes to accept; empty accepts all.
	MessageTypes []string
	// FileErrorPolicy is PolicyFatal or PolicyLog.
	FileErrorPolicy  string
	DedupWindow      time.Duration
	StatsInterval    time.Duration
	RegistryCapacity int
}

// StatusSink receives a status document after every message.
type StatusSink interface {
	PublishStatus(v any)
}

// Deps are the collaborators of a Dispatcher. Publisher, Status and Logger
// are optional.
type Deps struct {
	Source    transport.Source
	Oracle    admission.Oracle
	Resolver  *action.Resolver
	Executor  *action.Executor
	Publisher transport.Publisher
	Status    StatusSink
	Logger    *slog.Logger
}

// Status is the document published to the StatusSink.
type Status struct {
	UpdatedAt time.Time        `json:"updated_at"`
	Registry  []registry.Entry `json:"registry"`
	Outcomes  map[string]int64 `json:"outcomes"`
	LastScene string           `json:"last_scene,omitempty"`
}

// Dispatcher owns the granule registry and processes one message at a time.
type Dispatcher struct {
	cfg       Config
	source    transport.Source
	oracle    admission.Oracle
	resolver  *action.Resolver
	executor  *action.Executor
	publisher transport.Publisher
	status    StatusSink
	logger    *slog.Logger

	registry *registry.Registry
	dedup    *deduplicator
	stats    *StatsAggregator
	outcomes map[string]int64
	last     registry.SceneID
	now      func() time.Time
}

func New(cfg Config, deps Deps) (*Dispatcher, error) {
	if deps.Source == nil || deps.Oracle == nil || deps.Resolver == nil || deps.Executor == nil {
		return nil, errors.New("dispatch: source, oracle, resolver and executor are required")
	}
	switch cfg.FileErrorPolicy {
	case "":
		cfg.FileErrorPolicy = PolicyFatal
	case PolicyFatal, PolicyLog:
	default:
		return nil, fmt.Errorf("dispatch: unknown file error policy %q", cfg.FileErrorPolicy)
	}
	if deps.Publisher == nil {
		deps.Publisher = transport.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:       cfg,
		source:    deps.Source,
		oracle:    deps.Oracle,
		resolver:  deps.Resolver,
		executor:  deps.Executor,
		publisher: deps.Publisher,
		status:    deps.Status,
		logger:    deps.Logger,
		registry:  registry.New(cfg.RegistryCapacity),
		stats:     NewStatsAggregator(cfg.StatsInterval, deps.Logger),
		outcomes:  make(map[string]int64),
		now:       time.Now,
	}
	if cfg.DedupWindow > 0 {
		d.dedup = newDeduplicator(cfg.DedupWindow)
	}
	return d, nil
}

// Registry exposes the scene registry. It must not be used while Run is
// active.
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// Run processes messages until the source is exhausted, ctx is cancelled or
// a file operation fails under the fatal policy.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.dedup != nil {
		d.dedup.start()
		defer d.dedup.stop()
	}
	d.stats.Start(ctx)
	defer d.stats.Stop()

	d.logger.Info("Dispatch loop started",
		slog.Any("messageTypes", d.cfg.MessageTypes),
		slog.String("fileErrorPolicy", d.cfg.FileErrorPolicy),
		slog.Int("registryCapacity", d.registry.Capacity()))

	for {
		delivery, err := d.source.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, transport.ErrClosed):
				d.logger.Info("Message stream ended")
				return nil
			case ctx.Err() != nil:
				d.logger.Info("Dispatch loop stopped")
				return nil
			default:
				return fmt.Errorf("failed to receive message: %w", err)
			}
		}

		if err := d.Handle(ctx, delivery.ID, delivery.Raw); err != nil {
			if isCancelled(ctx, err) {
				d.logger.Info("Dispatch loop stopped, message left unacknowledged",
					slog.String("delivery", delivery.ID))
				d.publishStatus()
				return nil
			}
			return err
		}
		d.ack(ctx, delivery)
		d.publishStatus()
	}
}

func (d *Dispatcher) ack(ctx context.Context, delivery transport.Delivery) {
	// The message was fully handled, so acknowledge it even when shutdown
	// started meanwhile.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if err := delivery.Ack(ackCtx); err != nil {
		d.logger.Error("Failed to acknowledge message",
			slog.String("delivery", delivery.ID), slog.Any("error", err))
	}
}

func isCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

// Handle processes one raw notification. It returns an error for a file
// operation failure under the fatal policy, or the context error when ctx is
// cancelled before the granule has been handled.
func (d *Dispatcher) Handle(ctx context.Context, id string, raw []byte) error {
	ctx, span := tracer.Start(ctx, "dispatch.message",
		trace.WithAttributes(attribute.String("delivery_id", id)))
	defer span.End()

	start := d.now()
	instrument, outcome, err := d.handle(ctx, raw)

	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	messagesTotal.Add(ctx, 1, attrs)
	dispatchDuration.Record(ctx, d.now().Sub(start).Seconds(), attrs)
	d.stats.Record(instrument, outcome)
	d.outcomes[outcome]++

	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (d *Dispatcher) skip(ctx context.Context, reason string) string {
	messagesSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	return OutcomeSkipped
}

func (d *Dispatcher) handle(ctx context.Context, raw []byte) (instrument, outcome string, err error) {
	msg, err := granule.Decode(raw)
	if err != nil {
		d.logger.Warn("Failed to decode message", slog.Any("error", err))
		return "", d.skip(ctx, reasonDecodeFailed), nil
	}
	instrument = msg.Instrument()

	if msg.Type != granule.TypeFile || !msg.MatchesSubject(d.cfg.MessageTypes) {
		d.logger.Debug("Ignoring message",
			slog.String("subject", msg.Subject), slog.String("type", msg.Type))
		return instrument, d.skip(ctx, reasonFiltered), nil
	}

	if d.dedup != nil && d.dedup.seen(msg) {
		d.logger.Info("Duplicate message, skipping",
			slog.String("uri", msg.URI), slog.Time("startTime", msg.StartTime))
		return instrument, d.skip(ctx, reasonDuplicate), nil
	}

	src, err := msg.Path()
	if err != nil || msg.StartTime.IsZero() {
		if err == nil {
			err = fmt.Errorf("%w: missing start_time", granule.ErrMalformed)
		}
		d.logger.Warn("Dropping malformed message", slog.Any("error", err))
		return instrument, d.skip(ctx, reasonMalformed), nil
	}

	scene := registry.NewSceneID(msg.StartTime)
	ctx, logger := logctx.With(logctx.WithLogger(ctx, d.logger),
		slog.String("scene", scene.String()),
		slog.String("platform", msg.Satellite),
		slog.String("instrument", instrument),
		slog.String("path", src))

	if evicted, ok := d.registry.Put(scene, src); ok {
		logger.Debug("Scene evicted from registry", slog.String("evicted", evicted.String()))
	}
	d.last = scene

	admitted, err := d.oracle.Evaluate(ctx, msg)
	if err != nil && ctx.Err() != nil {
		logger.Info("Admission interrupted by shutdown", slog.Any("error", err))
		return instrument, OutcomeCancelled, fmt.Errorf("scene %s: %w", scene, ctx.Err())
	}
	if err != nil {
		kind := admission.Kind(err)
		logger.Warn("Admission evaluation failed, skipping granule",
			slog.String("kind", kind), slog.Any("error", err))
		return instrument, d.skip(ctx, "admission_"+kind), nil
	}

	plan, err := d.resolver.Plan(msg, src, admitted)
	if err != nil {
		logger.Error("Cannot handle granule", slog.Bool("admitted", admitted), slog.Any("error", err))
		return instrument, d.skip(ctx, reasonUnsupported), nil
	}

	switch plan.Note {
	case action.NoteDistributionNotConfigured:
		logger.Info("Granule inside area, distribution not configured", slog.String("filename", plan.Filename))
	case action.NoteDryRun:
		logger.Info("Dry run, not removing granule outside area")
	case action.NoteNoActionConfigured:
		logger.Info("Granule outside area, no action configured")
	}

	applied, err := d.executor.Execute(ctx, plan)
	d.recordOps(ctx, plan, applied, err)
	if err != nil && ctx.Err() != nil {
		logger.Info("File operations interrupted by shutdown",
			slog.Int("applied", applied), slog.Any("error", err))
		return instrument, OutcomeCancelled, fmt.Errorf("scene %s: %w", scene, ctx.Err())
	}
	if err != nil {
		if d.cfg.FileErrorPolicy == PolicyFatal {
			logger.Log(ctx, alert.LevelCritical, "File operation failed, stopping",
				slog.Int("applied", applied), slog.Any("error", err))
			return instrument, OutcomeFailed, fmt.Errorf("scene %s: %w", scene, err)
		}
		logger.Error("File operation failed", slog.Int("applied", applied), slog.Any("error", err))
		return instrument, OutcomeFailed, nil
	}

	outcome = OutcomeNoAction
	switch {
	case plan.Distributes():
		outcome = OutcomeDistributed
		d.publish(ctx, granule.TypeFile, newEvent(msg, scene, plan.Ops[0].Dst))
	case plan.Removes():
		outcome = OutcomeDeleted
		d.publish(ctx, granule.TypeDel, newEvent(msg, scene, src))
	}

	logger.Info("Granule processed",
		slog.Bool("admitted", admitted),
		slog.String("outcome", outcome),
		slog.Int("operations", applied))
	return instrument, outcome, nil
}

func (d *Dispatcher) recordOps(ctx context.Context, plan action.Plan, applied int, err error) {
	for i, op := range plan.Ops {
		status := "ok"
		switch {
		case i == applied && err != nil:
			status = "error"
		case i >= applied:
			status = "not_attempted"
		}
		fileOperations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", string(op.Kind)),
			attribute.String("status", status)))
	}
}

type event struct {
	URI        string `json:"uri"`
	UID        string `json:"uid"`
	StartTime  string `json:"start_time"`
	Platform   string `json:"platform_name"`
	Instrument string `json:"sensor"`
	Product    string `json:"product,omitempty"`
	Scene      string `json:"scene"`
}

func newEvent(msg *granule.Message, scene registry.SceneID, path string) event {
	return event{
		URI:        path,
		UID:        filepath.Base(path),
		StartTime:  msg.StartTime.UTC().Format("2006-01-02T15:04:05"),
		Platform:   msg.Satellite,
		Instrument: msg.Instrument(),
		Product:    msg.Product,
		Scene:      scene.String(),
	}
}

func (d *Dispatcher) publish(ctx context.Context, typ string, ev event) {
	if err := d.publisher.Publish(ctx, typ, ev); err != nil {
		logctx.FromContext(ctx).Error("Failed to publish event",
			slog.String("type", typ), slog.Any("error", err))
	}
}

func (d *Dispatcher) publishStatus() {
	if d.status == nil {
		return
	}
	outcomes := make(map[string]int64, len(d.outcomes))
	for k, v := range d.outcomes {
		outcomes[k] = v
	}
	st := Status{
		UpdatedAt: d.now().UTC(),
		Registry:  d.registry.Entries(),
		Outcomes:  outcomes,
	}
	if d.last != 0 {
		st.LastScene = d.last.String()
	}
	d.status.PublishStatus(st)
}
