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

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// GCPConfig names a Pub/Sub subscription.
type GCPConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
	// CredentialsFile is optional; application default credentials are used
	// when it is empty.
	CredentialsFile string `mapstructure:"credentials_file"`
}

func (c GCPConfig) Validate() error {
	var errs []error
	if c.ProjectID == "" {
		errs = append(errs, errors.New("transport.gcp.project_id is required"))
	}
	if c.SubscriptionID == "" {
		errs = append(errs, errors.New("transport.gcp.subscription_id is required"))
	}
	return errors.Join(errs...)
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type gcpItem struct {
	msg  *pubsub.Message
	done chan struct{}
}

// GCPSource turns the push-style subscription callback into a pull iterator.
// The callback hands each message to Receive and blocks until it is acked, so
// at most one message is outstanding.
type GCPSource struct {
	client *pubsub.Client
	sub    receiver
	settle func(m *pubsub.Message)

	once   sync.Once
	cancel context.CancelFunc
	items  chan gcpItem
	errc   chan error
	runCtx context.Context
}

var _ Source = (*GCPSource)(nil)

func NewGCPSource(ctx context.Context, cfg GCPConfig) (*GCPSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	sub := client.Subscription(cfg.SubscriptionID)
	sub.ReceiveSettings.MaxOutstandingMessages = 1
	sub.ReceiveSettings.NumGoroutines = 1

	s := newGCPSource(sub)
	s.client = client
	slog.Info("GCP Pub/Sub source initialized",
		slog.String("project", cfg.ProjectID),
		slog.String("subscription", cfg.SubscriptionID))
	return s, nil
}

func newGCPSource(sub receiver) *GCPSource {
	runCtx, cancel := context.WithCancel(context.Background())
	return &GCPSource{
		sub:    sub,
		settle: func(m *pubsub.Message) { m.Ack() },
		cancel: cancel,
		items:  make(chan gcpItem),
		errc:   make(chan error, 1),
		runCtx: runCtx,
	}
}

func (s *GCPSource) start() {
	go func() {
		err := s.sub.Receive(s.runCtx, s.handle)
		if err == nil || errors.Is(err, context.Canceled) {
			err = ErrClosed
		}
		s.errc <- err
	}()
}

func (s *GCPSource) handle(ctx context.Context, m *pubsub.Message) {
	item := gcpItem{msg: m, done: make(chan struct{})}
	select {
	case s.items <- item:
	case <-ctx.Done():
		m.Nack()
		return
	}
	select {
	case <-item.done:
		s.settle(m)
	case <-ctx.Done():
		m.Nack()
	}
}

func (s *GCPSource) Receive(ctx context.Context) (Delivery, error) {
	s.once.Do(s.start)
	select {
	case item := <-s.items:
		var acked sync.Once
		return Delivery{
			ID:  item.msg.ID,
			Raw: item.msg.Data,
			ack: func(context.Context) error {
				acked.Do(func() { close(item.done) })
				return nil
			},
		}, nil
	case err := <-s.errc:
		s.errc <- err
		if errors.Is(err, ErrClosed) {
			return Delivery{}, err
		}
		return Delivery{}, fmt.Errorf("GCP Pub/Sub receive error: %w", err)
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

func (s *GCPSource) Close() error {
	s.cancel()
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
