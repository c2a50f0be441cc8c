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
	"fmt"
	"time"

	"github.com/cardinalhq/granulefilter/internal/fly"
	"github.com/cardinalhq/granulefilter/internal/granule"
	"github.com/cardinalhq/granulefilter/internal/idgen"
)

// PublishConfig configures outbound posttroll events.
type PublishConfig struct {
	// Topic is the Kafka topic for events; publishing is off when empty.
	Topic   string `mapstructure:"topic"`
	Subject string `mapstructure:"subject"`
}

// Publisher emits posttroll events about files the dispatcher handled.
type Publisher interface {
	Publish(ctx context.Context, typ string, data any) error
	Close() error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }
func (NopPublisher) Close() error                             { return nil }

// KafkaPublisher writes posttroll lines to a Kafka topic, keyed by event id.
type KafkaPublisher struct {
	producer fly.Producer
	topic    string
	subject  string
	sender   string
	ids      *idgen.EventIDs
	now      func() time.Time
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(producer fly.Producer, cfg PublishConfig, sender string) *KafkaPublisher {
	subject := cfg.Subject
	if subject == "" {
		subject = "/product_filtering"
	}
	return &KafkaPublisher{
		producer: producer,
		topic:    cfg.Topic,
		subject:  subject,
		sender:   sender,
		ids:      idgen.NewEventIDs(),
		now:      time.Now,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, typ string, data any) error {
	at := p.now().UTC()
	line, err := granule.Encode(p.subject, typ, p.sender, at, data)
	if err != nil {
		return err
	}
	id := p.ids.Make(at)
	err = p.producer.Send(ctx, p.topic, fly.Message{
		Key:     []byte(id),
		Value:   line,
		Headers: map[string]string{"event_id": id, "type": typ},
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", typ, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// OpenPublisher returns a Kafka publisher when a topic is configured and a
// NopPublisher otherwise.
func OpenPublisher(kafkaCfg fly.Config, cfg PublishConfig, sender string) (Publisher, error) {
	if cfg.Topic == "" {
		return NopPublisher{}, nil
	}
	producer, err := fly.NewProducer(kafkaCfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaPublisher(producer, cfg, sender), nil
}
