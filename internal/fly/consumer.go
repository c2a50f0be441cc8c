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

package fly

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// Consumer fetches one message at a time from a consumer group. Offsets are
// committed only when the caller says so.
type Consumer interface {
	Fetch(ctx context.Context) (ConsumedMessage, error)
	Commit(ctx context.Context, msg ConsumedMessage) error
	Close() error
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaConsumer struct {
	topic string
	group string
	r     reader
}

// NewConsumer creates a consumer for cfg.Topic in cfg.ConsumerGroup.
func NewConsumer(cfg Config) (Consumer, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: no topic configured")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dialer, err := cfg.dialer()
	if err != nil {
		return nil, err
	}
	offset, _ := cfg.startOffset()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MaxWait:        cfg.ConsumerMaxWait,
		StartOffset:    offset,
		Dialer:         dialer,
		CommitInterval: 0,
	})
	slog.Info("Kafka consumer created",
		slog.String("topic", cfg.Topic),
		slog.String("consumerGroup", cfg.ConsumerGroup),
		slog.Any("brokers", cfg.Brokers))
	return newKafkaConsumer(cfg.Topic, cfg.ConsumerGroup, r), nil
}

func newKafkaConsumer(topic, group string, r reader) *kafkaConsumer {
	return &kafkaConsumer{topic: topic, group: group, r: r}
}

func (c *kafkaConsumer) Fetch(ctx context.Context) (ConsumedMessage, error) {
	km, err := c.r.FetchMessage(ctx)
	if err != nil {
		return ConsumedMessage{}, fmt.Errorf("failed to fetch message from %s: %w", c.topic, err)
	}
	return consumed(km), nil
}

func (c *kafkaConsumer) Commit(ctx context.Context, msg ConsumedMessage) error {
	if err := c.r.CommitMessages(ctx, msg.position()); err != nil {
		return fmt.Errorf("failed to commit %s[%d]@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	return nil
}

func (c *kafkaConsumer) Close() error {
	return c.r.Close()
}
