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
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
)

// Producer writes messages to topics.
type Producer interface {
	Send(ctx context.Context, topic string, msgs ...Message) error
	Close() error
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaProducer struct {
	mu        sync.Mutex
	writers   map[string]writer
	newWriter func(topic string) writer
}

// NewProducer creates a producer that lazily opens one writer per topic.
func NewProducer(cfg Config) (Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	transport, err := cfg.transport()
	if err != nil {
		return nil, err
	}
	compression, _ := cfg.compression()

	return newKafkaProducer(func(topic string) writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: cfg.ProducerBatchTimeout,
			RequiredAcks: kafka.RequireOne,
			Compression:  compression,
			Transport:    transport,
		}
	}), nil
}

func newKafkaProducer(newWriter func(topic string) writer) *kafkaProducer {
	return &kafkaProducer{writers: make(map[string]writer), newWriter: newWriter}
}

func (p *kafkaProducer) writerFor(topic string) writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.writers[topic]
	if !ok {
		w = p.newWriter(topic)
		p.writers[topic] = w
	}
	return w
}

func (p *kafkaProducer) Send(ctx context.Context, topic string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	kmsgs := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		kmsgs[i] = m.kafkaMessage()
	}
	if err := p.writerFor(topic).WriteMessages(ctx, kmsgs...); err != nil {
		return fmt.Errorf("failed to write to %s: %w", topic, err)
	}
	return nil
}

func (p *kafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", topic, err))
		}
	}
	p.writers = make(map[string]writer)
	return errors.Join(errs...)
}
