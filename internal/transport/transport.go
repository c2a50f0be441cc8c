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

// Package transport connects the dispatcher to the notification feed and to
// the outbound event topic.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cardinalhq/granulefilter/internal/fly"
)

// Source kinds.
const (
	KindKafka = "kafka"
	KindGCP   = "gcp"
	KindSQS   = "sqs"
	KindFile  = "file"
)

// ErrClosed is returned by Receive after Close.
var ErrClosed = errors.New("source closed")

// Delivery is one inbound notification. Ack must be called once the message
// has been handled, whatever the outcome, so the feed can move on.
type Delivery struct {
	ID  string
	Raw []byte
	ack func(ctx context.Context) error
}

// NewDelivery builds a delivery whose Ack calls ack.
func NewDelivery(id string, raw []byte, ack func(ctx context.Context) error) Delivery {
	return Delivery{ID: id, Raw: raw, ack: ack}
}

func (d Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Source is a pull iterator over the feed. Receive blocks until a message is
// available and returns io.EOF when a finite source is exhausted. Only one
// delivery is outstanding at a time.
type Source interface {
	Receive(ctx context.Context) (Delivery, error)
	Close() error
}

// Config selects and configures the inbound source.
type Config struct {
	Kind  string     `mapstructure:"kind"`
	Kafka fly.Config `mapstructure:"kafka"`
	GCP   GCPConfig  `mapstructure:"gcp"`
	SQS   SQSConfig  `mapstructure:"sqs"`
	File  FileConfig `mapstructure:"file"`
}

func DefaultConfig() Config {
	return Config{
		Kind:  KindKafka,
		Kafka: fly.DefaultConfig(),
		SQS:   DefaultSQSConfig(),
		File:  FileConfig{Path: "-"},
	}
}

// Validate checks the section belonging to the selected kind.
func (c Config) Validate() error {
	switch strings.ToLower(c.Kind) {
	case KindKafka:
		if c.Kafka.Topic == "" {
			return fmt.Errorf("transport.kafka.topic is required")
		}
		return c.Kafka.Validate()
	case KindGCP:
		return c.GCP.Validate()
	case KindSQS:
		return c.SQS.Validate()
	case KindFile:
		if c.File.Path == "" {
			return fmt.Errorf("transport.file.path is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown transport kind %q", c.Kind)
	}
}

// Open creates the configured source.
func Open(ctx context.Context, cfg Config) (Source, error) {
	switch strings.ToLower(cfg.Kind) {
	case KindKafka:
		c, err := fly.NewConsumer(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		return NewKafkaSource(c), nil
	case KindGCP:
		return NewGCPSource(ctx, cfg.GCP)
	case KindSQS:
		return NewSQSSource(ctx, cfg.SQS)
	case KindFile:
		return OpenFileSource(cfg.File.Path)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}
