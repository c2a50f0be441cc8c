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

// Package fly wraps segmentio/kafka-go for the notification feed: a consumer
// that hands out one message at a time and a producer for outbound events.
package fly

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// Config holds the Kafka connection settings.
type Config struct {
	Brokers []string `mapstructure:"brokers"`
	// Topic is the inbound notification topic.
	Topic         string `mapstructure:"topic"`
	ConsumerGroup string `mapstructure:"consumer_group"`
	// StartOffset is "first" or "last" and only matters for a new group.
	StartOffset string `mapstructure:"start_offset"`

	SASLEnabled   bool   `mapstructure:"sasl_enabled"`
	SASLMechanism string `mapstructure:"sasl_mechanism"` // PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`

	TLSEnabled    bool `mapstructure:"tls_enabled"`
	TLSSkipVerify bool `mapstructure:"tls_skip_verify"`

	ConnectionTimeout    time.Duration `mapstructure:"connection_timeout"`
	ConsumerMaxWait      time.Duration `mapstructure:"consumer_max_wait"`
	ProducerBatchTimeout time.Duration `mapstructure:"producer_batch_timeout"`
	ProducerCompression  string        `mapstructure:"producer_compression"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Brokers:              []string{"localhost:9092"},
		ConsumerGroup:        "granulefilter",
		StartOffset:          "last",
		SASLMechanism:        "SCRAM-SHA-256",
		ConnectionTimeout:    10 * time.Second,
		ConsumerMaxWait:      500 * time.Millisecond,
		ProducerBatchTimeout: 10 * time.Millisecond,
		ProducerCompression:  "snappy",
	}
}

// Validate checks the settings needed to connect.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}
	if _, err := c.startOffset(); err != nil {
		return err
	}
	if _, err := c.compression(); err != nil {
		return err
	}
	if c.SASLEnabled {
		if _, err := c.saslMechanism(); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) startOffset() (int64, error) {
	switch strings.ToLower(c.StartOffset) {
	case "", "last":
		return kafka.LastOffset, nil
	case "first":
		return kafka.FirstOffset, nil
	default:
		return 0, fmt.Errorf("kafka: unsupported start offset %q", c.StartOffset)
	}
}

func (c Config) compression() (kafka.Compression, error) {
	switch strings.ToLower(c.ProducerCompression) {
	case "", "none", "uncompressed":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("kafka: unsupported compression %q", c.ProducerCompression)
	}
}

func (c Config) saslMechanism() (sasl.Mechanism, error) {
	if !c.SASLEnabled {
		return nil, nil
	}
	switch strings.ToUpper(c.SASLMechanism) {
	case "PLAIN":
		return plain.Mechanism{Username: c.SASLUsername, Password: c.SASLPassword}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, c.SASLUsername, c.SASLPassword)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, c.SASLUsername, c.SASLPassword)
	default:
		return nil, fmt.Errorf("kafka: unsupported SASL mechanism %q", c.SASLMechanism)
	}
}

func (c Config) tlsConfig() *tls.Config {
	if !c.TLSEnabled {
		return nil
	}
	return &tls.Config{
		InsecureSkipVerify: c.TLSSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
}

func (c Config) dialer() (*kafka.Dialer, error) {
	mech, err := c.saslMechanism()
	if err != nil {
		return nil, err
	}
	timeout := c.ConnectionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &kafka.Dialer{
		Timeout:       timeout,
		DualStack:     true,
		SASLMechanism: mech,
		TLS:           c.tlsConfig(),
	}, nil
}

func (c Config) transport() (*kafka.Transport, error) {
	mech, err := c.saslMechanism()
	if err != nil {
		return nil, err
	}
	return &kafka.Transport{
		SASL: mech,
		TLS:  c.tlsConfig(),
	}, nil
}
