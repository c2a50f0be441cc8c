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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/granulefilter/internal/fly"
	"github.com/cardinalhq/granulefilter/internal/granule"
)

type captureProducer struct {
	topic string
	msgs  []fly.Message
	err   error
}

func (c *captureProducer) Send(_ context.Context, topic string, msgs ...fly.Message) error {
	if c.err != nil {
		return c.err
	}
	c.topic = topic
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureProducer) Close() error { return nil }

func TestKafkaPublisherWritesPosttrollLine(t *testing.T) {
	prod := &captureProducer{}
	pub := NewKafkaPublisher(prod, PublishConfig{Topic: "products"}, "granulefilter@host")
	pub.now = func() time.Time { return time.Date(2017, 6, 21, 10, 8, 0, 0, time.UTC) }

	data := map[string]any{
		"uri":         "/sir/iasi_b__twt_l2p_1706211005.bin",
		"start_time":  "2017-06-21T10:05:00",
		"satellite":   "METOPB",
		"instruments": "iasi",
	}
	require.NoError(t, pub.Publish(context.Background(), granule.TypeFile, data))

	require.Len(t, prod.msgs, 1)
	assert.Equal(t, "products", prod.topic)
	m := prod.msgs[0]
	assert.Equal(t, "file", m.Headers["type"])
	assert.Equal(t, string(m.Key), m.Headers["event_id"])
	assert.Len(t, m.Key, 26)

	decoded, err := granule.Decode(m.Value)
	require.NoError(t, err)
	assert.Equal(t, "/product_filtering", decoded.Subject)
	assert.Equal(t, granule.TypeFile, decoded.Type)
	assert.Equal(t, "granulefilter@host", decoded.Sender)
	assert.Equal(t, "/sir/iasi_b__twt_l2p_1706211005.bin", decoded.URI)
	assert.Equal(t, []string{"iasi"}, decoded.Instruments)
}

func TestKafkaPublisherError(t *testing.T) {
	pub := NewKafkaPublisher(&captureProducer{err: errors.New("broker down")}, PublishConfig{Topic: "products", Subject: "custom"}, "s")
	err := pub.Publish(context.Background(), granule.TypeDel, map[string]string{"uri": "/x"})
	assert.ErrorContains(t, err, "broker down")
}

func TestOpenPublisherWithoutTopic(t *testing.T) {
	pub, err := OpenPublisher(fly.DefaultConfig(), PublishConfig{}, "s")
	require.NoError(t, err)
	assert.IsType(t, NopPublisher{}, pub)
	assert.NoError(t, pub.Publish(context.Background(), granule.TypeFile, nil))
	assert.NoError(t, pub.Close())
}
