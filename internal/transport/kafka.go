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
	"strconv"

	"github.com/cardinalhq/granulefilter/internal/fly"
)

// KafkaSource reads notifications from a Kafka consumer group and commits
// the offset of each message on Ack.
type KafkaSource struct {
	consumer fly.Consumer
}

var _ Source = (*KafkaSource)(nil)

func NewKafkaSource(c fly.Consumer) *KafkaSource {
	return &KafkaSource{consumer: c}
}

func (s *KafkaSource) Receive(ctx context.Context) (Delivery, error) {
	msg, err := s.consumer.Fetch(ctx)
	if err != nil {
		return Delivery{}, err
	}
	return Delivery{
		ID:  msg.Topic + "/" + strconv.Itoa(msg.Partition) + "/" + strconv.FormatInt(msg.Offset, 10),
		Raw: msg.Value,
		ack: func(ctx context.Context) error {
			return s.consumer.Commit(ctx, msg)
		},
	}, nil
}

func (s *KafkaSource) Close() error {
	return s.consumer.Close()
}
