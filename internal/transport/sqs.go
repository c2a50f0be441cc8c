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
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

// SQSConfig names an SQS queue.
type SQSConfig struct {
	QueueURL string `mapstructure:"queue_url"`
	Region   string `mapstructure:"region"`
	// RoleARN is assumed through STS when set.
	RoleARN         string `mapstructure:"role_arn"`
	MaxMessages     int32  `mapstructure:"max_messages"`
	WaitTimeSeconds int32  `mapstructure:"wait_time_seconds"`
	// RetryDelay is the pause after a failed ReceiveMessage call.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

func DefaultSQSConfig() SQSConfig {
	return SQSConfig{
		MaxMessages:     1,
		WaitTimeSeconds: 20,
		RetryDelay:      5 * time.Second,
	}
}

func (c SQSConfig) Validate() error {
	var errs []error
	if c.QueueURL == "" {
		errs = append(errs, errors.New("transport.sqs.queue_url is required"))
	}
	if c.MaxMessages < 1 || c.MaxMessages > 10 {
		errs = append(errs, fmt.Errorf("transport.sqs.max_messages must be between 1 and 10, got %d", c.MaxMessages))
	}
	if c.WaitTimeSeconds < 0 || c.WaitTimeSeconds > 20 {
		errs = append(errs, fmt.Errorf("transport.sqs.wait_time_seconds must be between 0 and 20, got %d", c.WaitTimeSeconds))
	}
	return errors.Join(errs...)
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSSource long-polls a queue and deletes each message on Ack. Messages
// that are never acked reappear after the queue's visibility timeout.
type SQSSource struct {
	client  sqsAPI
	cfg     SQSConfig
	pending []types.Message
}

var _ Source = (*SQSSource)(nil)

func NewSQSSource(ctx context.Context, cfg SQSConfig) (*SQSSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	if cfg.RoleARN != "" {
		p := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsCfg), cfg.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "granulefilter"
		})
		awsCfg.Credentials = aws.NewCredentialsCache(p)
	}

	slog.Info("SQS source initialized",
		slog.String("queueURL", cfg.QueueURL),
		slog.String("region", awsCfg.Region))
	return newSQSSource(sqs.NewFromConfig(awsCfg), cfg), nil
}

func newSQSSource(client sqsAPI, cfg SQSConfig) *SQSSource {
	return &SQSSource{client: client, cfg: cfg}
}

func (s *SQSSource) Receive(ctx context.Context) (Delivery, error) {
	for len(s.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}
		out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.cfg.QueueURL),
			MaxNumberOfMessages: s.cfg.MaxMessages,
			WaitTimeSeconds:     s.cfg.WaitTimeSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				return Delivery{}, ctx.Err()
			}
			slog.Error("Failed to receive messages from SQS", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return Delivery{}, ctx.Err()
			case <-time.After(s.cfg.RetryDelay):
			}
			continue
		}
		for _, m := range out.Messages {
			if m.Body == nil {
				slog.Warn("Received SQS message with nil body", slog.String("messageId", aws.ToString(m.MessageId)))
				if err := s.delete(ctx, m); err != nil {
					slog.Error("Failed to drop empty SQS message", slog.Any("error", err))
				}
				continue
			}
			s.pending = append(s.pending, m)
		}
	}

	m := s.pending[0]
	s.pending = s.pending[1:]
	return Delivery{
		ID:  aws.ToString(m.MessageId),
		Raw: []byte(aws.ToString(m.Body)),
		ack: func(ctx context.Context) error {
			return s.delete(ctx, m)
		},
	}, nil
}

func (s *SQSSource) delete(ctx context.Context, m types.Message) error {
	// The delete must complete even when the run context is being cancelled.
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_, err := s.client.DeleteMessage(deleteCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.cfg.QueueURL),
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		return fmt.Errorf("failed to delete SQS message %s: %w", aws.ToString(m.MessageId), err)
	}
	return nil
}

func (s *SQSSource) Close() error {
	return nil
}
