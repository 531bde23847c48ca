package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	envConfig "github.com/pagepulse/ingestion-service/internal/config"
	"github.com/pagepulse/ingestion-service/internal/domain"
)

// SQSSink publishes failed batches to an SQS dead-letter queue so they
// can be replayed or inspected out of band.
type SQSSink struct {
	client *sqs.Client
	config envConfig.SQS
	log    *zap.Logger
}

// NewSQSSink creates a new SQS dead-letter sink
func NewSQSSink(ctx context.Context, SQSConfig envConfig.SQS, log *zap.Logger) (*SQSSink, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(SQSConfig.Region),
	}

	var clientOpts []func(*sqs.Options)

	// Configure for local development with ElasticMQ
	if SQSConfig.Endpoint != "" {
		log.Info("Configuring SQS for local development",
			zap.String("endpoint", SQSConfig.Endpoint))
		configOpts = append(configOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))

		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(SQSConfig.Endpoint)
		})
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	sqsClient := sqs.NewFromConfig(cfg, clientOpts...)

	log.Info("SQS dead-letter sink created",
		zap.String("region", SQSConfig.Region),
		zap.String("queue_url", SQSConfig.QueueURL))

	return &SQSSink{
		client: sqsClient,
		config: SQSConfig,
		log:    log,
	}, nil
}

// Publish sends the failed batch to the dead-letter queue as a single
// JSON message.
func (s *SQSSink) Publish(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	bodyJSON, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter batch: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.config.QueueURL),
		MessageBody: aws.String(string(bodyJSON)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"EventCount": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.Itoa(len(events))),
			},
		},
	})
	if err != nil {
		s.log.Error("Failed to publish dead-letter batch",
			zap.Int("event_count", len(events)),
			zap.Error(err))
		return fmt.Errorf("failed to publish dead-letter batch: %w", err)
	}

	s.log.Warn("Batch published to dead-letter queue",
		zap.Int("event_count", len(events)))

	return nil
}
