package kafkautils

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// KafkaConfig names the broker list and the topics to provision. The ledger
// has a single transaction-event topic, but the admin call takes a batch.
type KafkaConfig struct {
	BootstrapServers string
	Topics           []TopicConfig
}

type TopicConfig struct {
	Topic             string
	NumPartitions     int
	ReplicationFactor int
	Config            map[string]string
}

// InitKafkaTopics provisions the event topics at startup, retrying for up to
// 2 minutes so the service survives a broker that is still coming up.
// Already-existing topics are not an error.
func InitKafkaTopics(logger *zap.Logger, ctx context.Context, cnf KafkaConfig) error {
	config := &kafka.ConfigMap{"bootstrap.servers": cnf.BootstrapServers}
	admin, err := kafka.NewAdminClient(config)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	var topics []kafka.TopicSpecification
	for _, topic := range cnf.Topics {
		topics = append(topics, kafka.TopicSpecification{
			Topic:             topic.Topic,
			NumPartitions:     topic.NumPartitions,
			ReplicationFactor: topic.ReplicationFactor,
			Config:            topic.Config,
		})
	}

	operation := func() error {
		results, err := admin.CreateTopics(ctx, topics, kafka.SetAdminOperationTimeout(30*time.Second))
		if err != nil {
			return fmt.Errorf("failed to create topics: %w", err)
		}
		for _, result := range results {
			if result.Error.Code() != kafka.ErrNoError && result.Error.Code() != kafka.ErrTopicAlreadyExists {
				return fmt.Errorf("kafka topic %s creation failed: %v", result.Topic, result.Error)
			}
			logger.Info("Kafka topic created", zap.String("topic", result.Topic))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	return backoff.Retry(operation, b)
}
