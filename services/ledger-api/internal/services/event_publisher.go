package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coinledger/coinledger/pkg"
	kafkautils "github.com/coinledger/coinledger/pkg/kafka"
	"github.com/coinledger/coinledger/services/ledger-api/configs"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransactionEvent mirrors one committed ledger log entry on the event
// stream. Consumers get it after commit; the stream is best-effort and the
// store remains the source of truth.
type TransactionEvent struct {
	TraceID  string              `json:"traceId"`
	Type     pkg.TransactionType `json:"type"`
	From     *uuid.UUID          `json:"from,omitempty"`
	To       uuid.UUID           `json:"to"`
	Currency string              `json:"currency"`
	Amount   decimal.Decimal     `json:"amount"`
	At       time.Time           `json:"at"`
}

type EventPublisher interface {
	// PublishTransaction emits a committed transaction asynchronously.
	// Delivery failures are logged, never surfaced to the request path.
	PublishTransaction(event TransactionEvent)
	Close()
}

// NewEventPublisher returns a Kafka-backed publisher, or a no-op one when no
// brokers are configured so single-node deployments need no Kafka at all.
func NewEventPublisher(logger *zap.Logger, ctx context.Context, cnf *configs.Config) EventPublisher {
	if cnf.KafkaBrokers == "" {
		logger.Info("kafka brokers not configured, transaction events disabled")
		return &noopPublisher{}
	}

	// Initialize Kafka topics
	topicConfig := kafkautils.KafkaConfig{
		BootstrapServers: cnf.KafkaBrokers,
		Topics: []kafkautils.TopicConfig{
			{
				Topic:             cnf.KafkaTopic,
				NumPartitions:     int(cnf.KafkaPartition),
				ReplicationFactor: 1,
				Config: map[string]string{
					"cleanup.policy": "delete",
				},
			},
		},
	}
	err := kafkautils.InitKafkaTopics(logger, ctx, topicConfig)
	if err != nil {
		logger.Fatal("failed to initialize kafka topics", zap.Error(err))
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cnf.KafkaBrokers, // Kafka broker(s)
		"acks":               "all",            // Wait for all replicas
		"enable.idempotence": "true",           // Ensure messages are not sent twice
		"retries":            "1",              // Built-in retry mechanism
	})
	if err != nil {
		logger.Fatal("failed to create kafka producer", zap.Error(err))
	}
	logger.Info("kafka producer created successfully", zap.String("brokers", cnf.KafkaBrokers))
	go handleDeliveryReports(logger, p) // Async error handling
	return &KafkaEventPublisher{
		logger:   logger,
		cnf:      cnf,
		producer: p,
	}
}

type KafkaEventPublisher struct {
	logger   *zap.Logger
	producer *kafka.Producer
	cnf      *configs.Config
}

func (k *KafkaEventPublisher) PublishTransaction(event TransactionEvent) {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		k.logger.Error("failed to serialize transaction event", zap.Error(err))
		return
	}

	// Deterministic partitioning by receiving account, so one account's
	// events stay ordered within a partition.
	partition := int32(event.To.ID() % k.cnf.KafkaPartition)

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &k.cnf.KafkaTopic,
			Partition: partition,
		},
		Key:   event.To[:],
		Value: msgBytes,
	}, nil)
	if err != nil {
		k.logger.Error("failed to publish transaction event",
			zap.String(pkg.TraceId, event.TraceID), zap.Error(err))
	}
}

func (k *KafkaEventPublisher) Close() {
	k.producer.Close()
}

func handleDeliveryReports(logger *zap.Logger, p *kafka.Producer) {
	for e := range p.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				logger.Error("failed to publish message", zap.Error(ev.TopicPartition.Error))
			}
		}
	}
}

type noopPublisher struct{}

func (n *noopPublisher) PublishTransaction(TransactionEvent) {}
func (n *noopPublisher) Close()                              {}
