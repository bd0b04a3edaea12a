package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"student-records/internal/metrics"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// KafkaPublisher writes events to one topic keyed by record id, so changes to
// the same row keep their order within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger, m *metrics.Metrics) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	logger.Info("kafka producer initialized", "brokers", brokers, "topic", topic)
	return NewKafkaPublisherWithProducer(producer, topic, logger, m), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger, m *metrics.Metrics) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
		metrics:  m,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	start := time.Now()

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.RecordID.String()),
		Value: sarama.ByteEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	p.metrics.Messaging.RecordPublish(ctx, p.topic, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to send change event to kafka: %w", err)
	}

	p.logger.DebugContext(ctx, "change event sent to kafka", "topic", p.topic, "partition", partition, "offset", offset)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// KafkaListener joins a consumer group unique to this process so every
// replica sees every change.
type KafkaListener struct {
	group   sarama.ConsumerGroup
	topic   string
	handler *kafkaHandler
	logger  *slog.Logger
}

var _ Listener = (*KafkaListener)(nil)

func NewKafkaListener(brokers []string, topic string, hub *Hub, logger *slog.Logger, m *metrics.Metrics) (*KafkaListener, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	groupID := "student-records-" + uuid.NewString()
	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}

	logger.Info("kafka consumer group created", "group", groupID, "topic", topic)

	return &KafkaListener{
		group:   group,
		topic:   topic,
		handler: &kafkaHandler{hub: hub, logger: logger, metrics: m},
		logger:  logger,
	}, nil
}

func (l *KafkaListener) Start(ctx context.Context) error {
	for {
		if err := l.group.Consume(ctx, []string{l.topic}, l.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			l.logger.Error("error consuming change events", "error", err)
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// HealthCheck is a no-op; sarama reconnects to brokers internally.
func (l *KafkaListener) HealthCheck() error {
	return nil
}

func (l *KafkaListener) Close() error {
	return l.group.Close()
}

type kafkaHandler struct {
	hub     *Hub
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func (h *kafkaHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *kafkaHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *kafkaHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.handle(session.Context(), msg)
		session.MarkMessage(msg, "")
	}
	return nil
}

func (h *kafkaHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) {
	var ev Event
	err := json.Unmarshal(msg.Value, &ev)
	h.metrics.Messaging.RecordConsume(ctx, msg.Topic, err)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to unmarshal change event",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return
	}
	h.hub.Dispatch(ev)
}
