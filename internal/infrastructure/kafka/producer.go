package kafka_infra

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer publishes serialized event envelopes. The outbox drain marks rows
// sent only after the write is acknowledged, so production is synchronous.
type Producer interface {
	Produce(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

type kafkaProducer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewProducer(brokerURLs []string, logger *zap.Logger) Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerURLs...),
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		Logger:       kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Debug(fmt.Sprintf(msg, args...)) }),
		ErrorLogger:  kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Error(fmt.Sprintf(msg, args...)) }),
	}
	return &kafkaProducer{writer: writer, logger: logger}
}

func (p *kafkaProducer) Produce(ctx context.Context, topic, key string, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}

	produceCtx, cancel := context.WithTimeout(ctx, p.writer.WriteTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(produceCtx, msg); err != nil {
		p.logger.Error("Failed to produce message to Kafka",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("failed to produce message to Kafka: %w", err)
	}
	p.logger.Debug("Message produced to Kafka",
		zap.String("topic", topic),
		zap.String("key", key),
	)
	return nil
}

func (p *kafkaProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	p.logger.Info("Kafka producer closed.")
	return nil
}
