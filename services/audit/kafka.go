package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/upb/decision-audit/backend/models"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the activity topic writer
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaSink publishes activity entries as JSON, keyed by tenant so one
// tenant's entries stay ordered within a partition.
type KafkaSink struct {
	writer kafkaWriter
}

// NewKafkaSink creates a sink publishing to cfg.Topic
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		trimmed := strings.TrimSpace(b)
		if trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaSink{writer: w}, nil
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Write(ctx context.Context, log *models.ActivityLog) error {
	if k == nil || k.writer == nil {
		return fmt.Errorf("kafka sink not initialized")
	}
	value, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to encode activity log: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(log.Tenant),
		Value: value,
		Time:  log.Timestamp,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(log.Action)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish activity log: %w", err)
	}
	return nil
}

// Close flushes pending messages
func (k *KafkaSink) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
