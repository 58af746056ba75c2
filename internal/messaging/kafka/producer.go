package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/smmsync/internal/broadcast"
)

// Message — одно сообщение для топика синхронизации.
type Message struct {
	Topic     string
	Key       string
	Type      string
	Payload   any
	Timestamp time.Time
}

// Producer публикует JSON-сообщения через синхронный sarama producer.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// newSaramaConfig включает идемпотентную отправку с подтверждением от всех реплик.
func newSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = sourceName
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string) (*Producer, error) {
	sp, err := sarama.NewSyncProducer(brokers, newSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{
		producer: sp,
		logger:   log.WithField("component", "kafka-producer"),
	}, nil
}

// Send сериализует Payload и ждёт подтверждения брокера.
func (p *Producer) Send(msg Message) error {
	body, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", msg.Type, err)
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	fields := log.Fields{"topic": msg.Topic, "key": msg.Key, "type": msg.Type}
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     msg.Topic,
		Key:       sarama.StringEncoder(msg.Key),
		Value:     sarama.ByteEncoder(body),
		Timestamp: ts,
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderEventType), Value: []byte(msg.Type)},
			{Key: []byte(HeaderSource), Value: []byte(sourceName)},
		},
	})
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("kafka send failed")
		return fmt.Errorf("send %s to %s: %w", msg.Type, msg.Topic, err)
	}

	fields["partition"] = partition
	fields["offset"] = offset
	p.logger.WithFields(fields).Debug("kafka message acknowledged")
	return nil
}

// Close закрывает producer.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

// Sink отправляет события синхронизации в топик Kafka.
// Ключом служит orderId или runId, поэтому события одного заказа идут в одну партицию.
type Sink struct {
	producer *Producer
	topic    string
}

// NewSink создаёт синк поверх producer.
func NewSink(producer *Producer, topic string) *Sink {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &Sink{producer: producer, topic: topic}
}

// Name реализует broadcast.Sink.
func (s *Sink) Name() string { return "kafka" }

// Deliver публикует событие. SyncProducer не принимает контекст,
// поэтому уже отменённый ctx просто пропускает отправку.
func (s *Sink) Deliver(ctx context.Context, event broadcast.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.producer.Send(Message{
		Topic:     s.topic,
		Key:       event.Key,
		Type:      string(event.Type),
		Payload:   event,
		Timestamp: event.Timestamp,
	})
}

var _ broadcast.Sink = (*Sink)(nil)
