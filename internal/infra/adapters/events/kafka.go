package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/adapter"
)

var _ adapter.OutcomePublisher = (*KafkaPublisher)(nil)

const EventTypeReconciled = "payment.reconciled"

// reconciledEvent is the message body consumers re-fetch order and
// subscription state on.
type reconciledEvent struct {
	Type        string `json:"type"`
	PaymentID   string `json:"payment_id"`
	SubjectKind string `json:"subject_kind"`
	SubjectID   string `json:"subject_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason"`
	Status      string `json:"status,omitempty"`
	Source      string `json:"source"`
	Amount      int64  `json:"amount"`
	Attempts    int    `json:"attempts"`
	OccurredAt  string `json:"occurred_at"`
}

// KafkaPublisher sends one message per resolved outcome, keyed by payment id
// so all outcomes of a payment land on one partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *zerolog.Logger
}

// NewSyncProducer builds a producer that waits for all in-sync replicas.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	return sarama.NewSyncProducer(brokers, config)
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string, logger *zerolog.Logger) *KafkaPublisher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "KafkaPublisher").Str("topic", topic).Logger()
	return &KafkaPublisher{producer: producer, topic: topic, log: &l}
}

func (p *KafkaPublisher) PublishOutcome(ctx context.Context, o model.Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	occurred := o.ResolvedAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	b, err := json.Marshal(reconciledEvent{
		Type:        EventTypeReconciled,
		PaymentID:   o.PaymentID,
		SubjectKind: string(o.SubjectKind),
		SubjectID:   o.SubjectID,
		UserID:      o.UserID,
		Outcome:     string(o.Kind),
		Reason:      string(o.Reason),
		Status:      string(o.Status),
		Source:      string(o.Source),
		Amount:      o.Amount,
		Attempts:    o.Attempts,
		OccurredAt:  occurred.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal outcome event: %w", err)
	}
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(o.PaymentID),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return fmt.Errorf("send outcome event: %w", err)
	}
	p.log.Debug().Str("payment_id", o.PaymentID).Int32("partition", partition).Int64("offset", offset).Msg("outcome event sent")
	return nil
}

func (p *KafkaPublisher) Close() error { return p.producer.Close() }
