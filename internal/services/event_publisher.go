package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"

	"github.com/example/gymledger/internal/models"
)

// PaymentSettledEvent is published for every new ledger entry.
type PaymentSettledEvent struct {
	EventType         string    `json:"event_type"`
	PaymentID         string    `json:"payment_id"`
	ExternalPaymentID string    `json:"external_payment_id"`
	PayerID           string    `json:"payer_id"`
	Status            string    `json:"status"`
	Method            string    `json:"method"`
	Amount            string    `json:"amount"`
	Currency          string    `json:"currency"`
	CreatedAt         time.Time `json:"created_at"`
}

// EventPublisher sends settlement events to Kafka.
type EventPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewEventPublisher(producer sarama.SyncProducer, topic string) *EventPublisher {
	return &EventPublisher{producer: producer, topic: topic}
}

// NewKafkaProducer builds a sync producer that waits for all replicas.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	return sarama.NewSyncProducer(brokers, config)
}

// NotifySettlement publishes the record keyed by external payment id so
// every event for one payment lands on the same partition.
func (p *EventPublisher) NotifySettlement(ctx context.Context, rec *models.PaymentRecord) error {
	data, err := json.Marshal(PaymentSettledEvent{
		EventType:         "payment.settled",
		PaymentID:         rec.ID.String(),
		ExternalPaymentID: rec.ExternalPaymentID,
		PayerID:           rec.PayerID.String(),
		Status:            rec.Status,
		Method:            rec.Method,
		Amount:            rec.Amount.StringFixed(2),
		Currency:          rec.Currency,
		CreatedAt:         rec.CreatedAt,
	})
	if err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(rec.ExternalPaymentID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return err
	}

	log.Printf("[Kafka] published %s for %s (partition %d, offset %d)", p.topic, rec.ExternalPaymentID, partition, offset)
	return nil
}

func (p *EventPublisher) Close() error {
	return p.producer.Close()
}
