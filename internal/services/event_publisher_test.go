package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/gymledger/internal/models"
)

func testRecord() *models.PaymentRecord {
	rec := &models.PaymentRecord{
		ExternalPaymentID:   "pi_123",
		PayerID:             uuid.New(),
		PayerIdentification: "V-12345678",
		PayerName:           "Ana",
		Status:              models.PaymentStatusCompleted,
		Amount:              decimal.RequireFromString("25"),
		Currency:            "USD",
		Method:              models.PaymentMethodCard,
		LastFourDigits:      "4242",
	}
	rec.ID = uuid.New()
	return rec
}

func TestEventPublisherSendsSettledEvent(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	rec := testRecord()

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event PaymentSettledEvent
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.EventType != "payment.settled" || event.ExternalPaymentID != "pi_123" {
			return fmt.Errorf("unexpected event %+v", event)
		}
		if event.Amount != "25.00" || event.PayerID != rec.PayerID.String() {
			return fmt.Errorf("unexpected payload %+v", event)
		}
		return nil
	})

	publisher := NewEventPublisher(producer, "payments.settled")
	if err := publisher.NotifySettlement(context.Background(), rec); err != nil {
		t.Fatalf("NotifySettlement: %v", err)
	}
	if err := publisher.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEventPublisherReturnsSendErrors(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewEventPublisher(producer, "payments.settled")
	err := publisher.NotifySettlement(context.Background(), testRecord())
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected ErrOutOfBrokers, got %v", err)
	}
	publisher.Close()
}
