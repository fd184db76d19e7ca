package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/noor/donation-service/internal/domain"
)

type stubSender struct {
	mu   sync.Mutex
	sent []domain.Receipt
	err  error
	done chan struct{}
}

func (s *stubSender) SendReceipt(_ context.Context, receipt domain.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		defer func() { s.done <- struct{}{} }()
	}
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, receipt)
	return nil
}

func TestReceiptConsumerHandleMessage(t *testing.T) {
	receipt := domain.Receipt{PaymentID: uuid.New(), DonorEmail: "amina@example.com", AmountMinor: 2500, Currency: domain.CurrencyUSD}

	tests := []struct {
		name     string
		body     []byte
		err      error
		wantAck  bool
		wantSent int
	}{
		{name: "sends and acknowledges", body: mustJSON(t, receipt), wantAck: true, wantSent: 1},
		{name: "requeues on smtp failure", body: mustJSON(t, receipt), err: errors.New("421 service not available"), wantAck: false},
		{name: "drops malformed payload", body: []byte("{"), wantAck: true},
		{name: "drops receipt without email", body: mustJSON(t, domain.Receipt{PaymentID: uuid.New()}), wantAck: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &stubSender{err: tt.err}
			consumer := NewReceiptConsumer(sender, time.Second, discardLogger())
			if got := consumer.HandleMessage(context.Background(), tt.body); got != tt.wantAck {
				t.Fatalf("expected ack=%v, got %v", tt.wantAck, got)
			}
			if len(sender.sent) != tt.wantSent {
				t.Fatalf("expected %d sent, got %d", tt.wantSent, len(sender.sent))
			}
		})
	}
}

func TestDirectReceiptDispatcherDoesNotBlock(t *testing.T) {
	sender := &stubSender{err: errors.New("connection refused"), done: make(chan struct{}, 1)}
	dispatcher := NewDirectReceiptDispatcher(sender, time.Second, discardLogger())

	dispatcher.SendReceipt(domain.Receipt{PaymentID: uuid.New(), DonorEmail: "amina@example.com"})

	select {
	case <-sender.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected detached send to run")
	}
}
