//go:build integration

package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/resortpay/internal/db/dbtest"
)

func TestPostgresRepository_TransactionalUpdate(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewPostgresRepository(conn, nil)
	ctx := context.Background()

	b := &Booking{
		GuestName:  "Ada Guest",
		GuestEmail: "ada@example.com",
		CheckIn:    time.Now().Add(24 * time.Hour),
		CheckOut:   time.Now().Add(72 * time.Hour),
	}
	if err := repo.CreateBooking(ctx, b); err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}
	p := &Payment{BookingID: b.ID, Amount: 150000, Currency: "THB", ChargeID: strPtr("ch_pg_1")}
	if err := repo.CreatePayment(ctx, p); err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}
	dup := &Payment{BookingID: b.ID, Amount: 1, Currency: "THB", ChargeID: strPtr("ch_pg_1")}
	if err := repo.CreatePayment(ctx, dup); !errors.Is(err, ErrDuplicateChargeID) {
		t.Fatalf("expected ErrDuplicateChargeID, got %v", err)
	}

	// A failing unit leaves nothing behind.
	boom := errors.New("boom")
	err := repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.GetPaymentByChargeIDForUpdate(ctx, "ch_pg_1")
		if err != nil {
			return err
		}
		locked.Status = StatusCompleted
		if err := tx.UpdatePayment(ctx, locked); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := repo.GetPayment(ctx, p.ID)
	if got.Status != StatusPending {
		t.Fatalf("rolled back write visible: %s", got.Status)
	}

	err = repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.GetPaymentByChargeIDForUpdate(ctx, "ch_pg_1")
		if err != nil {
			return err
		}
		if _, err := locked.Transition(StatusCompleted); err != nil {
			return err
		}
		now := time.Now()
		locked.ProcessedAt = &now
		locked.GatewayResponse = []byte(`{"status":"successful"}`)
		if err := tx.UpdatePayment(ctx, locked); err != nil {
			return err
		}
		if err := tx.InsertRefund(ctx, &Refund{PaymentID: locked.ID, GatewayRefundID: "rfnd_pg_1", Amount: 10, Currency: "THB", Status: RefundStatusSucceeded}); err != nil {
			return err
		}
		if err := tx.InsertRefund(ctx, &Refund{PaymentID: locked.ID, GatewayRefundID: "rfnd_pg_1", Amount: 10, Currency: "THB", Status: RefundStatusSucceeded}); !errors.Is(err, ErrRefundExists) {
			t.Errorf("expected ErrRefundExists, got %v", err)
		}
		return tx.UpdateBookingStatus(ctx, locked.BookingID, BookingStatusConfirmed)
	})
	if err != nil {
		t.Fatalf("WithinTx failed: %v", err)
	}

	got, _ = repo.GetPayment(ctx, p.ID)
	if got.Status != StatusCompleted || got.ProcessedAt == nil || len(got.GatewayResponse) == 0 {
		t.Errorf("unexpected payment: %+v", got)
	}
	gotBooking, _ := repo.GetBooking(ctx, b.ID)
	if gotBooking.Status != BookingStatusConfirmed {
		t.Errorf("booking status = %s", gotBooking.Status)
	}
	refunds, _ := repo.ListRefunds(ctx, p.ID)
	if len(refunds) != 1 {
		t.Errorf("expected 1 refund, got %d", len(refunds))
	}
	charged, _ := repo.ListChargedSince(ctx, time.Now().Add(-time.Hour), 10)
	if len(charged) != 1 {
		t.Errorf("expected 1 charged payment, got %d", len(charged))
	}
}
