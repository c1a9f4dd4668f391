package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

// seed creates a booking and a pending payment bound to chargeID.
func seed(t *testing.T, repo *InMemoryRepository, chargeID string) (*Booking, *Payment) {
	t.Helper()
	ctx := context.Background()

	b := &Booking{
		GuestName:  "Ada Guest",
		GuestEmail: "ada@example.com",
		RoomNumber: "101",
		CheckIn:    time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC),
		CheckOut:   time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC),
	}
	if err := repo.CreateBooking(ctx, b); err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}

	p := &Payment{
		BookingID: b.ID,
		Amount:    150000,
		Currency:  "THB",
		ChargeID:  strPtr(chargeID),
	}
	if err := repo.CreatePayment(ctx, p); err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}
	return b, p
}

func TestInMemoryRepository_CreateAndGet(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	b, p := seed(t, repo, "ch_test_123")

	if p.ID == "" || b.ID == "" {
		t.Fatal("expected ids to be assigned")
	}
	if p.Status != StatusPending {
		t.Errorf("expected status %s, got %s", StatusPending, p.Status)
	}
	if b.Status != BookingStatusPending {
		t.Errorf("expected booking status %s, got %s", BookingStatusPending, b.Status)
	}

	got, err := repo.GetPayment(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPayment failed: %v", err)
	}
	if got.Amount != 150000 || got.Currency != "THB" {
		t.Errorf("unexpected payment: %+v", got)
	}

	byCharge, err := repo.GetPaymentByChargeID(ctx, "ch_test_123")
	if err != nil {
		t.Fatalf("GetPaymentByChargeID failed: %v", err)
	}
	if byCharge.ID != p.ID {
		t.Errorf("expected payment %s, got %s", p.ID, byCharge.ID)
	}

	gotBooking, err := repo.GetBooking(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBooking failed: %v", err)
	}
	if gotBooking.GuestEmail != "ada@example.com" {
		t.Errorf("unexpected booking: %+v", gotBooking)
	}
}

func TestInMemoryRepository_NotFound(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	if _, err := repo.GetPayment(ctx, "missing"); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("GetPayment: expected ErrPaymentNotFound, got %v", err)
	}
	if _, err := repo.GetPaymentByChargeID(ctx, "ch_missing"); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("GetPaymentByChargeID: expected ErrPaymentNotFound, got %v", err)
	}
	if _, err := repo.GetBooking(ctx, "missing"); !errors.Is(err, ErrBookingNotFound) {
		t.Errorf("GetBooking: expected ErrBookingNotFound, got %v", err)
	}
	if err := repo.CreatePayment(ctx, &Payment{BookingID: "missing"}); !errors.Is(err, ErrBookingNotFound) {
		t.Errorf("CreatePayment: expected ErrBookingNotFound, got %v", err)
	}
}

func TestInMemoryRepository_DuplicateChargeID(t *testing.T) {
	repo := NewInMemoryRepository()
	b, _ := seed(t, repo, "ch_dup")

	err := repo.CreatePayment(context.Background(), &Payment{
		BookingID: b.ID,
		Amount:    100,
		Currency:  "THB",
		ChargeID:  strPtr("ch_dup"),
	})
	if !errors.Is(err, ErrDuplicateChargeID) {
		t.Errorf("expected ErrDuplicateChargeID, got %v", err)
	}
}

func TestInMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	_, p := seed(t, repo, "ch_copy")

	got, _ := repo.GetPayment(ctx, p.ID)
	got.Status = StatusRefunded
	*got.ChargeID = "mutated"

	again, _ := repo.GetPayment(ctx, p.ID)
	if again.Status != StatusPending {
		t.Errorf("external mutation leaked into store: status %s", again.Status)
	}
	if *again.ChargeID != "ch_copy" {
		t.Errorf("external mutation leaked into store: charge %s", *again.ChargeID)
	}
}

func TestInMemoryRepository_WithinTxCommits(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	b, p := seed(t, repo, "ch_commit")

	err := repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.GetPaymentByChargeIDForUpdate(ctx, "ch_commit")
		if err != nil {
			return err
		}
		if _, err := locked.Transition(StatusCompleted); err != nil {
			return err
		}
		if err := tx.UpdatePayment(ctx, locked); err != nil {
			return err
		}
		return tx.UpdateBookingStatus(ctx, locked.BookingID, BookingStatusConfirmed)
	})
	if err != nil {
		t.Fatalf("WithinTx failed: %v", err)
	}

	got, _ := repo.GetPayment(ctx, p.ID)
	if got.Status != StatusCompleted {
		t.Errorf("expected status %s, got %s", StatusCompleted, got.Status)
	}
	gotBooking, _ := repo.GetBooking(ctx, b.ID)
	if gotBooking.Status != BookingStatusConfirmed {
		t.Errorf("expected booking status %s, got %s", BookingStatusConfirmed, gotBooking.Status)
	}
}

func TestInMemoryRepository_WithinTxRollsBack(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	b, p := seed(t, repo, "ch_rollback")
	boom := errors.New("boom")

	err := repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.GetPaymentByChargeIDForUpdate(ctx, "ch_rollback")
		if err != nil {
			return err
		}
		locked.Status = StatusCompleted
		if err := tx.UpdatePayment(ctx, locked); err != nil {
			return err
		}
		if err := tx.InsertRefund(ctx, &Refund{PaymentID: p.ID, GatewayRefundID: "rfnd_1", Amount: 10, Currency: "THB"}); err != nil {
			return err
		}
		// Booking update fails after the payment write.
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := repo.GetPayment(ctx, p.ID)
	if got.Status != StatusPending {
		t.Errorf("payment write survived rollback: %s", got.Status)
	}
	gotBooking, _ := repo.GetBooking(ctx, b.ID)
	if gotBooking.Status != BookingStatusPending {
		t.Errorf("booking write survived rollback: %s", gotBooking.Status)
	}
	refunds, _ := repo.ListRefunds(ctx, p.ID)
	if len(refunds) != 0 {
		t.Errorf("refund survived rollback: %d refunds", len(refunds))
	}
}

func TestInMemoryRepository_InsertRefundDuplicate(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	_, p := seed(t, repo, "ch_refund")

	insert := func() error {
		return repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertRefund(ctx, &Refund{
				PaymentID:       p.ID,
				GatewayRefundID: "rfnd_test_1",
				Amount:          150000,
				Currency:        "THB",
				Status:          RefundStatusSucceeded,
			})
		})
	}

	if err := insert(); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := insert(); !errors.Is(err, ErrRefundExists) {
		t.Fatalf("expected ErrRefundExists, got %v", err)
	}

	refunds, err := repo.ListRefunds(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListRefunds failed: %v", err)
	}
	if len(refunds) != 1 {
		t.Fatalf("expected 1 refund, got %d", len(refunds))
	}
	if refunds[0].GatewayRefundID != "rfnd_test_1" {
		t.Errorf("unexpected refund: %+v", refunds[0])
	}
}

func TestInMemoryRepository_ListChargedSince(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	repo.now = func() time.Time { return clock }

	seed(t, repo, "ch_old")
	clock = base.Add(time.Hour)
	seed(t, repo, "ch_new")
	clock = base.Add(2 * time.Hour)
	b, _ := seed(t, repo, "ch_newest")

	// Uncharged payments are never listed.
	if err := repo.CreatePayment(ctx, &Payment{BookingID: b.ID, Amount: 1, Currency: "THB"}); err != nil {
		t.Fatalf("CreatePayment failed: %v", err)
	}

	got, err := repo.ListChargedSince(ctx, base.Add(30*time.Minute), 0)
	if err != nil {
		t.Fatalf("ListChargedSince failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(got))
	}
	if *got[0].ChargeID != "ch_new" || *got[1].ChargeID != "ch_newest" {
		t.Errorf("unexpected order: %s, %s", *got[0].ChargeID, *got[1].ChargeID)
	}

	limited, _ := repo.ListChargedSince(ctx, base, 1)
	if len(limited) != 1 || *limited[0].ChargeID != "ch_old" {
		t.Errorf("limit not honoured: %d results", len(limited))
	}
}

func TestInMemoryRepository_ConcurrentTransactions(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	_, p := seed(t, repo, "ch_concurrent")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
				locked, err := tx.GetPaymentByChargeIDForUpdate(ctx, "ch_concurrent")
				if err != nil {
					return err
				}
				ok, err := locked.Transition(StatusCompleted)
				if err != nil || !ok {
					return err
				}
				mu.Lock()
				changed++
				mu.Unlock()
				return tx.UpdatePayment(ctx, locked)
			})
		}()
	}
	wg.Wait()

	if changed != 1 {
		t.Errorf("expected exactly one transition, got %d", changed)
	}
	got, _ := repo.GetPayment(ctx, p.ID)
	if got.Status != StatusCompleted {
		t.Errorf("expected status %s, got %s", StatusCompleted, got.Status)
	}
}
