package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/resortpay/internal/gateway"
	"github.com/onnwee/resortpay/internal/jobs"
	"github.com/onnwee/resortpay/internal/payment"
	"github.com/onnwee/resortpay/internal/tracing"
)

// ErrNoChargeAssociated is returned when verifying a payment that was never bound to a gateway charge.
var ErrNoChargeAssociated = errors.New("payment has no gateway charge")

// remoteNotFound is the remote status reported when the gateway has no such charge.
const remoteNotFound = "not_found"

// Snapshot is one side's view of a payment.
type Snapshot struct {
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Paid     *bool  `json:"paid,omitempty"`
	Refunded *bool  `json:"refunded,omitempty"`
}

// Report is the result of comparing a local payment with the gateway charge.
type Report struct {
	PaymentID     string    `json:"paymentId"`
	ChargeID      string    `json:"chargeId"`
	Consistent    bool      `json:"consistent"`
	Local         Snapshot  `json:"local"`
	Remote        Snapshot  `json:"remote"`
	Discrepancies []string  `json:"discrepancies"`
	CheckedAt     time.Time `json:"checkedAt"`
}

// VerificationService compares local payments with the gateway. It never writes.
type VerificationService struct {
	payments payment.Repository
	gateway  gateway.Client
	metrics  *Metrics
	now      func() time.Time
}

// NewVerificationService creates a service. metrics may be nil.
func NewVerificationService(payments payment.Repository, gw gateway.Client, metrics *Metrics) *VerificationService {
	return &VerificationService{
		payments: payments,
		gateway:  gw,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Verify loads the payment, fetches its charge and reports any divergence.
// A charge the gateway does not know is reported as a discrepancy, not an error.
func (s *VerificationService) Verify(ctx context.Context, paymentID string) (report *Report, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "reconcile.verify")
	defer func() {
		if errors.Is(err, payment.ErrPaymentNotFound) || errors.Is(err, ErrNoChargeAssociated) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()
	tracing.SetAttributes(ctx, tracing.AttrPaymentID.String(paymentID))

	p, err := s.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return s.verifyPayment(ctx, p)
}

func (s *VerificationService) verifyPayment(ctx context.Context, p *payment.Payment) (*Report, error) {
	if !p.HasCharge() {
		return nil, ErrNoChargeAssociated
	}

	report := &Report{
		PaymentID: p.ID,
		ChargeID:  *p.ChargeID,
		Local: Snapshot{
			Status:   p.Status,
			Amount:   p.Amount,
			Currency: p.Currency,
		},
		CheckedAt: s.now(),
	}

	charge, err := s.gateway.RetrieveCharge(ctx, *p.ChargeID)
	switch {
	case errors.Is(err, gateway.ErrChargeNotFound):
		report.Remote = Snapshot{Status: remoteNotFound}
		report.Discrepancies = []string{fmt.Sprintf("charge %s not found at gateway", *p.ChargeID)}
	case err != nil:
		s.observe(resultError)
		return nil, fmt.Errorf("failed to retrieve charge: %w", err)
	default:
		paid, refunded := charge.Paid, charge.Refunded
		report.Remote = Snapshot{
			Status:   charge.Status,
			Amount:   charge.Amount,
			Currency: charge.Currency,
			Paid:     &paid,
			Refunded: &refunded,
		}
		report.Discrepancies = Compare(p, charge)
	}

	report.Consistent = len(report.Discrepancies) == 0
	if report.Discrepancies == nil {
		report.Discrepancies = []string{}
	}

	if report.Consistent {
		s.observe(resultConsistent)
	} else {
		s.observe(resultDiscrepancy)
		slog.WarnContext(ctx, "payment diverges from gateway",
			"payment_id", p.ID,
			"charge_id", report.ChargeID,
			"discrepancies", report.Discrepancies)
	}
	return report, nil
}

// Compare applies the status equivalence table and checks amount and currency.
//
//	local      remote
//	pending    status pending
//	completed  status successful, paid
//	failed     status failed, expired or reversed
//	refunded   status successful, not paid or refunded
func Compare(p *payment.Payment, c *gateway.Charge) []string {
	var out []string
	if !statusEquivalent(p.Status, c) {
		out = append(out, fmt.Sprintf("status mismatch: local=%s remote=%s (paid=%t)", p.Status, c.Status, c.Paid))
	}
	if c.Amount != p.Amount {
		out = append(out, fmt.Sprintf("amount mismatch: local=%d remote=%d", p.Amount, c.Amount))
	}
	if c.Currency != "" && c.Currency != p.Currency {
		out = append(out, fmt.Sprintf("currency mismatch: local=%s remote=%s", p.Currency, c.Currency))
	}
	return out
}

func statusEquivalent(local string, c *gateway.Charge) bool {
	switch local {
	case payment.StatusPending:
		return c.Status == gateway.StatusPending
	case payment.StatusCompleted:
		return c.Status == gateway.StatusSuccessful && c.Paid && !c.Refunded
	case payment.StatusFailed:
		return isFailedStatus(c.Status)
	case payment.StatusRefunded:
		return c.Status == gateway.StatusSuccessful && (!c.Paid || c.Refunded)
	default:
		return false
	}
}

func (s *VerificationService) observe(result string) {
	if s.metrics != nil {
		s.metrics.IncVerification(result)
	}
}

// SweepResult summarises one verification sweep.
type SweepResult struct {
	Checked      int
	Inconsistent int
	Errors       int
}

// Sweep verifies up to limit charged payments updated at or after since.
// Individual gateway failures are counted and skipped.
func (s *VerificationService) Sweep(ctx context.Context, since time.Time, limit int) (SweepResult, error) {
	var res SweepResult

	payments, err := s.payments.ListChargedSince(ctx, since, limit)
	if err != nil {
		return res, fmt.Errorf("failed to list payments for sweep: %w", err)
	}

	for _, p := range payments {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		report, err := s.verifyPayment(ctx, p)
		if err != nil {
			res.Errors++
			slog.WarnContext(ctx, "verification sweep could not check payment",
				"payment_id", p.ID,
				"error", err)
			continue
		}
		res.Checked++
		if !report.Consistent {
			res.Inconsistent++
		}
	}
	return res, nil
}

// RunPeriodicSweep runs Sweep over the trailing lookback window every
// interval until stopChan is closed. reporter may be nil.
func RunPeriodicSweep(s *VerificationService, interval, lookback time.Duration, limit int, reporter jobs.Reporter, stopChan <-chan struct{}) {
	jobs.Every(jobs.JobTypeVerifySweep, interval, stopChan, func(ctx context.Context) {
		start := time.Now()
		res, err := s.Sweep(ctx, s.now().Add(-lookback), limit)
		if err == nil && res.Errors > 0 {
			err = fmt.Errorf("%d payments could not be checked", res.Errors)
		}
		jobs.Observe(reporter, jobs.JobTypeVerifySweep, start, err, "gateway_error")
		if err != nil {
			slog.ErrorContext(ctx, "verification sweep failed", "error", err)
			return
		}
		slog.InfoContext(ctx, "verification sweep finished",
			"checked", res.Checked,
			"inconsistent", res.Inconsistent)
	})
}
