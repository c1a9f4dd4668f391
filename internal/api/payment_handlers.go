package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/resortpay/internal/audit"
	"github.com/onnwee/resortpay/internal/gateway"
	"github.com/onnwee/resortpay/internal/payment"
	"github.com/onnwee/resortpay/internal/reconcile"
)

// PaymentVerifier compares one local payment with the gateway.
type PaymentVerifier interface {
	Verify(ctx context.Context, paymentID string) (*reconcile.Report, error)
}

// TrailAssembler builds the audit trail of one payment.
type TrailAssembler interface {
	Trail(ctx context.Context, paymentID string) (*audit.Trail, error)
}

// PaymentHandlers holds dependencies for operator payment endpoints.
type PaymentHandlers struct {
	verifier  PaymentVerifier
	assembler TrailAssembler
	audit     audit.Repository
}

// NewPaymentHandlers creates a new PaymentHandlers instance.
func NewPaymentHandlers(verifier PaymentVerifier, assembler TrailAssembler, auditRepo audit.Repository) *PaymentHandlers {
	return &PaymentHandlers{
		verifier:  verifier,
		assembler: assembler,
		audit:     auditRepo,
	}
}

// Verify compares local payment state with the gateway charge. Read-only.
// GET /payments/{id}/verify
func (h *PaymentHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paymentID := r.PathValue("id")

	report, err := h.verifier.Verify(ctx, paymentID)
	if err != nil {
		h.logAccess(r, paymentID, audit.ActionVerifyPayment, audit.OutcomeFailure)
		switch {
		case errors.Is(err, payment.ErrPaymentNotFound):
			writeCodedError(w, r, http.StatusNotFound, ErrCodePaymentNotFound, "Payment not found")
		case errors.Is(err, reconcile.ErrNoChargeAssociated):
			writeCodedError(w, r, http.StatusUnprocessableEntity, ErrCodeNoCharge, "Payment has no gateway charge")
		case errors.Is(err, gateway.ErrUnavailable):
			slog.WarnContext(ctx, "gateway unavailable during verification", "payment_id", paymentID, "error", err)
			writeCodedError(w, r, http.StatusServiceUnavailable, ErrCodeGatewayUnavailable, "Payment gateway unavailable")
		default:
			slog.ErrorContext(ctx, "payment verification failed", "payment_id", paymentID, "error", err)
			writeCodedError(w, r, http.StatusBadGateway, ErrCodeGatewayUnavailable, "Verification failed")
		}
		return
	}

	if err := h.logAccessStrict(r, paymentID, audit.ActionVerifyPayment, audit.OutcomeSuccess); err != nil {
		writeCodedError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to record access")
		return
	}
	writeJSON(w, ctx, http.StatusOK, report)
}

// AuditTrail returns everything recorded for a payment, oldest first.
// GET /payments/{id}/audit-trail?format=json|csv
func (h *PaymentHandlers) AuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paymentID := r.PathValue("id")

	format, err := audit.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeCodedError(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	action := audit.ActionViewAuditTrail
	if format == audit.ExportFormatCSV {
		action = audit.ActionExportAuditTrail
	}

	trail, err := h.assembler.Trail(ctx, paymentID)
	if err != nil {
		h.logAccess(r, paymentID, action, audit.OutcomeFailure)
		if errors.Is(err, payment.ErrPaymentNotFound) {
			writeCodedError(w, r, http.StatusNotFound, ErrCodePaymentNotFound, "Payment not found")
			return
		}
		slog.ErrorContext(ctx, "failed to assemble audit trail", "payment_id", paymentID, "error", err)
		writeCodedError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to load audit trail")
		return
	}

	data, err := audit.ExportTrail(trail, format)
	if err != nil {
		slog.ErrorContext(ctx, "failed to export audit trail", "payment_id", paymentID, "error", err)
		writeCodedError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to export audit trail")
		return
	}

	if err := h.logAccessStrict(r, paymentID, action, audit.OutcomeSuccess); err != nil {
		writeCodedError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to record access")
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	if format == audit.ExportFormatCSV {
		w.Header().Set("Content-Disposition", `attachment; filename="audit-trail-`+paymentID+`.csv"`)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write audit trail", "error", err)
	}
}

func (h *PaymentHandlers) logAccess(r *http.Request, paymentID, action, outcome string) {
	if err := h.logAccessStrict(r, paymentID, action, outcome); err != nil {
		slog.ErrorContext(r.Context(), "failed to record operator access", "payment_id", paymentID, "error", err)
	}
}

func (h *PaymentHandlers) logAccessStrict(r *http.Request, paymentID, action, outcome string) error {
	return audit.LogAccessFromRequest(r, h.audit, audit.EntityPayment, paymentID, action, outcome)
}
