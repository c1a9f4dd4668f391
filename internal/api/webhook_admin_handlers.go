package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/resortpay/internal/audit"
	"github.com/onnwee/resortpay/internal/idempotency"
	"github.com/onnwee/resortpay/internal/webhook"
)

// Stats window bounds in days.
const (
	defaultStatsDays = 7
	maxStatsDays     = 365
)

// StatsResponse is the body of GET /webhooks/stats.
type StatsResponse struct {
	Days int `json:"days"`
	*webhook.Stats
}

// Stats reports ingestion counts for the last N days.
// GET /webhooks/stats?days=N
func (h *WebhookHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	days := defaultStatsDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxStatsDays {
			writeCodedError(w, r, http.StatusBadRequest, ErrCodeValidation, "days must be an integer between 1 and 365")
			return
		}
		days = n
	}

	stats, err := h.events.Stats(ctx, h.now().AddDate(0, 0, -days))
	if err != nil {
		slog.ErrorContext(ctx, "failed to aggregate webhook stats", "error", err)
		writeCodedError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to load webhook stats")
		return
	}

	if err := audit.LogAccessFromRequest(r, h.audit, audit.EntityWebhookStats, strconv.Itoa(days), audit.ActionViewWebhookStats, audit.OutcomeSuccess); err != nil {
		slog.ErrorContext(ctx, "failed to record operator access", "error", err)
		writeCodedError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to record access")
		return
	}

	writeJSON(w, ctx, http.StatusOK, StatsResponse{Days: days, Stats: stats})
}

// ReplayResponse is the body of a completed operator replay.
type ReplayResponse struct {
	EventID      string          `json:"eventId"`
	Status       string          `json:"status"`
	Attempts     int             `json:"attempts"`
	ResponseCode int             `json:"responseCode"`
	Response     json.RawMessage `json:"response"`
}

// Replay re-runs reconciliation for a stored event.
// POST /webhooks/events/{eventId}/replay
//
// Failed events are reopened. Processing events are taken over only when
// their lease is released or expired. Successful events are left alone.
func (h *WebhookHandlers) Replay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID := r.PathValue("eventId")
	if eventID == "" {
		writeCodedError(w, r, http.StatusBadRequest, ErrCodeValidation, "event id is required")
		return
	}

	res, err := h.store.Reacquire(ctx, eventID)
	if err != nil {
		h.logReplay(r, eventID, audit.OutcomeFailure)
		if errors.Is(err, webhook.ErrEventNotFound) {
			writeCodedError(w, r, http.StatusNotFound, ErrCodeEventNotFound, "Webhook event not found")
			return
		}
		slog.ErrorContext(ctx, "failed to reacquire webhook event", "event_id", eventID, "error", err)
		writeCodedError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to load webhook event")
		return
	}

	switch res.Decision {
	case idempotency.AlreadyProcessed:
		h.logReplay(r, eventID, audit.OutcomeFailure)
		writeCodedError(w, r, http.StatusConflict, ErrCodeConflict, "Event already processed successfully")
		return
	case idempotency.InFlight:
		h.logReplay(r, eventID, audit.OutcomeFailure)
		w.Header().Set("Retry-After", strconv.Itoa(int(h.inflightWait.Seconds()+1)))
		writeCodedError(w, r, http.StatusConflict, ErrCodeConflict, "Event is being processed")
		return
	}

	ev := res.Event
	source, ok := h.sources[ev.Provider]
	if !ok {
		h.release(r, eventID, "provider not configured")
		h.logReplay(r, eventID, audit.OutcomeFailure)
		writeCodedError(w, r, http.StatusUnprocessableEntity, ErrCodeUnknownProvider, "Event provider is not configured")
		return
	}

	env, err := source.Decode(ev.Payload)
	if err != nil {
		slog.ErrorContext(ctx, "stored webhook payload no longer decodes", "event_id", eventID, "error", err)
		h.release(r, eventID, err.Error())
		h.logReplay(r, eventID, audit.OutcomeFailure)
		writeCodedError(w, r, http.StatusUnprocessableEntity, ErrCodeValidation, "Stored payload cannot be decoded")
		return
	}
	env.Provider = ev.Provider

	slog.InfoContext(ctx, "replaying webhook event",
		"event_id", eventID,
		"event_type", env.Key,
		"attempts", ev.Attempts)

	code, body, status := h.apply(ctx, env, h.now())
	outcome := audit.OutcomeSuccess
	if status != webhook.StatusSuccess {
		outcome = audit.OutcomeFailure
	}
	if err := h.logReplayStrict(r, eventID, outcome); err != nil {
		writeCodedError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to record access")
		return
	}

	if status == webhook.StatusProcessing {
		writeCodedError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Replay failed, event left for retry")
		return
	}
	writeJSON(w, ctx, http.StatusOK, ReplayResponse{
		EventID:      eventID,
		Status:       status,
		Attempts:     ev.Attempts,
		ResponseCode: code,
		Response:     body,
	})
}

func (h *WebhookHandlers) release(r *http.Request, eventID, reason string) {
	if err := h.store.Release(r.Context(), eventID, reason); err != nil {
		slog.ErrorContext(r.Context(), "failed to release webhook event", "event_id", eventID, "error", err)
	}
}

// logReplay records a refused replay; the refusal is already the response.
func (h *WebhookHandlers) logReplay(r *http.Request, eventID, outcome string) {
	if err := h.logReplayStrict(r, eventID, outcome); err != nil {
		slog.ErrorContext(r.Context(), "failed to record operator access", "event_id", eventID, "error", err)
	}
}

func (h *WebhookHandlers) logReplayStrict(r *http.Request, eventID, outcome string) error {
	return audit.LogAccessFromRequest(r, h.audit, audit.EntityWebhookEvent, eventID, audit.ActionReplayWebhookEvent, outcome)
}
