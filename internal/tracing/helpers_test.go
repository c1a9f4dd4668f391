package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return rec
}

func attrValue(span sdktrace.ReadOnlySpan, key attribute.Key) (string, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

func TestStartDBSpan(t *testing.T) {
	tests := []struct {
		table     string
		operation DBOperation
		wantName  string
	}{
		{"webhook_events", DBOperationInsert, "insert webhook_events"},
		{"payments", DBOperationUpdate, "update payments"},
		{"audit_logs", DBOperationQuery, "query audit_logs"},
		{"webhook_events", DBOperationDelete, "delete webhook_events"},
		{"", DBOperationQuery, "query"},
	}
	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			rec := newRecorder(t)

			_, end := StartDBSpan(context.Background(), tt.table, tt.operation)
			end(nil)

			spans := rec.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			span := spans[0]
			if span.Name() != tt.wantName {
				t.Errorf("span name = %q, want %q", span.Name(), tt.wantName)
			}
			if span.SpanKind() != trace.SpanKindClient {
				t.Errorf("span kind = %v, want client", span.SpanKind())
			}
			if v, _ := attrValue(span, "db.system"); v != "postgresql" {
				t.Errorf("db.system = %q", v)
			}
			table, ok := attrValue(span, "db.sql.table")
			if tt.table == "" && ok {
				t.Error("db.sql.table should be absent without a table")
			}
			if tt.table != "" && table != tt.table {
				t.Errorf("db.sql.table = %q, want %q", table, tt.table)
			}
		})
	}
}

func TestStartSpan_RecordsError(t *testing.T) {
	rec := newRecorder(t)

	_, end := StartSpan(context.Background(), "reconcile.apply",
		AttrEventID.String("evnt_1"),
		AttrChargeID.String("ch_test_123"),
	)
	end(errors.New("payment not found"))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Status().Code != codes.Error || span.Status().Description != "payment not found" {
		t.Errorf("status = %+v, want error", span.Status())
	}
	if len(span.Events()) == 0 || span.Events()[0].Name != "exception" {
		t.Error("expected recorded exception event")
	}
	if v, _ := attrValue(span, AttrEventID); v != "evnt_1" {
		t.Errorf("%s = %q", AttrEventID, v)
	}
}

func TestStartSpan_NestsUnderParent(t *testing.T) {
	rec := newRecorder(t)

	ctx, endParent := StartSpan(context.Background(), "webhook.handle")
	_, endChild := StartDBSpan(ctx, "payments", DBOperationQuery)
	endChild(nil)
	endParent(nil)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	child, parent := spans[0], spans[1]
	if child.Parent().SpanID() != parent.SpanContext().SpanID() {
		t.Error("db span should be a child of the handler span")
	}
	if child.SpanContext().TraceID() != parent.SpanContext().TraceID() {
		t.Error("spans should share a trace")
	}
}

func TestAddEventAndSetAttributes(t *testing.T) {
	rec := newRecorder(t)

	ctx, end := StartSpan(context.Background(), "reconcile.apply")
	SetAttributes(ctx, AttrPaymentID.String("pay_1"), AttrPaymentStatus.String("completed"))
	AddEvent(ctx, "notification.enqueued", attribute.String("kind", "booking_confirmed"))
	end(nil)

	span := rec.Ended()[0]
	if v, _ := attrValue(span, AttrPaymentStatus); v != "completed" {
		t.Errorf("%s = %q", AttrPaymentStatus, v)
	}
	events := span.Events()
	if len(events) != 1 || events[0].Name != "notification.enqueued" {
		t.Errorf("events = %+v", events)
	}
}

func TestHelpers_NoProvider(t *testing.T) {
	ctx, end := StartSpan(context.Background(), "noop")
	SetAttributes(ctx, AttrEventID.String("evnt_1"))
	AddEvent(ctx, "noop")
	end(nil)
}
