// Package archive writes pruned webhook events to S3-compatible object
// storage as CBOR-encoded batches.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/onnwee/resortpay/internal/webhook"
)

// BatchVersion is bumped when the Record layout changes.
const BatchVersion = 1

// ErrEmptyBatch is returned when there is nothing to archive.
var ErrEmptyBatch = errors.New("no events to archive")

// Record is the archived form of a webhook event.
type Record struct {
	EventID       string     `cbor:"event_id"`
	Provider      string     `cbor:"provider"`
	EventType     string     `cbor:"event_type"`
	ChargeID      string     `cbor:"charge_id,omitempty"`
	Payload       []byte     `cbor:"payload"`
	Status        string     `cbor:"status"`
	ResponseCode  int        `cbor:"response_code,omitempty"`
	ResponseHash  string     `cbor:"response_hash,omitempty"`
	FailureReason string     `cbor:"failure_reason,omitempty"`
	Attempts      int        `cbor:"attempts"`
	ReceivedAt    time.Time  `cbor:"received_at"`
	ProcessedAt   *time.Time `cbor:"processed_at,omitempty"`
	DurationMs    int64      `cbor:"duration_ms,omitempty"`
}

// Batch is one archive object.
type Batch struct {
	Version    int       `cbor:"version"`
	ArchivedAt time.Time `cbor:"archived_at"`
	Records    []Record  `cbor:"records"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// NewBatch converts events into a Batch.
func NewBatch(events []*webhook.Event, archivedAt time.Time) (*Batch, error) {
	if len(events) == 0 {
		return nil, ErrEmptyBatch
	}
	b := &Batch{
		Version:    BatchVersion,
		ArchivedAt: archivedAt.UTC(),
		Records:    make([]Record, 0, len(events)),
	}
	for _, ev := range events {
		b.Records = append(b.Records, Record{
			EventID:       ev.EventID,
			Provider:      ev.Provider,
			EventType:     ev.EventType,
			ChargeID:      ev.ChargeID,
			Payload:       []byte(ev.Payload),
			Status:        ev.Status,
			ResponseCode:  ev.ResponseCode,
			ResponseHash:  ev.ResponseHash,
			FailureReason: ev.FailureReason,
			Attempts:      ev.Attempts,
			ReceivedAt:    ev.ReceivedAt.UTC(),
			ProcessedAt:   ev.ProcessedAt,
			DurationMs:    ev.DurationMs,
		})
	}
	return b, nil
}

// Encode serialises the batch.
func (b *Batch) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := encMode.NewEncoder(&buf).Encode(b); err != nil {
		return nil, fmt.Errorf("failed to encode archive batch: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeBatch parses an archive object written by Encode.
func DecodeBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode archive batch: %w", err)
	}
	if b.Version != BatchVersion {
		return nil, fmt.Errorf("unsupported archive batch version %d", b.Version)
	}
	return &b, nil
}
