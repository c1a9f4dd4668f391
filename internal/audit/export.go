package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// ExportFormat defines supported export formats.
type ExportFormat string

const (
	// ExportFormatCSV exports the timeline as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports the whole trail as indented JSON.
	ExportFormatJSON ExportFormat = "json"
)

// ParseExportFormat validates a format name. An empty name selects JSON.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case "", ExportFormatJSON:
		return ExportFormatJSON, nil
	case ExportFormatCSV:
		return ExportFormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", s)
	}
}

// ContentType returns the HTTP content type for the format.
func (f ExportFormat) ContentType() string {
	if f == ExportFormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// ExportTrail renders a trail for download.
func ExportTrail(t *Trail, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatCSV:
		return exportTimelineCSV(t.Timeline)
	case ExportFormatJSON:
		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportTimelineCSV(entries []TimelineEntry) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	header := []string{"Timestamp (UTC)", "Source", "Kind", "Reference", "Status", "Detail"}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		row := []string{
			e.At.UTC().Format(time.RFC3339),
			e.Source,
			e.Kind,
			e.Ref,
			e.Status,
			e.Detail,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}
