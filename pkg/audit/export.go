package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// ExportFormat selects the serialization for exported entries.
type ExportFormat string

const (
	ExportFormatNDJSON ExportFormat = "ndjson"
	ExportFormatCSV    ExportFormat = "csv"
)

// Export writes entries to w in the requested format.
func Export(w io.Writer, entries []Entry, format ExportFormat) error {
	switch format {
	case ExportFormatNDJSON:
		enc := json.NewEncoder(w)
		for i := range entries {
			if err := enc.Encode(&entries[i]); err != nil {
				return fmt.Errorf("failed to encode audit entry: %w", err)
			}
		}
		return nil
	case ExportFormatCSV:
		cw := csv.NewWriter(w)
		header := []string{"id", "timestamp", "actor", "action", "target", "outcome", "detail", "ip", "request_id"}
		if err := cw.Write(header); err != nil {
			return err
		}
		for _, e := range entries {
			row := []string{
				strconv.FormatInt(e.ID, 10),
				e.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
				e.Actor,
				string(e.Action),
				e.Target,
				string(e.Outcome),
				e.Detail,
				e.IP,
				e.RequestID,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}
