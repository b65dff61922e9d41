package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	cosmos "github.com/nebulalabs/cosmos"
)

// WriteCSV exports the event log. Each row is one logged event with its
// payload rendered as JSON; encoding/csv handles quoting, so payloads with
// commas or quotes survive a spreadsheet round trip.
func (l *Logger) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"seq", "time", "kind", "origin", "payload"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, entry := range l.Entries(0) {
		payload := ""
		if entry.Event.Payload != nil {
			data, err := json.Marshal(entry.Event.Payload)
			if err != nil {
				return fmt.Errorf("marshal %s payload: %w", entry.Event.Kind, err)
			}
			payload = string(data)
		}
		row := []string{
			strconv.FormatUint(entry.Event.Seq, 10),
			entry.Event.Time.Format(time.RFC3339Nano),
			string(entry.Event.Kind),
			entry.Event.Origin,
			payload,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteRecordsCSV exports the finalized generation records, one row per
// edition.
func (l *Logger) WriteRecordsCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{
		"edition", "seed", "traits", "rules", "rejections",
		"renders", "duration_ms", "hashes", "started_at", "completed_at",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, rec := range l.Records() {
		row := []string{
			strconv.Itoa(rec.Edition),
			rec.Seed,
			joinTraits(rec.Traits),
			strings.Join(rec.Rules, "; "),
			strconv.Itoa(rec.Rejections),
			joinRenders(rec.Renders),
			strconv.FormatFloat(rec.DurationMS, 'f', -1, 64),
			strings.Join(rec.Hashes, "; "),
			rec.StartedAt.Format(time.RFC3339Nano),
			formatCompleted(rec.CompletedAt),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func joinTraits(traits map[string]cosmos.TraitPick) string {
	parts := make([]string, 0, len(traits))
	for class := range traits {
		parts = append(parts, class)
	}
	sort.Strings(parts)
	for i, class := range parts {
		pick := traits[class]
		if pick.Reason != "" {
			parts[i] = fmt.Sprintf("%s=%s (%s)", class, pick.Value, pick.Reason)
		} else {
			parts[i] = fmt.Sprintf("%s=%s", class, pick.Value)
		}
	}
	return strings.Join(parts, "; ")
}

func joinRenders(renders map[string]int) string {
	names := make([]string, 0, len(renders))
	for name := range renders {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		names[i] = fmt.Sprintf("%s=%d", name, renders[name])
	}
	return strings.Join(names, "; ")
}

func formatCompleted(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
