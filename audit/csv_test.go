package audit

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	cosmos "github.com/nebulalabs/cosmos"
)

func TestLogger_WriteCSV(t *testing.T) {
	b, l := newTestAudit(t)

	b.Emit(cosmos.TransportStarted{BPM: 128})
	b.Emit(cosmos.ProjectLoaded{Name: `piece "one", take 2`})

	var buf bytes.Buffer
	if err := l.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse exported csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3 (header + 2 events)", len(rows))
	}

	header := strings.Join(rows[0], ",")
	if header != "seq,time,kind,origin,payload" {
		t.Errorf("header = %q", header)
	}

	if rows[1][0] != "1" {
		t.Errorf("row 1 seq = %q, want 1", rows[1][0])
	}
	if rows[1][2] != string(cosmos.KindTransportStarted) {
		t.Errorf("row 1 kind = %q, want %q", rows[1][2], cosmos.KindTransportStarted)
	}
	if rows[1][3] != "proc-test" {
		t.Errorf("row 1 origin = %q, want proc-test", rows[1][3])
	}

	// Quotes and commas in the payload survive the round trip.
	if !strings.Contains(rows[2][4], `piece \"one\", take 2`) {
		t.Errorf("row 2 payload = %q, want project name preserved", rows[2][4])
	}
}

func TestLogger_WriteRecordsCSV(t *testing.T) {
	b, l := newTestAudit(t)

	b.Emit(cosmos.GenerationRequested{
		Edition: 7,
		Seed:    "0xBEEF",
		Traits: map[string]cosmos.TraitPick{
			"motion":  {Value: "drift", Reason: "low entropy"},
			"palette": {Value: "ember"},
		},
	})
	b.Emit(cosmos.RuleFired{Rule: "r1"})
	b.Emit(cosmos.RuleRejected{Rule: "r2", Reason: "locked"})
	b.Emit(cosmos.RenderStarted{Renderer: "shader"})
	b.Emit(cosmos.RenderStarted{Renderer: "shader"})
	b.Emit(cosmos.RenderStarted{Renderer: "sketch"})
	b.Emit(cosmos.GenerationCompleted{Edition: 7, DurationMS: 420, Hashes: []string{"ha", "hb"}})

	var buf bytes.Buffer
	if err := l.WriteRecordsCSV(&buf); err != nil {
		t.Fatalf("WriteRecordsCSV: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse exported csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (header + 1 record)", len(rows))
	}

	row := rows[1]
	if row[0] != "7" {
		t.Errorf("edition = %q, want 7", row[0])
	}
	if row[1] != "0xBEEF" {
		t.Errorf("seed = %q, want 0xBEEF", row[1])
	}
	// Trait classes come out alphabetically.
	if row[2] != "motion=drift (low entropy); palette=ember" {
		t.Errorf("traits = %q", row[2])
	}
	if row[3] != "r1" {
		t.Errorf("rules = %q, want r1", row[3])
	}
	if row[4] != "1" {
		t.Errorf("rejections = %q, want 1", row[4])
	}
	if row[5] != "shader=2; sketch=1" {
		t.Errorf("renders = %q", row[5])
	}
	if row[6] != "420" {
		t.Errorf("duration_ms = %q, want 420", row[6])
	}
	if row[7] != "ha; hb" {
		t.Errorf("hashes = %q, want %q", row[7], "ha; hb")
	}
	if row[9] == "" {
		t.Error("completed_at is empty for a finalized record")
	}
}
