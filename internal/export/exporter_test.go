package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"helixcore/internal/blob"
	"helixcore/pkg/domain"
)

type staticBatches map[string]domain.Batch

func (s staticBatches) GetBatch(code string) (domain.Batch, bool) {
	b, ok := s[code]
	return b, ok
}

func sampleBatch() domain.Batch {
	src := "A25_006"
	return domain.Batch{
		Code:        "A25_007",
		Type:        domain.BatchAmplification,
		Status:      domain.BatchStatusActive,
		Operator:    "lab-tech-1",
		ProcessedAt: time.Date(2025, 6, 13, 8, 0, 0, 0, time.UTC),
		Wells: map[string]domain.WellContent{
			"A1":  {Control: domain.ControlAllelicLadder},
			"A2":  {Control: domain.ControlPositive},
			"A3":  {SpecimenCode: "25_420"},
			"A4":  {SpecimenCode: "25_421"},
			"H12": {Control: domain.ControlNegative},
		},
		SpecimenCount:   2,
		SourceBatchCode: &src,
	}
}

func waitForRecord(t *testing.T, w *Worker, id string) Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, ok := w.Get(id)
		if !ok {
			t.Fatalf("record %s disappeared", id)
		}
		if record.Status == StatusSucceeded || record.Status == StatusFailed {
			return record
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("export %s did not finish", id)
	return Record{}
}

func TestExportProducesArtifacts(t *testing.T) {
	store := blob.NewMemory()
	audit := &MemoryAuditLog{}
	worker := NewWorker(staticBatches{"A25_007": sampleBatch()}, store, audit)
	worker.Start()
	defer func() { _ = worker.Stop(context.Background()) }()

	record, err := worker.Enqueue(context.Background(), Request{BatchCode: "A25_007", RequestedBy: "analyst-1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if record.Status != StatusQueued {
		t.Fatalf("queued status %s", record.Status)
	}

	done := waitForRecord(t, worker, record.ID)
	if done.Status != StatusSucceeded {
		t.Fatalf("status %s error %q", done.Status, done.Error)
	}
	if len(done.Artifacts) != 2 {
		t.Fatalf("expected csv and json artifacts, got %d", len(done.Artifacts))
	}
	if done.CompletedAt == nil {
		t.Fatal("completed timestamp missing")
	}

	entries := audit.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected queued and finished audit entries, got %d", len(entries))
	}
	if entries[0].Status != StatusQueued || entries[1].Status != StatusSucceeded {
		t.Fatalf("audit statuses %s, %s", entries[0].Status, entries[1].Status)
	}

	infos, err := store.List(context.Background(), "plates/A25_007/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 stored artifacts, got %d", len(infos))
	}
}

func TestCSVSheetRowMajor(t *testing.T) {
	payload, contentType, err := renderSheet(sampleBatch(), FormatCSV)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if contentType != "text/csv" {
		t.Fatalf("content type %q", contentType)
	}
	records, err := csv.NewReader(strings.NewReader(string(payload))).ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := [][]string{
		{"well", "content"},
		{"A1", "allelic_ladder"},
		{"A2", "positive_control"},
		{"A3", "25_420"},
		{"A4", "25_421"},
		{"H12", "negative_control"},
	}
	if len(records) != len(want) {
		t.Fatalf("rows %v", records)
	}
	for i, row := range want {
		if records[i][0] != row[0] || records[i][1] != row[1] {
			t.Fatalf("row %d: %v, want %v", i, records[i], row)
		}
	}
}

func TestJSONSheetCarriesLayout(t *testing.T) {
	payload, contentType, err := renderSheet(sampleBatch(), FormatJSON)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if contentType != "application/json" {
		t.Fatalf("content type %q", contentType)
	}
	var decoded struct {
		BatchCode string                        `json:"batch_code"`
		Wells     map[string]domain.WellContent `json:"wells"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.BatchCode != "A25_007" {
		t.Fatalf("batch code %q", decoded.BatchCode)
	}
	if decoded.Wells["A3"].SpecimenCode != "25_420" {
		t.Fatalf("wells %+v", decoded.Wells)
	}
}

func TestEnqueueUnknownBatch(t *testing.T) {
	worker := NewWorker(staticBatches{}, blob.NewMemory(), nil)
	_, err := worker.Enqueue(context.Background(), Request{BatchCode: "A25_404"})
	var notFound domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestEnqueueValidatesFormats(t *testing.T) {
	worker := NewWorker(staticBatches{"A25_007": sampleBatch()}, blob.NewMemory(), nil)
	if _, err := worker.Enqueue(context.Background(), Request{BatchCode: "A25_007", Formats: []SheetFormat{"pdf"}}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestStopWaitsForWorker(t *testing.T) {
	worker := NewWorker(staticBatches{"A25_007": sampleBatch()}, blob.NewMemory(), nil)
	worker.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := worker.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestArtifactPayloadReadable(t *testing.T) {
	store := blob.NewMemory()
	worker := NewWorker(staticBatches{"A25_007": sampleBatch()}, store, nil)
	worker.Start()
	defer func() { _ = worker.Stop(context.Background()) }()

	record, err := worker.Enqueue(context.Background(), Request{BatchCode: "A25_007", Formats: []SheetFormat{FormatCSV}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitForRecord(t, worker, record.ID)
	if done.Status != StatusSucceeded || len(done.Artifacts) != 1 {
		t.Fatalf("record %+v", done)
	}

	_, rc, err := store.Get(context.Background(), done.Artifacts[0].Key)
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	defer func() { _ = rc.Close() }()
	payload, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(string(payload), "well,content") {
		t.Fatalf("payload %q", payload)
	}
}
