// Package export renders plate sheets for processed batches and stores them
// as immutable artifacts in a blob store, asynchronously.
package export

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"helixcore/internal/blob"
	"helixcore/pkg/domain"
)

// SheetFormat identifies a plate sheet rendering.
type SheetFormat string

const (
	FormatCSV  SheetFormat = "csv"
	FormatJSON SheetFormat = "json"
)

// Status describes the lifecycle stage of an export request.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Record tracks one export request and its stored artifacts.
type Record struct {
	ID          string        `json:"id"`
	BatchCode   string        `json:"batch_code"`
	Formats     []SheetFormat `json:"formats"`
	Status      Status        `json:"status"`
	Error       string        `json:"error,omitempty"`
	Artifacts   []blob.Info   `json:"artifacts,omitempty"`
	RequestedBy string        `json:"requested_by"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Request enqueues a plate sheet export for one batch.
type Request struct {
	BatchCode   string
	Formats     []SheetFormat
	RequestedBy string
}

// BatchSource resolves batch records at render time.
type BatchSource interface {
	GetBatch(code string) (domain.Batch, bool)
}

// AuditEntry captures audit trail metadata for exports.
type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	BatchCode  string    `json:"batch_code"`
	Status     Status    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditLogger records export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MemoryAuditLog retains audit entries in memory.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record implements AuditLogger.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a copy of the recorded entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Worker renders and stores plate sheets asynchronously.
type Worker struct {
	source BatchSource
	store  blob.Store
	audit  AuditLogger

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	id      string
	request Request
}

// NewWorker constructs an export worker over the given batch source and
// blob store. The audit logger may be nil.
func NewWorker(source BatchSource, store blob.Store, audit AuditLogger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		source: source,
		store:  store,
		audit:  audit,
		queue:  make(chan task, 32),
		jobs:   make(map[string]*Record),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion or ctx expiry.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			w.process(t)
		}
	}
}

// Enqueue schedules a plate sheet export and returns the queued record.
func (w *Worker) Enqueue(ctx context.Context, req Request) (Record, error) {
	if strings.TrimSpace(req.BatchCode) == "" {
		return Record{}, fmt.Errorf("batch code required")
	}
	if _, ok := w.source.GetBatch(req.BatchCode); !ok {
		return Record{}, domain.NotFoundError{Entity: domain.EntityBatch, Key: req.BatchCode}
	}
	formats := req.Formats
	if len(formats) == 0 {
		formats = []SheetFormat{FormatCSV, FormatJSON}
	}
	uniq := make([]SheetFormat, 0, len(formats))
	seen := make(map[SheetFormat]struct{}, len(formats))
	for _, f := range formats {
		if f != FormatCSV && f != FormatJSON {
			return Record{}, fmt.Errorf("unknown sheet format %s", f)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		uniq = append(uniq, f)
	}

	id := newID()
	now := time.Now().UTC()
	record := Record{
		ID:          id,
		BatchCode:   req.BatchCode,
		Formats:     uniq,
		Status:      StatusQueued,
		RequestedBy: req.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[id] = &record
	snapshot := record.copy()
	w.mu.Unlock()

	if w.audit != nil {
		w.audit.Record(ctx, AuditEntry{
			ID:         newID(),
			Action:     "plate_sheet_export",
			Actor:      req.RequestedBy,
			BatchCode:  req.BatchCode,
			Status:     StatusQueued,
			OccurredAt: now,
		})
	}

	select {
	case w.queue <- task{id: id, request: req}:
	default:
		return Record{}, fmt.Errorf("export queue full")
	}
	return snapshot, nil
}

// Get returns a snapshot of the export record.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(t task) {
	w.update(t.id, StatusRunning, "", nil)

	batch, ok := w.source.GetBatch(t.request.BatchCode)
	if !ok {
		w.finish(t, StatusFailed, fmt.Sprintf("batch %s missing", t.request.BatchCode), nil)
		return
	}

	record, _ := w.Get(t.id)
	artifacts := make([]blob.Info, 0, len(record.Formats))
	for _, format := range record.Formats {
		payload, contentType, err := renderSheet(batch, format)
		if err != nil {
			w.finish(t, StatusFailed, err.Error(), nil)
			return
		}
		key := fmt.Sprintf("plates/%s/%s.sheet.%s", batch.Code, t.id, format)
		info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: contentType,
			Metadata:    map[string]string{"batch_code": batch.Code, "format": string(format)},
		})
		if err != nil {
			w.finish(t, StatusFailed, fmt.Sprintf("store artifact: %v", err), nil)
			return
		}
		artifacts = append(artifacts, info)
	}
	w.finish(t, StatusSucceeded, "", artifacts)
}

func (w *Worker) update(id string, status Status, errMsg string, artifacts []blob.Info) {
	w.mu.Lock()
	defer w.mu.Unlock()
	record, ok := w.jobs[id]
	if !ok {
		return
	}
	record.Status = status
	record.Error = errMsg
	record.UpdatedAt = time.Now().UTC()
	if artifacts != nil {
		record.Artifacts = artifacts
	}
	if status == StatusSucceeded || status == StatusFailed {
		done := record.UpdatedAt
		record.CompletedAt = &done
	}
}

func (w *Worker) finish(t task, status Status, errMsg string, artifacts []blob.Info) {
	w.update(t.id, status, errMsg, artifacts)
	if w.audit != nil {
		w.audit.Record(w.ctx, AuditEntry{
			ID:         newID(),
			Action:     "plate_sheet_export",
			Actor:      t.request.RequestedBy,
			BatchCode:  t.request.BatchCode,
			Status:     status,
			OccurredAt: time.Now().UTC(),
		})
	}
}

func (r *Record) copy() Record {
	out := *r
	out.Formats = append([]SheetFormat(nil), r.Formats...)
	out.Artifacts = append([]blob.Info(nil), r.Artifacts...)
	if r.CompletedAt != nil {
		done := *r.CompletedAt
		out.CompletedAt = &done
	}
	return out
}

// renderSheet materializes one plate sheet. The CSV form lists occupied
// wells row-major as well,content rows; the JSON form carries the batch
// header plus the full well map.
func renderSheet(batch domain.Batch, format SheetFormat) ([]byte, string, error) {
	switch format {
	case FormatCSV:
		var buf bytes.Buffer
		wr := csv.NewWriter(&buf)
		if err := wr.Write([]string{"well", "content"}); err != nil {
			return nil, "", err
		}
		for _, pos := range domain.WellPositions() {
			well, ok := batch.Wells[pos]
			if !ok {
				continue
			}
			content := well.SpecimenCode
			if well.IsControl() {
				content = string(well.Control)
			}
			if err := wr.Write([]string{pos, content}); err != nil {
				return nil, "", err
			}
		}
		wr.Flush()
		if err := wr.Error(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "text/csv", nil
	case FormatJSON:
		payload := struct {
			BatchCode   string                        `json:"batch_code"`
			Type        domain.BatchType              `json:"type"`
			Status      domain.BatchStatus            `json:"status"`
			Operator    string                        `json:"operator"`
			ProcessedAt time.Time                     `json:"processed_at"`
			Wells       map[string]domain.WellContent `json:"wells"`
		}{batch.Code, batch.Type, batch.Status, batch.Operator, batch.ProcessedAt, batch.Wells}
		raw, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return nil, "", err
		}
		return raw, "application/json", nil
	default:
		return nil, "", fmt.Errorf("unknown sheet format %s", format)
	}
}

func newID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("exp-%d", time.Now().UnixNano())
	}
	return "exp-" + hex.EncodeToString(b[:])
}
