package etl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/medixscan/anonymizer/internal/audit"
	"github.com/medixscan/anonymizer/internal/policy"
	"github.com/medixscan/anonymizer/internal/privacy"
)

const scenarioText = "Patient: John Smith, DOB: 01/15/1980, contact john.smith@email.com"

type fakeRecorder struct {
	entries []*audit.Entry
	err     error
}

func (f *fakeRecorder) RecordBatch(ctx context.Context, entries []*audit.Entry) (*audit.BatchInsertResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.entries = append(f.entries, entries...)
	return &audit.BatchInsertResult{Inserted: int64(len(entries))}, nil
}

func newTestEngine() *privacy.Engine {
	return privacy.New(privacy.DefaultPatternCatalog(), policy.DefaultCatalog(),
		privacy.WithMaxTextBytes(128),
		privacy.WithWorkers(2),
	)
}

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write input: %v", err)
	}
	return path
}

func readOutput(t *testing.T, buf *bytes.Buffer) []OutputRecord {
	t.Helper()
	var out []OutputRecord
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var rec OutputRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("Failed to decode output line %q: %v", scanner.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}

func TestPipelineProcessFile(t *testing.T) {
	lines := []string{
		`{"id":"a","text":"` + scenarioText + `"}`,
		`{"id":"b","text":"nothing to see"}`,
		`{"id":"c","text":"` + strings.Repeat("x", 200) + `"}`,
	}
	input := writeInput(t, "records.jsonl", strings.Join(lines, "\n"))

	recorder := &fakeRecorder{}
	p := NewPipeline(newTestEngine(), recorder, privacy.DefaultAnonymizeOptions(), Config{BatchSize: 2}, zap.NewNop())

	var buf bytes.Buffer
	result, err := p.ProcessFile(context.Background(), input, &buf)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}

	if result.TotalRecords != 3 || result.ProcessedOK != 2 || result.ProcessedFailed != 1 {
		t.Errorf("unexpected counts: %+v", result)
	}
	if result.Batches != 2 || result.TotalDetections != 3 {
		t.Errorf("expected 2 batches and 3 detections, got %+v", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "record c") {
		t.Errorf("unexpected errors: %v", result.Errors)
	}

	out := readOutput(t, &buf)
	if len(out) != 3 {
		t.Fatalf("expected 3 output lines, got %d", len(out))
	}
	want := "Patient: [PATIENT NAME], DOB: [DATE], contact [CONTACT EMAIL]"
	if out[0].ID != "a" || out[0].Row != 1 || out[0].AnonymizedText != want || out[0].Detections != 3 {
		t.Errorf("unexpected first record: %+v", out[0])
	}
	if out[1].AnonymizedText != "nothing to see" || out[1].Summary == nil {
		t.Errorf("unexpected second record: %+v", out[1])
	}
	if out[2].Row != 3 || out[2].Error == "" || out[2].AnonymizedText != "" {
		t.Errorf("oversized record should carry an error: %+v", out[2])
	}
	if strings.Contains(buf.String(), "John Smith") {
		t.Error("output leaks original text")
	}

	if len(recorder.entries) != 3 {
		t.Fatalf("expected 3 audit rows, got %d", len(recorder.entries))
	}
	for _, e := range recorder.entries {
		if e.RequestID != result.RequestID || e.Action != audit.ActionBatch {
			t.Errorf("unexpected audit entry: %+v", e)
		}
	}

	if stats := p.GetStats(); stats.RecordsRead != 3 || stats.AuditWrites != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPipelineCSVAndStrategy(t *testing.T) {
	input := writeInput(t, "records.csv", "id,text\n1,\""+scenarioText+"\"\n")

	opts := privacy.DefaultAnonymizeOptions()
	opts.Strategy = policy.StrategySuppression
	p := NewPipeline(newTestEngine(), nil, opts, Config{}, zap.NewNop())

	var buf bytes.Buffer
	result, err := p.ProcessFile(context.Background(), input, &buf)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if result.ProcessedOK != 1 {
		t.Fatalf("expected 1 record, got %+v", result)
	}

	out := readOutput(t, &buf)
	if out[0].Strategy != policy.StrategySuppression || strings.Contains(out[0].AnonymizedText, "john.smith") {
		t.Errorf("unexpected suppression output: %+v", out[0])
	}
}

func TestPipelineValidateOnly(t *testing.T) {
	input := writeInput(t, "records.jsonl", `{"text":"one"}`+"\n"+`{"text":"two"}`)

	recorder := &fakeRecorder{}
	p := NewPipeline(newTestEngine(), recorder, privacy.DefaultAnonymizeOptions(), Config{ValidateOnly: true}, zap.NewNop())

	var buf bytes.Buffer
	result, err := p.ProcessFile(context.Background(), input, &buf)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if result.TotalRecords != 2 || result.ProcessedOK != 0 {
		t.Errorf("unexpected validate-only counts: %+v", result)
	}
	if buf.Len() != 0 || len(recorder.entries) != 0 {
		t.Error("validate-only run should write nothing")
	}
}

func TestPipelineAuditFailureDoesNotStop(t *testing.T) {
	input := writeInput(t, "records.jsonl", `{"text":"`+scenarioText+`"}`)

	recorder := &fakeRecorder{err: errors.New("database unavailable")}
	p := NewPipeline(newTestEngine(), recorder, privacy.DefaultAnonymizeOptions(), Config{}, zap.NewNop())

	var buf bytes.Buffer
	result, err := p.ProcessFile(context.Background(), input, &buf)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if result.ProcessedOK != 1 || len(result.Errors) != 1 {
		t.Errorf("expected processed record with audit error, got %+v", result)
	}
}

func TestPipelineErrors(t *testing.T) {
	p := NewPipeline(newTestEngine(), nil, privacy.DefaultAnonymizeOptions(), Config{}, zap.NewNop())

	if _, err := p.ProcessFile(context.Background(), "records.xlsx", &bytes.Buffer{}); err == nil {
		t.Error("expected error for unsupported input format")
	}

	input := writeInput(t, "records.jsonl", `{"text":"one"}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.ProcessFile(ctx, input, &bytes.Buffer{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
