package privacy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/medixscan/anonymizer/internal/policy"
	"go.uber.org/zap"
)

func TestBatchAnonymize(t *testing.T) {
	texts := []string{
		"Patient: John Smith, DOB: 01/15/1980",
		"",
		strings.Repeat("x", 64),
		"contact john.smith@email.com",
		"nothing to see",
	}

	e := New(DefaultPatternCatalog(), policy.DefaultCatalog(),
		WithLogger(zap.NewNop()),
		WithMaxTextBytes(48),
		WithWorkers(3),
	)

	result := e.BatchAnonymize(context.Background(), texts, DefaultAnonymizeOptions())

	if len(result.Results) != len(texts) {
		t.Fatalf("expected %d results, got %d", len(texts), len(result.Results))
	}
	for i, item := range result.Results {
		if item.Index != i || item.Original != texts[i] {
			t.Errorf("result %d out of order: index %d", i, item.Index)
		}
		if item.ProcessedAt.IsZero() {
			t.Errorf("result %d has no processing time", i)
		}
	}

	oversized := result.Results[2]
	if oversized.AnonymizationResult != nil || !errors.Is(oversized.Err, ErrTextTooLarge) {
		t.Errorf("expected size error for item 2, got %+v", oversized)
	}
	if oversized.Error == "" {
		t.Error("expected error message on failed item")
	}

	if result.Results[0].AnonymizationResult == nil {
		t.Fatal("item 0 should succeed")
	}
	if result.Results[0].Detections < 2 {
		t.Errorf("expected name and date in item 0, got %d", result.Results[0].Detections)
	}
	if result.Results[1].AnonymizedText != "" || result.Results[1].Detections != 0 {
		t.Errorf("empty item should pass through, got %+v", result.Results[1])
	}

	s := result.BatchSummary
	if s.TotalTexts != 5 || s.Successful != 4 || s.Failed != 1 {
		t.Errorf("unexpected summary: %+v", s)
	}
	var total int
	for _, item := range result.Results {
		if item.AnonymizationResult != nil {
			total += item.Detections
		}
	}
	if s.TotalDetections != total {
		t.Errorf("total detections %d, want %d", s.TotalDetections, total)
	}
	if s.AverageDetections != float64(total)/5 {
		t.Errorf("average detections %f, want %f", s.AverageDetections, float64(total)/5)
	}
	if s.ProcessingTimeMS < 0 {
		t.Errorf("negative processing time %d", s.ProcessingTimeMS)
	}
}

func TestBatchAnonymizeEmpty(t *testing.T) {
	e := New(DefaultPatternCatalog(), policy.DefaultCatalog())
	result := e.BatchAnonymize(context.Background(), nil, DefaultAnonymizeOptions())
	if len(result.Results) != 0 || result.BatchSummary.TotalTexts != 0 {
		t.Errorf("unexpected result for empty batch: %+v", result)
	}
	if result.BatchSummary.AverageDetections != 0 {
		t.Errorf("expected zero average, got %f", result.BatchSummary.AverageDetections)
	}
}

func TestBatchAnonymizeCancelled(t *testing.T) {
	e := New(DefaultPatternCatalog(), policy.DefaultCatalog())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := e.BatchAnonymize(ctx, []string{"Patient: John Smith", "MRN: 12345"}, DefaultAnonymizeOptions())
	if result.BatchSummary.Failed != 2 {
		t.Fatalf("expected every item to fail after cancellation, got %+v", result.BatchSummary)
	}
	if !errors.Is(result.Results[0].Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", result.Results[0].Err)
	}
}

func TestBatchMatchesSingle(t *testing.T) {
	e := New(DefaultPatternCatalog(), policy.DefaultCatalog(), WithWorkers(4))
	opts := DefaultAnonymizeOptions()

	result := e.BatchAnonymize(context.Background(), sampleTexts, opts)
	for i, text := range sampleTexts {
		single := e.Anonymize(text, e.Detect(text, opts.Sensitivity), opts)
		if result.Results[i].AnonymizedText != single.AnonymizedText {
			t.Errorf("batch item %d differs from single run:\n%s\n%s", i, result.Results[i].AnonymizedText, single.AnonymizedText)
		}
	}
}
