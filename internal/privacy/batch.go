package privacy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchAnonymize detects and anonymizes every text independently at
// opts.Sensitivity. A failing item carries its own error and never stops the
// rest. Results keep input order regardless of parallelism.
func (e *Engine) BatchAnonymize(ctx context.Context, texts []string, opts AnonymizeOptions) *BatchResult {
	start := time.Now()
	items := make([]BatchItem, len(texts))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, text := range texts {
		g.Go(func() error {
			items[i] = e.processItem(ctx, i, text, opts)
			return nil
		})
	}
	_ = g.Wait()

	result := &BatchResult{
		Results:      items,
		BatchSummary: summarizeBatch(items),
	}

	e.logger.Info("Batch anonymization completed",
		zap.Int("total_texts", result.BatchSummary.TotalTexts),
		zap.Int("successful", result.BatchSummary.Successful),
		zap.Int("failed", result.BatchSummary.Failed),
		zap.Int("total_detections", result.BatchSummary.TotalDetections),
		zap.Duration("duration", time.Since(start)),
	)

	return result
}

func (e *Engine) processItem(ctx context.Context, index int, text string, opts AnonymizeOptions) (item BatchItem) {
	item = BatchItem{Index: index, Original: text}
	defer func() {
		if r := recover(); r != nil {
			item.AnonymizationResult = nil
			item.Err = fmt.Errorf("item %d: %v", index, r)
		}
		if item.Err != nil {
			item.Error = item.Err.Error()
		}
		item.ProcessedAt = time.Now()
	}()

	if err := ctx.Err(); err != nil {
		item.Err = fmt.Errorf("batch cancelled: %w", err)
		return item
	}

	if len(text) > e.maxTextBytes {
		item.Err = fmt.Errorf("%w: %d bytes (limit %d)", ErrTextTooLarge, len(text), e.maxTextBytes)
		return item
	}

	level := opts.Sensitivity
	if level == "" {
		level = SensitivityMedium
	}
	detections := e.detector.Detect(text, level)
	item.AnonymizationResult = e.anonymizer.Anonymize(text, detections, opts)
	return item
}

func summarizeBatch(items []BatchItem) BatchSummary {
	summary := BatchSummary{TotalTexts: len(items)}
	if len(items) == 0 {
		return summary
	}

	first, last := items[0].ProcessedAt, items[0].ProcessedAt
	for _, item := range items {
		if item.AnonymizationResult != nil {
			summary.Successful++
			summary.TotalDetections += item.Detections
		} else {
			summary.Failed++
		}
		if item.ProcessedAt.Before(first) {
			first = item.ProcessedAt
		}
		if item.ProcessedAt.After(last) {
			last = item.ProcessedAt
		}
	}

	summary.AverageDetections = float64(summary.TotalDetections) / float64(len(items))
	summary.ProcessingTimeMS = last.Sub(first).Milliseconds()
	return summary
}
