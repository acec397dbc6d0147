package etl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medixscan/anonymizer/internal/audit"
	"github.com/medixscan/anonymizer/internal/ingest"
	"github.com/medixscan/anonymizer/internal/privacy"
)

// AuditRecorder persists audit rows for processed records
type AuditRecorder interface {
	RecordBatch(ctx context.Context, entries []*audit.Entry) (*audit.BatchInsertResult, error)
}

// Pipeline streams batch input files through the anonymization engine
type Pipeline struct {
	engine   *privacy.Engine
	recorder AuditRecorder
	options  privacy.AnonymizeOptions
	config   Config
	logger   *zap.Logger
	stats    *ProcessingStats
	mu       sync.RWMutex
}

// NewPipeline creates a new batch pipeline. recorder may be nil.
func NewPipeline(
	engine *privacy.Engine,
	recorder AuditRecorder,
	options privacy.AnonymizeOptions,
	config Config,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		engine:   engine,
		recorder: recorder,
		options:  options,
		config:   config.withDefaults(),
		logger:   logger,
		stats: &ProcessingStats{
			StartTime: time.Now(),
		},
	}
}

// ProcessFile anonymizes every record of a CSV, JSON lines or Parquet file
// and writes one JSON line per record to out. In validate-only mode records
// are read and counted but nothing is anonymized or written.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath string, out io.Writer) (*ProcessingResult, error) {
	start := time.Now()
	result := &ProcessingResult{RequestID: uuid.NewString()}

	reader, err := ingest.OpenRecords(inputPath, p.logger)
	if err != nil {
		return result, fmt.Errorf("failed to open input: %w", err)
	}
	defer reader.Close()

	p.logger.Info("Starting batch pipeline",
		zap.String("request_id", result.RequestID),
		zap.String("file", inputPath),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Bool("validate_only", p.config.ValidateOnly),
		zap.String("sensitivity", string(p.options.Sensitivity)),
		zap.String("strategy", string(p.options.Strategy)))

	p.resetStats()
	encoder := json.NewEncoder(out)

	for {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}

		batch, err := reader.ReadBatch(p.config.BatchSize)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			result.Skipped = int64(reader.Skipped())
			result.Duration = time.Since(start)
			return result, fmt.Errorf("failed to read batch: %w", err)
		}

		result.Batches++
		if p.config.ValidateOnly {
			result.TotalRecords += int64(len(batch))
			p.updateStats(int64(len(batch)), 0, 0, 0)
			continue
		}

		if err := p.processBatch(ctx, batch, result, encoder); err != nil {
			result.Skipped = int64(reader.Skipped())
			result.Duration = time.Since(start)
			return result, err
		}

		if result.TotalRecords%int64(p.config.ProgressReport) < int64(len(batch)) {
			p.reportProgress(result)
		}
	}

	result.Skipped = int64(reader.Skipped())
	result.Duration = time.Since(start)

	p.logger.Info("Batch pipeline completed",
		zap.String("request_id", result.RequestID),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("total_detections", result.TotalDetections),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("anonymize_time", result.AnonymizeTime),
		zap.Duration("audit_time", result.AuditTime))

	return result, nil
}

// processBatch anonymizes one batch, writes its output lines and records
// its audit rows
func (p *Pipeline) processBatch(ctx context.Context, batch []ingest.Record, result *ProcessingResult, encoder *json.Encoder) error {
	texts := make([]string, len(batch))
	for i, rec := range batch {
		texts[i] = rec.Text
	}

	anonymizeStart := time.Now()
	batchResult := p.engine.BatchAnonymize(ctx, texts, p.options)
	result.AnonymizeTime += time.Since(anonymizeStart)

	entries := make([]*audit.Entry, 0, len(batch))
	var failed, detections int64
	for i, item := range batchResult.Results {
		row := result.TotalRecords + int64(i) + 1
		line := OutputRecord{ID: batch[i].ID, Row: row}

		if item.Err != nil || item.AnonymizationResult == nil {
			line.Error = item.Error
			failed++
			if len(result.Errors) < p.config.MaxErrors {
				result.Errors = append(result.Errors, fmt.Sprintf("record %s: %s", batch[i].ID, item.Error))
			}
		} else {
			summary := item.Summary
			line.AnonymizedText = item.AnonymizedText
			line.Summary = &summary
			line.Detections = item.Detections
			line.Strategy = item.Strategy
			detections += int64(item.Detections)
		}

		if err := encoder.Encode(line); err != nil {
			return fmt.Errorf("failed to write output record %s: %w", line.ID, err)
		}

		if p.recorder != nil {
			entries = append(entries, auditEntry(result.RequestID, line))
		}
	}

	result.TotalRecords += int64(len(batch))
	result.ProcessedFailed += failed
	result.ProcessedOK += int64(len(batch)) - failed
	result.TotalDetections += detections

	var writes int64
	if p.recorder != nil && len(entries) > 0 {
		auditStart := time.Now()
		inserted, err := p.recorder.RecordBatch(ctx, entries)
		result.AuditTime += time.Since(auditStart)
		if err != nil {
			p.logger.Error("Failed to record audit rows", zap.Int("rows", len(entries)), zap.Error(err))
			if len(result.Errors) < p.config.MaxErrors {
				result.Errors = append(result.Errors, err.Error())
			}
		} else {
			writes = inserted.Inserted
		}
	}

	p.updateStats(int64(len(batch)), failed, detections, writes)

	p.logger.Debug("Batch processed",
		zap.Int("batch_size", len(batch)),
		zap.Int64("failed", failed),
		zap.Int64("detections", detections),
		zap.Int64("audit_rows", writes))

	return nil
}

func auditEntry(requestID string, line OutputRecord) *audit.Entry {
	details := map[string]any{
		"recordId":        line.ID,
		"row":             line.Row,
		"detectionsCount": line.Detections,
	}
	if line.Strategy != "" {
		details["strategy"] = line.Strategy
	}
	if line.Error != "" {
		details["error"] = line.Error
	}
	data, _ := json.Marshal(details)

	return &audit.Entry{
		RequestID: requestID,
		Action:    audit.ActionBatch,
		UserID:    "batch-cli",
		Details:   data,
	}
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	stats := p.GetStats()
	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Float64("rate_per_sec", stats.ProcessingRate),
		zap.Duration("elapsed", time.Since(stats.StartTime)))
}

func (p *Pipeline) updateStats(read, failed, detections, writes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.RecordsRead += read
	p.stats.RecordsFailed += failed
	p.stats.Detections += detections
	p.stats.AuditWrites += writes
	p.stats.CurrentBatch++
	if elapsed := time.Since(p.stats.StartTime).Seconds(); elapsed > 0 {
		p.stats.ProcessingRate = float64(p.stats.RecordsRead) / elapsed
	}
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	return &stats
}
