package etl

import (
	"time"

	"github.com/medixscan/anonymizer/internal/policy"
	"github.com/medixscan/anonymizer/internal/privacy"
)

// OutputRecord is one line of the batch output file. The original text is
// never written.
type OutputRecord struct {
	ID             string           `json:"id"`
	Row            int64            `json:"row"`
	AnonymizedText string           `json:"anonymizedText,omitempty"`
	Summary        *privacy.Summary `json:"summary,omitempty"`
	Detections     int              `json:"detections"`
	Strategy       policy.Strategy  `json:"strategy,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// ProcessingResult represents the result of processing a batch file
type ProcessingResult struct {
	RequestID       string        `json:"request_id"`
	TotalRecords    int64         `json:"total_records"`
	ProcessedOK     int64         `json:"processed_ok"`
	ProcessedFailed int64         `json:"processed_failed"`
	Skipped         int64         `json:"skipped"`
	TotalDetections int64         `json:"total_detections"`
	Batches         int64         `json:"batches"`
	Duration        time.Duration `json:"duration"`
	AnonymizeTime   time.Duration `json:"anonymize_time"`
	AuditTime       time.Duration `json:"audit_time"`
	Errors          []string      `json:"errors,omitempty"`
}

// Config contains batch pipeline configuration
type Config struct {
	BatchSize      int  `yaml:"batch_size" mapstructure:"batch_size"`           // 500
	ValidateOnly   bool `yaml:"validate_only" mapstructure:"validate_only"`     // false
	ProgressReport int  `yaml:"progress_report" mapstructure:"progress_report"` // 1000
	MaxErrors      int  `yaml:"max_errors" mapstructure:"max_errors"`           // 100
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.ProgressReport <= 0 {
		c.ProgressReport = 1000
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = 100
	}
	return c
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsFailed  int64     `json:"records_failed"`
	Detections     int64     `json:"detections"`
	AuditWrites    int64     `json:"audit_writes"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}
