package audit

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when no request is stored under an id
var ErrNotFound = errors.New("anonymization request not found")

// Status is the processing state of a stored request
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Action names an audited operation
type Action string

const (
	ActionAnonymize Action = "anonymize"
	ActionAnalyze   Action = "analyze"
	ActionBatch     Action = "batch"
	ActionExport    Action = "export"
	ActionIngest    Action = "ingest"
)

// Request is a stored anonymization result. The original text is kept only
// as a digest and a length.
type Request struct {
	RequestID       string          `db:"request_id" json:"requestId"`
	Status          Status          `db:"status" json:"status"`
	Sensitivity     string          `db:"sensitivity" json:"sensitivity"`
	Framework       string          `db:"framework" json:"framework"`
	Strategy        string          `db:"strategy" json:"strategy"`
	TextSHA256      string          `db:"text_sha256" json:"textSha256"`
	TextLength      int             `db:"text_length" json:"textLength"`
	AnonymizedText  string          `db:"anonymized_text" json:"anonymizedText"`
	Summary         json.RawMessage `db:"summary" json:"summary,omitempty"`
	RiskLevel       string          `db:"risk_level" json:"riskLevel"`
	ComplianceScore int             `db:"compliance_score" json:"complianceScore"`
	DetectionsCount int             `db:"detections_count" json:"detectionsCount"`
	ProcessingMS    int64           `db:"processing_ms" json:"processingMs"`
	ClientIP        string          `db:"client_ip" json:"clientIp,omitempty"`
	UserAgent       string          `db:"user_agent" json:"userAgent,omitempty"`
	Error           string          `db:"error" json:"error,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	ProcessedAt     *time.Time      `db:"processed_at" json:"processedAt,omitempty"`
}

// Entry is one row of the audit log
type Entry struct {
	ID        string          `db:"id" json:"id"`
	RequestID string          `db:"request_id" json:"requestId"`
	Action    Action          `db:"action" json:"action"`
	UserID    string          `db:"user_id" json:"userId,omitempty"`
	ClientIP  string          `db:"client_ip" json:"clientIp,omitempty"`
	Details   json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// Filter selects audit log rows. Zero fields match everything.
type Filter struct {
	Action Action
	UserID string
	Since  time.Time
	Limit  int
}

// Stats summarizes stored requests and audit activity
type Stats struct {
	TotalRequests      int64            `json:"totalRequests"`
	CompletedRequests  int64            `json:"completedRequests"`
	FailedRequests     int64            `json:"failedRequests"`
	TotalDetections    int64            `json:"totalDetections"`
	AvgComplianceScore float64          `json:"avgComplianceScore"`
	AvgProcessingMS    float64          `json:"avgProcessingMs"`
	ByAction           map[string]int64 `json:"byAction"`
	ByRiskLevel        map[string]int64 `json:"byRiskLevel"`
}

// BatchInsertResult represents the result of a batch insert operation
type BatchInsertResult struct {
	Inserted int64         `json:"inserted"`
	Failed   int64         `json:"failed"`
	Duration time.Duration `json:"duration"`
	Errors   []error       `json:"-"`
}
