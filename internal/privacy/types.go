package privacy

import (
	"time"

	"github.com/medixscan/anonymizer/internal/policy"
)

// MethodPattern marks detections produced by regex scanning.
const MethodPattern = "pattern"

// Context is the lowercase text window around a detection.
type Context struct {
	Before string `json:"before"`
	After  string `json:"after"`
	Full   string `json:"full"`
}

// Detection is a located, classified span of sensitive text. Start and End
// are byte offsets into the scanned string, End exclusive.
type Detection struct {
	Category     policy.Category `json:"category"`
	Type         policy.DataType `json:"type"`
	Value        string          `json:"value"`
	Start        int             `json:"start"`
	End          int             `json:"end"`
	Confidence   float64         `json:"confidence"`
	Method       string          `json:"method"`
	PatternIndex int             `json:"patternIndex"`
	Context      Context         `json:"context"`
}

// TypeKey returns the "category.type" key of the detection.
func (d Detection) TypeKey() string {
	return policy.TypeKey(d.Category, d.Type)
}

func (d Detection) overlaps(o Detection) bool {
	return d.Start < o.End && d.End > o.Start
}

// ConfidenceLevels counts detections by confidence band.
type ConfidenceLevels struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Summary tallies a detection set.
type Summary struct {
	TotalDetections  int              `json:"totalDetections"`
	ByCategory       map[string]int   `json:"byCategory"`
	ByType           map[string]int   `json:"byType"`
	ConfidenceLevels ConfidenceLevels `json:"confidenceLevels"`
}

// AnonymizeOptions control a single rewrite.
type AnonymizeOptions struct {
	PreserveStructure        bool            `json:"preserveStructure"`
	UseContextualReplacement bool            `json:"useContextualReplacement"`
	AnonymizationLevel       string          `json:"anonymizationLevel"`
	Strategy                 policy.Strategy `json:"strategy,omitempty"`
	// Sensitivity is the detection level used when the engine detects on the
	// caller's behalf (batch runs).
	Sensitivity Sensitivity `json:"sensitivity,omitempty"`
}

// DefaultAnonymizeOptions returns the options used when a caller sets none.
func DefaultAnonymizeOptions() AnonymizeOptions {
	return AnonymizeOptions{
		PreserveStructure:        true,
		UseContextualReplacement: true,
		AnonymizationLevel:       "medium",
		Strategy:                 policy.StrategyReplacement,
		Sensitivity:              SensitivityMedium,
	}
}

// AnonymizationResult is the outcome of one rewrite.
type AnonymizationResult struct {
	AnonymizedText     string          `json:"anonymizedText"`
	Summary            Summary         `json:"summary"`
	Detections         int             `json:"detections"`
	PreservedStructure bool            `json:"preservedStructure"`
	Level              string          `json:"anonymizationLevel"`
	Strategy           policy.Strategy `json:"strategy"`
	// Skipped counts supplied detections that were out of bounds or
	// overlapped one already applied.
	Skipped int `json:"skipped,omitempty"`
}

// RiskLevel is the aggregate triage level of a text.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "HIGH"
	RiskMedium RiskLevel = "MEDIUM"
	RiskLow    RiskLevel = "LOW"
)

// Recommendation is a prioritized, human-readable hint.
type Recommendation struct {
	Priority string `json:"priority"`
	Message  string `json:"message"`
}

// Position is a byte span.
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// DetectionDetail is the reporting view of a detection.
type DetectionDetail struct {
	Type       string   `json:"type"`
	Confidence float64  `json:"confidence"`
	Position   Position `json:"position"`
	Context    string   `json:"context"`
}

// Insights is the derived risk report for a text.
type Insights struct {
	RiskLevel        RiskLevel         `json:"riskLevel"`
	Recommendations  []Recommendation  `json:"recommendations"`
	ComplianceScore  int               `json:"complianceScore"`
	DetectionDetails []DetectionDetail `json:"detectionDetails"`
	Summary          Summary           `json:"summary"`
}

// BatchItem is the result for one text of a batch. Failed items carry Error
// and a nil AnonymizationResult.
type BatchItem struct {
	Index    int    `json:"index"`
	Original string `json:"original"`
	*AnonymizationResult
	ProcessedAt time.Time `json:"processedAt"`
	Error       string    `json:"error,omitempty"`
	Err         error     `json:"-"`
}

// BatchSummary aggregates a batch run.
type BatchSummary struct {
	TotalTexts        int     `json:"totalTexts"`
	Successful        int     `json:"successful"`
	Failed            int     `json:"failed"`
	TotalDetections   int     `json:"totalDetections"`
	AverageDetections float64 `json:"averageDetections"`
	ProcessingTimeMS  int64   `json:"processingTime"`
}

// BatchResult is the outcome of BatchAnonymize, results in input order.
type BatchResult struct {
	Results      []BatchItem  `json:"results"`
	BatchSummary BatchSummary `json:"batchSummary"`
}
