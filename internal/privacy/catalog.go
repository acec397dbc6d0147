package privacy

import (
	"regexp"
	"strings"

	"github.com/medixscan/anonymizer/internal/policy"
)

// Sensitivity is the caller-chosen acceptance threshold name.
type Sensitivity string

const (
	SensitivityHigh   Sensitivity = "high"
	SensitivityMedium Sensitivity = "medium"
	SensitivityLow    Sensitivity = "low"
)

// ParseSensitivity resolves a level name. Unknown or empty names resolve to
// medium with ok set to false.
func ParseSensitivity(name string) (Sensitivity, bool) {
	switch s := Sensitivity(strings.ToLower(strings.TrimSpace(name))); s {
	case SensitivityHigh, SensitivityMedium, SensitivityLow:
		return s, true
	default:
		return SensitivityMedium, false
	}
}

// ScoringConfig holds the confidence heuristics. The defaults reproduce the
// historical scoring exactly; change them only when extending the catalog.
type ScoringConfig struct {
	ContextWindow    int      `json:"contextWindow"`
	ClueBoost        float64  `json:"clueBoost"`
	MedicalTermBoost float64  `json:"medicalTermBoost"`
	ConfidenceCap    float64  `json:"confidenceCap"`
	MedicalTerms     []string `json:"medicalTerms"`
	HighThreshold    float64  `json:"highThreshold"`
	MediumThreshold  float64  `json:"mediumThreshold"`
	LowThreshold     float64  `json:"lowThreshold"`
}

// DefaultScoring returns the built-in scoring constants.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		ContextWindow:    50,
		ClueBoost:        0.1,
		MedicalTermBoost: 0.05,
		ConfidenceCap:    0.99,
		MedicalTerms:     []string{"patient", "diagnosis", "treatment", "medical", "clinical", "doctor", "nurse"},
		HighThreshold:    0.9,
		MediumThreshold:  0.7,
		LowThreshold:     0.5,
	}
}

// Threshold returns the acceptance cutoff for a level.
func (s ScoringConfig) Threshold(level Sensitivity) float64 {
	switch level {
	case SensitivityHigh:
		return s.HighThreshold
	case SensitivityLow:
		return s.LowThreshold
	default:
		return s.MediumThreshold
	}
}

// PatternRule is one category/type entry of the pattern catalog.
type PatternRule struct {
	Category       policy.Category
	Type           policy.DataType
	Patterns       []*regexp.Regexp
	ContextClues   []string
	BaseConfidence float64
}

// PatternCatalog is the ordered set of pattern rules the detector scans.
type PatternCatalog struct {
	Rules []PatternRule
}

// Targets lists the category/type pairs the catalog can emit.
func (c *PatternCatalog) Targets() []policy.Target {
	targets := make([]policy.Target, 0, len(c.Rules))
	for _, r := range c.Rules {
		targets = append(targets, policy.Target{Category: r.Category, Type: r.Type})
	}
	return targets
}

// PatternCount returns the total number of compiled patterns.
func (c *PatternCatalog) PatternCount() int {
	n := 0
	for _, r := range c.Rules {
		n += len(r.Patterns)
	}
	return n
}

const monthNames = `January|February|March|April|May|June|July|August|September|October|November|December`

// DefaultPatternCatalog returns a fresh copy of the built-in pattern catalog.
func DefaultPatternCatalog() *PatternCatalog {
	return &PatternCatalog{Rules: []PatternRule{
		{
			Category: policy.CategoryPersonal,
			Type:     policy.TypeNames,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b[A-Z][a-z]{2,}\s+[A-Z][a-z]{2,}\b`),
				regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr|Professor)\.?\s+[A-Z][a-z]+\b`),
				regexp.MustCompile(`(?i)\bPatient:?\s*([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`),
				regexp.MustCompile(`(?i)\bName:?\s*([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`),
			},
			ContextClues:   []string{"patient", "name", "client", "individual", "person"},
			BaseConfidence: 0.85,
		},
		{
			Category: policy.CategoryPersonal,
			Type:     policy.TypeIdentifiers,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
				regexp.MustCompile(`\b[A-Z]{2}\d{6,}\b`),
				regexp.MustCompile(`(?i)\bMRN:?\s*(\d+)\b`),
				regexp.MustCompile(`(?i)\bID:?\s*([A-Z0-9]+)\b`),
				regexp.MustCompile(`\b\d{10,}\b`),
			},
			ContextClues:   []string{"ssn", "social security", "mrn", "medical record", "id", "identifier"},
			BaseConfidence: 0.95,
		},
		{
			Category: policy.CategoryPersonal,
			Type:     policy.TypeContactInfo,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`),
				regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?([0-9]{3})\)?[-.\s]?([0-9]{3})[-.\s]?([0-9]{4})\b`),
				regexp.MustCompile(`(?i)\b\d{1,5}\s+[A-Za-z0-9\s,]+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Drive|Dr|Lane|Ln)\b`),
			},
			ContextClues:   []string{"phone", "email", "address", "contact", "street", "avenue"},
			BaseConfidence: 0.9,
		},
		{
			Category: policy.CategoryMedical,
			Type:     policy.TypeDates,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b(?:0?[1-9]|1[0-2])/(?:0?[1-9]|[12][0-9]|3[01])/(?:19|20)\d{2}\b`),
				regexp.MustCompile(`\b(?:0?[1-9]|[12][0-9]|3[01])[-/](?:0?[1-9]|1[0-2])[-/](?:19|20)\d{2}\b`),
				regexp.MustCompile(`(?i)\b(?:` + monthNames + `)\s+\d{1,2},?\s+\d{4}\b`),
				regexp.MustCompile(`(?i)\bDOB:?\s*([0-9/\-]+)`),
				regexp.MustCompile(`(?i)\b(?:born|birth)\s+(?:on\s+)?([0-9/\-]+)`),
			},
			ContextClues:   []string{"date", "birth", "dob", "born", "admission", "discharge"},
			BaseConfidence: 0.88,
		},
		{
			Category: policy.CategoryMedical,
			Type:     policy.TypeLocations,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b[A-Z][a-z]+\s+(?:Hospital|Medical Center|Clinic|Health System)\b`),
				regexp.MustCompile(`\b\d+\s+[A-Z][a-z]+\s+(?:Street|Ave|Road|Drive|Way)\b`),
				regexp.MustCompile(`(?i)\bRoom\s+\d+[A-Z]?\b`),
				regexp.MustCompile(`(?i)\bUnit\s+\d+\b`),
				regexp.MustCompile(`(?i)\bFloor\s+\d+\b`),
			},
			ContextClues:   []string{"hospital", "clinic", "room", "unit", "floor", "ward"},
			BaseConfidence: 0.8,
		},
		{
			Category: policy.CategoryMedical,
			Type:     policy.TypeProviders,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\bDr\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*`),
				regexp.MustCompile(`\b(?:Doctor|Physician|Nurse|Therapist)\s+[A-Z][a-z]+\b`),
				regexp.MustCompile(`(?i)\bAttending:?\s*([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`),
				regexp.MustCompile(`(?i)\bResident:?\s*([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`),
			},
			ContextClues:   []string{"doctor", "physician", "nurse", "attending", "resident"},
			BaseConfidence: 0.82,
		},
		{
			Category: policy.CategoryFinancial,
			Type:     policy.TypeInsurance,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b[A-Z]{2,4}\d{8,12}\b`),
				regexp.MustCompile(`(?i)\bPolicy:?\s*([A-Z0-9]+)`),
				regexp.MustCompile(`(?i)\bGroup:?\s*([A-Z0-9]+)`),
				regexp.MustCompile(`(?i)\bMember:?\s*([A-Z0-9]+)`),
			},
			ContextClues:   []string{"insurance", "policy", "group", "member", "coverage"},
			BaseConfidence: 0.85,
		},
	}}
}
