package privacy

import (
	"strings"
	"testing"

	"github.com/medixscan/anonymizer/internal/policy"
)

func dates(n int, confidence float64) []Detection {
	out := make([]Detection, n)
	for i := range out {
		out[i] = Detection{
			Category:   policy.CategoryMedical,
			Type:       policy.TypeDates,
			Start:      i * 20,
			End:        i*20 + 10,
			Confidence: confidence,
		}
	}
	return out
}

func TestBuildInsights(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		e := New(DefaultPatternCatalog(), policy.DefaultCatalog())
		ins := e.Insights("")
		if ins.RiskLevel != RiskLow {
			t.Errorf("expected LOW risk, got %s", ins.RiskLevel)
		}
		if ins.ComplianceScore != 100 {
			t.Errorf("expected score 100, got %d", ins.ComplianceScore)
		}
		if len(ins.Recommendations) != 0 || len(ins.DetectionDetails) != 0 {
			t.Errorf("expected no recommendations or details, got %+v", ins)
		}
	})

	t.Run("six high confidence detections", func(t *testing.T) {
		ins := BuildInsights(dates(6, 0.85))
		if ins.RiskLevel != RiskHigh {
			t.Errorf("expected HIGH risk, got %s", ins.RiskLevel)
		}
		if ins.ComplianceScore != 0 {
			t.Errorf("expected score floored at 0, got %d", ins.ComplianceScore)
		}
	})

	t.Run("five high confidence detections", func(t *testing.T) {
		ins := BuildInsights(dates(5, 0.85))
		if ins.RiskLevel != RiskMedium {
			t.Errorf("expected MEDIUM risk, got %s", ins.RiskLevel)
		}
	})

	t.Run("critical type is high risk", func(t *testing.T) {
		ins := BuildInsights([]Detection{{
			Category:   policy.CategoryPersonal,
			Type:       policy.TypeIdentifiers,
			Start:      0,
			End:        11,
			Confidence: 0.55,
		}})
		if ins.RiskLevel != RiskHigh {
			t.Errorf("expected HIGH risk, got %s", ins.RiskLevel)
		}
		// 100 - 10 (personal) = 90, low band costs nothing.
		if ins.ComplianceScore != 90 {
			t.Errorf("expected score 90, got %d", ins.ComplianceScore)
		}
		if len(ins.Recommendations) != 1 || ins.Recommendations[0].Priority != "HIGH" {
			t.Errorf("expected the personal data recommendation, got %+v", ins.Recommendations)
		}
	})

	t.Run("volume recommendation", func(t *testing.T) {
		ins := BuildInsights(dates(11, 0.65))
		var found bool
		for _, r := range ins.Recommendations {
			if r.Priority == "MEDIUM" && strings.Contains(r.Message, "batch anonymization") {
				found = true
			}
		}
		if !found {
			t.Errorf("expected volume recommendation, got %+v", ins.Recommendations)
		}
	})

	t.Run("detail context truncated", func(t *testing.T) {
		det := Detection{
			Category:   policy.CategoryMedical,
			Type:       policy.TypeDates,
			Confidence: 0.9,
			Context:    Context{Full: strings.Repeat("é", 150)},
		}
		ins := BuildInsights([]Detection{det})
		if got := len([]rune(ins.DetectionDetails[0].Context)); got != 100 {
			t.Errorf("expected 100 runes of context, got %d", got)
		}
		if ins.DetectionDetails[0].Type != "medicalData.dates" {
			t.Errorf("unexpected detail type %s", ins.DetectionDetails[0].Type)
		}
	})
}

func TestSummarizeBands(t *testing.T) {
	s := Summarize([]Detection{
		{Category: policy.CategoryMedical, Type: policy.TypeDates, Confidence: 0.81},
		{Category: policy.CategoryMedical, Type: policy.TypeDates, Confidence: 0.8},
		{Category: policy.CategoryMedical, Type: policy.TypeDates, Confidence: 0.6},
	})
	if s.ConfidenceLevels.High != 1 || s.ConfidenceLevels.Medium != 1 || s.ConfidenceLevels.Low != 1 {
		t.Errorf("unexpected bands: %+v", s.ConfidenceLevels)
	}
	if s.ByType["medicalData.dates"] != 3 {
		t.Errorf("unexpected type counts: %v", s.ByType)
	}
}
