package privacy

import (
	"fmt"

	"github.com/medixscan/anonymizer/internal/policy"
)

const detailContextRunes = 100

var criticalTypes = []string{
	policy.TypeKey(policy.CategoryPersonal, policy.TypeIdentifiers),
	policy.TypeKey(policy.CategoryPersonal, policy.TypeContactInfo),
}

// BuildInsights derives the risk report for a detection set.
func BuildInsights(detections []Detection) *Insights {
	summary := Summarize(detections)

	details := make([]DetectionDetail, 0, len(detections))
	for _, d := range detections {
		details = append(details, DetectionDetail{
			Type:       d.TypeKey(),
			Confidence: d.Confidence,
			Position:   Position{Start: d.Start, End: d.End},
			Context:    truncateRunes(d.Context.Full, detailContextRunes),
		})
	}

	return &Insights{
		RiskLevel:        riskLevel(summary),
		Recommendations:  recommendations(summary),
		ComplianceScore:  complianceScore(summary),
		DetectionDetails: details,
		Summary:          summary,
	}
}

func riskLevel(s Summary) RiskLevel {
	for _, key := range criticalTypes {
		if s.ByType[key] > 0 {
			return RiskHigh
		}
	}
	if s.ConfidenceLevels.High > 5 {
		return RiskHigh
	}
	if s.TotalDetections > 3 || s.ConfidenceLevels.Medium > 3 {
		return RiskMedium
	}
	return RiskLow
}

func recommendations(s Summary) []Recommendation {
	recs := make([]Recommendation, 0, 3)

	if s.ConfidenceLevels.High > 0 {
		recs = append(recs, Recommendation{
			Priority: "HIGH",
			Message:  fmt.Sprintf("%d high-confidence sensitive data items detected. Immediate anonymization recommended.", s.ConfidenceLevels.High),
		})
	}

	if s.ByCategory[string(policy.CategoryPersonal)] > 0 {
		recs = append(recs, Recommendation{
			Priority: "HIGH",
			Message:  "Personal data detected. Ensure compliance with HIPAA and privacy regulations.",
		})
	}

	if s.TotalDetections > 10 {
		recs = append(recs, Recommendation{
			Priority: "MEDIUM",
			Message:  "High volume of sensitive data detected. Consider batch anonymization processing.",
		})
	}

	return recs
}

func complianceScore(s Summary) int {
	score := 100
	score -= s.ByCategory[string(policy.CategoryPersonal)] * 10
	score -= s.ByCategory[string(policy.CategoryMedical)] * 5
	score -= s.ByCategory[string(policy.CategoryFinancial)] * 8
	score -= s.ConfidenceLevels.High * 15
	score -= s.ConfidenceLevels.Medium * 8

	if score < 0 {
		return 0
	}
	return score
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
