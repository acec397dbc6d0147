package privacy

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

// confidenceTie is the distance under which two confidences are ordered by
// position instead. Implementations sharing this band resolve the same
// overlaps the same way.
const confidenceTie = 0.01

// Detector scans text against a pattern catalog.
type Detector struct {
	catalog *PatternCatalog
	scoring ScoringConfig
}

// NewDetector creates a detector over catalog.
func NewDetector(catalog *PatternCatalog, scoring ScoringConfig) *Detector {
	return &Detector{catalog: catalog, scoring: scoring}
}

// Detect returns the non-overlapping detections in text accepted at level,
// ordered by start offset.
func (d *Detector) Detect(text string, level Sensitivity) []Detection {
	if text == "" {
		return []Detection{}
	}

	threshold := d.scoring.Threshold(level)
	candidates := make([]Detection, 0)

	for _, rule := range d.catalog.Rules {
		for index, pattern := range rule.Patterns {
			for _, loc := range pattern.FindAllStringIndex(text, -1) {
				start, end := loc[0], loc[1]
				if start == end {
					continue
				}

				detection := Detection{
					Category:     rule.Category,
					Type:         rule.Type,
					Value:        text[start:end],
					Start:        start,
					End:          end,
					Method:       MethodPattern,
					PatternIndex: index,
					Context:      extractContext(text, start, end, d.scoring.ContextWindow),
				}
				detection.Confidence = d.enhanceConfidence(rule.BaseConfidence, rule.ContextClues, detection.Context)

				if detection.Confidence >= threshold {
					candidates = append(candidates, detection)
				}
			}
		}
	}

	return resolveOverlaps(candidates)
}

// extractContext returns the lowercase window of up to window characters on
// each side of text[start:end].
func extractContext(text string, start, end, window int) Context {
	from := start
	for i := 0; i < window && from > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(text[:from])
		from -= size
	}

	to := end
	for i := 0; i < window && to < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[to:])
		to += size
	}

	return Context{
		Before: strings.ToLower(text[from:start]),
		After:  strings.ToLower(text[end:to]),
		Full:   strings.ToLower(text[from:to]),
	}
}

// enhanceConfidence adds the clue boost for every clue found beside the match
// and the medical-term boost for every term inside the window, capping after
// each addition.
func (d *Detector) enhanceConfidence(base float64, clues []string, ctx Context) float64 {
	confidence := base

	for _, clue := range clues {
		clue = strings.ToLower(clue)
		if strings.Contains(ctx.Before, clue) || strings.Contains(ctx.After, clue) {
			confidence = math.Min(d.scoring.ConfidenceCap, confidence+d.scoring.ClueBoost)
		}
	}

	for _, term := range d.scoring.MedicalTerms {
		if strings.Contains(ctx.Full, term) {
			confidence = math.Min(d.scoring.ConfidenceCap, confidence+d.scoring.MedicalTermBoost)
		}
	}

	return confidence
}

// resolveOverlaps keeps the highest-confidence, then earliest, candidate of
// every overlapping group and returns the survivors ordered by start.
func resolveOverlaps(candidates []Detection) []Detection {
	ranked := make([]Detection, len(candidates))
	copy(ranked, candidates)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if math.Abs(a.Confidence-b.Confidence) > confidenceTie {
			return a.Confidence > b.Confidence
		}
		return a.Start < b.Start
	})

	accepted := make([]Detection, 0, len(ranked))
	for _, candidate := range ranked {
		overlapping := false
		for _, existing := range accepted {
			if candidate.overlaps(existing) {
				overlapping = true
				break
			}
		}
		if !overlapping {
			accepted = append(accepted, candidate)
		}
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Start < accepted[j].Start
	})
	return accepted
}
