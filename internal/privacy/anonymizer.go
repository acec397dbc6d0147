package privacy

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/medixscan/anonymizer/internal/policy"
)

const (
	// GenericToken replaces every detection when contextual replacement is off.
	GenericToken = "[REDACTED]"
	// FallbackToken is used when no rule level matches a detection.
	FallbackToken = "[SENSITIVE DATA]"
)

var (
	bracketStripper = strings.NewReplacer("[", "", "]", "")
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// Anonymizer rewrites text according to a rule catalog.
type Anonymizer struct {
	rules *policy.Catalog
}

// NewAnonymizer creates an anonymizer over rules.
func NewAnonymizer(rules *policy.Catalog) *Anonymizer {
	return &Anonymizer{rules: rules}
}

// Anonymize replaces every detection span in text. The caller's slice is not
// modified. Text outside the applied spans is copied unchanged.
func (a *Anonymizer) Anonymize(text string, detections []Detection, opts AnonymizeOptions) *AnonymizationResult {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = policy.StrategyReplacement
	}

	ordered := make([]Detection, 0, len(detections))
	skipped := 0
	for _, d := range detections {
		if !validSpan(text, d) {
			skipped++
			continue
		}
		ordered = append(ordered, d)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start > ordered[j].Start
	})

	// Right to left: a span is applied only if it ends before the last
	// applied span starts.
	applied := make([]Detection, 0, len(ordered))
	replacements := make([]string, 0, len(ordered))
	limit := len(text)
	for _, d := range ordered {
		if d.End > limit {
			skipped++
			continue
		}
		applied = append(applied, d)
		replacements = append(replacements, a.replacement(text[d.Start:d.End], d, strategy, opts))
		limit = d.Start
	}

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for i := len(applied) - 1; i >= 0; i-- {
		b.WriteString(text[cursor:applied[i].Start])
		b.WriteString(replacements[i])
		cursor = applied[i].End
	}
	b.WriteString(text[cursor:])

	return &AnonymizationResult{
		AnonymizedText:     b.String(),
		Summary:            Summarize(applied),
		Detections:         len(applied),
		PreservedStructure: opts.PreserveStructure,
		Level:              opts.AnonymizationLevel,
		Strategy:           strategy,
		Skipped:            skipped,
	}
}

// validSpan reports whether d lies inside text and both of its offsets fall
// on rune boundaries.
func validSpan(text string, d Detection) bool {
	if d.Start < 0 || d.End > len(text) || d.Start >= d.End {
		return false
	}
	if !utf8.RuneStart(text[d.Start]) {
		return false
	}
	return d.End == len(text) || utf8.RuneStart(text[d.End])
}

func (a *Anonymizer) replacement(value string, d Detection, strategy policy.Strategy, opts AnonymizeOptions) string {
	params := a.rules.Params(strategy)

	switch strategy {
	case policy.StrategyMasking:
		return maskValue(value, params, opts.PreserveStructure)
	case policy.StrategyGeneralization:
		return generalizeValue(value, d, a.rules.Params(policy.StrategyReplacement).TokenFormat, params)
	case policy.StrategySuppression:
		return suppressValue(params, opts.PreserveStructure)
	case policy.StrategySynthetic:
		return syntheticValue(value, d, params)
	default:
		if !opts.UseContextualReplacement {
			return GenericToken
		}
		return a.contextualReplacement(d)
	}
}

// contextualReplacement collects the vocabulary of every matching rule level
// and picks the token sharing the most words with the detection context.
// Ties keep the earliest token.
func (a *Anonymizer) contextualReplacement(d Detection) string {
	var candidates []string
	for _, level := range a.rules.Levels {
		if level.Matches(d.Category, d.Type) {
			candidates = append(candidates, level.Vocabulary(d.Category, d.Type)...)
		}
	}
	if len(candidates) == 0 {
		return FallbackToken
	}

	contextWords := whitespaceRe.Split(strings.ToLower(d.Context.Full), -1)

	best, bestScore := candidates[0], contextualScore(candidates[0], contextWords)
	for _, candidate := range candidates[1:] {
		if score := contextualScore(candidate, contextWords); score > bestScore {
			best, bestScore = candidate, score
		}
	}
	return best
}

func contextualScore(token string, contextWords []string) int {
	score := 0
	for _, word := range strings.Split(strings.ToLower(bracketStripper.Replace(token)), " ") {
		for _, cword := range contextWords {
			if strings.Contains(cword, word) || strings.Contains(word, cword) {
				score++
				break
			}
		}
	}
	return score
}

// Summarize tallies detections by category, type and confidence band.
func Summarize(detections []Detection) Summary {
	summary := Summary{
		TotalDetections: len(detections),
		ByCategory:      make(map[string]int),
		ByType:          make(map[string]int),
	}

	for _, d := range detections {
		summary.ByCategory[string(d.Category)]++
		summary.ByType[d.TypeKey()]++

		switch {
		case d.Confidence > 0.8:
			summary.ConfidenceLevels.High++
		case d.Confidence > 0.6:
			summary.ConfidenceLevels.Medium++
		default:
			summary.ConfidenceLevels.Low++
		}
	}

	return summary
}
