package privacy

import (
	"crypto/sha256"
	"encoding/binary"
	"regexp"
	"strings"
	"unicode"

	"github.com/medixscan/anonymizer/internal/policy"
)

var yearRe = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)

var generalLabels = map[policy.DataType]string{
	policy.TypeNames:       "PERSON",
	policy.TypeIdentifiers: "IDENTIFIER",
	policy.TypeContactInfo: "CONTACT",
	policy.TypeDates:       "DATE",
	policy.TypeLocations:   "FACILITY",
	policy.TypeProviders:   "PROVIDER",
	policy.TypeInsurance:   "INSURANCE",
}

var syntheticFirstNames = []string{"Alex", "Jordan", "Taylor", "Morgan", "Casey", "Riley", "Avery", "Quinn", "Rowan", "Skyler"}
var syntheticLastNames = []string{"Rivera", "Chen", "Okafor", "Novak", "Haddad", "Lindqvist", "Moreau", "Tanaka", "Castillo", "Brennan"}

// maskValue keeps the configured prefix and suffix and masks the rest.
// With preserveStructure, punctuation and spaces inside the masked part
// survive.
func maskValue(value string, params policy.StrategyParams, preserveStructure bool) string {
	maskChar := params.MaskChar
	if maskChar == "" {
		maskChar = "*"
	}

	runes := []rune(value)
	first := clamp(params.PreserveFirst, 0, len(runes))
	last := clamp(params.PreserveLast, 0, len(runes)-first)
	middle := runes[first : len(runes)-last]

	var b strings.Builder
	b.WriteString(string(runes[:first]))

	masked := 0
	if params.PreserveLength {
		for _, r := range middle {
			if preserveStructure && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				b.WriteRune(r)
				continue
			}
			b.WriteString(maskChar)
			masked++
		}
	}
	for masked < params.MinMaskLength {
		b.WriteString(maskChar)
		masked++
	}

	b.WriteString(string(runes[len(runes)-last:]))
	return b.String()
}

// generalizeValue reduces dates to their year and everything else to a
// category token rendered through tokenFormat.
func generalizeValue(value string, d Detection, tokenFormat string, params policy.StrategyParams) string {
	if d.Type == policy.TypeDates && params.DateGeneralization == "year" {
		if year := yearRe.FindString(value); year != "" {
			return year
		}
	}

	label, ok := generalLabels[d.Type]
	if !ok {
		label = strings.ToUpper(string(d.Type))
	}
	if tokenFormat == "" {
		tokenFormat = "[{TYPE}]"
	}
	return strings.ReplaceAll(tokenFormat, "{TYPE}", label)
}

func suppressValue(params policy.StrategyParams, preserveStructure bool) string {
	if !preserveStructure {
		return ""
	}
	if params.ReplacementText == "" {
		return "[REMOVED]"
	}
	return params.ReplacementText
}

// syntheticValue derives a stable substitute from the seed and the value:
// names become synthetic names, everything else keeps its shape with
// digits and letters redrawn.
func syntheticValue(value string, d Detection, params policy.StrategyParams) string {
	seed := params.Seed
	if !params.SeedBased {
		seed = ""
	}
	stream := newHashStream(seed + "|" + d.TypeKey() + "|" + value)

	switch d.Type {
	case policy.TypeNames:
		return syntheticFirstNames[stream.next()%len(syntheticFirstNames)] + " " +
			syntheticLastNames[stream.next()%len(syntheticLastNames)]
	case policy.TypeProviders:
		return "Dr. " + syntheticLastNames[stream.next()%len(syntheticLastNames)]
	}

	var b strings.Builder
	for _, r := range value {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(rune('0' + stream.next()%10))
		case unicode.IsUpper(r):
			b.WriteRune(rune('A' + stream.next()%26))
		case unicode.IsLower(r):
			b.WriteRune(rune('a' + stream.next()%26))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// hashStream yields deterministic pseudo-random numbers from a SHA-256 chain.
type hashStream struct {
	block [sha256.Size]byte
	pos   int
}

func newHashStream(seed string) *hashStream {
	return &hashStream{block: sha256.Sum256([]byte(seed))}
}

func (h *hashStream) next() int {
	if h.pos+2 > len(h.block) {
		h.block = sha256.Sum256(h.block[:])
		h.pos = 0
	}
	v := binary.BigEndian.Uint16(h.block[h.pos:])
	h.pos += 2
	return int(v)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
