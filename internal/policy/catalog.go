package policy

import "strings"

// Strategy names an anonymization transform.
type Strategy string

const (
	StrategyReplacement    Strategy = "REPLACEMENT"
	StrategyMasking        Strategy = "MASKING"
	StrategyGeneralization Strategy = "GENERALIZATION"
	StrategySuppression    Strategy = "SUPPRESSION"
	StrategySynthetic      Strategy = "SYNTHETIC"
)

// ParseStrategy resolves a strategy name case-insensitively. Unknown names
// resolve to REPLACEMENT with ok set to false.
func ParseStrategy(name string) (Strategy, bool) {
	switch s := Strategy(strings.ToUpper(strings.TrimSpace(name))); s {
	case StrategyReplacement, StrategyMasking, StrategyGeneralization, StrategySuppression, StrategySynthetic:
		return s, true
	default:
		return StrategyReplacement, false
	}
}

// Framework is a regulatory profile listing the identifier categories it requires.
type Framework struct {
	Name           string   `json:"name" yaml:"name"`
	Description    string   `json:"description,omitempty" yaml:"description,omitempty"`
	Identifiers    []string `json:"identifiers" yaml:"identifiers"`
	StrictMode     bool     `json:"strictMode" yaml:"strictMode"`
	AllowedAges    *AgeRule `json:"allowedAges,omitempty" yaml:"allowedAges,omitempty"`
	RightToErasure bool     `json:"rightToErasure,omitempty" yaml:"rightToErasure,omitempty"`
	Customizable   bool     `json:"customizable,omitempty" yaml:"customizable,omitempty"`
}

// AgeRule caps reportable ages.
type AgeRule struct {
	Max         int    `json:"max" yaml:"max"`
	Replacement string `json:"replacement" yaml:"replacement"`
}

// Tier is a data classification level.
type Tier struct {
	Sensitivity            float64    `json:"sensitivity" yaml:"sensitivity"`
	Description            string     `json:"description,omitempty" yaml:"description,omitempty"`
	MandatoryAnonymization bool       `json:"mandatoryAnonymization" yaml:"mandatoryAnonymization"`
	AllowedStrategies      []Strategy `json:"allowedStrategies" yaml:"allowedStrategies"`
}

// Allows reports whether s is one of the tier's allowed strategies.
func (t Tier) Allows(s Strategy) bool {
	for _, allowed := range t.AllowedStrategies {
		if allowed == s {
			return true
		}
	}
	return false
}

// StrategyParams carries the tunables of every strategy. Each strategy reads
// only the fields that apply to it.
type StrategyParams struct {
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// MASKING
	MaskChar       string `json:"maskChar,omitempty" yaml:"maskChar,omitempty"`
	PreserveLength bool   `json:"preserveLength,omitempty" yaml:"preserveLength,omitempty"`
	PreserveFirst  int    `json:"preserveFirst,omitempty" yaml:"preserveFirst,omitempty"`
	PreserveLast   int    `json:"preserveLast,omitempty" yaml:"preserveLast,omitempty"`
	MinMaskLength  int    `json:"minMaskLength,omitempty" yaml:"minMaskLength,omitempty"`

	// REPLACEMENT
	TokenFormat    string `json:"tokenFormat,omitempty" yaml:"tokenFormat,omitempty"`
	NumberedTokens bool   `json:"numberedTokens,omitempty" yaml:"numberedTokens,omitempty"`

	// GENERALIZATION
	DateGeneralization     string `json:"dateGeneralization,omitempty" yaml:"dateGeneralization,omitempty"`
	AgeGeneralization      string `json:"ageGeneralization,omitempty" yaml:"ageGeneralization,omitempty"`
	LocationGeneralization string `json:"locationGeneralization,omitempty" yaml:"locationGeneralization,omitempty"`
	NumericGeneralization  string `json:"numericGeneralization,omitempty" yaml:"numericGeneralization,omitempty"`

	// SUPPRESSION
	ReplacementText   string `json:"replacementText,omitempty" yaml:"replacementText,omitempty"`
	PreserveStructure bool   `json:"preserveStructure,omitempty" yaml:"preserveStructure,omitempty"`

	// SYNTHETIC
	SeedBased bool   `json:"seedBased,omitempty" yaml:"seedBased,omitempty"`
	Seed      string `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// Section is a per-section override inside a document context. An empty
// Strategy means the section is preserved as-is.
type Section struct {
	Sensitivity string   `json:"sensitivity" yaml:"sensitivity"`
	Strategy    Strategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

// ContextRule groups section overrides for one document type.
type ContextRule struct {
	Sections map[string]Section `json:"sections" yaml:"sections"`
}

// RuleLevel maps a set of detection targets to a replacement vocabulary.
// Vocabulary lookup tries the detection's type, then its category.
type RuleLevel struct {
	Name                 string                `json:"name" yaml:"name"`
	Targets              []Target              `json:"targets" yaml:"targets"`
	Strategy             Strategy              `json:"strategy" yaml:"strategy"`
	Replacements         map[DataType][]string `json:"replacements,omitempty" yaml:"replacements,omitempty"`
	CategoryReplacements map[Category][]string `json:"categoryReplacements,omitempty" yaml:"categoryReplacements,omitempty"`
}

// Matches reports whether any of the level's targets selects the pair.
func (l RuleLevel) Matches(category Category, dataType DataType) bool {
	for _, t := range l.Targets {
		if t.Matches(category, dataType) {
			return true
		}
	}
	return false
}

// Vocabulary returns the replacement tokens for the pair, falling back to
// [DATA REMOVED] when the level has no vocabulary for it.
func (l RuleLevel) Vocabulary(category Category, dataType DataType) []string {
	if tokens := l.Replacements[dataType]; len(tokens) > 0 {
		return tokens
	}
	if tokens := l.CategoryReplacements[category]; len(tokens) > 0 {
		return tokens
	}
	return []string{"[DATA REMOVED]"}
}

// Catalog is the rule catalog: frameworks, tiers, strategies, context rules,
// replacement levels and the token vocabulary.
type Catalog struct {
	Frameworks map[string]Framework       `json:"complianceFrameworks" yaml:"complianceFrameworks"`
	Tiers      map[string]Tier            `json:"dataClassification" yaml:"dataClassification"`
	Strategies map[Strategy]StrategyParams `json:"strategies" yaml:"strategies"`
	Contexts   map[string]ContextRule     `json:"contextRules" yaml:"contextRules"`
	Levels     []RuleLevel                `json:"rules" yaml:"rules"`
	Tokens     map[string][]string        `json:"tokens" yaml:"tokens"`

	// IdentifierTargets maps framework identifier names to the detection
	// targets that cover them. Identifiers absent here are never covered by
	// pattern detection and must be declared through custom rules.
	IdentifierTargets map[string][]Target `json:"identifierTargets" yaml:"identifierTargets"`
}

// Params returns the parameters of s, or the zero value when s is unknown.
func (c *Catalog) Params(s Strategy) StrategyParams {
	return c.Strategies[s]
}

// DefaultCatalog returns a fresh copy of the built-in rule catalog.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Frameworks: map[string]Framework{
			"HIPAA": {
				Name:        "Health Insurance Portability and Accountability Act",
				Description: "US healthcare privacy regulation, Safe Harbor de-identification",
				Identifiers: []string{
					"names", "addresses", "birth_dates", "admission_dates", "discharge_dates",
					"death_dates", "age_over_89", "telephone_numbers", "vehicle_identifiers",
					"device_identifiers", "web_urls", "ip_addresses", "biometric_identifiers",
					"face_photos", "unique_identifying_numbers", "medical_record_numbers",
					"health_plan_beneficiary_numbers", "account_numbers", "certificate_numbers",
					"social_security_numbers", "license_numbers", "email_addresses",
				},
				StrictMode:  true,
				AllowedAges: &AgeRule{Max: 89, Replacement: "90+"},
			},
			"GDPR": {
				Name:        "General Data Protection Regulation",
				Description: "EU data protection regulation",
				Identifiers: []string{
					"personal_data", "special_categories", "biometric_data", "genetic_data",
					"health_data", "racial_ethnic_origin", "political_opinions",
					"religious_beliefs", "trade_union_membership", "sex_life", "sexual_orientation",
				},
				StrictMode:     true,
				RightToErasure: true,
			},
			"CUSTOM": {
				Name:         "Custom Anonymization Rules",
				Description:  "Configurable anonymization rules",
				Identifiers:  []string{},
				Customizable: true,
			},
		},
		Tiers: map[string]Tier{
			"CRITICAL": {
				Sensitivity:            1.0,
				Description:            "Highly sensitive data requiring immediate anonymization",
				MandatoryAnonymization: true,
				AllowedStrategies:      []Strategy{StrategyReplacement, StrategySuppression},
			},
			"HIGH": {
				Sensitivity:            0.8,
				Description:            "High sensitivity data with strict anonymization requirements",
				MandatoryAnonymization: true,
				AllowedStrategies:      []Strategy{StrategyMasking, StrategyReplacement, StrategyGeneralization},
			},
			"MEDIUM": {
				Sensitivity:       0.6,
				Description:       "Moderate sensitivity data with flexible anonymization",
				AllowedStrategies: []Strategy{StrategyMasking, StrategyGeneralization, StrategySynthetic},
			},
			"LOW": {
				Sensitivity:       0.3,
				Description:       "Low sensitivity data with optional anonymization",
				AllowedStrategies: []Strategy{StrategyGeneralization, StrategySynthetic},
			},
		},
		Strategies: map[Strategy]StrategyParams{
			StrategyMasking: {
				Description:    "Replace characters with symbols",
				MaskChar:       "*",
				PreserveLength: true,
				PreserveFirst:  1,
				PreserveLast:   0,
				MinMaskLength:  3,
			},
			StrategyReplacement: {
				Description:    "Replace with contextual tokens",
				TokenFormat:    "[{TYPE}]",
				NumberedTokens: true,
			},
			StrategyGeneralization: {
				Description:            "Replace with generalized values",
				DateGeneralization:     "year",
				AgeGeneralization:      "decade",
				LocationGeneralization: "state",
				NumericGeneralization:  "range",
			},
			StrategySuppression: {
				Description:       "Remove sensitive data entirely",
				ReplacementText:   "[REMOVED]",
				PreserveStructure: true,
			},
			StrategySynthetic: {
				Description: "Replace with realistic synthetic data",
				SeedBased:   true,
				Seed:        "medixscan",
			},
		},
		Contexts: map[string]ContextRule{
			"MEDICAL_REPORT": {Sections: map[string]Section{
				"patient_info":   {Sensitivity: "CRITICAL", Strategy: StrategyReplacement},
				"clinical_notes": {Sensitivity: "HIGH", Strategy: StrategyMasking},
				"demographics":   {Sensitivity: "HIGH", Strategy: StrategyGeneralization},
				"provider_notes": {Sensitivity: "MEDIUM", Strategy: StrategyReplacement},
			}},
			"LABORATORY_RESULTS": {Sections: map[string]Section{
				"patient_identifiers": {Sensitivity: "CRITICAL", Strategy: StrategyReplacement},
				"test_results":        {Sensitivity: "LOW", Strategy: StrategySynthetic},
				"reference_values":    {Sensitivity: "LOW"},
			}},
		},
		Levels: []RuleLevel{
			{
				Name: "critical",
				Targets: []Target{
					{Category: CategoryPersonal, Type: TypeNames},
					{Category: CategoryPersonal, Type: TypeIdentifiers},
					{Category: CategoryPersonal, Type: TypeContactInfo},
				},
				Strategy: StrategyReplacement,
				Replacements: map[DataType][]string{
					TypeNames:       {"[PATIENT NAME]", "[INDIVIDUAL]", "[PERSON A]", "[SUBJECT]"},
					TypeIdentifiers: {"[ID REMOVED]", "[PATIENT ID]", "[RECORD NUMBER]"},
					TypeContactInfo: {
						"[EMAIL REMOVED]", "[CONTACT EMAIL]",
						"[PHONE REMOVED]", "[CONTACT NUMBER]",
						"[ADDRESS REMOVED]", "[LOCATION]",
					},
				},
			},
			{
				Name: "moderate",
				Targets: []Target{
					{Category: CategoryMedical, Type: TypeDates},
					{Category: CategoryMedical, Type: TypeProviders},
					{Category: CategoryMedical, Type: TypeLocations},
				},
				Strategy: StrategyGeneralization,
				Replacements: map[DataType][]string{
					TypeDates:     {"[DATE]", "[ADMISSION DATE]", "[BIRTH DATE]", "[EXAM DATE]"},
					TypeProviders: {"[ATTENDING PHYSICIAN]", "[MEDICAL PROVIDER]", "[HEALTHCARE PROVIDER]"},
					TypeLocations: {"[MEDICAL FACILITY]", "[HEALTHCARE INSTITUTION]", "[HOSPITAL]"},
				},
			},
			{
				Name: "optional",
				Targets: []Target{
					{Category: CategoryFinancial, Type: TypeInsurance},
				},
				Strategy: StrategyMasking,
				Replacements: map[DataType][]string{
					TypeInsurance: {"[INSURANCE INFO]", "[POLICY INFO]", "[COVERAGE DETAILS]"},
				},
			},
		},
		Tokens: map[string][]string{
			"names":       {"PATIENT", "INDIVIDUAL", "PERSON", "SUBJECT"},
			"identifiers": {"ID", "RECORD", "NUMBER", "IDENTIFIER"},
			"dates":       {"DATE", "TIME", "TIMESTAMP", "PERIOD"},
			"locations":   {"LOCATION", "PLACE", "FACILITY", "ADDRESS"},
			"providers":   {"PROVIDER", "PHYSICIAN", "DOCTOR", "CLINICIAN"},
			"contacts":    {"CONTACT", "PHONE", "EMAIL", "COMMUNICATION"},
		},
		IdentifierTargets: map[string][]Target{
			// HIPAA Safe Harbor
			"names":                           {{Category: CategoryPersonal, Type: TypeNames}},
			"addresses":                       {{Category: CategoryPersonal, Type: TypeContactInfo}, {Category: CategoryMedical, Type: TypeLocations}},
			"birth_dates":                     {{Category: CategoryMedical, Type: TypeDates}},
			"admission_dates":                 {{Category: CategoryMedical, Type: TypeDates}},
			"discharge_dates":                 {{Category: CategoryMedical, Type: TypeDates}},
			"death_dates":                     {{Category: CategoryMedical, Type: TypeDates}},
			"telephone_numbers":               {{Category: CategoryPersonal, Type: TypeContactInfo}},
			"email_addresses":                 {{Category: CategoryPersonal, Type: TypeContactInfo}},
			"unique_identifying_numbers":      {{Category: CategoryPersonal, Type: TypeIdentifiers}},
			"medical_record_numbers":          {{Category: CategoryPersonal, Type: TypeIdentifiers}},
			"account_numbers":                 {{Category: CategoryPersonal, Type: TypeIdentifiers}},
			"certificate_numbers":             {{Category: CategoryPersonal, Type: TypeIdentifiers}},
			"social_security_numbers":         {{Category: CategoryPersonal, Type: TypeIdentifiers}},
			"license_numbers":                 {{Category: CategoryPersonal, Type: TypeIdentifiers}},
			"health_plan_beneficiary_numbers": {{Category: CategoryFinancial, Type: TypeInsurance}},
			// GDPR
			"personal_data": {{Category: CategoryPersonal}},
			"health_data":   {{Category: CategoryMedical}},
		},
	}
}
