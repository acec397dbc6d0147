package policy

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultFramework      = "HIPAA"
	DefaultClassification = "HIGH"
	DefaultContext        = "MEDICAL_REPORT"

	// CompliantCoverage is the coverage percentage a policy needs to pass.
	CompliantCoverage = 95.0
)

// Requirements describes the policy a caller asks for.
type Requirements struct {
	ComplianceFramework string      `json:"complianceFramework"`
	SensitivityLevel    string      `json:"sensitivityLevel"`
	ContextType         string      `json:"contextType"`
	CustomRules         CustomRules `json:"customRules"`
}

// CustomRules are caller overrides layered on top of the catalog.
type CustomRules struct {
	// Strategy forces a single strategy for the policy.
	Strategy Strategy `json:"strategy,omitempty"`
	// CoveredIdentifiers declares framework identifiers handled outside
	// pattern detection, for example by an upstream image scrubber.
	CoveredIdentifiers []string `json:"coveredIdentifiers,omitempty"`
	// Sections overrides or adds context sections.
	Sections map[string]Section `json:"sections,omitempty"`
}

// Policy is a resolved anonymization policy.
type Policy struct {
	ID             string       `json:"id"`
	Framework      string       `json:"framework"`
	FrameworkRules Framework    `json:"frameworkRules"`
	Classification string       `json:"classification"`
	Tier           Tier         `json:"classificationRules"`
	ContextType    string       `json:"contextType,omitempty"`
	Context        *ContextRule `json:"contextRules,omitempty"`
	CustomRules    CustomRules  `json:"customRules"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// FrameworkCompliance is the coverage of one framework by a policy.
type FrameworkCompliance struct {
	Score       float64  `json:"score"`
	IsCompliant bool     `json:"isCompliant"`
	Covered     []string `json:"covered"`
	Missing     []string `json:"missing"`
}

// Validation is the outcome of ValidatePolicy.
type Validation struct {
	IsValid    bool                           `json:"isValid"`
	Warnings   []string                       `json:"warnings"`
	Errors     []string                       `json:"errors"`
	Compliance map[string]FrameworkCompliance `json:"compliance"`
}

// RecommendContext carries caller preferences for RecommendStrategy.
type RecommendContext struct {
	PreserveReadability bool `json:"preserveReadability"`
	QuickProcessing     bool `json:"quickProcessing"`
}

// Resolver turns requirements into policies over a rule catalog.
type Resolver struct {
	catalog *Catalog
	logger  *zap.Logger
	now     func() time.Time
}

// NewResolver creates a resolver over catalog.
func NewResolver(catalog *Catalog, logger *zap.Logger) *Resolver {
	logger.Info("Policy resolver initialized",
		zap.Int("frameworks", len(catalog.Frameworks)),
		zap.Int("tiers", len(catalog.Tiers)),
		zap.Int("contexts", len(catalog.Contexts)),
		zap.Int("rule_levels", len(catalog.Levels)),
	)

	return &Resolver{
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
}

// Catalog returns the rule catalog backing the resolver.
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// GeneratePolicy resolves requirements against the catalog. Unknown names
// fall back to defaults and are logged as warnings.
func (r *Resolver) GeneratePolicy(req Requirements) *Policy {
	frameworkName := strings.ToUpper(strings.TrimSpace(req.ComplianceFramework))
	if frameworkName == "" {
		frameworkName = DefaultFramework
	}
	framework, ok := r.catalog.Frameworks[frameworkName]
	if !ok {
		r.logger.Warn("Unknown compliance framework, using CUSTOM",
			zap.String("framework", req.ComplianceFramework))
		frameworkName = "CUSTOM"
		framework = r.catalog.Frameworks[frameworkName]
	}

	tierName := strings.ToUpper(strings.TrimSpace(req.SensitivityLevel))
	if tierName == "" {
		tierName = DefaultClassification
	}
	tier, ok := r.catalog.Tiers[tierName]
	if !ok {
		r.logger.Warn("Unknown classification tier, using default",
			zap.String("classification", req.SensitivityLevel),
			zap.String("default", DefaultClassification))
		tierName = DefaultClassification
		tier = r.catalog.Tiers[tierName]
	}

	contextName := strings.ToUpper(strings.TrimSpace(req.ContextType))
	if contextName == "" {
		contextName = DefaultContext
	}
	var context *ContextRule
	if rule, ok := r.catalog.Contexts[contextName]; ok {
		context = &ContextRule{Sections: make(map[string]Section, len(rule.Sections))}
		for name, section := range rule.Sections {
			context.Sections[name] = section
		}
	} else {
		r.logger.Warn("Unknown context type, no section overrides applied",
			zap.String("context_type", req.ContextType))
	}

	if len(req.CustomRules.Sections) > 0 {
		if context == nil {
			context = &ContextRule{Sections: make(map[string]Section)}
		}
		for name, section := range req.CustomRules.Sections {
			context.Sections[name] = section
		}
	}

	if req.CustomRules.Strategy != "" {
		s, ok := ParseStrategy(string(req.CustomRules.Strategy))
		if !ok {
			r.logger.Warn("Unknown custom strategy, using REPLACEMENT",
				zap.String("strategy", string(req.CustomRules.Strategy)))
		}
		req.CustomRules.Strategy = s
	}

	policy := &Policy{
		ID:             r.newPolicyID(),
		Framework:      frameworkName,
		FrameworkRules: framework,
		Classification: tierName,
		Tier:           tier,
		ContextType:    contextName,
		Context:        context,
		CustomRules:    req.CustomRules,
		CreatedAt:      r.now().UTC(),
	}

	r.logger.Debug("Policy generated",
		zap.String("policy_id", policy.ID),
		zap.String("framework", frameworkName),
		zap.String("classification", tierName),
		zap.String("context_type", contextName))

	return policy
}

// ValidatePolicy checks strategy compatibility and framework coverage.
// A policy is valid when there are no errors; warnings do not invalidate it.
func (r *Resolver) ValidatePolicy(p *Policy) *Validation {
	v := &Validation{
		Warnings:   []string{},
		Errors:     []string{},
		Compliance: map[string]FrameworkCompliance{},
	}

	if p == nil {
		v.Errors = append(v.Errors, "policy is required")
		return v
	}

	framework, ok := r.catalog.Frameworks[p.Framework]
	if !ok {
		v.Errors = append(v.Errors, fmt.Sprintf("unknown compliance framework: %s", p.Framework))
	}

	tier, tierOK := r.catalog.Tiers[p.Classification]
	if !tierOK {
		v.Errors = append(v.Errors, fmt.Sprintf("unknown classification tier: %s", p.Classification))
	}

	if tierOK && p.CustomRules.Strategy != "" && !tier.Allows(p.CustomRules.Strategy) {
		v.Errors = append(v.Errors, fmt.Sprintf("strategy %s is not allowed for classification %s",
			p.CustomRules.Strategy, p.Classification))
	}

	if ok && tierOK && framework.StrictMode && !tier.MandatoryAnonymization {
		v.Warnings = append(v.Warnings, fmt.Sprintf("%s runs in strict mode but classification %s does not mandate anonymization",
			p.Framework, p.Classification))
	}

	if p.Context != nil {
		r.validateSections(p.Context, v)
	}

	if ok {
		compliance := r.coverage(framework, p.CustomRules.CoveredIdentifiers)
		v.Compliance[p.Framework] = compliance
		if !compliance.IsCompliant {
			v.Warnings = append(v.Warnings, fmt.Sprintf("%s coverage %.2f%% is below the %.0f%% threshold, missing: %s",
				p.Framework, compliance.Score, CompliantCoverage, strings.Join(compliance.Missing, ", ")))
		}
	}

	v.IsValid = len(v.Errors) == 0
	return v
}

func (r *Resolver) validateSections(context *ContextRule, v *Validation) {
	names := make([]string, 0, len(context.Sections))
	for name := range context.Sections {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		section := context.Sections[name]
		tier, ok := r.catalog.Tiers[section.Sensitivity]
		if !ok {
			v.Errors = append(v.Errors, fmt.Sprintf("section %s: unknown classification tier %s", name, section.Sensitivity))
			continue
		}

		if section.Strategy == "" {
			if tier.MandatoryAnonymization {
				v.Errors = append(v.Errors, fmt.Sprintf("section %s: classification %s mandates anonymization but no strategy is set",
					name, section.Sensitivity))
			}
			continue
		}

		if !tier.Allows(section.Strategy) {
			v.Warnings = append(v.Warnings, fmt.Sprintf("section %s: strategy %s is not allowed for classification %s",
				name, section.Strategy, section.Sensitivity))
		}
	}
}

// coverage computes how many framework identifiers the catalog's rule levels
// rewrite, counting explicitly declared identifiers as covered.
func (r *Resolver) coverage(framework Framework, declared []string) FrameworkCompliance {
	result := FrameworkCompliance{Covered: []string{}, Missing: []string{}}
	if len(framework.Identifiers) == 0 {
		result.Score = 100
		result.IsCompliant = true
		return result
	}

	extra := make(map[string]bool, len(declared))
	for _, id := range declared {
		extra[strings.ToLower(strings.TrimSpace(id))] = true
	}

	for _, id := range framework.Identifiers {
		if extra[id] || r.identifierCovered(id) {
			result.Covered = append(result.Covered, id)
		} else {
			result.Missing = append(result.Missing, id)
		}
	}

	score := float64(len(result.Covered)) / float64(len(framework.Identifiers)) * 100
	result.Score = math.Round(score*100) / 100
	result.IsCompliant = score >= CompliantCoverage
	return result
}

func (r *Resolver) identifierCovered(identifier string) bool {
	for _, target := range r.catalog.IdentifierTargets[identifier] {
		for _, level := range r.catalog.Levels {
			for _, lt := range level.Targets {
				if lt.Category != target.Category {
					continue
				}
				if target.Type == "" || lt.Type == "" || lt.Type == target.Type {
					return true
				}
			}
		}
	}
	return false
}

// RecommendStrategy picks a strategy for a data type under a tier. It
// returns false when the tier is unknown.
func (r *Resolver) RecommendStrategy(dataType, tierName string, rc RecommendContext) (Strategy, bool) {
	tier, ok := r.catalog.Tiers[strings.ToUpper(tierName)]
	if !ok || len(tier.AllowedStrategies) == 0 {
		r.logger.Warn("Cannot recommend strategy for unknown tier",
			zap.String("data_type", dataType),
			zap.String("tier", tierName))
		return "", false
	}

	switch {
	case rc.PreserveReadability && tier.Allows(StrategySynthetic):
		return StrategySynthetic, true
	case rc.QuickProcessing && tier.Allows(StrategyMasking):
		return StrategyMasking, true
	case tier.MandatoryAnonymization && tier.Allows(StrategyReplacement):
		return StrategyReplacement, true
	default:
		return tier.AllowedStrategies[0], true
	}
}

// GenerateTokens returns count bracketed tokens for dataType, cycling through
// its vocabulary. Unknown types use DATA.
func (r *Resolver) GenerateTokens(dataType string, count int, numbered bool) []string {
	base := r.catalog.Tokens[dataType]
	if len(base) == 0 {
		base = []string{"DATA"}
	}

	tokens := make([]string, 0, count)
	for i := 0; i < count; i++ {
		token := base[i%len(base)]
		if numbered {
			token = fmt.Sprintf("%s_%d", token, i+1)
		}
		tokens = append(tokens, "["+token+"]")
	}
	return tokens
}

func (r *Resolver) newPolicyID() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return strings.ToUpper(fmt.Sprintf("POLICY_%d_%s", r.now().UnixMilli(), random))
}
