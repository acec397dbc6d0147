package privacy

import (
	"errors"

	"github.com/medixscan/anonymizer/internal/config"
	"github.com/medixscan/anonymizer/internal/logger"
	"github.com/medixscan/anonymizer/internal/policy"
	"go.uber.org/zap"
)

// ErrTextTooLarge marks batch items above the configured size bound.
var ErrTextTooLarge = errors.New("text exceeds maximum size")

// DefaultMaxTextBytes bounds a single batch item.
const DefaultMaxTextBytes = 1 << 20

// Engine bundles the detector, anonymizer and reporting over one pattern
// catalog and one rule catalog. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	patterns     *PatternCatalog
	rules        *policy.Catalog
	detector     *Detector
	anonymizer   *Anonymizer
	logger       *zap.Logger
	maxTextBytes int
	workers      int
}

type settings struct {
	scoring      ScoringConfig
	logger       *zap.Logger
	maxTextBytes int
	workers      int
}

// Option customizes an Engine.
type Option func(*settings)

// WithScoring overrides the confidence heuristics.
func WithScoring(s ScoringConfig) Option {
	return func(o *settings) { o.scoring = s }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *settings) { o.logger = l }
}

// WithMaxTextBytes sets the per-item batch size bound.
func WithMaxTextBytes(n int) Option {
	return func(o *settings) {
		if n > 0 {
			o.maxTextBytes = n
		}
	}
}

// WithWorkers sets batch parallelism.
func WithWorkers(n int) Option {
	return func(o *settings) {
		if n > 0 {
			o.workers = n
		}
	}
}

// New creates an engine over the given catalogs.
func New(patterns *PatternCatalog, rules *policy.Catalog, opts ...Option) *Engine {
	s := settings{
		scoring:      DefaultScoring(),
		logger:       zap.NewNop(),
		maxTextBytes: DefaultMaxTextBytes,
		workers:      1,
	}
	for _, opt := range opts {
		opt(&s)
	}

	return &Engine{
		patterns:     patterns,
		rules:        rules,
		detector:     NewDetector(patterns, s.scoring),
		anonymizer:   NewAnonymizer(rules),
		logger:       s.logger,
		maxTextBytes: s.maxTextBytes,
		workers:      s.workers,
	}
}

// NewFromConfig creates an engine over the built-in pattern catalog using
// the engine section of the service configuration.
func NewFromConfig(cfg config.EngineConfig, rules *policy.Catalog, log *logger.Logger) *Engine {
	scoring := DefaultScoring()
	if cfg.ContextWindow > 0 {
		scoring.ContextWindow = cfg.ContextWindow
	}
	if cfg.ClueBoost > 0 {
		scoring.ClueBoost = cfg.ClueBoost
	}
	if cfg.MedicalTermBoost > 0 {
		scoring.MedicalTermBoost = cfg.MedicalTermBoost
	}
	if cfg.ConfidenceCap > 0 {
		scoring.ConfidenceCap = cfg.ConfidenceCap
	}
	if cfg.Thresholds.High > 0 {
		scoring.HighThreshold = cfg.Thresholds.High
	}
	if cfg.Thresholds.Medium > 0 {
		scoring.MediumThreshold = cfg.Thresholds.Medium
	}
	if cfg.Thresholds.Low > 0 {
		scoring.LowThreshold = cfg.Thresholds.Low
	}

	patterns := DefaultPatternCatalog()
	engine := New(patterns, rules,
		WithScoring(scoring),
		WithLogger(log.Logger),
		WithMaxTextBytes(cfg.MaxTextBytes),
		WithWorkers(cfg.BatchWorkers),
	)

	log.Info("Privacy engine initialized",
		zap.Int("pattern_rules", len(patterns.Rules)),
		zap.Int("patterns", patterns.PatternCount()),
		zap.Int("rule_levels", len(rules.Levels)),
		zap.Int("context_window", scoring.ContextWindow),
		zap.Int("batch_workers", engine.workers),
	)

	return engine
}

// Patterns returns the pattern catalog.
func (e *Engine) Patterns() *PatternCatalog {
	return e.patterns
}

// Rules returns the rule catalog.
func (e *Engine) Rules() *policy.Catalog {
	return e.rules
}

// Detect returns the sensitive spans of text accepted at level.
func (e *Engine) Detect(text string, level Sensitivity) []Detection {
	detections := e.detector.Detect(text, level)

	e.logger.Debug("Sensitive data scan completed",
		zap.String("sensitivity", string(level)),
		zap.Int("text_length", len(text)),
		zap.Int("detections", len(detections)),
	)

	return detections
}

// Anonymize rewrites text, replacing every span in detections.
func (e *Engine) Anonymize(text string, detections []Detection, opts AnonymizeOptions) *AnonymizationResult {
	return e.anonymizer.Anonymize(text, detections, opts)
}

// Insights scans text at the strictest level and derives its risk report.
func (e *Engine) Insights(text string) *Insights {
	return BuildInsights(e.detector.Detect(text, SensitivityHigh))
}
