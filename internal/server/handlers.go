package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/medixscan/anonymizer/internal/audit"
	"github.com/medixscan/anonymizer/internal/cache"
	"github.com/medixscan/anonymizer/internal/ingest"
	"github.com/medixscan/anonymizer/internal/logger"
	"github.com/medixscan/anonymizer/internal/policy"
	"github.com/medixscan/anonymizer/internal/privacy"
	"github.com/medixscan/anonymizer/internal/websocket"
	"go.uber.org/zap"
)

const (
	maxBatchTexts      = 1000
	maxMultipartMemory = 32 << 20
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// decode reads a JSON body into v, answering 413 or 400 on failure
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

func (s *Server) sensitivity(name string) privacy.Sensitivity {
	if name == "" {
		name = s.cfg().Engine.DefaultSensitivity
	}
	level, _ := privacy.ParseSensitivity(name)
	return level
}

func (s *Server) strategy(name string) (policy.Strategy, bool) {
	if name == "" {
		name = s.cfg().Policy.DefaultStrategy
	}
	return policy.ParseStrategy(name)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg()
	rules := s.engine.Rules()

	writeJSON(w, http.StatusOK, map[string]any{
		"name":                "medixscan-anonymizer",
		"version":             version,
		"uptime":              time.Since(s.startTime).Round(time.Second).String(),
		"pattern_rules":       len(s.engine.Patterns().Rules),
		"patterns":            s.engine.Patterns().PatternCount(),
		"frameworks":          slices.Sorted(maps.Keys(rules.Frameworks)),
		"default_sensitivity": cfg.Engine.DefaultSensitivity,
		"default_strategy":    cfg.Policy.DefaultStrategy,
		"audit_enabled":       s.audit != nil,
		"cache_enabled":       s.cache != nil,
		"websocket_enabled":   s.wsHub != nil,
		"supported_formats":   s.ingest.Formats(),
	})
}

// detect runs detection, consulting the result cache when one is configured
func (s *Server) detect(ctx context.Context, text string, level privacy.Sensitivity) ([]privacy.Detection, bool) {
	var key string
	if s.cache != nil {
		key = s.cache.Key(cache.KindDetections, string(level), text)
		var cached []privacy.Detection
		if s.cache.Get(ctx, key, &cached) {
			return cached, true
		}
	}

	detections := s.engine.Detect(text, level)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, cache.KindDetections, detections); err != nil {
			s.logger.Warn("Failed to cache detections", zap.Error(err))
		}
	}
	return detections, false
}

// insights scores text at high sensitivity regardless of the sensitivity a
// request detected at, so every endpoint reports the same risk for the same
// text.
func (s *Server) insights(ctx context.Context, text string) (*privacy.Insights, bool) {
	var key string
	if s.cache != nil {
		key = s.cache.Key(cache.KindInsights, string(privacy.SensitivityHigh), text)
		var cached privacy.Insights
		if s.cache.Get(ctx, key, &cached) {
			return &cached, true
		}
	}

	insights := s.engine.Insights(text)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, cache.KindInsights, insights); err != nil {
			s.logger.Warn("Failed to cache insights", zap.Error(err))
		}
	}
	return insights, false
}

type analyzeRequest struct {
	Text        string `json:"text"`
	Sensitivity string `json:"sensitivity"`
}

type analyzeResponse struct {
	RequestID        string              `json:"request_id"`
	Sensitivity      privacy.Sensitivity `json:"sensitivity"`
	Detections       []privacy.Detection `json:"detections"`
	Summary          privacy.Summary     `json:"summary"`
	ProcessingTimeMS float64             `json:"processing_time_ms"`
	Cached           bool                `json:"cached"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := getRequestID(r.Context())

	var req analyzeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	level := s.sensitivity(req.Sensitivity)
	detections, cached := s.detect(r.Context(), req.Text, level)
	summary := privacy.Summarize(detections)

	s.totalRequests.Add(1)
	s.totalDetections.Add(int64(len(detections)))

	s.logger.WithRequestID(requestID).Info("Text analyzed",
		append(logger.TextFields(req.Text),
			zap.String("sensitivity", string(level)),
			zap.Int("detections", len(detections)),
			zap.Bool("cached", cached))...,
	)

	s.record(r, &audit.Entry{
		RequestID: requestID,
		Action:    audit.ActionAnalyze,
	}, map[string]any{
		"sensitivity":     level,
		"detectionsCount": len(detections),
		"textSha256":      logger.Fingerprint(req.Text),
	})

	if s.wsHub != nil {
		insights, _ := s.insights(r.Context(), req.Text)
		s.wsHub.BroadcastAnonymization(websocket.AnonymizationEvent{
			RequestID:       requestID,
			Operation:       "analyze",
			ClientIP:        getClientIP(r),
			Sensitivity:     string(level),
			DetectionsCount: len(detections),
			ByCategory:      summary.ByCategory,
			RiskLevel:       string(insights.RiskLevel),
			ComplianceScore: insights.ComplianceScore,
			ProcessingMS:    elapsedMS(start),
		})
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		RequestID:        requestID,
		Sensitivity:      level,
		Detections:       detections,
		Summary:          summary,
		ProcessingTimeMS: elapsedMS(start),
		Cached:           cached,
	})
}

type optionsRequest struct {
	PreserveStructure        *bool  `json:"preserveStructure"`
	UseContextualReplacement *bool  `json:"useContextualReplacement"`
	AnonymizationLevel       string `json:"anonymizationLevel"`
}

// anonymizeOptions merges caller options over the defaults
func (s *Server) anonymizeOptions(o *optionsRequest, level privacy.Sensitivity, strategy policy.Strategy) privacy.AnonymizeOptions {
	opts := privacy.DefaultAnonymizeOptions()
	opts.Sensitivity = level
	opts.Strategy = strategy
	if o == nil {
		return opts
	}
	if o.PreserveStructure != nil {
		opts.PreserveStructure = *o.PreserveStructure
	}
	if o.UseContextualReplacement != nil {
		opts.UseContextualReplacement = *o.UseContextualReplacement
	}
	if o.AnonymizationLevel != "" {
		opts.AnonymizationLevel = o.AnonymizationLevel
	}
	return opts
}

type anonymizeRequest struct {
	Text        string               `json:"text"`
	Sensitivity string               `json:"sensitivity"`
	Strategy    string               `json:"strategy"`
	Framework   string               `json:"framework"`
	Detections  *[]privacy.Detection `json:"detections,omitempty"`
	Options     *optionsRequest      `json:"options,omitempty"`
}

type anonymizeResponse struct {
	RequestID        string            `json:"request_id"`
	AnonymizedText   string            `json:"anonymized_text"`
	Summary          privacy.Summary   `json:"summary"`
	Insights         *privacy.Insights `json:"insights"`
	ProcessingTimeMS float64           `json:"processing_time_ms"`
	DetectionsCount  int               `json:"detections_count"`
	RiskLevel        privacy.RiskLevel `json:"risk_level"`
	ComplianceScore  int               `json:"compliance_score"`
	Strategy         policy.Strategy   `json:"strategy"`
	Skipped          int               `json:"skipped,omitempty"`
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	var req anonymizeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	strategy, ok := s.strategy(req.Strategy)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("unknown strategy %q", req.Strategy))
		return
	}
	framework := req.Framework
	if framework == "" {
		framework = s.cfg().Policy.DefaultFramework
	}

	level := s.sensitivity(req.Sensitivity)
	var detections []privacy.Detection
	if req.Detections != nil {
		detections = *req.Detections
	} else {
		detections, _ = s.detect(r.Context(), req.Text, level)
	}

	opts := s.anonymizeOptions(req.Options, level, strategy)
	result := s.engine.Anonymize(req.Text, detections, opts)
	insights, _ := s.insights(r.Context(), req.Text)
	elapsed := elapsedMS(start)

	s.totalRequests.Add(1)
	s.totalDetections.Add(int64(result.Detections))

	log.Info("Text anonymized",
		append(logger.TextFields(req.Text),
			zap.String("sensitivity", string(level)),
			zap.String("strategy", string(strategy)),
			zap.Int("detections", result.Detections),
			zap.Int("skipped", result.Skipped),
			zap.String("risk_level", string(insights.RiskLevel)))...,
	)

	if s.audit != nil {
		summary, err := json.Marshal(result.Summary)
		if err != nil {
			log.Error("Failed to encode anonymization summary", zap.Error(err))
		}
		processedAt := time.Now().UTC()
		stored := &audit.Request{
			RequestID:       requestID,
			Status:          audit.StatusCompleted,
			Sensitivity:     string(level),
			Framework:       framework,
			Strategy:        string(strategy),
			TextSHA256:      logger.Fingerprint(req.Text),
			TextLength:      len(req.Text),
			AnonymizedText:  result.AnonymizedText,
			Summary:         summary,
			RiskLevel:       string(insights.RiskLevel),
			ComplianceScore: insights.ComplianceScore,
			DetectionsCount: result.Detections,
			ProcessingMS:    int64(elapsed),
			ClientIP:        getClientIP(r),
			UserAgent:       r.UserAgent(),
			ProcessedAt:     &processedAt,
		}
		if err := s.audit.SaveRequest(r.Context(), stored); err != nil {
			log.Error("Failed to store anonymization result", zap.Error(err))
		}
	}

	s.record(r, &audit.Entry{
		RequestID: requestID,
		Action:    audit.ActionAnonymize,
	}, map[string]any{
		"strategy":        strategy,
		"sensitivity":     level,
		"detectionsCount": result.Detections,
		"skipped":         result.Skipped,
	})

	if s.wsHub != nil {
		s.wsHub.BroadcastAnonymization(websocket.AnonymizationEvent{
			RequestID:       requestID,
			Operation:       "anonymize",
			ClientIP:        getClientIP(r),
			Sensitivity:     string(level),
			Strategy:        string(strategy),
			DetectionsCount: result.Detections,
			ByCategory:      result.Summary.ByCategory,
			RiskLevel:       string(insights.RiskLevel),
			ComplianceScore: insights.ComplianceScore,
			ProcessingMS:    elapsed,
		})
	}

	writeJSON(w, http.StatusOK, anonymizeResponse{
		RequestID:        requestID,
		AnonymizedText:   result.AnonymizedText,
		Summary:          result.Summary,
		Insights:         insights,
		ProcessingTimeMS: elapsed,
		DetectionsCount:  result.Detections,
		RiskLevel:        insights.RiskLevel,
		ComplianceScore:  insights.ComplianceScore,
		Strategy:         result.Strategy,
		Skipped:          result.Skipped,
	})
}

type batchRequest struct {
	Texts       []string        `json:"texts"`
	Sensitivity string          `json:"sensitivity"`
	Strategy    string          `json:"strategy"`
	Options     *optionsRequest `json:"options,omitempty"`
}

type batchResponse struct {
	RequestID string `json:"request_id"`
	*privacy.BatchResult
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r.Context())

	var req batchRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Texts) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "texts must not be empty")
		return
	}
	if len(req.Texts) > maxBatchTexts {
		writeError(w, http.StatusBadRequest, "invalid_request",
			fmt.Sprintf("batch of %d texts exceeds the limit of %d", len(req.Texts), maxBatchTexts))
		return
	}
	strategy, ok := s.strategy(req.Strategy)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("unknown strategy %q", req.Strategy))
		return
	}

	opts := s.anonymizeOptions(req.Options, s.sensitivity(req.Sensitivity), strategy)
	result := s.engine.BatchAnonymize(r.Context(), req.Texts, opts)
	summary := result.BatchSummary

	s.totalRequests.Add(1)
	s.totalDetections.Add(int64(summary.TotalDetections))

	s.logger.WithRequestID(requestID).Info("Batch anonymized",
		zap.Int("total_texts", summary.TotalTexts),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
		zap.Int("total_detections", summary.TotalDetections),
	)

	s.record(r, &audit.Entry{
		RequestID: requestID,
		Action:    audit.ActionBatch,
	}, summary)

	if s.wsHub != nil {
		s.wsHub.BroadcastBatch(websocket.BatchEvent{
			RequestID:       requestID,
			TotalTexts:      summary.TotalTexts,
			Successful:      summary.Successful,
			Failed:          summary.Failed,
			TotalDetections: summary.TotalDetections,
			ProcessingMS:    summary.ProcessingTimeMS,
		})
	}

	writeJSON(w, http.StatusOK, batchResponse{RequestID: requestID, BatchResult: result})
}

type insightsRequest struct {
	Text string `json:"text"`
}

type insightsResponse struct {
	RequestID string `json:"request_id"`
	*privacy.Insights
	Cached bool `json:"cached"`
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r.Context())

	var req insightsRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	insights, cached := s.insights(r.Context(), req.Text)

	s.totalRequests.Add(1)
	writeJSON(w, http.StatusOK, insightsResponse{RequestID: requestID, Insights: insights, Cached: cached})
}

type exportResponse struct {
	RequestID      string          `json:"request_id"`
	AnonymizedText string          `json:"anonymized_text"`
	Summary        json.RawMessage `json:"summary"`
	Metadata       exportMetadata  `json:"metadata"`
}

type exportMetadata struct {
	Sensitivity     string     `json:"sensitivity"`
	Framework       string     `json:"framework"`
	Strategy        string     `json:"strategy"`
	RiskLevel       string     `json:"risk_level"`
	ComplianceScore int        `json:"compliance_score"`
	DetectionsCount int        `json:"detections_count"`
	TextLength      int        `json:"text_length"`
	CreatedAt       time.Time  `json:"created_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ExportedAt      time.Time  `json:"exported_at"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit_disabled", "export requires the audit store")
		return
	}

	id := mux.Vars(r)["request_id"]
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "text" {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("unsupported export format %q", format))
		return
	}

	stored, err := s.audit.GetRequest(r.Context(), id)
	if errors.Is(err, audit.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no anonymization with id %s", id))
		return
	}
	if err != nil {
		s.logger.Error("Failed to load anonymization for export", zap.String("export_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load anonymization")
		return
	}
	if stored.Status != audit.StatusCompleted {
		writeError(w, http.StatusConflict, "not_completed", fmt.Sprintf("anonymization %s is %s", id, stored.Status))
		return
	}

	s.record(r, &audit.Entry{
		RequestID: id,
		Action:    audit.ActionExport,
	}, map[string]string{"format": format})

	if format == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="anonymized-%s.txt"`, id))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(stored.AnonymizedText))
		return
	}

	writeJSON(w, http.StatusOK, exportResponse{
		RequestID:      stored.RequestID,
		AnonymizedText: stored.AnonymizedText,
		Summary:        stored.Summary,
		Metadata: exportMetadata{
			Sensitivity:     stored.Sensitivity,
			Framework:       stored.Framework,
			Strategy:        stored.Strategy,
			RiskLevel:       stored.RiskLevel,
			ComplianceScore: stored.ComplianceScore,
			DetectionsCount: stored.DetectionsCount,
			TextLength:      stored.TextLength,
			CreatedAt:       stored.CreatedAt,
			ProcessedAt:     stored.ProcessedAt,
			ExportedAt:      time.Now().UTC(),
		},
	})
}

type ingestResponse struct {
	RequestID        string              `json:"request_id"`
	Document         *ingest.Document    `json:"document"`
	Sensitivity      privacy.Sensitivity `json:"sensitivity"`
	Detections       []privacy.Detection `json:"detections"`
	Summary          privacy.Summary     `json:"summary"`
	Insights         *privacy.Insights   `json:"insights"`
	ProcessingTimeMS float64             `json:"processing_time_ms"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	doc, err := s.ingest.Extract(header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		var ingestErr *ingest.IngestionError
		if errors.As(err, &ingestErr) {
			log.Warn("File ingestion failed",
				zap.String("file", ingestErr.File),
				zap.Int64("size", header.Size),
				zap.Error(ingestErr.Err))
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
				Error:   "ingestion_failed",
				Message: ingestErr.Err.Error(),
				File:    ingestErr.File,
			})
			return
		}
		log.Error("Unexpected ingestion error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to process file")
		return
	}

	level := s.sensitivity(r.FormValue("sensitivity"))
	detections, _ := s.detect(r.Context(), doc.Text, level)
	summary := privacy.Summarize(detections)
	insights, _ := s.insights(r.Context(), doc.Text)

	s.totalRequests.Add(1)
	s.totalDetections.Add(int64(len(detections)))

	log.Info("File ingested",
		append(logger.TextFields(doc.Text),
			zap.String("format", string(doc.Format)),
			zap.Int64("size", doc.Size),
			zap.Int("detections", len(detections)))...,
	)

	s.record(r, &audit.Entry{
		RequestID: requestID,
		Action:    audit.ActionIngest,
	}, map[string]any{
		"format":          doc.Format,
		"size":            doc.Size,
		"detectionsCount": len(detections),
	})

	writeJSON(w, http.StatusOK, ingestResponse{
		RequestID:        requestID,
		Document:         doc,
		Sensitivity:      level,
		Detections:       detections,
		Summary:          summary,
		Insights:         insights,
		ProcessingTimeMS: elapsedMS(start),
	})
}

func (s *Server) handleGeneratePolicy(w http.ResponseWriter, r *http.Request) {
	var req policy.Requirements
	if !decode(w, r, &req) {
		return
	}

	cfg := s.cfg()
	if req.ComplianceFramework == "" {
		req.ComplianceFramework = cfg.Policy.DefaultFramework
	}
	if req.SensitivityLevel == "" {
		req.SensitivityLevel = cfg.Policy.DefaultClassification
	}
	if req.ContextType == "" {
		req.ContextType = cfg.Policy.DefaultContext
	}

	writeJSON(w, http.StatusOK, s.resolver.GeneratePolicy(req))
}

func (s *Server) handleValidatePolicy(w http.ResponseWriter, r *http.Request) {
	var p policy.Policy
	if !decode(w, r, &p) {
		return
	}
	writeJSON(w, http.StatusOK, s.resolver.ValidatePolicy(&p))
}

type recommendRequest struct {
	DataType       string                  `json:"dataType"`
	Classification string                  `json:"classification"`
	Context        policy.RecommendContext `json:"context"`
}

func (s *Server) handleRecommendStrategy(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if !decode(w, r, &req) {
		return
	}

	strategy, ok := s.resolver.RecommendStrategy(req.DataType, req.Classification, req.Context)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("unknown classification %q", req.Classification))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"dataType":       req.DataType,
		"classification": req.Classification,
		"strategy":       strategy,
	})
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dataType := q.Get("type")
	if dataType == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "type is required")
		return
	}

	count := 1
	if c := q.Get("count"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "invalid_request", "count must be between 1 and 100")
			return
		}
		count = n
	}
	numbered := q.Get("numbered") == "true"

	writeJSON(w, http.StatusOK, map[string]any{
		"type":   dataType,
		"tokens": s.resolver.GenerateTokens(dataType, count, numbered),
	})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	data, err := policy.ExportCatalog(s.resolver.Catalog(), format)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	contentType := "application/json"
	if format == "yaml" {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit_disabled", "audit store is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action: audit.Action(q.Get("action")),
		UserID: q.Get("user_id"),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	entries, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("Failed to list audit entries", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// record writes an audit log entry when the audit store is enabled. Failures
// are logged and never fail the request.
func (s *Server) record(r *http.Request, entry *audit.Entry, details any) {
	if s.audit == nil {
		return
	}

	entry.UserID = r.Header.Get("X-User-ID")
	entry.ClientIP = getClientIP(r)
	if details != nil {
		if data, err := json.Marshal(details); err == nil {
			entry.Details = data
		}
	}

	if err := s.audit.Record(r.Context(), entry); err != nil {
		s.logger.Error("Failed to record audit entry",
			zap.String("request_id", entry.RequestID),
			zap.String("action", string(entry.Action)),
			zap.Error(err))
	}
}
