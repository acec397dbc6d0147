package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/medixscan/anonymizer/internal/audit"
	"github.com/medixscan/anonymizer/internal/cache"
	"github.com/medixscan/anonymizer/internal/config"
	"github.com/medixscan/anonymizer/internal/logger"
	"github.com/medixscan/anonymizer/internal/policy"
	"github.com/medixscan/anonymizer/internal/privacy"
	"github.com/medixscan/anonymizer/internal/security"
	"go.uber.org/zap"
)

const scenarioText = "Patient: John Smith, DOB: 01/15/1980, contact john.smith@email.com"

type memoryAudit struct {
	mu       sync.Mutex
	requests map[string]*audit.Request
	entries  []*audit.Entry
}

func newMemoryAudit() *memoryAudit {
	return &memoryAudit{requests: map[string]*audit.Request{}}
}

func (m *memoryAudit) SaveRequest(ctx context.Context, req *audit.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *req
	m.requests[req.RequestID] = &stored
	return nil
}

func (m *memoryAudit) GetRequest(ctx context.Context, id string) (*audit.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", audit.ErrNotFound, id)
	}
	return req, nil
}

func (m *memoryAudit) Record(ctx context.Context, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryAudit) List(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*audit.Entry
	for _, e := range m.entries {
		if filter.Action == "" || e.Action == filter.Action {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryAudit) actions() []audit.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Action
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memoryCache) Key(kind cache.Kind, sensitivity, text string) string {
	return fmt.Sprintf("%s:%s:%s", kind, sensitivity, logger.Fingerprint(text))
}

func (c *memoryCache) Get(ctx context.Context, key string, out any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.data[key]
	return ok && json.Unmarshal(data, out) == nil
}

func (c *memoryCache) Set(ctx context.Context, key string, kind cache.Kind, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = data
	return nil
}

func newTestServer(t *testing.T, mutate func(*config.Config, *Deps)) *Server {
	t.Helper()

	cfg := config.GetDefaults()
	catalog := policy.DefaultCatalog()
	deps := Deps{
		Engine:   privacy.New(privacy.DefaultPatternCatalog(), catalog, privacy.WithWorkers(2)),
		Resolver: policy.NewResolver(catalog, zap.NewNop()),
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}

	s, err := New(cfg, logger.NewNop(), deps)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthAndInfo(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(t, s.Handler(), "GET", "/health", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("unexpected health response %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID response header")
	}

	rec = doJSON(t, s.Handler(), "GET", "/info", nil, nil)
	var info map[string]any
	decodeBody(t, rec, &info)
	if info["audit_enabled"] != false || info["name"] != "medixscan-anonymizer" {
		t.Errorf("unexpected info: %v", info)
	}
}

func TestAnalyze(t *testing.T) {
	c := &memoryCache{data: map[string][]byte{}}
	s := newTestServer(t, func(cfg *config.Config, d *Deps) { d.Cache = c })

	var first analyzeResponse
	rec := doJSON(t, s.Handler(), "POST", "/api/v1/analyze", analyzeRequest{Text: scenarioText}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &first)
	if len(first.Detections) != 3 || first.Summary.TotalDetections != 3 {
		t.Errorf("expected 3 detections, got %+v", first)
	}
	if first.Sensitivity != privacy.SensitivityMedium || first.Cached {
		t.Errorf("unexpected sensitivity or cache flag: %+v", first)
	}

	var second analyzeResponse
	decodeBody(t, doJSON(t, s.Handler(), "POST", "/api/v1/analyze", analyzeRequest{Text: scenarioText}, nil), &second)
	if !second.Cached || len(second.Detections) != 3 {
		t.Errorf("expected cached detections, got %+v", second)
	}

	rec = doJSON(t, s.Handler(), "POST", "/api/v1/analyze", analyzeRequest{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty text, got %d", rec.Code)
	}

	req := httptest.NewRequest("POST", "/api/v1/analyze", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestAnonymizeAndExport(t *testing.T) {
	store := newMemoryAudit()
	s := newTestServer(t, func(cfg *config.Config, d *Deps) { d.Audit = store })
	h := s.Handler()

	rec := doJSON(t, h, "POST", "/api/v1/anonymize", anonymizeRequest{Text: scenarioText},
		map[string]string{"X-Request-ID": "req-123", "X-User-ID": "analyst"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp anonymizeResponse
	decodeBody(t, rec, &resp)
	want := "Patient: [PATIENT NAME], DOB: [DATE], contact [CONTACT EMAIL]"
	if resp.RequestID != "req-123" || resp.AnonymizedText != want {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.DetectionsCount != 3 || resp.Insights == nil || resp.RiskLevel != resp.Insights.RiskLevel {
		t.Errorf("unexpected counts or insights: %+v", resp)
	}

	stored, err := store.GetRequest(context.Background(), "req-123")
	if err != nil {
		t.Fatalf("anonymization was not stored: %v", err)
	}
	if stored.AnonymizedText != want || stored.TextSHA256 != logger.Fingerprint(scenarioText) {
		t.Errorf("unexpected stored request: %+v", stored)
	}
	if strings.Contains(string(stored.Summary), "John") {
		t.Error("stored summary leaks input text")
	}

	t.Run("text", func(t *testing.T) {
		rec := doJSON(t, h, "GET", "/api/v1/export/req-123?format=text", nil, nil)
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Errorf("unexpected text export %d: %q", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Header().Get("Content-Disposition"), "anonymized-req-123.txt") {
			t.Errorf("unexpected Content-Disposition %q", rec.Header().Get("Content-Disposition"))
		}
	})

	t.Run("json", func(t *testing.T) {
		var export exportResponse
		decodeBody(t, doJSON(t, h, "GET", "/api/v1/export/req-123", nil, nil), &export)
		if export.AnonymizedText != want || export.Metadata.DetectionsCount != 3 || export.Metadata.Strategy != "REPLACEMENT" {
			t.Errorf("unexpected json export: %+v", export)
		}
	})

	t.Run("errors", func(t *testing.T) {
		if rec := doJSON(t, h, "GET", "/api/v1/export/missing", nil, nil); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
		if rec := doJSON(t, h, "GET", "/api/v1/export/req-123?format=pdf", nil, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	actions := store.actions()
	if len(actions) != 3 || actions[0] != audit.ActionAnonymize || actions[1] != audit.ActionExport {
		t.Errorf("unexpected audit actions: %v", actions)
	}
	if store.entries[0].UserID != "analyst" {
		t.Errorf("expected user id from header, got %q", store.entries[0].UserID)
	}

	var list struct {
		Entries []*audit.Entry `json:"entries"`
		Count   int            `json:"count"`
	}
	decodeBody(t, doJSON(t, h, "GET", "/api/v1/audit?action=export", nil, nil), &list)
	if list.Count != 2 {
		t.Errorf("expected 2 export entries, got %d", list.Count)
	}
	if rec := doJSON(t, h, "GET", "/api/v1/audit?since=yesterday", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad since, got %d", rec.Code)
	}
}

func TestAnonymizeOptions(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	t.Run("supplied subset", func(t *testing.T) {
		subset := []privacy.Detection{{Category: "personalData", Type: "names", Value: "John Smith", Start: 9, End: 19, Confidence: 0.99}}
		var resp anonymizeResponse
		decodeBody(t, doJSON(t, h, "POST", "/api/v1/anonymize", anonymizeRequest{
			Text:       scenarioText,
			Detections: &subset,
			Options:    &optionsRequest{UseContextualReplacement: new(bool)},
		}, nil), &resp)
		want := "Patient: [REDACTED], DOB: 01/15/1980, contact john.smith@email.com"
		if resp.AnonymizedText != want || resp.DetectionsCount != 1 {
			t.Errorf("unexpected subset result: %+v", resp)
		}
	})

	t.Run("masking", func(t *testing.T) {
		var resp anonymizeResponse
		decodeBody(t, doJSON(t, h, "POST", "/api/v1/anonymize", anonymizeRequest{Text: scenarioText, Strategy: "masking"}, nil), &resp)
		if resp.Strategy != policy.StrategyMasking || strings.Contains(resp.AnonymizedText, "John Smith") {
			t.Errorf("unexpected masking result: %+v", resp)
		}
	})

	t.Run("unknown strategy", func(t *testing.T) {
		rec := doJSON(t, h, "POST", "/api/v1/anonymize", anonymizeRequest{Text: scenarioText, Strategy: "shred"}, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestExportWithoutAuditStore(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doJSON(t, s.Handler(), "GET", "/api/v1/export/req-1", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestBatch(t *testing.T) {
	s := newTestServer(t, nil)

	var resp batchResponse
	rec := doJSON(t, s.Handler(), "POST", "/api/v1/batch", batchRequest{Texts: []string{scenarioText, "nothing here"}}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &resp)
	if resp.BatchResult == nil || len(resp.Results) != 2 {
		t.Fatalf("unexpected batch response: %s", rec.Body.String())
	}
	if resp.BatchSummary.TotalTexts != 2 || resp.BatchSummary.Successful != 2 || resp.BatchSummary.TotalDetections != 3 {
		t.Errorf("unexpected summary: %+v", resp.BatchSummary)
	}

	if rec := doJSON(t, s.Handler(), "POST", "/api/v1/batch", batchRequest{}, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty batch, got %d", rec.Code)
	}
}

func TestInsightsCached(t *testing.T) {
	c := &memoryCache{data: map[string][]byte{}}
	s := newTestServer(t, func(cfg *config.Config, d *Deps) { d.Cache = c })

	var first, second insightsResponse
	decodeBody(t, doJSON(t, s.Handler(), "POST", "/api/v1/insights", insightsRequest{Text: scenarioText}, nil), &first)
	decodeBody(t, doJSON(t, s.Handler(), "POST", "/api/v1/insights", insightsRequest{Text: scenarioText}, nil), &second)

	if first.Insights == nil || first.Cached {
		t.Fatalf("unexpected first response: %+v", first)
	}
	if !second.Cached || second.ComplianceScore != first.ComplianceScore || second.RiskLevel != first.RiskLevel {
		t.Errorf("cached insights differ: %+v vs %+v", second, first)
	}
}

func TestRiskScoredAtHighSensitivity(t *testing.T) {
	store := newMemoryAudit()
	c := &memoryCache{data: map[string][]byte{}}
	s := newTestServer(t, func(cfg *config.Config, d *Deps) {
		d.Audit = store
		d.Cache = c
	})
	h := s.Handler()
	text := "Seen in Room 12. Call Jane Doe, DOB: 01/15/1980, contact jane.doe@email.com"

	var anonymized anonymizeResponse
	rec := doJSON(t, h, "POST", "/api/v1/anonymize", anonymizeRequest{Text: text, Sensitivity: "low"},
		map[string]string{"X-Request-ID": "req-low"})
	decodeBody(t, rec, &anonymized)

	var insights insightsResponse
	decodeBody(t, doJSON(t, h, "POST", "/api/v1/insights", insightsRequest{Text: text}, nil), &insights)

	if insights.Insights == nil || anonymized.Insights == nil {
		t.Fatalf("missing insights: %+v / %+v", anonymized, insights)
	}
	if !insights.Cached {
		t.Error("anonymize should have populated the insights cache")
	}
	if anonymized.RiskLevel != insights.RiskLevel || anonymized.ComplianceScore != insights.ComplianceScore {
		t.Errorf("risk differs between endpoints: anonymize %s/%d, insights %s/%d",
			anonymized.RiskLevel, anonymized.ComplianceScore, insights.RiskLevel, insights.ComplianceScore)
	}

	stored, err := store.GetRequest(context.Background(), "req-low")
	if err != nil {
		t.Fatalf("anonymization was not stored: %v", err)
	}
	if stored.RiskLevel != string(insights.RiskLevel) || stored.ComplianceScore != insights.ComplianceScore {
		t.Errorf("stored risk %s/%d differs from insights", stored.RiskLevel, stored.ComplianceScore)
	}
	if len(stored.Summary) == 0 {
		t.Error("stored summary is empty")
	}
}

func multipartUpload(t *testing.T, name, contentType, body string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename="%s"`, name)}
	header["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("Failed to create part: %v", err)
	}
	part.Write([]byte(body))
	mw.WriteField("sensitivity", "high")
	mw.Close()

	req := httptest.NewRequest("POST", "/api/v1/ingest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestIngest(t *testing.T) {
	s := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartUpload(t, "note.txt", "text/plain", scenarioText))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ingestResponse
	decodeBody(t, rec, &resp)
	if resp.Document == nil || resp.Document.Text != scenarioText || resp.Sensitivity != privacy.SensitivityHigh {
		t.Errorf("unexpected ingest response: %+v", resp)
	}
	if len(resp.Detections) < 3 {
		t.Errorf("expected at least 3 detections, got %d", len(resp.Detections))
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartUpload(t, "scan.png", "image/png", "\x89PNG"))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var failure errorResponse
	decodeBody(t, rec, &failure)
	if failure.Error != "ingestion_failed" || failure.File != "scan.png" {
		t.Errorf("unexpected failure body: %+v", failure)
	}
}

func TestPolicyEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	var p policy.Policy
	decodeBody(t, doJSON(t, h, "POST", "/api/v1/policy", policy.Requirements{}, nil), &p)
	if !strings.HasPrefix(p.ID, "POLICY_") || p.Framework != "HIPAA" || p.Classification != "HIGH" {
		t.Errorf("unexpected policy: %+v", p)
	}

	var v policy.Validation
	decodeBody(t, doJSON(t, h, "POST", "/api/v1/policy/validate", p, nil), &v)
	if v.Compliance["HIPAA"].Score == 0 {
		t.Errorf("expected HIPAA coverage, got %+v", v.Compliance)
	}

	rec := doJSON(t, h, "POST", "/api/v1/policy/recommend", recommendRequest{DataType: "names", Classification: "CRITICAL"}, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, h, "POST", "/api/v1/policy/recommend", recommendRequest{DataType: "names", Classification: "TOP_SECRET"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown tier, got %d", rec.Code)
	}

	var tokens struct {
		Tokens []string `json:"tokens"`
	}
	decodeBody(t, doJSON(t, h, "GET", "/api/v1/policy/tokens?type=unknown&count=2&numbered=true", nil, nil), &tokens)
	if len(tokens.Tokens) != 2 || tokens.Tokens[1] != "[DATA_2]" {
		t.Errorf("unexpected tokens: %v", tokens.Tokens)
	}

	rec = doJSON(t, h, "GET", "/api/v1/policy/catalog?format=yaml", nil, nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/yaml" {
		t.Errorf("unexpected catalog response %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "complianceFrameworks") {
		t.Error("catalog export missing frameworks")
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config, d *Deps) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1}
		d.Limiter = security.NewRateLimiter(cfg.RateLimit)
	})

	body := analyzeRequest{Text: "hello"}
	if rec := doJSON(t, s.Handler(), "POST", "/api/v1/analyze", body, nil); rec.Code != http.StatusOK {
		t.Fatalf("first request rejected with %d", rec.Code)
	}
	if rec := doJSON(t, s.Handler(), "POST", "/api/v1/analyze", body, nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec := doJSON(t, s.Handler(), "GET", "/health", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("health should not be rate limited, got %d", rec.Code)
	}

	cfg := config.GetDefaults()
	cfg.RateLimit.Enabled = false
	s.UpdateConfig(cfg)
	if rec := doJSON(t, s.Handler(), "POST", "/api/v1/analyze", body, nil); rec.Code != http.StatusOK {
		t.Errorf("expected reload to lift the limit, got %d", rec.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config, d *Deps) { cfg.Server.MaxBodyBytes = 32 })

	rec := doJSON(t, s.Handler(), "POST", "/api/v1/analyze", analyzeRequest{Text: strings.Repeat("a", 64)}, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}
