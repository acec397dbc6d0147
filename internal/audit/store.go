package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 100
	maxListLimit     = 100
)

const schema = `
CREATE TABLE IF NOT EXISTS anonymization_requests (
	request_id       TEXT PRIMARY KEY,
	status           TEXT NOT NULL DEFAULT 'pending',
	sensitivity      TEXT NOT NULL DEFAULT '',
	framework        TEXT NOT NULL DEFAULT '',
	strategy         TEXT NOT NULL DEFAULT '',
	text_sha256      TEXT NOT NULL,
	text_length      INTEGER NOT NULL DEFAULT 0,
	anonymized_text  TEXT NOT NULL DEFAULT '',
	summary          JSONB NOT NULL DEFAULT '{}'::jsonb,
	risk_level       TEXT NOT NULL DEFAULT '',
	compliance_score INTEGER NOT NULL DEFAULT 0,
	detections_count INTEGER NOT NULL DEFAULT 0,
	processing_ms    BIGINT NOT NULL DEFAULT 0,
	client_ip        TEXT NOT NULL DEFAULT '',
	user_agent       TEXT NOT NULL DEFAULT '',
	error            TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS anonymization_audit_log (
	id         UUID PRIMARY KEY,
	request_id TEXT NOT NULL DEFAULT '',
	action     TEXT NOT NULL,
	user_id    TEXT NOT NULL DEFAULT '',
	client_ip  TEXT NOT NULL DEFAULT '',
	details    JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_anonymization_requests_created_at ON anonymization_requests (created_at);
CREATE INDEX IF NOT EXISTS idx_audit_log_request_id ON anonymization_audit_log (request_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_action_created_at ON anonymization_audit_log (action, created_at DESC);`

// Store persists anonymization results and the audit trail in PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Config contains database configuration
type Config struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore connects to PostgreSQL and creates the audit tables
func NewStore(config Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Audit store initialized successfully",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit tables: %w", err)
	}

	s.logger.Info("Database initialized with audit schema")
	return nil
}

// SaveRequest inserts a request or updates the stored one with the same id
func (s *Store) SaveRequest(ctx context.Context, req *Request) error {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = StatusPending
	}

	query := `
		INSERT INTO anonymization_requests (
			request_id, status, sensitivity, framework, strategy,
			text_sha256, text_length, anonymized_text, summary, risk_level,
			compliance_score, detections_count, processing_ms, client_ip, user_agent,
			error, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (request_id) DO UPDATE SET
			status = EXCLUDED.status,
			anonymized_text = EXCLUDED.anonymized_text,
			summary = EXCLUDED.summary,
			risk_level = EXCLUDED.risk_level,
			compliance_score = EXCLUDED.compliance_score,
			detections_count = EXCLUDED.detections_count,
			processing_ms = EXCLUDED.processing_ms,
			error = EXCLUDED.error,
			processed_at = EXCLUDED.processed_at
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query,
		req.RequestID,
		req.Status,
		req.Sensitivity,
		req.Framework,
		req.Strategy,
		req.TextSHA256,
		req.TextLength,
		req.AnonymizedText,
		jsonParam(req.Summary),
		req.RiskLevel,
		req.ComplianceScore,
		req.DetectionsCount,
		req.ProcessingMS,
		req.ClientIP,
		req.UserAgent,
		req.Error,
		req.ProcessedAt,
	).Scan(&req.CreatedAt)

	if err != nil {
		s.logger.Error("Failed to save anonymization request",
			zap.Error(err),
			zap.String("request_id", req.RequestID))
		return fmt.Errorf("failed to save request: %w", err)
	}

	s.logger.Debug("Anonymization request saved",
		zap.String("request_id", req.RequestID),
		zap.String("status", string(req.Status)))

	return nil
}

// GetRequest loads a stored request by id
func (s *Store) GetRequest(ctx context.Context, id string) (*Request, error) {
	var req Request
	query := `
		SELECT request_id, status, sensitivity, framework, strategy,
			text_sha256, text_length, anonymized_text, summary, risk_level,
			compliance_score, detections_count, processing_ms, client_ip, user_agent,
			error, created_at, processed_at
		FROM anonymization_requests
		WHERE request_id = $1`

	if err := s.db.GetContext(ctx, &req, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	return &req, nil
}

// Record appends one entry to the audit log
func (s *Store) Record(ctx context.Context, entry *Entry) error {
	prepareEntry(entry)

	query := `
		INSERT INTO anonymization_audit_log (id, request_id, action, user_id, client_ip, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.RequestID,
		entry.Action,
		entry.UserID,
		entry.ClientIP,
		jsonParam(entry.Details),
		entry.CreatedAt,
	)
	if err != nil {
		s.logger.Error("Failed to record audit entry",
			zap.Error(err),
			zap.String("action", string(entry.Action)),
			zap.String("request_id", entry.RequestID))
		return fmt.Errorf("failed to record audit entry: %w", err)
	}

	return nil
}

// RecordBatch appends several entries in one statement
func (s *Store) RecordBatch(ctx context.Context, entries []*Entry) (*BatchInsertResult, error) {
	if len(entries) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	result := &BatchInsertResult{}

	valueStrings := make([]string, 0, len(entries))
	valueArgs := make([]interface{}, 0, len(entries)*7)

	for i, entry := range entries {
		prepareEntry(entry)
		n := i * 7
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d::jsonb, $%d)",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7))
		valueArgs = append(valueArgs,
			entry.ID,
			entry.RequestID,
			entry.Action,
			entry.UserID,
			entry.ClientIP,
			jsonParam(entry.Details),
			entry.CreatedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO anonymization_audit_log (id, request_id, action, user_id, client_ip, details, created_at)
		VALUES %s
		ON CONFLICT (id) DO NOTHING`,
		strings.Join(valueStrings, ","))

	res, err := s.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		result.Failed = int64(len(entries))
		result.Errors = []error{err}
		s.logger.Error("Batch audit insert failed", zap.Error(err))
		return result, fmt.Errorf("batch audit insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(entries))
	}

	result.Inserted = inserted
	result.Failed = int64(len(entries)) - inserted
	result.Duration = time.Since(start)

	s.logger.Info("Batch audit insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("failed", result.Failed),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// List returns audit entries matching filter, newest first
func (s *Store) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	query, args := buildListQuery(filter)

	entries := []*Entry{}
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		s.logger.Error("Audit query failed", zap.Error(err))
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	return entries, nil
}

func buildListQuery(filter Filter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.Action != "" {
		args = append(args, filter.Action)
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, request_id, action, user_id, client_ip, details, created_at
		FROM anonymization_audit_log
		%s
		ORDER BY created_at DESC
		LIMIT $%d`, whereClause, len(args))

	return query, args
}

// Stats returns request and audit statistics
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByAction:    map[string]int64{},
		ByRiskLevel: map[string]int64{},
	}

	query := `
		SELECT
			COUNT(*) as total,
			COUNT(CASE WHEN status = 'completed' THEN 1 END) as completed,
			COUNT(CASE WHEN status = 'failed' THEN 1 END) as failed,
			COALESCE(SUM(detections_count), 0) as detections,
			COALESCE(AVG(CASE WHEN status = 'completed' THEN compliance_score END), 0) as avg_score,
			COALESCE(AVG(processing_ms), 0) as avg_processing
		FROM anonymization_requests`

	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalRequests,
		&stats.CompletedRequests,
		&stats.FailedRequests,
		&stats.TotalDetections,
		&stats.AvgComplianceScore,
		&stats.AvgProcessingMS,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get request stats: %w", err)
	}

	if err := s.countInto(ctx, stats.ByAction,
		"SELECT action, COUNT(*) FROM anonymization_audit_log GROUP BY action"); err != nil {
		return nil, err
	}
	if err := s.countInto(ctx, stats.ByRiskLevel,
		"SELECT risk_level, COUNT(*) FROM anonymization_requests WHERE risk_level <> '' GROUP BY risk_level"); err != nil {
		return nil, err
	}

	return stats, nil
}

func (s *Store) countInto(ctx context.Context, into map[string]int64, query string) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to get grouped stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan grouped stats: %w", err)
		}
		into[key] = count
	}
	return rows.Err()
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func prepareEntry(entry *Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
}

// jsonParam passes a JSON document as text so the driver does not encode it
// as bytea.
func jsonParam(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

// maskDatabaseURL masks sensitive information in database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}

	userPart := url[:at]
	if strings.Count(userPart, ":") < 2 {
		return url
	}
	colon := strings.LastIndex(userPart, ":")
	return userPart[:colon+1] + "***" + url[at:]
}
