package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Validate checks the mandatory fields of an audit record.
func (l AuditLog) Validate() error {
	if l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	return nil
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

// SlogAuditor writes audit records to a structured logger. It backs the
// in-memory store driver and catches records the database rejects.
type SlogAuditor struct {
	logger *slog.Logger
}

// NewSlogAuditor returns an auditor on the given logger.
func NewSlogAuditor(logger *slog.Logger) *SlogAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditor{logger: logger}
}

// Record logs the entry at info level.
func (a *SlogAuditor) Record(ctx context.Context, log AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "audit",
		slog.Int64("actor_id", log.ActorID),
		slog.String("action", log.Action),
		slog.String("entity", log.Entity),
		slog.String("entity_id", log.EntityID),
		slog.Any("meta", log.Meta),
		slog.Time("at", log.At),
	)
	return nil
}

// Auditor is satisfied by every audit sink.
type Auditor interface {
	Record(ctx context.Context, log AuditLog) error
}

// FallbackAuditor tries the primary sink and hands failed records to the
// fallback so they are never silently lost.
type FallbackAuditor struct {
	Primary  Auditor
	Fallback Auditor
}

// Record writes to the primary sink, then to the fallback on failure.
func (a FallbackAuditor) Record(ctx context.Context, log AuditLog) error {
	err := a.Primary.Record(ctx, log)
	if err == nil || a.Fallback == nil {
		return err
	}
	if ferr := a.Fallback.Record(ctx, log); ferr != nil {
		return errors.Join(err, ferr)
	}
	return err
}
