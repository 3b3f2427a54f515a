package telemetry

import (
	"github.com/erp/reconciler/internal/infrastructure/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for database tracing.
type DBTracingConfig struct {
	Enabled bool
	// DBSystem is reported as the db.system span attribute.
	DBSystem string
	// IncludeQueryVariables puts bound values into db.statement. Leave off outside development.
	IncludeQueryVariables bool
}

// DefaultDBTracingConfig returns the database tracing defaults.
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		Enabled:  false,
		DBSystem: "postgresql",
	}
}

// RegisterDBTracing installs the otelgorm plugin on db. Statement spans carry
// the job or request id found on the statement context.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, log *zap.Logger) error {
	if !cfg.Enabled {
		log.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBSystem)}
	if !cfg.IncludeQueryVariables {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").After("otel:before:create").Register("reconciler:tag_create", tagStatementSpan); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").After("otel:before:select").Register("reconciler:tag_select", tagStatementSpan); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").After("otel:before:update").Register("reconciler:tag_update", tagStatementSpan); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").After("otel:before:raw").Register("reconciler:tag_raw", tagStatementSpan); err != nil {
		return err
	}

	log.Info("Database tracing enabled",
		zap.String("db_system", cfg.DBSystem),
		zap.Bool("include_query_variables", cfg.IncludeQueryVariables),
	)
	return nil
}

// tagStatementSpan labels the statement span with the scheduler job or HTTP
// request that issued it.
func tagStatementSpan(db *gorm.DB) {
	if db.Statement == nil || db.Statement.Context == nil {
		return
	}
	ctx := db.Statement.Context
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	if job := logger.GetJob(ctx); job != "" {
		span.SetAttributes(attribute.String("reconciler.job", job))
	}
	if requestID := logger.GetRequestID(ctx); requestID != "" {
		span.SetAttributes(attribute.String("http.request_id", requestID))
	}
}
