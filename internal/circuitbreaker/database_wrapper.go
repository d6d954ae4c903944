package circuitbreaker

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
)

// DatabaseWrapper routes database calls through a circuit breaker so a dead
// Postgres fails fast instead of exhausting the pool with hung requests.
type DatabaseWrapper struct {
	db     *sql.DB
	cb     *CircuitBreaker
	logger *zap.Logger
}

func NewDatabaseWrapper(db *sql.DB, logger *zap.Logger) *DatabaseWrapper {
	cb := NewCircuitBreaker("postgresql", databaseBreakerConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("postgresql", "database-client", cb)
	return &DatabaseWrapper{db: db, cb: cb, logger: logger}
}

func (dw *DatabaseWrapper) observe(cbErr, opErr error) {
	GlobalMetricsCollector.RecordRequest("postgresql", "database-client", dw.cb.State(), cbErr == nil && opErr == nil)
}

func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	var err error
	cbErr := dw.cb.Execute(ctx, func() error {
		err = dw.db.PingContext(ctx)
		return err
	})
	dw.observe(cbErr, err)
	if cbErr != nil {
		return cbErr
	}
	return err
}

func (dw *DatabaseWrapper) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	var err error
	cbErr := dw.cb.Execute(ctx, func() error {
		rows, err = dw.db.QueryContext(ctx, query, args...)
		return err
	})
	dw.observe(cbErr, err)
	if cbErr != nil {
		return nil, cbErr
	}
	return rows, err
}

// QueryRowContext returns the row and a breaker error; sql.Row defers query
// errors to Scan, so only the breaker rejection is reportable here.
func (dw *DatabaseWrapper) QueryRowContext(ctx context.Context, query string, args ...interface{}) (*sql.Row, error) {
	var row *sql.Row
	cbErr := dw.cb.Execute(ctx, func() error {
		row = dw.db.QueryRowContext(ctx, query, args...)
		return nil
	})
	dw.observe(cbErr, nil)
	if cbErr != nil {
		return nil, cbErr
	}
	return row, nil
}

func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	var err error
	cbErr := dw.cb.Execute(ctx, func() error {
		result, err = dw.db.ExecContext(ctx, query, args...)
		return err
	})
	dw.observe(cbErr, err)
	if cbErr != nil {
		return nil, cbErr
	}
	return result, err
}

func (dw *DatabaseWrapper) Stats() sql.DBStats { return dw.db.Stats() }

// IsCircuitBreakerOpen reports whether calls are currently rejected.
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}
