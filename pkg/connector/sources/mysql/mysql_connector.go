// Package mysql implements the read-only MySQL connector.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	"go.uber.org/zap"

	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/connector/base"
	"github.com/ajitpratap0/syncforge/pkg/connector/core"
	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/logger"
	"github.com/ajitpratap0/syncforge/pkg/models"
)

// Connector creates read-only MySQL connections
type Connector struct {
	logger *zap.Logger
}

// NewConnector creates a new MySQL connector
func NewConnector() core.Connector {
	return &Connector{
		logger: logger.Get().With(zap.String("connector", "mysql")),
	}
}

// Name returns the connector family name
func (c *Connector) Name() string {
	return "mysql"
}

// Connect opens a read-only connection pool. The session transaction
// access mode is set to READ ONLY on top of the statement guard.
func (c *Connector) Connect(ctx context.Context, cfg *config.SourceConfig) (core.Connection, error) {
	dsn := cfg.Credentials["dsn"]
	if dsn == "" {
		dsn = cfg.Credentials["connection_string"]
	}
	if dsn == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "dsn is required in source credentials")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to parse DSN")
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to reach MySQL host")
	}

	if _, err := db.ExecContext(ctx, "SET SESSION TRANSACTION READ ONLY"); err != nil {
		c.logger.Warn("could not set session read-only mode; relying on statement guard", zap.Error(err))
	}

	c.logger.Info("connected to MySQL", zap.String("source_id", cfg.SourceID))

	return &connection{db: db, logger: c.logger}, nil
}

// connection is a live read-only MySQL connection
type connection struct {
	db     *sql.DB
	logger *zap.Logger
}

// Query executes a paginated read described by the selector
func (c *connection) Query(ctx context.Context, sel core.Selector, pageSize int) (core.PageIterator, error) {
	if pageSize <= 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "page size must be a positive integer")
	}

	relation, err := selectCore(sel)
	if err != nil {
		return nil, err
	}

	return &pageIterator{
		conn:     c,
		relation: relation,
		cursor:   sel.CursorField,
		lastSeen: sel.CursorAfter,
		pageSize: pageSize,
	}, nil
}

// selectCore builds the unpaginated SELECT over the configured relation
func selectCore(sel core.Selector) (string, error) {
	if sel.Query != "" {
		if err := base.GuardReadOnly(sel.Query); err != nil {
			return "", err
		}
		inner := strings.TrimSuffix(strings.TrimSpace(sel.Query), ";")
		return fmt.Sprintf("SELECT * FROM (%s) AS q", inner), nil
	}
	if sel.Table == "" {
		return "", errors.New(errors.ErrorTypeValidation, "either table or query is required")
	}
	return fmt.Sprintf("SELECT * FROM %s", quoteIdent(sel.Table)), nil
}

// Ping verifies the connection is alive
func (c *connection) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "ping failed")
	}
	return nil
}

// Close releases the connection pool
func (c *connection) Close(_ context.Context) error {
	return c.db.Close()
}

// pageIterator reads one page at a time, never materializing more than
// pageSize rows
type pageIterator struct {
	conn     *connection
	relation string
	cursor   string
	lastSeen interface{}
	pageSize int
	page     int
	done     bool
}

// Next returns the next page, or nil when the source is exhausted
func (it *pageIterator) Next(ctx context.Context) (*models.DataPage, error) {
	if it.done {
		return nil, nil
	}

	query, args := it.pageSQL()
	rows, err := it.conn.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyQueryError(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read column names")
	}

	page := &models.DataPage{
		Number: it.page,
		Rows:   make([]map[string]interface{}, 0, it.pageSize),
	}

	values := make([]interface{}, len(columns))
	scanTargets := make([]interface{}, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan row")
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			// The driver hands back []byte for text columns; normalize to
			// string so downstream stages see comparable values
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		page.Rows = append(page.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyQueryError(err)
	}

	if len(page.Rows) == 0 {
		it.done = true
		return nil, nil
	}

	if it.cursor != "" {
		it.lastSeen = page.Rows[len(page.Rows)-1][it.cursor]
	}
	it.page++
	page.HasMore = len(page.Rows) == it.pageSize
	if !page.HasMore {
		it.done = true
	}
	return page, nil
}

// pageSQL assembles the statement and arguments for the next page
func (it *pageIterator) pageSQL() (string, []interface{}) {
	if it.cursor == "" {
		sql := fmt.Sprintf("%s LIMIT %d OFFSET %d", it.relation, it.pageSize, it.page*it.pageSize)
		return sql, nil
	}

	ident := quoteIdent(it.cursor)
	if it.lastSeen == nil {
		sql := fmt.Sprintf("%s ORDER BY %s LIMIT %d", it.relation, ident, it.pageSize)
		return sql, nil
	}
	sql := fmt.Sprintf("%s WHERE %s > ? ORDER BY %s LIMIT %d", it.relation, ident, ident, it.pageSize)
	return sql, []interface{}{it.lastSeen}
}

// Close releases iterator resources
func (it *pageIterator) Close(_ context.Context) error {
	it.done = true
	return nil
}

// classifyQueryError maps driver errors onto the pipeline taxonomy
func classifyQueryError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "READ ONLY"), strings.Contains(msg, "read-only"):
		return errors.Wrap(err, errors.ErrorTypePermission, "write attempted on read-only connection")
	case strings.Contains(msg, "connection"), strings.Contains(msg, "timeout"):
		return errors.Wrap(err, errors.ErrorTypeConnection, "query failed")
	default:
		return errors.Wrap(err, errors.ErrorTypeQuery, "query failed")
	}
}

// quoteIdent backtick-quotes a possibly qualified MySQL identifier
func quoteIdent(ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
	}
	return strings.Join(parts, ".")
}
