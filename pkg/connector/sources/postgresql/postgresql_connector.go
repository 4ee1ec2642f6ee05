// Package postgresql implements the read-only PostgreSQL connector.
package postgresql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/connector/base"
	"github.com/ajitpratap0/syncforge/pkg/connector/core"
	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/logger"
	"github.com/ajitpratap0/syncforge/pkg/models"
)

// Connector creates read-only PostgreSQL connections
type Connector struct {
	logger *zap.Logger
}

// NewConnector creates a new PostgreSQL connector
func NewConnector() core.Connector {
	return &Connector{
		logger: logger.Get().With(zap.String("connector", "postgresql")),
	}
}

// Name returns the connector family name
func (c *Connector) Name() string {
	return "postgresql"
}

// Connect opens a read-only connection pool. The session is forced into
// read-only mode at the server, on top of the statement guard, so a
// mutating statement fails even if it slips past classification.
func (c *Connector) Connect(ctx context.Context, cfg *config.SourceConfig) (core.Connection, error) {
	connStr := cfg.Credentials["connection_string"]
	if connStr == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "connection_string is required in source credentials")
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to parse connection string")
	}

	poolConfig.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to reach PostgreSQL host")
	}

	c.logger.Info("connected to PostgreSQL",
		zap.String("source_id", cfg.SourceID),
		zap.String("database", poolConfig.ConnConfig.Database))

	return &connection{pool: pool, logger: c.logger}, nil
}

// connection is a live read-only PostgreSQL connection
type connection struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Query executes a paginated read described by the selector. Caller
// queries pass the read-only guard before touching the server. Pagination
// is keyset-based on the cursor field when one is set, offset-based
// otherwise.
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
	parts := strings.Split(sel.Table, ".")
	return fmt.Sprintf("SELECT * FROM %s", pgx.Identifier(parts).Sanitize()), nil
}

// Ping verifies the connection is alive
func (c *connection) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "ping failed")
	}
	return nil
}

// Close releases the connection pool
func (c *connection) Close(_ context.Context) error {
	c.pool.Close()
	return nil
}

// pageIterator reads one page at a time, never materializing more than
// pageSize rows. Keyset pagination advances on the last cursor value seen.
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

	sql, args := it.pageSQL()
	rows, err := it.conn.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classifyQueryError(err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	page := &models.DataPage{
		Number: it.page,
		Rows:   make([]map[string]interface{}, 0, it.pageSize),
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read row values")
		}
		row := make(map[string]interface{}, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
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

	ident := pgx.Identifier{it.cursor}.Sanitize()
	if it.lastSeen == nil {
		sql := fmt.Sprintf("%s ORDER BY %s LIMIT %d", it.relation, ident, it.pageSize)
		return sql, nil
	}
	sql := fmt.Sprintf("%s WHERE %s > $1 ORDER BY %s LIMIT %d", it.relation, ident, ident, it.pageSize)
	return sql, []interface{}{it.lastSeen}
}

// Close releases iterator resources. Pages hold no server-side state
// between fetches, so only the iterator is invalidated.
func (it *pageIterator) Close(_ context.Context) error {
	it.done = true
	return nil
}

// classifyQueryError maps pgx errors onto the pipeline taxonomy
func classifyQueryError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "read-only"):
		return errors.Wrap(err, errors.ErrorTypePermission, "write attempted on read-only connection")
	case strings.Contains(msg, "connection"), strings.Contains(msg, "timeout"):
		return errors.Wrap(err, errors.ErrorTypeConnection, "query failed")
	default:
		return errors.Wrap(err, errors.ErrorTypeQuery, "query failed")
	}
}
