// Package mongodb implements the read-only MongoDB connector.
//
// MongoDB has no session-level read-only mode; the connection type only
// exposes find-based reads, so no mutating operation can be expressed
// through it. Raw command execution is deliberately not surfaced.
package mongodb

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/connector/core"
	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/logger"
	"github.com/ajitpratap0/syncforge/pkg/models"
)

// Connector creates read-only MongoDB connections
type Connector struct {
	logger *zap.Logger
}

// NewConnector creates a new MongoDB connector
func NewConnector() core.Connector {
	return &Connector{
		logger: logger.Get().With(zap.String("connector", "mongodb")),
	}
}

// Name returns the connector family name
func (c *Connector) Name() string {
	return "mongodb"
}

// Connect opens a read-only MongoDB connection
func (c *Connector) Connect(ctx context.Context, cfg *config.SourceConfig) (core.Connection, error) {
	uri := cfg.Credentials["connection_string"]
	if uri == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "connection_string is required in source credentials")
	}
	database := cfg.Credentials["database"]
	if database == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "database is required in source credentials")
	}

	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetMaxPoolSize(10)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to parse MongoDB URI")
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to reach MongoDB host")
	}

	c.logger.Info("connected to MongoDB",
		zap.String("source_id", cfg.SourceID),
		zap.String("database", database))

	return &connection{
		client:   client,
		database: database,
		logger:   c.logger,
	}, nil
}

// connection is a live read-only MongoDB connection
type connection struct {
	client   *mongo.Client
	database string
	logger   *zap.Logger
}

// Query executes a paginated find over the selector's collection. The
// Query selector field is not supported for MongoDB: arbitrary commands
// could mutate, so only collection reads are allowed.
func (c *connection) Query(ctx context.Context, sel core.Selector, pageSize int) (core.PageIterator, error) {
	if pageSize <= 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "page size must be a positive integer")
	}
	if sel.Query != "" {
		return nil, errors.New(errors.ErrorTypePermission, "raw commands are not allowed on read-only MongoDB connections")
	}
	if sel.Table == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "collection name is required")
	}

	return &pageIterator{
		conn:       c,
		collection: sel.Table,
		cursor:     sel.CursorField,
		lastSeen:   sel.CursorAfter,
		pageSize:   pageSize,
	}, nil
}

// Ping verifies the connection is alive
func (c *connection) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx, nil); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "ping failed")
	}
	return nil
}

// Close releases the client
func (c *connection) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// pageIterator reads one page at a time using cursor-bounded finds
type pageIterator struct {
	conn       *connection
	collection string
	cursor     string
	lastSeen   interface{}
	pageSize   int
	page       int
	done       bool
}

// Next returns the next page, or nil when the collection is exhausted
func (it *pageIterator) Next(ctx context.Context) (*models.DataPage, error) {
	if it.done {
		return nil, nil
	}

	coll := it.conn.client.Database(it.conn.database).Collection(it.collection)

	filter := bson.M{}
	findOpts := options.Find().SetLimit(int64(it.pageSize))
	if it.cursor != "" {
		findOpts.SetSort(bson.D{{Key: it.cursor, Value: 1}})
		if it.lastSeen != nil {
			filter[it.cursor] = bson.M{"$gt": it.lastSeen}
		}
	} else {
		findOpts.SetSkip(int64(it.page * it.pageSize))
	}

	mc, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, classifyQueryError(err)
	}
	defer mc.Close(ctx)

	page := &models.DataPage{
		Number: it.page,
		Rows:   make([]map[string]interface{}, 0, it.pageSize),
	}

	for mc.Next(ctx) {
		row := make(map[string]interface{})
		if err := mc.Decode(&row); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode document")
		}
		page.Rows = append(page.Rows, row)
	}
	if err := mc.Err(); err != nil {
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

// Close releases iterator resources
func (it *pageIterator) Close(_ context.Context) error {
	it.done = true
	return nil
}

// classifyQueryError maps driver errors onto the pipeline taxonomy
func classifyQueryError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "not authorized"):
		return errors.Wrap(err, errors.ErrorTypePermission, "operation rejected for read-only role")
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), strings.Contains(msg, "connection"):
		return errors.Wrap(err, errors.ErrorTypeConnection, "query failed")
	default:
		return errors.Wrap(err, errors.ErrorTypeQuery, "query failed")
	}
}
