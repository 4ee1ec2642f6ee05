package core

import (
	"context"

	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/models"
)

// Selector describes what to read from a source. Either Table or Query is
// set; CursorField/CursorAfter restrict reads for incremental pulls.
type Selector struct {
	// Table to read when Query is empty
	Table string
	// Query is a caller-supplied read-only query; mutating statements are
	// rejected at the connector boundary
	Query string
	// CursorField is the ordering column used for incremental restriction
	CursorField string
	// CursorAfter is the exclusive lower bound on CursorField; nil means
	// unrestricted
	CursorAfter interface{}
}

// PageIterator yields successive data pages from a query. Next returns a
// nil page once the source is exhausted. The HasMore flag on a page is a
// lookahead hint: it is true when the page was filled to capacity.
type PageIterator interface {
	Next(ctx context.Context) (*models.DataPage, error)
	Close(ctx context.Context) error
}

// Connection is a live read-only connection to a source. Every connector
// opens the underlying connection with read-only privileges; any attempt
// to execute a mutating statement fails with a permission error regardless
// of what the caller requests.
type Connection interface {
	// Query executes a paginated read described by the selector
	Query(ctx context.Context, sel Selector, pageSize int) (PageIterator, error)
	// Ping verifies the connection is alive
	Ping(ctx context.Context) error
	// Close releases the connection's resources
	Close(ctx context.Context) error
}

// Connector creates connections to one source database family
type Connector interface {
	// Name identifies the connector family (postgresql, mysql, mongodb)
	Name() string
	// Connect opens a read-only connection from source credentials.
	// Malformed parameters fail with a validation error; unreachable hosts
	// or auth failures fail with a retryable connection error.
	Connect(ctx context.Context, cfg *config.SourceConfig) (Connection, error)
}

// ConnectorRegistry manages available connectors
type ConnectorRegistry interface {
	Register(name string, factory func() Connector) error
	Get(name string) (Connector, error)
	List() []string
	Exists(name string) bool
}
