package postgresql

import (
	"github.com/ajitpratap0/syncforge/pkg/connector/registry"
)

func init() {
	// Register the PostgreSQL connector
	_ = registry.Register("postgresql", NewConnector)
}
