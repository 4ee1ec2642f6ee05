package mysql

import (
	"github.com/ajitpratap0/syncforge/pkg/connector/registry"
)

func init() {
	// Register the MySQL connector
	_ = registry.Register("mysql", NewConnector)
}
