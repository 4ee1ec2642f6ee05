package mongodb

import (
	"github.com/ajitpratap0/syncforge/pkg/connector/registry"
)

func init() {
	// Register the MongoDB connector
	_ = registry.Register("mongodb", NewConnector)
}
