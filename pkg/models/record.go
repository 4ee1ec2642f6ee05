// Package models provides data models and structures for SyncForge.
// It re-exports the unified Record types from the pool package and adds
// the transient page and schema types used by the extraction layer.
package models

import (
	"github.com/ajitpratap0/syncforge/pkg/pool"
)

// Record is a type alias for pool.Record, the unified record type.
type Record = pool.Record

// RecordMetadata is a type alias for pool.RecordMetadata.
type RecordMetadata = pool.RecordMetadata

// DataPage is an ordered sequence of row-maps plus paging state. Pages are
// transient: produced by the reader, consumed immediately by the next
// stage, never persisted as-is.
type DataPage struct {
	// Number is the zero-based page number
	Number int `json:"number"`
	// Rows holds the row-maps in source order
	Rows []map[string]interface{} `json:"rows"`
	// HasMore indicates whether another page follows
	HasMore bool `json:"has_more"`
}

// RowCount returns the number of rows in the page
func (p *DataPage) RowCount() int {
	return len(p.Rows)
}
