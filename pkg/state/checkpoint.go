// Package state provides the durable sync state stores: checkpoints for
// incremental pull resumption and idempotency records for duplicate
// webhook suppression. Both come in an in-memory flavor for single-process
// runs and tests, and a Redis flavor for shared deployments.
//
// All mutations to a single source's checkpoint or a single idempotency
// key go through a per-key lock; different keys never contend.
package state

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Checkpoint marks how far an incremental pull has progressed for a source.
// The cursor is monotonically non-decreasing; it is never rewound except
// by explicit rollback or full resync.
type Checkpoint struct {
	SourceID      string      `json:"source_id"`
	Cursor        interface{} `json:"cursor"`
	LastRun       time.Time   `json:"last_run"`
	RowsProcessed int64       `json:"rows_processed"`
}

// CheckpointStore is a durable source-id → checkpoint mapping
type CheckpointStore interface {
	// Get returns the checkpoint for a source, or nil if none exists
	Get(ctx context.Context, sourceID string) (*Checkpoint, error)
	// Put stores a checkpoint. Cursor regressions are rejected with a
	// validation error unless force is set (explicit rollback).
	Put(ctx context.Context, cp *Checkpoint, force bool) error
	// Delete removes a source's checkpoint (full-resync reset)
	Delete(ctx context.Context, sourceID string) error
}

// IdempotencyStore is a durable set of previously accepted request keys
type IdempotencyStore interface {
	// Check reports whether the key was already recorded, without
	// recording it. Used to short-circuit duplicates before a payload is
	// parsed; only a fully validated delivery records its key.
	Check(ctx context.Context, key string) (bool, error)
	// CheckAndRecord atomically tests the key and records it if absent.
	// Returns true when the key was newly recorded (first delivery) and
	// false when it already existed (duplicate). Entries expire after ttl.
	CheckAndRecord(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// CompareCursor orders two cursor values: -1, 0 or 1. Supported cursor
// kinds are timestamps, numbers, and strings; string values that parse as
// RFC 3339 timestamps are compared as times so JSON round-trips stay
// ordered.
func CompareCursor(a, b interface{}) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	if at, aok := asTime(a); aok {
		if bt, bok := asTime(b); bok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}

	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}

	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// MaxCursor returns the larger of two cursor values
func MaxCursor(a, b interface{}) interface{} {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if CompareCursor(a, b) >= 0 {
		return a
	}
	return b
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
