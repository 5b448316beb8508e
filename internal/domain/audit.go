package domain

import (
	"context"
	"fmt"
	"time"
)

// ErrAuditWrite is returned when an audit record cannot be persisted.
var ErrAuditWrite = fmt.Errorf("audit write failed")

// AuditEvent records one tool execution. Parameter values are never
// recorded, only their names.
type AuditEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	Tool      string        `json:"tool"`
	Method    string        `json:"method"`
	Path      string        `json:"path"`
	Params    []string      `json:"params,omitempty"`
	Outcome   string        `json:"outcome"`
	Kind      ExecErrorKind `json:"kind,omitempty"`
	Status    int           `json:"status,omitempty"`
	ElapsedMs int64         `json:"elapsedMs"`
	Error     string        `json:"error,omitempty"`
}

// AuditLogger persists audit events.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Close() error
}
