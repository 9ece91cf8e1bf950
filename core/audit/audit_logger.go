package audit

import (
	"fmt"
	"time"
)

// AuditEvent represents one ledger operation outcome, accepted or
// rejected. Every operation emits exactly one.
type AuditEvent struct {
	Timestamp time.Time
	EventType string            // e.g. "GrantConsent", "RespondToAccessRequest"
	EntityID  string            // caller address or record id
	Result    string            // "accepted", "rejected", "integrity_violation"
	Reason    string            // error message or reason code
	Metadata  map[string]string // any extra details
}

// AuditLogger is the interface for logging audit events.
type AuditLogger interface {
	LogEvent(event AuditEvent)
}

// StdoutAuditLogger is a simple implementation that logs to stdout.
type StdoutAuditLogger struct{}

func (l *StdoutAuditLogger) LogEvent(event AuditEvent) {
	fmt.Printf("[AUDIT] [%s] [%s] Entity: %s, Result: %s, Reason: %s, Metadata: %+v\n",
		event.Timestamp.Format(time.RFC3339), event.EventType, event.EntityID, event.Result, event.Reason, event.Metadata)
}

// NewStdoutAuditLogger returns a new StdoutAuditLogger.
func NewStdoutAuditLogger() AuditLogger {
	return &StdoutAuditLogger{}
}

// NopAuditLogger swallows events; used in tests.
type NopAuditLogger struct{}

func (l *NopAuditLogger) LogEvent(event AuditEvent) {}
