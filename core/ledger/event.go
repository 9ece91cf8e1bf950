package ledger

import (
	"fmt"
	"time"
)

// EventType tags the five event categories a ledger operation can emit.
type EventType string

const (
	EventConsentGranted  EventType = "ConsentGranted"
	EventConsentRevoked  EventType = "ConsentRevoked"
	EventAccessRequested EventType = "AccessRequested"
	EventAccessApproved  EventType = "AccessApproved"
	EventAccessDenied    EventType = "AccessDenied"
)

// Category groups event types for projection cursoring. Consent-side
// and request-side events are indexed independently.
type Category string

const (
	CategoryConsent Category = "consent"
	CategoryRequest Category = "request"
)

// Categories lists every category a projection cursor exists for.
var Categories = []Category{CategoryConsent, CategoryRequest}

// Envelope is the immutable, ordered wire form of an event: a strictly
// increasing position, a timestamp, the category tag, and exactly one
// populated variant. Consumers must treat unknown future types as
// ignorable rather than fatal.
type Envelope struct {
	Position  uint64    `json:"position"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	ConsentGranted  *ConsentGrantedEvent  `json:"consentGranted,omitempty"`
	ConsentRevoked  *ConsentRevokedEvent  `json:"consentRevoked,omitempty"`
	AccessRequested *AccessRequestedEvent `json:"accessRequested,omitempty"`
	AccessApproved  *AccessApprovedEvent  `json:"accessApproved,omitempty"`
	AccessDenied    *AccessDeniedEvent    `json:"accessDenied,omitempty"`
}

// ConsentGrantedEvent records a direct grant. Records carries full
// snapshots so projections never read ledger-owned keys.
type ConsentGrantedEvent struct {
	ConsentIDs []string        `json:"consentIds"`
	Patient    string          `json:"patient"`
	Provider   string          `json:"provider"`
	Records    []ConsentRecord `json:"records"`
}

// ConsentRevokedEvent records a deactivation.
type ConsentRevokedEvent struct {
	ConsentID string    `json:"consentId"`
	Patient   string    `json:"patient"`
	RevokedAt time.Time `json:"revokedAt"`
}

// AccessRequestedEvent records a provider petition.
type AccessRequestedEvent struct {
	RequestID string        `json:"requestId"`
	Requester string        `json:"requester"`
	Patient   string        `json:"patient"`
	Request   AccessRequest `json:"request"`
}

// AccessApprovedEvent records an approval and the single consent record
// it produced.
type AccessApprovedEvent struct {
	RequestID  string          `json:"requestId"`
	Patient    string          `json:"patient"`
	ConsentIDs []string        `json:"consentIds"`
	Records    []ConsentRecord `json:"records"`
	Request    AccessRequest   `json:"request"`
}

// AccessDeniedEvent records a denial, whether explicit or forced by the
// request's own expiration.
type AccessDeniedEvent struct {
	RequestID string        `json:"requestId"`
	Patient   string        `json:"patient"`
	Request   AccessRequest `json:"request"`
}

// Category maps an event type onto its projection category. The switch
// is exhaustive over the known types; anything else is reported so a
// consumer can skip it.
func (e Envelope) Category() (Category, error) {
	switch e.Type {
	case EventConsentGranted, EventConsentRevoked:
		return CategoryConsent, nil
	case EventAccessRequested, EventAccessApproved, EventAccessDenied:
		return CategoryRequest, nil
	default:
		return "", fmt.Errorf("unknown event type %q at position %d", e.Type, e.Position)
	}
}

// PatientAddress extracts the patient the event concerns, for
// patient-filtered history queries.
func (e Envelope) PatientAddress() string {
	switch e.Type {
	case EventConsentGranted:
		if e.ConsentGranted != nil {
			return e.ConsentGranted.Patient
		}
	case EventConsentRevoked:
		if e.ConsentRevoked != nil {
			return e.ConsentRevoked.Patient
		}
	case EventAccessRequested:
		if e.AccessRequested != nil {
			return e.AccessRequested.Patient
		}
	case EventAccessApproved:
		if e.AccessApproved != nil {
			return e.AccessApproved.Patient
		}
	case EventAccessDenied:
		if e.AccessDenied != nil {
			return e.AccessDenied.Patient
		}
	}
	return ""
}
