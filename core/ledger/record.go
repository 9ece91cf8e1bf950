package ledger

import (
	"time"

	"consentchain/core/lederr"
	"consentchain/types/ids"
)

// ConsentRecord is the canonical grant. One record always represents
// the full cartesian product of DataTypeHashes x PurposeHashes, so a
// single record can encode many (data type, purpose) combinations
// granted atomically.
type ConsentRecord struct {
	ID              string     `json:"id"`
	PatientAddress  string     `json:"patientAddress"`
	ProviderAddress string     `json:"providerAddress"`
	CreatedAt       time.Time  `json:"createdAt"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"` // nil = never expires
	Active          bool       `json:"active"`
	RevokedAt       *time.Time `json:"revokedAt,omitempty"`
	DataTypeHashes  []ids.ID   `json:"dataTypeHashes"`
	PurposeHashes   []ids.ID   `json:"purposeHashes"`
}

// Combinations returns the number of (data type, purpose) pairs the
// record encodes.
func (r ConsentRecord) Combinations() int {
	return len(r.DataTypeHashes) * len(r.PurposeHashes)
}

// Covers reports whether the record grants the given data type hash.
func (r ConsentRecord) Covers(dataType ids.ID) bool {
	for _, h := range r.DataTypeHashes {
		if h == dataType {
			return true
		}
	}
	return false
}

// ExpiredAt reports whether the record's expiration has passed at the
// given instant. Records without an expiration never expire.
func (r ConsentRecord) ExpiredAt(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// LegacyConsent is the pre-batch record shape: exactly one data type
// and one purpose per record. Old records imported from the previous
// deployment still carry it.
type LegacyConsent struct {
	ID              string     `json:"id"`
	PatientAddress  string     `json:"patientAddress"`
	ProviderAddress string     `json:"providerAddress"`
	CreatedAt       time.Time  `json:"createdAt"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	Active          bool       `json:"active"`
	RevokedAt       *time.Time `json:"revokedAt,omitempty"`
	DataTypeHash    ids.ID     `json:"dataTypeHash"`
	PurposeHash     ids.ID     `json:"purposeHash"`
}

// RecordFormat tags the stored consent shape.
type RecordFormat string

const (
	FormatBatch  RecordFormat = "batch"
	FormatLegacy RecordFormat = "legacy"
)

// StoredConsent is the on-disk sum of the two record shapes. Query code
// never branches on it directly; View collapses both into the batch
// shape once.
type StoredConsent struct {
	Format RecordFormat   `json:"format"`
	Batch  *ConsentRecord `json:"batch,omitempty"`
	Legacy *LegacyConsent `json:"legacy,omitempty"`
}

// View converts either shape into the uniform batch read view.
func (s StoredConsent) View() (ConsentRecord, error) {
	switch s.Format {
	case FormatBatch:
		if s.Batch == nil {
			return ConsentRecord{}, &lederr.IntegrityError{Record: "stored consent", Hash: "missing batch body"}
		}
		return *s.Batch, nil
	case FormatLegacy:
		if s.Legacy == nil {
			return ConsentRecord{}, &lederr.IntegrityError{Record: "stored consent", Hash: "missing legacy body"}
		}
		l := s.Legacy
		return ConsentRecord{
			ID:              l.ID,
			PatientAddress:  l.PatientAddress,
			ProviderAddress: l.ProviderAddress,
			CreatedAt:       l.CreatedAt,
			ExpiresAt:       l.ExpiresAt,
			Active:          l.Active,
			RevokedAt:       l.RevokedAt,
			DataTypeHashes:  []ids.ID{l.DataTypeHash},
			PurposeHashes:   []ids.ID{l.PurposeHash},
		}, nil
	default:
		return ConsentRecord{}, &lederr.IntegrityError{Record: "stored consent", Hash: "unknown format " + string(s.Format)}
	}
}

// setInactive flips the stored record to inactive in whichever shape it
// carries.
func (s *StoredConsent) setInactive(at time.Time) {
	switch s.Format {
	case FormatBatch:
		s.Batch.Active = false
		s.Batch.RevokedAt = &at
	case FormatLegacy:
		s.Legacy.Active = false
		s.Legacy.RevokedAt = &at
	}
}

// RequestStatus is the access request lifecycle state. Transitions are
// Pending -> Approved or Pending -> Denied, exactly once.
type RequestStatus string

const (
	StatusPending  RequestStatus = "Pending"
	StatusApproved RequestStatus = "Approved"
	StatusDenied   RequestStatus = "Denied"
)

// AccessRequest is a provider's petition for a consent grant. Approval
// always collapses into exactly one ConsentRecord carrying the
// request's full hash arrays.
type AccessRequest struct {
	ID             string        `json:"id"`
	Requester      string        `json:"requester"` // provider address
	PatientAddress string        `json:"patientAddress"`
	CreatedAt      time.Time     `json:"createdAt"`
	ExpiresAt      *time.Time    `json:"expiresAt,omitempty"`
	Status         RequestStatus `json:"status"`
	RespondedAt    *time.Time    `json:"respondedAt,omitempty"`
	ConsentID      string        `json:"consentId,omitempty"` // set when approved
	DataTypeHashes []ids.ID      `json:"dataTypeHashes"`
	PurposeHashes  []ids.ID      `json:"purposeHashes"`
}

// ExpiredAt reports whether the request's expiration has passed.
func (r AccessRequest) ExpiredAt(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}
