package ledger

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"consentchain/core/audit"
	"consentchain/core/config"
	"consentchain/core/lederr"
	"consentchain/core/registry"
	"consentchain/core/storage"
	"consentchain/types/ids"
)

const (
	consentKeyPrefix = "consent:"
	requestKeyPrefix = "request:"
)

const maxAddressLength = 128

// Ledger is the authoritative consent state machine. Operations are
// applied one at a time under a single-writer lock, each one fully
// validated before any mutation and committed together with its event
// in one atomic batch. A rejected operation mutates nothing and emits
// nothing.
type Ledger struct {
	mu       sync.Mutex
	store    storage.Backend
	registry *registry.Registry
	log      *EventLog
	cfg      config.Config
	audit    audit.AuditLogger
	now      func() time.Time
	newID    func() string
}

// New wires a Ledger over an explicit store handle. No ambient global
// state; everything the ledger touches comes in here.
func New(store storage.Backend, reg *registry.Registry, log *EventLog, cfg config.Config, auditLog audit.AuditLogger) *Ledger {
	return &Ledger{
		store:    store,
		registry: reg,
		log:      log,
		cfg:      cfg,
		audit:    auditLog,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },
	}
}

// EventLog exposes the ledger's log for the projection engine and the
// query layer. Read-only consumers share it without coordination.
func (l *Ledger) EventLog() *EventLog {
	return l.log
}

// Registry exposes the string registry for display-side resolution.
func (l *Ledger) Registry() *registry.Registry {
	return l.registry
}

// GrantConsent validates and applies a patient's grant to a provider,
// returning the new consent id. The record carries the full cartesian
// product of dataTypes x purposes as one batch.
func (l *Ledger) GrantConsent(patient, provider string, dataTypes, purposes []string, expiresAt *time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.validateGrantShape(patient, provider, dataTypes, purposes, expiresAt); err != nil {
		l.trace("GrantConsent", patient, err)
		return "", err
	}

	dataTypeHashes, err := l.registry.InternAll(dataTypes, registry.KindDataType)
	if err != nil {
		l.trace("GrantConsent", patient, err)
		return "", err
	}
	purposeHashes, err := l.registry.InternAll(purposes, registry.KindPurpose)
	if err != nil {
		l.trace("GrantConsent", patient, err)
		return "", err
	}

	now := l.now()
	record := ConsentRecord{
		ID:              l.newID(),
		PatientAddress:  patient,
		ProviderAddress: provider,
		CreatedAt:       now,
		ExpiresAt:       expiresAt,
		Active:          true,
		DataTypeHashes:  dataTypeHashes,
		PurposeHashes:   purposeHashes,
	}
	env := &Envelope{
		Type:      EventConsentGranted,
		Timestamp: now,
		ConsentGranted: &ConsentGrantedEvent{
			ConsentIDs: []string{record.ID},
			Patient:    patient,
			Provider:   provider,
			Records:    []ConsentRecord{record},
		},
	}
	if err := l.commitConsent(record, env); err != nil {
		l.trace("GrantConsent", patient, err)
		return "", err
	}
	l.trace("GrantConsent", patient, nil)
	return record.ID, nil
}

// RevokeConsent deactivates an active consent. Only the owning patient
// may revoke, and revoking an already-inactive record is a conflict,
// not a no-op.
func (l *Ledger) RevokeConsent(caller, consentID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.revokeLocked(caller, consentID)
	l.trace("RevokeConsent", caller, err)
	return err
}

func (l *Ledger) revokeLocked(caller, consentID string) error {
	if err := validateAddress("caller", caller); err != nil {
		return err
	}
	stored, err := l.loadConsent(consentID)
	if err != nil {
		return err
	}
	view, err := stored.View()
	if err != nil {
		return err
	}
	if !view.Active {
		return &lederr.ConflictError{Kind: "consent", ID: consentID, State: "revoked"}
	}
	if view.PatientAddress != caller {
		return &lederr.AuthorizationError{Caller: caller, Reason: "only the granting patient may revoke"}
	}

	now := l.now()
	stored.setInactive(now)
	env := &Envelope{
		Type:      EventConsentRevoked,
		Timestamp: now,
		ConsentRevoked: &ConsentRevokedEvent{
			ConsentID: consentID,
			Patient:   view.PatientAddress,
			RevokedAt: now,
		},
	}

	batch := &storage.Batch{}
	data, err := json.Marshal(stored)
	if err != nil {
		return errors.Wrap(err, "marshal consent")
	}
	batch.Put(consentKeyPrefix+consentID, data)
	pos, err := l.log.StageAppend(batch, env)
	if err != nil {
		return err
	}
	if err := l.store.WriteBatch(batch); err != nil {
		return err
	}
	l.log.Commit(pos)
	return nil
}

// RequestAccess records a provider's petition for access to a
// patient's data, returning the new request id.
func (l *Ledger) RequestAccess(requester, patient string, dataTypes, purposes []string, expiresAt *time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.validateGrantShape(patient, requester, dataTypes, purposes, expiresAt); err != nil {
		l.trace("RequestAccess", requester, err)
		return "", err
	}

	dataTypeHashes, err := l.registry.InternAll(dataTypes, registry.KindDataType)
	if err != nil {
		l.trace("RequestAccess", requester, err)
		return "", err
	}
	purposeHashes, err := l.registry.InternAll(purposes, registry.KindPurpose)
	if err != nil {
		l.trace("RequestAccess", requester, err)
		return "", err
	}

	now := l.now()
	request := AccessRequest{
		ID:             l.newID(),
		Requester:      requester,
		PatientAddress: patient,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
		Status:         StatusPending,
		DataTypeHashes: dataTypeHashes,
		PurposeHashes:  purposeHashes,
	}
	env := &Envelope{
		Type:      EventAccessRequested,
		Timestamp: now,
		AccessRequested: &AccessRequestedEvent{
			RequestID: request.ID,
			Requester: requester,
			Patient:   patient,
			Request:   request,
		},
	}

	batch := &storage.Batch{}
	data, err := json.Marshal(request)
	if err != nil {
		l.trace("RequestAccess", requester, err)
		return "", errors.Wrap(err, "marshal request")
	}
	batch.Put(requestKeyPrefix+request.ID, data)
	pos, err := l.log.StageAppend(batch, env)
	if err != nil {
		l.trace("RequestAccess", requester, err)
		return "", err
	}
	if err := l.store.WriteBatch(batch); err != nil {
		l.trace("RequestAccess", requester, err)
		return "", err
	}
	l.log.Commit(pos)
	l.trace("RequestAccess", requester, nil)
	return request.ID, nil
}

// RespondToAccessRequest settles a pending request. Approval produces
// exactly one new ConsentRecord reusing the request's hash arrays and
// expiration; denial only flips the status. Either way the status
// becomes terminal. A request whose own expiration has passed is
// denied regardless of the approve argument.
//
// Returns the new consent id on approval, or "" on denial.
func (l *Ledger) RespondToAccessRequest(caller, requestID string, approve bool) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	consentID, err := l.respondLocked(caller, requestID, approve)
	l.trace("RespondToAccessRequest", caller, err)
	return consentID, err
}

func (l *Ledger) respondLocked(caller, requestID string, approve bool) (string, error) {
	if err := validateAddress("caller", caller); err != nil {
		return "", err
	}
	request, err := l.loadRequest(requestID)
	if err != nil {
		return "", err
	}
	if request.Status != StatusPending {
		return "", &lederr.ConflictError{Kind: "request", ID: requestID, State: strings.ToLower(string(request.Status))}
	}
	if request.PatientAddress != caller {
		return "", &lederr.AuthorizationError{Caller: caller, Reason: "only the addressed patient may respond"}
	}

	// Defensive: every hash the request carries must still resolve.
	// A miss here means the registry lost data; surface it loudly and
	// distinctly from ordinary not-found.
	for _, hash := range append(append([]ids.ID{}, request.DataTypeHashes...), request.PurposeHashes...) {
		if _, err := l.registry.Resolve(hash); err != nil {
			ierr := &lederr.IntegrityError{Hash: hash.String(), Record: "request " + requestID}
			l.audit.LogEvent(audit.AuditEvent{
				Timestamp: l.now(),
				EventType: "RespondToAccessRequest",
				EntityID:  requestID,
				Result:    "integrity_violation",
				Reason:    ierr.Error(),
			})
			return "", ierr
		}
	}

	now := l.now()
	// Auto-expiry-on-touch: an expired request can no longer be
	// approved, the response is recorded as a denial.
	if request.ExpiredAt(now) {
		approve = false
	}

	request.RespondedAt = &now
	batch := &storage.Batch{}
	var env *Envelope
	var newConsentID string

	if approve {
		record := ConsentRecord{
			ID:              l.newID(),
			PatientAddress:  request.PatientAddress,
			ProviderAddress: request.Requester,
			CreatedAt:       now,
			ExpiresAt:       request.ExpiresAt,
			Active:          true,
			DataTypeHashes:  request.DataTypeHashes,
			PurposeHashes:   request.PurposeHashes,
		}
		request.Status = StatusApproved
		request.ConsentID = record.ID
		newConsentID = record.ID

		stored := StoredConsent{Format: FormatBatch, Batch: &record}
		recordData, err := json.Marshal(stored)
		if err != nil {
			return "", errors.Wrap(err, "marshal consent")
		}
		batch.Put(consentKeyPrefix+record.ID, recordData)

		env = &Envelope{
			Type:      EventAccessApproved,
			Timestamp: now,
			AccessApproved: &AccessApprovedEvent{
				RequestID:  requestID,
				Patient:    request.PatientAddress,
				ConsentIDs: []string{record.ID},
				Records:    []ConsentRecord{record},
				Request:    request,
			},
		}
	} else {
		request.Status = StatusDenied
		env = &Envelope{
			Type:      EventAccessDenied,
			Timestamp: now,
			AccessDenied: &AccessDeniedEvent{
				RequestID: requestID,
				Patient:   request.PatientAddress,
				Request:   request,
			},
		}
	}

	requestData, err := json.Marshal(request)
	if err != nil {
		return "", errors.Wrap(err, "marshal request")
	}
	batch.Put(requestKeyPrefix+requestID, requestData)
	pos, err := l.log.StageAppend(batch, env)
	if err != nil {
		return "", err
	}
	if err := l.store.WriteBatch(batch); err != nil {
		return "", err
	}
	l.log.Commit(pos)
	return newConsentID, nil
}

// ImportLegacyConsent persists a pre-batch record in its original
// single-combination shape and emits a ConsentGranted event carrying
// the uniform view, so projections index old and new records alike.
func (l *Ledger) ImportLegacyConsent(legacy LegacyConsent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := validateAddress("patientAddress", legacy.PatientAddress); err != nil {
		l.trace("ImportLegacyConsent", legacy.PatientAddress, err)
		return err
	}
	if err := validateAddress("providerAddress", legacy.ProviderAddress); err != nil {
		l.trace("ImportLegacyConsent", legacy.PatientAddress, err)
		return err
	}
	if legacy.ID == "" {
		err := &lederr.ValidationError{Field: "id", Reason: "must not be empty"}
		l.trace("ImportLegacyConsent", legacy.PatientAddress, err)
		return err
	}
	exists, err := l.store.Has(consentKeyPrefix + legacy.ID)
	if err != nil {
		l.trace("ImportLegacyConsent", legacy.PatientAddress, err)
		return errors.Wrap(err, "legacy existence check")
	}
	if exists {
		err := &lederr.ConflictError{Kind: "consent", ID: legacy.ID, State: "imported"}
		l.trace("ImportLegacyConsent", legacy.PatientAddress, err)
		return err
	}

	stored := StoredConsent{Format: FormatLegacy, Legacy: &legacy}
	view, err := stored.View()
	if err != nil {
		l.trace("ImportLegacyConsent", legacy.PatientAddress, err)
		return err
	}
	env := &Envelope{
		Type:      EventConsentGranted,
		Timestamp: l.now(),
		ConsentGranted: &ConsentGrantedEvent{
			ConsentIDs: []string{legacy.ID},
			Patient:    legacy.PatientAddress,
			Provider:   legacy.ProviderAddress,
			Records:    []ConsentRecord{view},
		},
	}
	if err := l.commitStored(stored, legacy.ID, env); err != nil {
		l.trace("ImportLegacyConsent", legacy.PatientAddress, err)
		return err
	}
	l.trace("ImportLegacyConsent", legacy.PatientAddress, nil)
	return nil
}

// GetConsent loads the authoritative record for an id, in the uniform
// batch view.
func (l *Ledger) GetConsent(consentID string) (ConsentRecord, error) {
	stored, err := l.loadConsent(consentID)
	if err != nil {
		return ConsentRecord{}, err
	}
	return stored.View()
}

// GetRequest loads the authoritative access request for an id.
func (l *Ledger) GetRequest(requestID string) (AccessRequest, error) {
	return l.loadRequest(requestID)
}

// --- internal ---

func (l *Ledger) commitConsent(record ConsentRecord, env *Envelope) error {
	stored := StoredConsent{Format: FormatBatch, Batch: &record}
	return l.commitStored(stored, record.ID, env)
}

func (l *Ledger) commitStored(stored StoredConsent, id string, env *Envelope) error {
	batch := &storage.Batch{}
	data, err := json.Marshal(stored)
	if err != nil {
		return errors.Wrap(err, "marshal consent")
	}
	batch.Put(consentKeyPrefix+id, data)
	pos, err := l.log.StageAppend(batch, env)
	if err != nil {
		return err
	}
	if err := l.store.WriteBatch(batch); err != nil {
		return err
	}
	l.log.Commit(pos)
	return nil
}

func (l *Ledger) loadConsent(consentID string) (StoredConsent, error) {
	var stored StoredConsent
	data, err := l.store.Get(consentKeyPrefix + consentID)
	if err == storage.ErrNotFound {
		return stored, &lederr.NotFoundError{Kind: "consent", ID: consentID}
	}
	if err != nil {
		return stored, errors.Wrap(err, "read consent")
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return stored, errors.Wrap(err, "consent record corrupt")
	}
	return stored, nil
}

func (l *Ledger) loadRequest(requestID string) (AccessRequest, error) {
	var request AccessRequest
	data, err := l.store.Get(requestKeyPrefix + requestID)
	if err == storage.ErrNotFound {
		return request, &lederr.NotFoundError{Kind: "request", ID: requestID}
	}
	if err != nil {
		return request, errors.Wrap(err, "read request")
	}
	if err := json.Unmarshal(data, &request); err != nil {
		return request, errors.Wrap(err, "request record corrupt")
	}
	return request, nil
}

// validateGrantShape covers the shared shape checks for grants and
// access requests: addresses, label arrays, batch bound, expiration.
// All of it runs before any mutation.
func (l *Ledger) validateGrantShape(patient, counterparty string, dataTypes, purposes []string, expiresAt *time.Time) error {
	if err := validateAddress("patientAddress", patient); err != nil {
		return err
	}
	if err := validateAddress("counterpartyAddress", counterparty); err != nil {
		return err
	}
	if patient == counterparty {
		return &lederr.AuthorizationError{Caller: patient, Reason: "patient and counterparty must differ"}
	}
	// Bound both caller-controlled arrays and their cartesian product
	// before any per-entry loop runs.
	if len(dataTypes) > l.cfg.MaxBatchSize {
		return &lederr.ValidationError{Field: "dataTypes", Value: len(dataTypes), Limit: l.cfg.MaxBatchSize, Reason: "too many entries"}
	}
	if len(purposes) > l.cfg.MaxBatchSize {
		return &lederr.ValidationError{Field: "purposes", Value: len(purposes), Limit: l.cfg.MaxBatchSize, Reason: "too many entries"}
	}
	if product := len(dataTypes) * len(purposes); product > l.cfg.MaxBatchSize {
		return &lederr.ValidationError{
			Field:  "dataTypes*purposes",
			Value:  product,
			Limit:  l.cfg.MaxBatchSize,
			Reason: "batch size exceeded",
		}
	}
	if err := l.validateLabels("dataTypes", dataTypes); err != nil {
		return err
	}
	if err := l.validateLabels("purposes", purposes); err != nil {
		return err
	}
	if expiresAt != nil {
		if !expiresAt.After(l.now()) {
			return &lederr.ValidationError{Field: "expiresAt", Value: expiresAt.UTC().Format(time.RFC3339), Reason: "must be in the future"}
		}
		if expiresAt.Unix() > l.cfg.MaxExpirationUnix {
			return &lederr.ValidationError{Field: "expiresAt", Value: expiresAt.Unix(), Limit: l.cfg.MaxExpirationUnix, Reason: "not representable in the expiration encoding"}
		}
	}
	return nil
}

func (l *Ledger) validateLabels(field string, labels []string) error {
	if len(labels) == 0 {
		return &lederr.ValidationError{Field: field, Reason: "must contain at least one entry"}
	}
	for i, label := range labels {
		if strings.TrimSpace(label) == "" {
			return &lederr.ValidationError{Field: field, Value: i, Reason: "contains an empty entry"}
		}
		if len(label) > l.cfg.MaxStringLength {
			return &lederr.ValidationError{Field: field, Value: label, Limit: l.cfg.MaxStringLength, Reason: "entry too long"}
		}
	}
	return nil
}

func validateAddress(field, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return &lederr.ValidationError{Field: field, Reason: "must not be empty"}
	}
	if len(addr) > maxAddressLength {
		return &lederr.ValidationError{Field: field, Value: addr, Limit: maxAddressLength, Reason: "address too long"}
	}
	// Colons are key-namespace separators in the view store.
	if strings.ContainsAny(addr, " \t\n:") {
		return &lederr.ValidationError{Field: field, Value: addr, Reason: "address contains whitespace or reserved characters"}
	}
	return nil
}

// trace emits one audit event per operation, accepted or rejected.
func (l *Ledger) trace(op, entity string, err error) {
	event := audit.AuditEvent{
		Timestamp: l.now(),
		EventType: op,
		EntityID:  entity,
		Result:    "accepted",
	}
	if err != nil {
		event.Result = "rejected"
		event.Reason = lederr.Code(err) + ": " + err.Error()
	}
	l.audit.LogEvent(event)
}
