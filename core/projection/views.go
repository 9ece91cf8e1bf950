package projection

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"consentchain/core/ledger"
	"consentchain/core/lederr"
	"consentchain/core/storage"
)

// View key layout. List keys embed the event position so LevelDB's key
// order is creation order, which keeps paginated reads deterministic.
//
//	view:consent:<id>                      -> ConsentRecord
//	view:patientConsents:<addr>:<pos>      -> consent id
//	view:providerConsents:<addr>:<pos>     -> consent id
//	view:request:<id>                      -> AccessRequest
//	view:patientRequests:<addr>:<pos>      -> request id
//	view:history:<addr>:<pos>              -> HistoryEntry

func consentViewKey(id string) string {
	return "view:consent:" + id
}

func requestViewKey(id string) string {
	return "view:request:" + id
}

func patientConsentKey(addr string, pos uint64) string {
	return fmt.Sprintf("view:patientConsents:%s:%016d", addr, pos)
}

func providerConsentKey(addr string, pos uint64) string {
	return fmt.Sprintf("view:providerConsents:%s:%016d", addr, pos)
}

func patientRequestKey(addr string, pos uint64) string {
	return fmt.Sprintf("view:patientRequests:%s:%016d", addr, pos)
}

func historyKey(addr string, pos uint64) string {
	return fmt.Sprintf("view:history:%s:%016d", addr, pos)
}

func isViewNotFound(err error) bool {
	return lederr.IsNotFound(err)
}

// ConsentByID reads the materialized consent view for an id.
func (e *Engine) ConsentByID(id string) (ledger.ConsentRecord, error) {
	var record ledger.ConsentRecord
	data, err := e.store.Get(consentViewKey(id))
	if err == storage.ErrNotFound {
		return record, &lederr.NotFoundError{Kind: "consent", ID: id}
	}
	if err != nil {
		return record, errors.Wrap(err, "read consent view")
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, errors.Wrap(err, "consent view corrupt")
	}
	return record, nil
}

// RequestByID reads the materialized request view for an id.
func (e *Engine) RequestByID(id string) (ledger.AccessRequest, error) {
	var request ledger.AccessRequest
	data, err := e.store.Get(requestViewKey(id))
	if err == storage.ErrNotFound {
		return request, &lederr.NotFoundError{Kind: "request", ID: id}
	}
	if err != nil {
		return request, errors.Wrap(err, "read request view")
	}
	if err := json.Unmarshal(data, &request); err != nil {
		return request, errors.Wrap(err, "request view corrupt")
	}
	return request, nil
}

// PatientConsents returns the patient's consent records in creation
// order. Duplicate list rows (a record granted once can only appear
// once per position) collapse by id.
func (e *Engine) PatientConsents(patient string) ([]ledger.ConsentRecord, error) {
	return e.consentList("view:patientConsents:" + patient + ":")
}

// ProviderConsents returns every consent naming the provider, in
// creation order.
func (e *Engine) ProviderConsents(provider string) ([]ledger.ConsentRecord, error) {
	return e.consentList("view:providerConsents:" + provider + ":")
}

func (e *Engine) consentList(prefix string) ([]ledger.ConsentRecord, error) {
	iter := e.store.ScanPrefix(prefix)
	defer iter.Release()

	seen := make(map[string]bool)
	var out []ledger.ConsentRecord
	for iter.Next() {
		id := string(iter.Value())
		if seen[id] {
			continue
		}
		seen[id] = true
		record, err := e.ConsentByID(id)
		if err != nil {
			if isViewNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, record)
	}
	return out, errors.Wrap(iter.Error(), "scan consent list")
}

// PatientRequests returns the patient's access requests in creation
// order.
func (e *Engine) PatientRequests(patient string) ([]ledger.AccessRequest, error) {
	iter := e.store.ScanPrefix("view:patientRequests:" + patient + ":")
	defer iter.Release()

	seen := make(map[string]bool)
	var out []ledger.AccessRequest
	for iter.Next() {
		id := string(iter.Value())
		if seen[id] {
			continue
		}
		seen[id] = true
		request, err := e.RequestByID(id)
		if err != nil {
			if isViewNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, request)
	}
	return out, errors.Wrap(iter.Error(), "scan request list")
}

// PatientHistory returns the patient's full event history in position
// order.
func (e *Engine) PatientHistory(patient string) ([]HistoryEntry, error) {
	iter := e.store.ScanPrefix("view:history:" + patient + ":")
	defer iter.Release()

	var out []HistoryEntry
	for iter.Next() {
		var entry HistoryEntry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return nil, errors.Wrapf(err, "history entry at %s corrupt", iter.Key())
		}
		out = append(out, entry)
	}
	return out, errors.Wrap(iter.Error(), "scan history")
}
