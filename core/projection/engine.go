package projection

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"consentchain/core/ledger"
	"consentchain/core/storage"
)

// ErrTickInProgress is returned when a tick for the same category is
// already running. Ticks for different categories are independent.
var ErrTickInProgress = errors.New("projection tick already in progress for category")

// Cursor is the durable record of how far a category's projection has
// processed the event log.
type Cursor struct {
	EventCategory         ledger.Category `json:"eventCategory"`
	LastProcessedPosition uint64          `json:"lastProcessedPosition"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// TickResult summarizes one tick.
type TickResult struct {
	Category  ledger.Category `json:"category"`
	Processed int             `json:"processed"`
	Cursor    uint64          `json:"cursor"`
}

// Engine consumes the event log incrementally and materializes the
// query views. It only ever reads the log and writes its own view and
// cursor keys, so it runs concurrently with ledger writes without
// coordination; it simply lags by however many events are unindexed.
//
// Every view mutation is an idempotent upsert keyed by the event's own
// ids and position, so replaying an event after a crash before the
// cursor commit leaves the views byte-identical.
type Engine struct {
	store      storage.Backend
	log        *ledger.EventLog
	batchLimit int

	guards map[ledger.Category]*sync.Mutex
}

// NewEngine wires a projection engine over the shared store handle.
func NewEngine(store storage.Backend, log *ledger.EventLog, batchLimit int) *Engine {
	guards := make(map[ledger.Category]*sync.Mutex, len(ledger.Categories))
	for _, cat := range ledger.Categories {
		guards[cat] = &sync.Mutex{}
	}
	return &Engine{store: store, log: log, batchLimit: batchLimit, guards: guards}
}

func cursorKey(cat ledger.Category) string {
	return "cursor:" + string(cat)
}

// Cursor returns the durable cursor for a category. A category that has
// never ticked reports position 0.
func (e *Engine) Cursor(cat ledger.Category) (Cursor, error) {
	data, err := e.store.Get(cursorKey(cat))
	if err == storage.ErrNotFound {
		return Cursor{EventCategory: cat}, nil
	}
	if err != nil {
		return Cursor{}, errors.Wrap(err, "read cursor")
	}
	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return Cursor{}, errors.Wrap(err, "cursor corrupt")
	}
	return cursor, nil
}

// HasCursor reports whether a category has ever committed a tick; the
// query layer uses this to decide between views and log replay.
func (e *Engine) HasCursor(cat ledger.Category) (bool, error) {
	ok, err := e.store.Has(cursorKey(cat))
	return ok, errors.Wrap(err, "cursor existence check")
}

// Tick processes one batch of events for a category: reads events
// strictly after the cursor, applies their view mutations, and commits
// the advanced cursor in the same atomic batch. A storage failure
// leaves the cursor untouched so the next tick retries the same range.
//
// Two ticks for the same category never run concurrently; the second
// caller gets ErrTickInProgress and should simply try again later.
func (e *Engine) Tick(cat ledger.Category) (TickResult, error) {
	guard, ok := e.guards[cat]
	if !ok {
		return TickResult{}, fmt.Errorf("unknown projection category %q", cat)
	}
	if !guard.TryLock() {
		return TickResult{}, ErrTickInProgress
	}
	defer guard.Unlock()

	cursor, err := e.Cursor(cat)
	if err != nil {
		return TickResult{}, err
	}
	events, err := e.log.ReadCategoryAfter(cat, cursor.LastProcessedPosition, e.batchLimit)
	if err != nil {
		return TickResult{}, err
	}
	result := TickResult{Category: cat, Cursor: cursor.LastProcessedPosition}
	if len(events) == 0 {
		return result, nil
	}

	batch := &storage.Batch{}
	staged := make(map[string]ledger.ConsentRecord)
	for _, env := range events {
		if err := e.apply(batch, staged, env); err != nil {
			return TickResult{}, err
		}
		cursor.LastProcessedPosition = env.Position
	}
	cursor.UpdatedAt = time.Now().UTC()
	cursorData, err := json.Marshal(cursor)
	if err != nil {
		return TickResult{}, errors.Wrap(err, "marshal cursor")
	}
	batch.Put(cursorKey(cat), cursorData)
	if err := e.store.WriteBatch(batch); err != nil {
		return TickResult{}, err
	}
	result.Processed = len(events)
	result.Cursor = cursor.LastProcessedPosition
	return result, nil
}

// Apply feeds a single event through the view mutations without
// touching the cursor. Exported for replay tests; Tick is the normal
// path.
func (e *Engine) Apply(env ledger.Envelope) error {
	batch := &storage.Batch{}
	if err := e.apply(batch, make(map[string]ledger.ConsentRecord), env); err != nil {
		return err
	}
	return e.store.WriteBatch(batch)
}

// apply stages one event's view mutations. staged holds consent records
// written earlier in the same batch; read-modify-write cases consult it
// before the committed store, so a revoke lands even when its grant sits
// in the same tick. The switch is exhaustive over the known event types;
// unknown future types are skipped so the cursor can still advance past
// them.
func (e *Engine) apply(batch *storage.Batch, staged map[string]ledger.ConsentRecord, env ledger.Envelope) error {
	switch env.Type {
	case ledger.EventConsentGranted:
		evt := env.ConsentGranted
		if evt == nil {
			return fmt.Errorf("event %d: ConsentGranted body missing", env.Position)
		}
		for _, record := range evt.Records {
			if err := stageConsent(batch, staged, record); err != nil {
				return err
			}
			batch.Put(patientConsentKey(evt.Patient, env.Position), []byte(record.ID))
			batch.Put(providerConsentKey(evt.Provider, env.Position), []byte(record.ID))
		}
		return e.appendHistory(batch, env, evt.Patient, firstOf(evt.ConsentIDs))

	case ledger.EventConsentRevoked:
		evt := env.ConsentRevoked
		if evt == nil {
			return fmt.Errorf("event %d: ConsentRevoked body missing", env.Position)
		}
		// Upsert: flip the view copy inactive. Re-applying produces the
		// same bytes. The grant may be staged earlier in this batch.
		record, ok := staged[evt.ConsentID]
		if !ok {
			var err error
			record, err = e.ConsentByID(evt.ConsentID)
			if err != nil {
				if isViewNotFound(err) {
					return e.appendHistory(batch, env, evt.Patient, evt.ConsentID)
				}
				return err
			}
		}
		record.Active = false
		revokedAt := evt.RevokedAt
		record.RevokedAt = &revokedAt
		if err := stageConsent(batch, staged, record); err != nil {
			return err
		}
		return e.appendHistory(batch, env, evt.Patient, evt.ConsentID)

	case ledger.EventAccessRequested:
		evt := env.AccessRequested
		if evt == nil {
			return fmt.Errorf("event %d: AccessRequested body missing", env.Position)
		}
		if err := putJSON(batch, requestViewKey(evt.RequestID), evt.Request); err != nil {
			return err
		}
		batch.Put(patientRequestKey(evt.Patient, env.Position), []byte(evt.RequestID))
		return e.appendHistory(batch, env, evt.Patient, evt.RequestID)

	case ledger.EventAccessApproved:
		evt := env.AccessApproved
		if evt == nil {
			return fmt.Errorf("event %d: AccessApproved body missing", env.Position)
		}
		if err := putJSON(batch, requestViewKey(evt.RequestID), evt.Request); err != nil {
			return err
		}
		for _, record := range evt.Records {
			if err := stageConsent(batch, staged, record); err != nil {
				return err
			}
			batch.Put(patientConsentKey(record.PatientAddress, env.Position), []byte(record.ID))
			batch.Put(providerConsentKey(record.ProviderAddress, env.Position), []byte(record.ID))
		}
		return e.appendHistory(batch, env, evt.Patient, evt.RequestID)

	case ledger.EventAccessDenied:
		evt := env.AccessDenied
		if evt == nil {
			return fmt.Errorf("event %d: AccessDenied body missing", env.Position)
		}
		if err := putJSON(batch, requestViewKey(evt.RequestID), evt.Request); err != nil {
			return err
		}
		return e.appendHistory(batch, env, evt.Patient, evt.RequestID)

	default:
		// Additive evolution: an unknown category is ignorable.
		fmt.Printf("[PROJECTION] skipping unknown event type %q at position %d\n", env.Type, env.Position)
		return nil
	}
}

// HistoryEntry is one row of a patient's full-history view.
type HistoryEntry struct {
	Position  uint64           `json:"position"`
	Type      ledger.EventType `json:"type"`
	RefID     string           `json:"refId"`
	Timestamp time.Time        `json:"timestamp"`
}

func (e *Engine) appendHistory(batch *storage.Batch, env ledger.Envelope, patient, refID string) error {
	if patient == "" {
		return nil
	}
	entry := HistoryEntry{Position: env.Position, Type: env.Type, RefID: refID, Timestamp: env.Timestamp}
	return putJSON(batch, historyKey(patient, env.Position), entry)
}

// stageConsent writes a consent view and records the copy for later
// events in the same batch to read back.
func stageConsent(batch *storage.Batch, staged map[string]ledger.ConsentRecord, record ledger.ConsentRecord) error {
	if err := putJSON(batch, consentViewKey(record.ID), record); err != nil {
		return err
	}
	staged[record.ID] = record
	return nil
}

func putJSON(batch *storage.Batch, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal view %s", key)
	}
	batch.Put(key, data)
	return nil
}

func firstOf(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}
