package query

import (
	"context"

	"consentchain/core/ledger"
	"consentchain/core/lederr"
)

// Cold-start fallback: when a projection category has never committed a
// cursor, reads replay the event log directly instead of failing. The
// replay is bounded by the same range ceiling as getEvents, so the
// per-call work stays capped; results are identical to what the
// projection would serve, just slower.

func (q *Query) patientConsents(ctx context.Context, patient string) ([]ledger.ConsentRecord, error) {
	hasCursor, err := q.engine.HasCursor(ledger.CategoryConsent)
	if err != nil {
		return nil, err
	}
	if hasCursor {
		return q.engine.PatientConsents(patient)
	}
	events, err := q.replayAll(ctx)
	if err != nil {
		return nil, err
	}
	records := foldConsents(events, patient)
	sortByCreation(records)
	return records, nil
}

func (q *Query) patientRequests(ctx context.Context, patient string) ([]ledger.AccessRequest, error) {
	hasCursor, err := q.engine.HasCursor(ledger.CategoryRequest)
	if err != nil {
		return nil, err
	}
	if hasCursor {
		return q.engine.PatientRequests(patient)
	}
	events, err := q.replayAll(ctx)
	if err != nil {
		return nil, err
	}
	return foldRequests(events, patient), nil
}

func (q *Query) replayAll(ctx context.Context) ([]ledger.Envelope, error) {
	last := q.log.LastPosition()
	if last == 0 {
		return nil, nil
	}
	if last > uint64(q.cfg.MaxEventRangeWidth) {
		// The log has outgrown what one uncursored call may replay;
		// the operator must let the projection engine catch up first.
		return nil, &lederr.ValidationError{
			Field:  "eventLog",
			Value:  last,
			Limit:  q.cfg.MaxEventRangeWidth,
			Reason: "log too large for uncursored replay; run projection ticks",
		}
	}
	return q.log.ReadRange(ctx, 1, last)
}

// foldConsents reduces a replayed event stream into the patient's
// consent records, applying grants then revocations in position order.
func foldConsents(events []ledger.Envelope, patient string) []ledger.ConsentRecord {
	byID := make(map[string]*ledger.ConsentRecord)
	var order []string
	for _, env := range events {
		switch env.Type {
		case ledger.EventConsentGranted:
			if env.ConsentGranted == nil || env.ConsentGranted.Patient != patient {
				continue
			}
			for _, record := range env.ConsentGranted.Records {
				record := record
				if _, ok := byID[record.ID]; !ok {
					order = append(order, record.ID)
				}
				byID[record.ID] = &record
			}
		case ledger.EventAccessApproved:
			if env.AccessApproved == nil || env.AccessApproved.Patient != patient {
				continue
			}
			for _, record := range env.AccessApproved.Records {
				record := record
				if _, ok := byID[record.ID]; !ok {
					order = append(order, record.ID)
				}
				byID[record.ID] = &record
			}
		case ledger.EventConsentRevoked:
			evt := env.ConsentRevoked
			if evt == nil || evt.Patient != patient {
				continue
			}
			if record, ok := byID[evt.ConsentID]; ok {
				record.Active = false
				revokedAt := evt.RevokedAt
				record.RevokedAt = &revokedAt
			}
		}
	}
	out := make([]ledger.ConsentRecord, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

// foldRequests reduces a replayed event stream into the patient's
// access requests; later request events (approve/deny) carry the full
// updated request and simply overwrite the pending snapshot.
func foldRequests(events []ledger.Envelope, patient string) []ledger.AccessRequest {
	byID := make(map[string]*ledger.AccessRequest)
	var order []string
	upsert := func(request ledger.AccessRequest) {
		if request.PatientAddress != patient {
			return
		}
		if _, ok := byID[request.ID]; !ok {
			order = append(order, request.ID)
		}
		byID[request.ID] = &request
	}
	for _, env := range events {
		switch env.Type {
		case ledger.EventAccessRequested:
			if env.AccessRequested != nil {
				upsert(env.AccessRequested.Request)
			}
		case ledger.EventAccessApproved:
			if env.AccessApproved != nil {
				upsert(env.AccessApproved.Request)
			}
		case ledger.EventAccessDenied:
			if env.AccessDenied != nil {
				upsert(env.AccessDenied.Request)
			}
		}
	}
	out := make([]ledger.AccessRequest, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}
