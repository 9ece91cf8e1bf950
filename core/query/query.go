package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"consentchain/core/config"
	"consentchain/core/ledger"
	"consentchain/core/lederr"
	"consentchain/core/projection"
	"consentchain/core/registry"
	"consentchain/types/ids"
)

// Query serves reads from the projection views, falling back to a
// bounded replay of the event log when a projection has never ticked.
// It is read-only and safe under unbounded concurrency; a mid-catch-up
// projection yields consistent-but-stale results, never a torn view.
type Query struct {
	engine   *projection.Engine
	log      *ledger.EventLog
	registry *registry.Registry
	cfg      config.Config
	now      func() time.Time
}

func New(engine *projection.Engine, log *ledger.EventLog, reg *registry.Registry, cfg config.Config) *Query {
	return &Query{
		engine:   engine,
		log:      log,
		registry: reg,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PageRequest selects a slice of a result set. Zero values fall back to
// the defaults.
type PageRequest struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

func (p PageRequest) normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	return p
}

// PageMeta is the pagination envelope returned with every list read.
type PageMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func paginate(total int, req PageRequest) (start, end int, meta PageMeta) {
	req = req.normalize()
	meta = PageMeta{Page: req.Page, Limit: req.Limit, Total: total}
	meta.TotalPages = (total + req.Limit - 1) / req.Limit
	start = (req.Page - 1) * req.Limit
	if start > total {
		start = total
	}
	end = start + req.Limit
	if end > total {
		end = total
	}
	return start, end, meta
}

// ConsentStatus answers "does this provider currently hold consent for
// this data type".
type ConsentStatus struct {
	HasConsent     bool       `json:"hasConsent"`
	ConsentID      string     `json:"consentId,omitempty"`
	IsExpired      bool       `json:"isExpired"`
	ExpirationTime *time.Time `json:"expirationTime,omitempty"`
}

// GetConsentStatus scans the patient's consents for the most recent
// active grant matching (provider, dataType) and evaluates its
// expiration against now. Revoked grants shadow nothing: they are
// simply inactive.
func (q *Query) GetConsentStatus(ctx context.Context, patient, provider, dataType string) (ConsentStatus, error) {
	records, err := q.patientConsents(ctx, patient)
	if err != nil {
		return ConsentStatus{}, err
	}
	dataTypeHash := ids.NewID([]byte(dataType))

	var match *ledger.ConsentRecord
	for i := range records {
		record := records[i]
		if !record.Active || record.ProviderAddress != provider || !record.Covers(dataTypeHash) {
			continue
		}
		match = &records[i] // creation order: later grants win
	}
	if match == nil {
		return ConsentStatus{}, nil
	}
	status := ConsentStatus{
		HasConsent:     true,
		ConsentID:      match.ID,
		IsExpired:      match.ExpiredAt(q.now()),
		ExpirationTime: match.ExpiresAt,
	}
	if status.IsExpired {
		status.HasConsent = false
	}
	return status, nil
}

// ConsentDetail is a consent record with its hashes resolved back to
// display strings.
type ConsentDetail struct {
	ledger.ConsentRecord
	DataTypes []string `json:"dataTypes"`
	Purposes  []string `json:"purposes"`
	IsExpired bool     `json:"isExpired"`
}

// GetConsentRecord loads one record with resolved labels. A hash that
// fails to resolve is a data-integrity signal, not a normal miss.
func (q *Query) GetConsentRecord(ctx context.Context, id string) (ConsentDetail, error) {
	record, err := q.engine.ConsentByID(id)
	if err != nil {
		return ConsentDetail{}, err
	}
	return q.detail(record)
}

func (q *Query) detail(record ledger.ConsentRecord) (ConsentDetail, error) {
	dataTypes, err := q.resolveAll(record.ID, record.DataTypeHashes)
	if err != nil {
		return ConsentDetail{}, err
	}
	purposes, err := q.resolveAll(record.ID, record.PurposeHashes)
	if err != nil {
		return ConsentDetail{}, err
	}
	return ConsentDetail{
		ConsentRecord: record,
		DataTypes:     dataTypes,
		Purposes:      purposes,
		IsExpired:     record.ExpiredAt(q.now()),
	}, nil
}

func (q *Query) resolveAll(recordID string, hashes []ids.ID) ([]string, error) {
	texts := make([]string, 0, len(hashes))
	for _, hash := range hashes {
		text, err := q.registry.Resolve(hash)
		if err != nil {
			if lederr.IsNotFound(err) {
				return nil, &lederr.IntegrityError{Hash: hash.String(), Record: "consent " + recordID}
			}
			return nil, err
		}
		texts = append(texts, text)
	}
	return texts, nil
}

// GetPatientConsents lists a patient's consents in creation order.
// includeExpired=false filters out records whose expiration has
// passed, independent of active; included expired records are flagged.
func (q *Query) GetPatientConsents(ctx context.Context, patient string, includeExpired bool, page PageRequest) ([]ConsentDetail, PageMeta, error) {
	records, err := q.patientConsents(ctx, patient)
	if err != nil {
		return nil, PageMeta{}, err
	}
	now := q.now()
	filtered := records[:0:0]
	for _, record := range records {
		if !includeExpired && record.ExpiredAt(now) {
			continue
		}
		filtered = append(filtered, record)
	}
	start, end, meta := paginate(len(filtered), page)
	out := make([]ConsentDetail, 0, end-start)
	for _, record := range filtered[start:end] {
		detail, err := q.detail(record)
		if err != nil {
			return nil, PageMeta{}, err
		}
		out = append(out, detail)
	}
	return out, meta, nil
}

// GetProviderConsents lists every consent naming the provider.
func (q *Query) GetProviderConsents(ctx context.Context, provider string, includeExpired bool, page PageRequest) ([]ConsentDetail, PageMeta, error) {
	records, err := q.engine.ProviderConsents(provider)
	if err != nil {
		return nil, PageMeta{}, err
	}
	now := q.now()
	filtered := records[:0:0]
	for _, record := range records {
		if !includeExpired && record.ExpiredAt(now) {
			continue
		}
		filtered = append(filtered, record)
	}
	start, end, meta := paginate(len(filtered), page)
	out := make([]ConsentDetail, 0, end-start)
	for _, record := range filtered[start:end] {
		detail, err := q.detail(record)
		if err != nil {
			return nil, PageMeta{}, err
		}
		out = append(out, detail)
	}
	return out, meta, nil
}

// GetPatientRequests lists a patient's access requests, optionally
// filtered by status ("" = all).
func (q *Query) GetPatientRequests(ctx context.Context, patient string, statusFilter string, page PageRequest) ([]ledger.AccessRequest, PageMeta, error) {
	requests, err := q.patientRequests(ctx, patient)
	if err != nil {
		return nil, PageMeta{}, err
	}
	if statusFilter != "" {
		var want ledger.RequestStatus
		switch {
		case strings.EqualFold(statusFilter, string(ledger.StatusPending)):
			want = ledger.StatusPending
		case strings.EqualFold(statusFilter, string(ledger.StatusApproved)):
			want = ledger.StatusApproved
		case strings.EqualFold(statusFilter, string(ledger.StatusDenied)):
			want = ledger.StatusDenied
		default:
			return nil, PageMeta{}, &lederr.ValidationError{Field: "status", Value: statusFilter, Reason: "unknown status filter"}
		}
		filtered := requests[:0:0]
		for _, request := range requests {
			if request.Status == want {
				filtered = append(filtered, request)
			}
		}
		requests = filtered
	}
	start, end, meta := paginate(len(requests), page)
	return requests[start:end], meta, nil
}

// GetPatientHistory returns the patient's full event history.
func (q *Query) GetPatientHistory(ctx context.Context, patient string, page PageRequest) ([]projection.HistoryEntry, PageMeta, error) {
	entries, err := q.engine.PatientHistory(patient)
	if err != nil {
		return nil, PageMeta{}, err
	}
	start, end, meta := paginate(len(entries), page)
	return entries[start:end], meta, nil
}

// GetEvents replays a raw range of the event log, optionally filtered
// by patient. The range width is bounded up front so a single call's
// work never exceeds MaxEventRangeWidth, and the context is honored
// throughout the replay.
func (q *Query) GetEvents(ctx context.Context, patientFilter string, from, to uint64) ([]ledger.Envelope, error) {
	if from < 1 {
		from = 1
	}
	if to == 0 {
		to = q.log.LastPosition()
	}
	// Empty log with a defaulted range: nothing to replay.
	if to == 0 {
		return nil, nil
	}
	if to < from {
		return nil, &lederr.ValidationError{Field: "toPosition", Value: to, Reason: "must not precede fromPosition"}
	}
	if width := to - from + 1; width > uint64(q.cfg.MaxEventRangeWidth) {
		return nil, &lederr.ValidationError{
			Field:  "toPosition-fromPosition",
			Value:  width,
			Limit:  q.cfg.MaxEventRangeWidth,
			Reason: "event range too wide",
		}
	}
	events, err := q.log.ReadRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if patientFilter == "" {
		return events, nil
	}
	filtered := events[:0:0]
	for _, env := range events {
		if env.PatientAddress() == patientFilter {
			filtered = append(filtered, env)
		}
	}
	return filtered, nil
}

// ListDataTypes returns every interned data-type label for UI
// population.
func (q *Query) ListDataTypes() ([]registry.HashEntry, error) {
	return q.registry.ListKind(registry.KindDataType)
}

// ListPurposes returns every interned purpose label.
func (q *Query) ListPurposes() ([]registry.HashEntry, error) {
	return q.registry.ListKind(registry.KindPurpose)
}

// CacheKey derives the deterministic key an external result cache
// should store a read under. Identical queries always map to the same
// key, so invalidation can be driven purely off event positions.
func CacheKey(op string, parts ...string) string {
	payload := op + "\x00" + strings.Join(parts, "\x00")
	return ids.NewID([]byte(payload)).String()
}

// sortByCreation keeps list reads deterministic even when a fallback
// path assembled them out of order.
func sortByCreation(records []ledger.ConsentRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
