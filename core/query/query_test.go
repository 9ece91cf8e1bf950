package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"consentchain/core/audit"
	"consentchain/core/config"
	"consentchain/core/ledger"
	"consentchain/core/lederr"
	"consentchain/core/projection"
	"consentchain/core/registry"
	"consentchain/core/storage"
)

func newTestQuery(t *testing.T) (*ledger.Ledger, *projection.Engine, *Query) {
	t.Helper()
	store, err := storage.NewStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log, err := ledger.OpenEventLog(store)
	require.NoError(t, err)
	reg := registry.New(store)
	cfg := config.Defaults()
	led := ledger.New(store, reg, log, cfg, &audit.NopAuditLogger{})
	engine := projection.NewEngine(store, log, cfg.ProjectionBatch)
	return led, engine, New(engine, log, reg, cfg)
}

func tickAll(t *testing.T, engine *projection.Engine) {
	t.Helper()
	for _, cat := range ledger.Categories {
		_, err := engine.Tick(cat)
		require.NoError(t, err)
	}
}

func TestGetConsentStatus(t *testing.T) {
	led, engine, q := newTestQuery(t)
	ctx := context.Background()

	activeID, err := led.GrantConsent("patientA", "providerX", []string{"lab-results"}, []string{"treatment"}, nil)
	require.NoError(t, err)

	revokedID, err := led.GrantConsent("patientA", "providerX", []string{"imaging"}, []string{"treatment"}, nil)
	require.NoError(t, err)
	require.NoError(t, led.RevokeConsent("patientA", revokedID))

	expiry := time.Now().UTC().Add(time.Hour)
	_, err = led.GrantConsent("patientA", "providerY", []string{"lab-results"}, []string{"research"}, &expiry)
	require.NoError(t, err)

	tickAll(t, engine)

	status, err := q.GetConsentStatus(ctx, "patientA", "providerX", "lab-results")
	require.NoError(t, err)
	require.True(t, status.HasConsent)
	require.Equal(t, activeID, status.ConsentID)
	require.False(t, status.IsExpired)

	// Revoked grants confer nothing.
	status, err = q.GetConsentStatus(ctx, "patientA", "providerX", "imaging")
	require.NoError(t, err)
	require.False(t, status.HasConsent)
	require.False(t, status.IsExpired)

	// A data type the provider was never granted.
	status, err = q.GetConsentStatus(ctx, "patientA", "providerX", "genomics")
	require.NoError(t, err)
	require.False(t, status.HasConsent)

	// Expired grants are reported distinctly: no consent, but flagged.
	q.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	status, err = q.GetConsentStatus(ctx, "patientA", "providerY", "lab-results")
	require.NoError(t, err)
	require.False(t, status.HasConsent)
	require.True(t, status.IsExpired)
	require.NotNil(t, status.ExpirationTime)
}

func TestGetConsentStatusLatestGrantWins(t *testing.T) {
	led, engine, q := newTestQuery(t)

	_, err := led.GrantConsent("patientA", "providerX", []string{"lab-results"}, []string{"treatment"}, nil)
	require.NoError(t, err)
	secondID, err := led.GrantConsent("patientA", "providerX", []string{"lab-results"}, []string{"billing"}, nil)
	require.NoError(t, err)

	tickAll(t, engine)

	status, err := q.GetConsentStatus(context.Background(), "patientA", "providerX", "lab-results")
	require.NoError(t, err)
	require.True(t, status.HasConsent)
	require.Equal(t, secondID, status.ConsentID)
}

func TestFallbackReplayMatchesProjection(t *testing.T) {
	led, engine, q := newTestQuery(t)
	ctx := context.Background()

	consentID, err := led.GrantConsent("patientA", "providerX", []string{"lab-results"}, []string{"treatment"}, nil)
	require.NoError(t, err)
	require.NoError(t, led.RevokeConsent("patientA", consentID))
	requestID, err := led.RequestAccess("providerY", "patientA", []string{"imaging"}, []string{"research"}, nil)
	require.NoError(t, err)
	_, err = led.RespondToAccessRequest("patientA", requestID, true)
	require.NoError(t, err)

	// No tick has run: reads fall back to bounded log replay.
	cold, _, err := q.GetPatientConsents(ctx, "patientA", true, PageRequest{})
	require.NoError(t, err)

	coldRequests, _, err := q.GetPatientRequests(ctx, "patientA", "", PageRequest{})
	require.NoError(t, err)
	require.Len(t, coldRequests, 1)
	require.Equal(t, ledger.StatusApproved, coldRequests[0].Status)

	tickAll(t, engine)

	warm, _, err := q.GetPatientConsents(ctx, "patientA", true, PageRequest{})
	require.NoError(t, err)
	require.Equal(t, cold, warm)
	require.Len(t, warm, 2)
	require.False(t, warm[0].Active)
	require.True(t, warm[1].Active)
}

func TestGetPatientConsentsExpirationFilterAndPagination(t *testing.T) {
	led, engine, q := newTestQuery(t)
	ctx := context.Background()

	_, err := led.GrantConsent("patientA", "providerX", []string{"a"}, []string{"p"}, nil)
	require.NoError(t, err)
	_, err = led.GrantConsent("patientA", "providerY", []string{"b"}, []string{"p"}, nil)
	require.NoError(t, err)
	expiry := time.Now().UTC().Add(time.Hour)
	_, err = led.GrantConsent("patientA", "providerZ", []string{"c"}, []string{"p"}, &expiry)
	require.NoError(t, err)

	tickAll(t, engine)
	q.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }

	visible, meta, err := q.GetPatientConsents(ctx, "patientA", false, PageRequest{})
	require.NoError(t, err)
	require.Len(t, visible, 2)
	require.Equal(t, 2, meta.Total)

	all, meta, err := q.GetPatientConsents(ctx, "patientA", true, PageRequest{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.True(t, all[2].IsExpired)

	// Page size 2: two pages, deterministic creation order.
	page1, meta, err := q.GetPatientConsents(ctx, "patientA", true, PageRequest{Page: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.Equal(t, 2, meta.TotalPages)
	page2, _, err := q.GetPatientConsents(ctx, "patientA", true, PageRequest{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page2, 1)
	require.Equal(t, "providerZ", page2[0].ProviderAddress)

	// Past the last page: empty data, intact metadata.
	empty, meta, err := q.GetPatientConsents(ctx, "patientA", true, PageRequest{Page: 9, Limit: 2})
	require.NoError(t, err)
	require.Empty(t, empty)
	require.Equal(t, 3, meta.Total)
}

func TestGetConsentRecordResolvesLabels(t *testing.T) {
	led, engine, q := newTestQuery(t)

	consentID, err := led.GrantConsent("patientA", "providerX", []string{"lab-results", "imaging"}, []string{"treatment"}, nil)
	require.NoError(t, err)
	tickAll(t, engine)

	detail, err := q.GetConsentRecord(context.Background(), consentID)
	require.NoError(t, err)
	require.Equal(t, []string{"lab-results", "imaging"}, detail.DataTypes)
	require.Equal(t, []string{"treatment"}, detail.Purposes)
	require.False(t, detail.IsExpired)

	_, err = q.GetConsentRecord(context.Background(), "missing")
	require.True(t, lederr.IsNotFound(err))
}

func TestGetPatientRequestsStatusFilter(t *testing.T) {
	led, engine, q := newTestQuery(t)
	ctx := context.Background()

	pendingID, err := led.RequestAccess("providerX", "patientA", []string{"a"}, []string{"p"}, nil)
	require.NoError(t, err)
	deniedID, err := led.RequestAccess("providerY", "patientA", []string{"b"}, []string{"p"}, nil)
	require.NoError(t, err)
	_, err = led.RespondToAccessRequest("patientA", deniedID, false)
	require.NoError(t, err)

	tickAll(t, engine)

	pending, _, err := q.GetPatientRequests(ctx, "patientA", "pending", PageRequest{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, pendingID, pending[0].ID)

	denied, _, err := q.GetPatientRequests(ctx, "patientA", "Denied", PageRequest{})
	require.NoError(t, err)
	require.Len(t, denied, 1)

	_, _, err = q.GetPatientRequests(ctx, "patientA", "bogus", PageRequest{})
	require.True(t, lederr.IsValidation(err))
}

func TestGetEvents(t *testing.T) {
	led, _, q := newTestQuery(t)
	ctx := context.Background()

	_, err := led.GrantConsent("patientA", "providerX", []string{"a"}, []string{"p"}, nil)
	require.NoError(t, err)
	_, err = led.GrantConsent("patientB", "providerX", []string{"a"}, []string{"p"}, nil)
	require.NoError(t, err)

	events, err := q.GetEvents(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	filtered, err := q.GetEvents(ctx, "patientB", 0, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "patientB", filtered[0].PatientAddress())

	_, err = q.GetEvents(ctx, "", 5, 2)
	require.True(t, lederr.IsValidation(err))

	// The range width is bounded before any log read happens.
	_, err = q.GetEvents(ctx, "", 1, uint64(q.cfg.MaxEventRangeWidth)+2)
	require.True(t, lederr.IsValidation(err))
}

func TestGetEventsEmptyLog(t *testing.T) {
	_, _, q := newTestQuery(t)

	events, err := q.GetEvents(context.Background(), "", 0, 0)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestListKindsAndCacheKey(t *testing.T) {
	led, _, q := newTestQuery(t)

	_, err := led.GrantConsent("patientA", "providerX", []string{"imaging", "lab-results"}, []string{"treatment"}, nil)
	require.NoError(t, err)

	dataTypes, err := q.ListDataTypes()
	require.NoError(t, err)
	require.Len(t, dataTypes, 2)
	require.Equal(t, "imaging", dataTypes[0].Text) // sorted by text
	require.Equal(t, "lab-results", dataTypes[1].Text)

	purposes, err := q.ListPurposes()
	require.NoError(t, err)
	require.Len(t, purposes, 1)

	require.Equal(t,
		CacheKey("consentStatus", "patientA", "providerX", "lab-results"),
		CacheKey("consentStatus", "patientA", "providerX", "lab-results"))
	require.NotEqual(t,
		CacheKey("consentStatus", "patientA", "providerX", "lab-results"),
		CacheKey("consentStatus", "patientA", "providerY", "lab-results"))
}
