package projection_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"consentchain/core/audit"
	"consentchain/core/config"
	"consentchain/core/ledger"
	"consentchain/core/projection"
	"consentchain/core/registry"
	"consentchain/core/storage"
)

func newTestStack(t *testing.T) (*ledger.Ledger, *projection.Engine) {
	t.Helper()
	store, err := storage.NewStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log, err := ledger.OpenEventLog(store)
	require.NoError(t, err)
	led := ledger.New(store, registry.New(store), log, config.Defaults(), &audit.NopAuditLogger{})
	engine := projection.NewEngine(store, log, 500)
	return led, engine
}

func TestTickMaterializesConsentViews(t *testing.T) {
	led, engine := newTestStack(t)

	hasCursor, err := engine.HasCursor(ledger.CategoryConsent)
	require.NoError(t, err)
	require.False(t, hasCursor)

	consentID, err := led.GrantConsent("patientA", "providerX", []string{"lab-results"}, []string{"treatment"}, nil)
	require.NoError(t, err)
	require.NoError(t, led.RevokeConsent("patientA", consentID))

	result, err := engine.Tick(ledger.CategoryConsent)
	require.NoError(t, err)
	require.Equal(t, 2, result.Processed)
	require.Equal(t, uint64(2), result.Cursor)

	record, err := engine.ConsentByID(consentID)
	require.NoError(t, err)
	require.False(t, record.Active)
	require.NotNil(t, record.RevokedAt)

	patientRecords, err := engine.PatientConsents("patientA")
	require.NoError(t, err)
	require.Len(t, patientRecords, 1)
	require.Equal(t, consentID, patientRecords[0].ID)

	providerRecords, err := engine.ProviderConsents("providerX")
	require.NoError(t, err)
	require.Len(t, providerRecords, 1)

	hasCursor, err = engine.HasCursor(ledger.CategoryConsent)
	require.NoError(t, err)
	require.True(t, hasCursor)

	// No new events: the cursor stays put.
	result, err = engine.Tick(ledger.CategoryConsent)
	require.NoError(t, err)
	require.Equal(t, 0, result.Processed)
	require.Equal(t, uint64(2), result.Cursor)
}

func TestRevokeAppliesWithinOneTickBatch(t *testing.T) {
	led, engine := newTestStack(t)

	firstID, err := led.GrantConsent("patientA", "providerX", []string{"lab-results"}, []string{"treatment"}, nil)
	require.NoError(t, err)
	secondID, err := led.GrantConsent("patientA", "providerX", []string{"imaging"}, []string{"treatment"}, nil)
	require.NoError(t, err)
	require.NoError(t, led.RevokeConsent("patientA", firstID))

	// Grant and revoke land in a single batch; the revoke must see the
	// record staged by the grant, not just the committed store.
	result, err := engine.Tick(ledger.CategoryConsent)
	require.NoError(t, err)
	require.Equal(t, 3, result.Processed)

	revoked, err := engine.ConsentByID(firstID)
	require.NoError(t, err)
	require.False(t, revoked.Active)
	require.NotNil(t, revoked.RevokedAt)

	untouched, err := engine.ConsentByID(secondID)
	require.NoError(t, err)
	require.True(t, untouched.Active)
	require.Nil(t, untouched.RevokedAt)
}

func TestTickMaterializesRequestViews(t *testing.T) {
	led, engine := newTestStack(t)

	requestID, err := led.RequestAccess("providerX", "patientA", []string{"imaging"}, []string{"research"}, nil)
	require.NoError(t, err)
	consentID, err := led.RespondToAccessRequest("patientA", requestID, true)
	require.NoError(t, err)

	result, err := engine.Tick(ledger.CategoryRequest)
	require.NoError(t, err)
	require.Equal(t, 2, result.Processed)

	request, err := engine.RequestByID(requestID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusApproved, request.Status)
	require.Equal(t, consentID, request.ConsentID)

	requests, err := engine.PatientRequests("patientA")
	require.NoError(t, err)
	require.Len(t, requests, 1)

	// The approval event carries the new record, so the consent view
	// exists without a consent-category tick.
	record, err := engine.ConsentByID(consentID)
	require.NoError(t, err)
	require.True(t, record.Active)
}

func TestReplayIsIdempotent(t *testing.T) {
	led, engine := newTestStack(t)

	consentID, err := led.GrantConsent("patientA", "providerX", []string{"a"}, []string{"b"}, nil)
	require.NoError(t, err)
	require.NoError(t, led.RevokeConsent("patientA", consentID))

	_, err = engine.Tick(ledger.CategoryConsent)
	require.NoError(t, err)

	before, err := engine.PatientConsents("patientA")
	require.NoError(t, err)

	// Re-apply the whole range, as a crash between view write and
	// cursor commit would.
	for pos := uint64(1); pos <= led.EventLog().LastPosition(); pos++ {
		env, err := led.EventLog().Read(pos)
		require.NoError(t, err)
		require.NoError(t, engine.Apply(env))
	}

	after, err := engine.PatientConsents("patientA")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestTickUnknownCategory(t *testing.T) {
	_, engine := newTestStack(t)
	_, err := engine.Tick(ledger.Category("mystery"))
	require.Error(t, err)
}

func TestPatientHistoryOrdered(t *testing.T) {
	led, engine := newTestStack(t)

	_, err := led.GrantConsent("patientA", "providerX", []string{"a"}, []string{"b"}, nil)
	require.NoError(t, err)
	requestID, err := led.RequestAccess("providerY", "patientA", []string{"a"}, []string{"b"}, nil)
	require.NoError(t, err)
	_, err = led.RespondToAccessRequest("patientA", requestID, false)
	require.NoError(t, err)

	for _, cat := range ledger.Categories {
		_, err := engine.Tick(cat)
		require.NoError(t, err)
	}

	entries, err := engine.PatientHistory("patientA")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, ledger.EventConsentGranted, entries[0].Type)
	require.Equal(t, ledger.EventAccessRequested, entries[1].Type)
	require.Equal(t, ledger.EventAccessDenied, entries[2].Type)
	for i := 1; i < len(entries); i++ {
		require.Greater(t, entries[i].Position, entries[i-1].Position)
	}
	require.False(t, entries[0].Timestamp.IsZero())
}

func TestCursorReadbackRoundTrip(t *testing.T) {
	led, engine := newTestStack(t)

	_, err := led.GrantConsent("patientA", "providerX", []string{"a"}, []string{"b"}, nil)
	require.NoError(t, err)
	_, err = engine.Tick(ledger.CategoryConsent)
	require.NoError(t, err)

	cursor, err := engine.Cursor(ledger.CategoryConsent)
	require.NoError(t, err)
	require.Equal(t, ledger.CategoryConsent, cursor.EventCategory)
	require.Equal(t, uint64(1), cursor.LastProcessedPosition)
	require.False(t, cursor.UpdatedAt.IsZero())

	// A category that never ticked reports position 0.
	cursor, err = engine.Cursor(ledger.CategoryRequest)
	require.NoError(t, err)
	require.Equal(t, uint64(0), cursor.LastProcessedPosition)
}
