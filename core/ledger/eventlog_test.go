package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"consentchain/core/audit"
	"consentchain/core/config"
	"consentchain/core/registry"
	"consentchain/core/storage"
)

func TestEventLogPositionsAreMonotonic(t *testing.T) {
	led, _ := newTestLedger(t)

	for i := 0; i < 3; i++ {
		_, err := led.GrantConsent("patientA", "providerX", []string{"a"}, []string{"b"}, nil)
		require.NoError(t, err)
	}
	require.Equal(t, uint64(3), led.EventLog().LastPosition())

	for pos := uint64(1); pos <= 3; pos++ {
		env, err := led.EventLog().Read(pos)
		require.NoError(t, err)
		require.Equal(t, pos, env.Position)
	}

	_, err := led.EventLog().Read(4)
	require.Equal(t, storage.ErrNotFound, err)
}

func TestEventLogRecoversSequenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewStorage(dir)
	require.NoError(t, err)

	log, err := OpenEventLog(store)
	require.NoError(t, err)
	led := New(store, registry.New(store), log, config.Defaults(), &audit.NopAuditLogger{})
	_, err = led.GrantConsent("patientA", "providerX", []string{"a"}, []string{"b"}, nil)
	require.NoError(t, err)
	_, err = led.RequestAccess("providerX", "patientA", []string{"a"}, []string{"b"}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := storage.NewStorage(dir)
	require.NoError(t, err)
	defer reopened.Close()
	recovered, err := OpenEventLog(reopened)
	require.NoError(t, err)
	require.Equal(t, uint64(2), recovered.LastPosition())
}

func TestReadRange(t *testing.T) {
	led, _ := newTestLedger(t)
	for i := 0; i < 5; i++ {
		_, err := led.GrantConsent("patientA", "providerX", []string{"a"}, []string{"b"}, nil)
		require.NoError(t, err)
	}

	events, err := led.EventLog().ReadRange(context.Background(), 2, 4)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, uint64(2), events[0].Position)
	require.Equal(t, uint64(4), events[2].Position)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = led.EventLog().ReadRange(ctx, 1, 5)
	require.ErrorIs(t, err, context.Canceled)
}

// rangeRecorder captures the scan windows the log asks the store for.
type rangeRecorder struct {
	storage.Backend
	starts []string
	limits []string
}

func (r *rangeRecorder) ScanRange(start, limit string) storage.Iterator {
	r.starts = append(r.starts, start)
	r.limits = append(r.limits, limit)
	return r.Backend.ScanRange(start, limit)
}

func TestReadRangeScansOnlyRequestedWindow(t *testing.T) {
	led, _ := newTestLedger(t)
	for i := 0; i < 5; i++ {
		_, err := led.GrantConsent("patientA", "providerX", []string{"a"}, []string{"b"}, nil)
		require.NoError(t, err)
	}

	recorder := &rangeRecorder{Backend: led.store}
	log := &EventLog{store: recorder, lastPos: led.EventLog().LastPosition()}

	events, err := log.ReadRange(context.Background(), 3, 4)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, uint64(3), events[0].Position)
	require.Equal(t, uint64(4), events[1].Position)

	// The iterator starts at the first requested position and stops just
	// past the last; earlier events are never touched.
	require.Equal(t, []string{eventKey(3)}, recorder.starts)
	require.Equal(t, []string{eventKey(5)}, recorder.limits)
}

func TestReadCategoryAfterSeparatesFeeds(t *testing.T) {
	led, _ := newTestLedger(t)

	_, err := led.GrantConsent("patientA", "providerX", []string{"a"}, []string{"b"}, nil) // pos 1, consent
	require.NoError(t, err)
	requestID, err := led.RequestAccess("providerX", "patientA", []string{"a"}, []string{"b"}, nil) // pos 2, request
	require.NoError(t, err)
	_, err = led.RespondToAccessRequest("patientA", requestID, false) // pos 3, request
	require.NoError(t, err)

	consentEvents, err := led.EventLog().ReadCategoryAfter(CategoryConsent, 0, 0)
	require.NoError(t, err)
	require.Len(t, consentEvents, 1)
	require.Equal(t, EventConsentGranted, consentEvents[0].Type)

	requestEvents, err := led.EventLog().ReadCategoryAfter(CategoryRequest, 0, 0)
	require.NoError(t, err)
	require.Len(t, requestEvents, 2)
	require.Equal(t, EventAccessRequested, requestEvents[0].Type)
	require.Equal(t, EventAccessDenied, requestEvents[1].Type)

	// Strictly-after semantics and the batch limit.
	tail, err := led.EventLog().ReadCategoryAfter(CategoryRequest, 2, 0)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.Equal(t, uint64(3), tail[0].Position)

	limited, err := led.EventLog().ReadCategoryAfter(CategoryRequest, 0, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestEnvelopeCategoryRejectsUnknownType(t *testing.T) {
	_, err := Envelope{Type: "SomethingNew", Position: 7}.Category()
	require.Error(t, err)

	cat, err := Envelope{Type: EventAccessApproved}.Category()
	require.NoError(t, err)
	require.Equal(t, CategoryRequest, cat)
}
