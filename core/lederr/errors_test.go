package lederr

import (
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestClassHelpersSeeThroughWrapping(t *testing.T) {
	base := &NotFoundError{Kind: "consent", ID: "abc"}
	wrapped := pkgerrors.Wrap(base, "loading record")

	require.True(t, IsNotFound(wrapped))
	require.False(t, IsConflict(wrapped))
	require.Equal(t, "not_found", Code(wrapped))
}

func TestCodes(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{&ValidationError{Field: "dataTypes", Reason: "empty"}, "validation_failed"},
		{&AuthorizationError{Caller: "x", Reason: "not owner"}, "unauthorized"},
		{&NotFoundError{Kind: "request", ID: "r1"}, "not_found"},
		{&ConflictError{Kind: "request", ID: "r1", State: "denied"}, "conflict"},
		{&IntegrityError{Hash: "deadbeef", Record: "consent c1"}, "integrity_violation"},
		{errors.New("disk on fire"), "internal_error"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.code, Code(tc.err))
		require.NotEmpty(t, tc.err.Error())
	}
}

func TestValidationErrorMessageIncludesLimit(t *testing.T) {
	err := &ValidationError{Field: "dataTypes*purposes", Value: 30, Limit: 25, Reason: "batch size exceeded"}
	require.Contains(t, err.Error(), "limit=25")
	require.Contains(t, err.Error(), "value=30")
}
