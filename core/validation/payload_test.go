package validation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateGrantPayload(t *testing.T) {
	good := `{"provider":"providerX","dataTypes":["lab-results"],"purposes":["treatment"]}`
	require.NoError(t, ValidateGrantPayload([]byte(good)))

	withExpiry := `{"provider":"providerX","dataTypes":["a"],"purposes":["b"],"expiresAt":"2027-01-01T00:00:00Z"}`
	require.NoError(t, ValidateGrantPayload([]byte(withExpiry)))

	cases := map[string]string{
		"missing provider":  `{"dataTypes":["a"],"purposes":["b"]}`,
		"empty dataTypes":   `{"provider":"x","dataTypes":[],"purposes":["b"]}`,
		"unknown field":     `{"provider":"x","dataTypes":["a"],"purposes":["b"],"extra":true}`,
		"wrong type":        `{"provider":"x","dataTypes":"a","purposes":["b"]}`,
		"not even JSON":     `{"provider"`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, ValidateGrantPayload([]byte(payload)))
		})
	}
}

func TestValidateRespondPayload(t *testing.T) {
	require.NoError(t, ValidateRespondPayload([]byte(`{"requestId":"r1","approve":true}`)))
	require.Error(t, ValidateRespondPayload([]byte(`{"requestId":"r1"}`)))
	require.Error(t, ValidateRespondPayload([]byte(`{"requestId":"","approve":false}`)))
}

func TestValidateLegacyImportPayload(t *testing.T) {
	good := `{
		"id": "legacy-001",
		"patientAddress": "patientA",
		"providerAddress": "providerX",
		"dataType": "lab-results",
		"purpose": "treatment",
		"createdAt": "2020-05-01T00:00:00Z",
		"active": false
	}`
	require.NoError(t, ValidateLegacyImportPayload([]byte(good)))
	require.Error(t, ValidateLegacyImportPayload([]byte(`{"id":"x"}`)))
}
