package ids

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIDIsDeterministic(t *testing.T) {
	a := NewID([]byte("lab-results"))
	b := NewID([]byte("lab-results"))
	c := NewID([]byte("imaging"))

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.False(t, a.IsZero())
	require.True(t, Empty.IsZero())
}

func TestStringRoundTrip(t *testing.T) {
	id := NewID([]byte("treatment"))
	require.Len(t, id.String(), 64)

	parsed, err := FromString(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = FromString("not-hex")
	require.Error(t, err)
	_, err = FromString("abcd") // too short
	require.Error(t, err)
}

func TestJSONEncodesAsHex(t *testing.T) {
	id := NewID([]byte("billing"))
	data, err := json.Marshal(id)
	require.NoError(t, err)
	require.Equal(t, `"`+id.String()+`"`, string(data))

	var decoded ID
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, id, decoded)
}

func TestShort(t *testing.T) {
	id := NewID([]byte("x"))
	require.Len(t, id.Short(), 8)
	require.Equal(t, id.String()[:8], id.Short())
}
