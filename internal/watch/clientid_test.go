package watch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveClientIDIsDeterministic(t *testing.T) {
	a := DeriveClientID("Alice")
	b := DeriveClientID("  alice  ")
	c := DeriveClientID("ALICE")

	require.Equal(t, a, b)
	require.Equal(t, a, c)
}

func TestDeriveClientIDDiffersByUser(t *testing.T) {
	require.NotEqual(t, DeriveClientID("alice"), DeriveClientID("bob"))
}

func TestDeriveClientIDLooksLikeUUID(t *testing.T) {
	id := DeriveClientID("alice")
	require.Len(t, id, 36)
	require.Equal(t, byte('-'), id[8])
	require.Equal(t, byte('-'), id[13])
	require.Equal(t, byte('-'), id[18])
	require.Equal(t, byte('-'), id[23])
}

func TestNewRandomClientIDIsUnique(t *testing.T) {
	require.NotEqual(t, NewRandomClientID(), NewRandomClientID())
}
