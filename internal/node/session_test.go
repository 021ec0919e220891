package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRegistry_OpenLookupClose(t *testing.T) {
	r := NewSessionRegistry()

	owner := struct{ name string }{"datapath-0"}
	id := r.Open(owner)

	got, ok := r.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, owner, got)

	r.Close(id)
	_, ok = r.Lookup(id)
	assert.False(t, ok, "a closed session must not resolve to its stale owner")
}

func TestSessionRegistry_IDsAreUnique(t *testing.T) {
	r := NewSessionRegistry()

	seen := make(map[SessionID]bool)
	for i := 0; i < 100; i++ {
		id := r.Open(i)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestCapabilityRegistry_LookupMiss(t *testing.T) {
	r := NewCapabilityRegistry()

	_, err := r.Lookup(UUIDMetadata)
	assert.Error(t, err)
	assert.False(t, r.Has(UUIDMetadata))

	r.Publish(UUIDMetadata, "iface")
	got, err := r.Lookup(UUIDMetadata)
	require.NoError(t, err)
	assert.Equal(t, "iface", got)
}

func TestFactoryRegistry_UnknownMimeType(t *testing.T) {
	r := NewFactoryRegistry()

	_, err := r.Lookup("video/unknown")
	assert.Error(t, err)
}
