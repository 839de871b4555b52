package rdmnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeProfiles(t *testing.T) {
	assert.Nil(t, normalizeProfiles(nil))
	assert.Equal(t, []uint16{1, 2, 3}, normalizeProfiles([]uint16{3, 1, 2, 1, 3}))
	assert.Equal(t, []uint16{7}, normalizeProfiles([]uint16{7, 7, 7}))
}

func TestCapabilityCacheChangeDetection(t *testing.T) {
	cache := newCapabilityCache()

	entry, changed := cache.update(1, RoleController, []uint16{0x0200, 0x0100}, SourceLocalAdvertisement)
	require.True(t, changed, "first insert is a change")
	assert.Equal(t, []uint16{0x0100, 0x0200}, entry.Profiles, "profiles normalized")

	// Same role, same profiles (different order), same source: no change.
	_, changed = cache.update(1, RoleController, []uint16{0x0100, 0x0200, 0x0100}, SourceLocalAdvertisement)
	assert.False(t, changed)

	// Provenance change alone is a change.
	_, changed = cache.update(1, RoleController, []uint16{0x0100, 0x0200}, SourceBrokerNegotiation)
	assert.True(t, changed)

	// Role change alone is a change.
	_, changed = cache.update(1, RoleDevice, []uint16{0x0100, 0x0200}, SourceBrokerNegotiation)
	assert.True(t, changed)

	// Profile change alone is a change.
	_, changed = cache.update(1, RoleDevice, []uint16{0x0100}, SourceBrokerNegotiation)
	assert.True(t, changed)
}

func TestCapabilityCacheGetCopies(t *testing.T) {
	cache := newCapabilityCache()
	cache.update(4, RoleMonitor, []uint16{5, 6}, SourceRemoteAdvertisement)

	got, ok := cache.get(4)
	require.True(t, ok)
	got.Profiles[0] = 0xFFFF

	again, _ := cache.get(4)
	assert.Equal(t, uint16(5), again.Profiles[0], "get must return a copy")
}

func TestCapabilityCacheClear(t *testing.T) {
	cache := newCapabilityCache()
	cache.update(1, RoleController, nil, SourceLocalAdvertisement)
	cache.update(2, RoleDevice, nil, SourceLocalAdvertisement)
	require.Len(t, cache.all(), 2)

	cache.clear()
	assert.Empty(t, cache.all())
	_, ok := cache.get(1)
	assert.False(t, ok)
}
