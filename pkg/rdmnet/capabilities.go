package rdmnet

import (
	"sort"
	"time"
)

// CapabilitySource records how a capability entry was learned.
type CapabilitySource string

const (
	SourceLocalAdvertisement  CapabilitySource = "local_advertisement"
	SourceRemoteAdvertisement CapabilitySource = "remote_advertisement"
	SourceBrokerNegotiation   CapabilitySource = "broker_negotiation"
)

// EndpointCapability describes what one endpoint can do. Role zero
// means no role is known.
type EndpointCapability struct {
	EndpointID uint16
	Role       Role
	// Profiles is always sorted and deduplicated.
	Profiles  []uint16
	Source    CapabilitySource
	UpdatedAt time.Time
}

// normalizeProfiles sorts and deduplicates a profile list.
func normalizeProfiles(profiles []uint16) []uint16 {
	if len(profiles) == 0 {
		return nil
	}
	out := make([]uint16, len(profiles))
	copy(out, profiles)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	dedup := out[:1]
	for _, p := range out[1:] {
		if p != dedup[len(dedup)-1] {
			dedup = append(dedup, p)
		}
	}
	return dedup
}

func profilesEqual(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// capabilityCache tracks endpoint capabilities by endpoint id. Not
// safe for concurrent use; the owning client serializes access.
type capabilityCache struct {
	entries map[uint16]*EndpointCapability
}

func newCapabilityCache() *capabilityCache {
	return &capabilityCache{entries: make(map[uint16]*EndpointCapability)}
}

// update inserts or replaces the entry and reports whether role,
// provenance or the profile list actually changed.
func (c *capabilityCache) update(endpointID uint16, role Role, profiles []uint16, source CapabilitySource) (EndpointCapability, bool) {
	normalized := normalizeProfiles(profiles)
	entry := &EndpointCapability{
		EndpointID: endpointID,
		Role:       role,
		Profiles:   normalized,
		Source:     source,
		UpdatedAt:  time.Now(),
	}

	prev, ok := c.entries[endpointID]
	changed := !ok ||
		prev.Role != role ||
		prev.Source != source ||
		!profilesEqual(prev.Profiles, normalized)
	c.entries[endpointID] = entry
	return *entry, changed
}

// get returns a copy of the entry for an endpoint.
func (c *capabilityCache) get(endpointID uint16) (EndpointCapability, bool) {
	entry, ok := c.entries[endpointID]
	if !ok {
		return EndpointCapability{}, false
	}
	out := *entry
	out.Profiles = append([]uint16(nil), entry.Profiles...)
	return out, true
}

// all returns copies of every entry.
func (c *capabilityCache) all() []EndpointCapability {
	out := make([]EndpointCapability, 0, len(c.entries))
	for _, entry := range c.entries {
		e := *entry
		e.Profiles = append([]uint16(nil), entry.Profiles...)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndpointID < out[j].EndpointID })
	return out
}

// clear drops every entry.
func (c *capabilityCache) clear() {
	c.entries = make(map[uint16]*EndpointCapability)
}
