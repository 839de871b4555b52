package sacn

import (
	"encoding/binary"
	"testing"
)

func TestMulticastGroup(t *testing.T) {
	tests := []struct {
		universe uint16
		want     string
	}{
		{256, "239.255.1.0"},
		{1, "239.255.0.1"},
		{257, "239.255.1.1"},
		{63999, "239.255.249.255"},
		{DiscoveryUniverse, "239.255.250.214"},
	}

	for _, tt := range tests {
		got, err := MulticastGroup(tt.universe)
		if err != nil {
			t.Errorf("MulticastGroup(%d) error: %v", tt.universe, err)
			continue
		}
		if got != tt.want {
			t.Errorf("MulticastGroup(%d) = %q, want %q", tt.universe, got, tt.want)
		}
	}
}

func TestMulticastGroupInvalid(t *testing.T) {
	for _, universe := range []uint16{0, 64000, 65535} {
		if _, err := MulticastGroup(universe); err == nil {
			t.Errorf("MulticastGroup(%d) should fail", universe)
		}
	}
}

func TestNewPacketEncode(t *testing.T) {
	p, err := NewPacket(PacketOptions{
		Universe:   1,
		Payload:    map[int]float64{1: 100, 2: 50},
		Sequence:   7,
		SourceName: "node-dmx-test",
		Priority:   120,
	})
	if err != nil {
		t.Fatalf("NewPacket() error: %v", err)
	}

	buf := p.Bytes()
	if len(buf) != 638 {
		t.Fatalf("Bytes() length = %d, want 638", len(buf))
	}
	if buf[108] != 120 {
		t.Errorf("priority byte = %d, want 120", buf[108])
	}
	if buf[111] != 7 {
		t.Errorf("sequence byte = %d, want 7", buf[111])
	}
	if got := binary.BigEndian.Uint16(buf[113:115]); got != 1 {
		t.Errorf("universe = %d, want 1", got)
	}
	if buf[126] != 255 {
		t.Errorf("channel 1 = %d, want 255 (100%%)", buf[126])
	}
	if buf[127] != 127 {
		t.Errorf("channel 2 = %d, want 127 (50%% rounded)", buf[127])
	}
	if got := string(buf[44:57]); got != "node-dmx-test" {
		t.Errorf("source name = %q", got)
	}
	if buf[57] != 0 {
		t.Error("source name must be null-padded")
	}
}

func TestPacketFixedFields(t *testing.T) {
	p, err := NewPacket(PacketOptions{Universe: 42})
	if err != nil {
		t.Fatal(err)
	}
	buf := p.Bytes()

	if got := binary.BigEndian.Uint16(buf[0:2]); got != 0x0010 {
		t.Errorf("preamble size = 0x%04x", got)
	}
	if got := binary.BigEndian.Uint16(buf[2:4]); got != 0 {
		t.Errorf("postamble size = 0x%04x", got)
	}
	if got := string(buf[4:13]); got != "ASC-E1.17" {
		t.Errorf("ACN PID = %q", got)
	}
	if got := binary.BigEndian.Uint16(buf[16:18]); got != 0x726e {
		t.Errorf("root FAL = 0x%04x, want 0x726e", got)
	}
	if got := binary.BigEndian.Uint32(buf[18:22]); got != 0x00000004 {
		t.Errorf("root vector = 0x%08x", got)
	}
	if got := binary.BigEndian.Uint16(buf[38:40]); got != 0x7258 {
		t.Errorf("framing FAL = 0x%04x, want 0x7258", got)
	}
	if got := binary.BigEndian.Uint32(buf[40:44]); got != 0x00000002 {
		t.Errorf("framing vector = 0x%08x", got)
	}
	if got := binary.BigEndian.Uint16(buf[115:117]); got != 0x720b {
		t.Errorf("DMP FAL = 0x%04x, want 0x720b", got)
	}
	if buf[117] != 0x02 || buf[118] != 0xA1 {
		t.Errorf("DMP vector/type = 0x%02x/0x%02x", buf[117], buf[118])
	}
	if got := binary.BigEndian.Uint16(buf[123:125]); got != 0x0201 {
		t.Errorf("property value count = 0x%04x", got)
	}
	if buf[125] != 0 {
		t.Errorf("start code = %d", buf[125])
	}
	if buf[108] != DefaultPriority {
		t.Errorf("default priority = %d, want %d", buf[108], DefaultPriority)
	}
}

func TestPacketRoundTrip(t *testing.T) {
	var cid [16]byte
	for i := range cid {
		cid[i] = byte(i + 1)
	}
	p, err := NewPacket(PacketOptions{
		Universe:   513,
		Raw:        []byte{10, 20, 30},
		Sequence:   99,
		SourceName: "roundtrip",
		Priority:   55,
		CID:        cid,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := Parse(p.Bytes())
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if got.Universe != 513 || got.Sequence != 99 || got.Priority != 55 {
		t.Errorf("parsed fields = %+v", got)
	}
	if got.SourceName != "roundtrip" {
		t.Errorf("source name = %q", got.SourceName)
	}
	if got.CID != cid {
		t.Errorf("CID = %v", got.CID)
	}
	if got.Data[0] != 10 || got.Data[1] != 20 || got.Data[2] != 30 || got.Data[3] != 0 {
		t.Errorf("data prefix = %v", got.Data[:4])
	}
}

func TestNewPacketValidation(t *testing.T) {
	if _, err := NewPacket(PacketOptions{Universe: 0}); err == nil {
		t.Error("universe 0 should fail")
	}
	if _, err := NewPacket(PacketOptions{Universe: 64000}); err == nil {
		t.Error("universe 64000 should fail")
	}
	if _, err := NewPacket(PacketOptions{Universe: DiscoveryUniverse}); err != nil {
		t.Errorf("discovery universe should be allowed: %v", err)
	}
	if _, err := NewPacket(PacketOptions{Universe: 1, Priority: 201}); err == nil {
		t.Error("priority 201 should fail")
	}
	if _, err := NewPacket(PacketOptions{Universe: 1, Payload: map[int]float64{0: 10}}); err == nil {
		t.Error("channel 0 should fail")
	}
	if _, err := NewPacket(PacketOptions{Universe: 1, Payload: map[int]float64{513: 10}}); err == nil {
		t.Error("channel 513 should fail")
	}
}

func TestScaling(t *testing.T) {
	p, err := NewPacket(PacketOptions{
		Universe:        1,
		Payload:         map[int]float64{1: 300, 2: -5, 3: 128.4},
		UseRawDmxValues: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.Data[0] != 255 {
		t.Errorf("raw 300 clamps to %d, want 255", p.Data[0])
	}
	if p.Data[1] != 0 {
		t.Errorf("raw -5 clamps to %d, want 0", p.Data[1])
	}
	if p.Data[2] != 128 {
		t.Errorf("raw 128.4 rounds to %d, want 128", p.Data[2])
	}
}

func TestParseRejectsCorruption(t *testing.T) {
	p, err := NewPacket(PacketOptions{Universe: 1})
	if err != nil {
		t.Fatal(err)
	}

	mutations := []struct {
		name string
		mut  func([]byte)
	}{
		{"preamble", func(b []byte) { b[1] = 0x11 }},
		{"pid", func(b []byte) { b[4] = 'X' }},
		{"root vector", func(b []byte) { b[21] = 9 }},
		{"framing vector", func(b []byte) { b[43] = 9 }},
		{"dmp vector", func(b []byte) { b[117] = 3 }},
		{"address type", func(b []byte) { b[118] = 0xA2 }},
		{"first address", func(b []byte) { b[120] = 1 }},
		{"address increment", func(b []byte) { b[122] = 2 }},
		{"start code", func(b []byte) { b[125] = 0xCC }},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			buf := p.Bytes()
			tt.mut(buf)
			if _, err := Parse(buf); err == nil {
				t.Errorf("corrupted %s should fail to parse", tt.name)
			}
		})
	}
}

func TestAcceptSequence(t *testing.T) {
	if !acceptSequence(12, 13) {
		t.Error("next sequence should be accepted")
	}
	if !acceptSequence(100, 80) {
		t.Error("delta -20 should be accepted")
	}
	if acceptSequence(100, 81) {
		t.Error("delta -19 should be rejected")
	}
	if acceptSequence(255, 250) {
		t.Error("small backwards step should be rejected")
	}
	if !acceptSequence(255, 0) {
		t.Error("wraparound should be accepted")
	}
}
