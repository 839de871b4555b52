// Package sacn implements E1.31 (streaming ACN) packet building,
// parsing, transmission and reception.
package sacn

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// E1.31 constants.
const (
	// DefaultPort is the standard E1.31 UDP port.
	DefaultPort = 5568
	// PacketSize is the size of every packet this library emits:
	// 126-byte header plus 512 DMX slots.
	PacketSize = 638
	// headerSize is the offset of the first DMX slot; the leading DMX
	// start code sits at offset 125 inside the header.
	headerSize = 126
	// MaxUniverse bounds the routable universe range.
	MaxUniverse = 63999
	// DiscoveryUniverse is the reserved universe used for E1.31
	// universe discovery; it is accepted alongside 1..63999.
	DiscoveryUniverse = 64214

	rootVector    uint32 = 0x00000004
	framingVector uint32 = 0x00000002
	dmpVector     byte   = 0x02
	addressType   byte   = 0xA1

	// DefaultPriority per E1.31.
	DefaultPriority byte = 100
)

// Framing-layer option bits.
const (
	OptionForceSync        byte = 1 << 5
	OptionStreamTerminated byte = 1 << 6
	OptionPreviewData      byte = 1 << 7
)

// acnPID is the 12-byte ACN packet identifier.
var acnPID = []byte{0x41, 0x53, 0x43, 0x2d, 0x45, 0x31, 0x2e, 0x31, 0x37, 0x00, 0x00, 0x00}

// MulticastGroup returns the multicast group address for a universe:
// 239.255.<high byte>.<low byte>.
func MulticastGroup(universe uint16) (string, error) {
	if err := ValidateUniverse(universe); err != nil {
		return "", err
	}
	return fmt.Sprintf("239.255.%d.%d", byte(universe>>8), byte(universe)), nil
}

// ValidateUniverse accepts 1..63999 and the discovery universe.
func ValidateUniverse(universe uint16) error {
	if universe == DiscoveryUniverse {
		return nil
	}
	if universe < 1 || universe > MaxUniverse {
		return fmt.Errorf("sacn: universe %d out of range [1,%d]", universe, MaxUniverse)
	}
	return nil
}

// PacketOptions describes a packet to build. Payload carries sparse
// channel->percentage values scaled by 2.55; Raw carries DMX bytes
// directly. UseRawDmxValues selects clamped integers over percentage
// scaling for the Payload map.
type PacketOptions struct {
	Universe uint16
	// Payload maps 1-based channels to percentages [0,100] (or raw
	// values when UseRawDmxValues is set).
	Payload map[int]float64
	// Raw is a complete DMX frame; it wins over Payload when non-nil.
	Raw             []byte
	UseRawDmxValues bool
	Sequence        byte
	// SourceName is ASCII, null-padded, truncated to 64 bytes.
	SourceName string
	// Priority defaults to 100. Valid range [0,200].
	Priority     byte
	SyncUniverse uint16
	Options      byte
	// CID is the sending component's identifier; a random UUID is
	// generated when zero.
	CID [16]byte
}

// Packet is a built or parsed E1.31 data packet.
type Packet struct {
	CID          [16]byte
	SourceName   string
	Priority     byte
	SyncUniverse uint16
	Sequence     byte
	Options      byte
	Universe     uint16
	StartCode    byte
	// Data holds the 512 DMX slots.
	Data [512]byte
}

// scale converts one payload value to a DMX byte.
func scale(v float64, raw bool) byte {
	var scaled float64
	if raw {
		scaled = math.Round(v)
	} else {
		scaled = math.Round(v * 2.55)
	}
	if scaled < 0 {
		return 0
	}
	if scaled > 255 {
		return 255
	}
	return byte(scaled)
}

// NewPacket builds a Packet from options.
func NewPacket(opts PacketOptions) (*Packet, error) {
	if err := ValidateUniverse(opts.Universe); err != nil {
		return nil, err
	}
	priority := opts.Priority
	if priority == 0 {
		priority = DefaultPriority
	}
	if priority > 200 {
		return nil, fmt.Errorf("sacn: priority %d out of range [0,200]", priority)
	}

	p := &Packet{
		CID:          opts.CID,
		SourceName:   opts.SourceName,
		Priority:     priority,
		SyncUniverse: opts.SyncUniverse,
		Sequence:     opts.Sequence,
		Options:      opts.Options,
		Universe:     opts.Universe,
	}
	if p.CID == ([16]byte{}) {
		cid := uuid.New()
		copy(p.CID[:], cid[:])
	}

	switch {
	case opts.Raw != nil:
		copy(p.Data[:], opts.Raw)
	case opts.Payload != nil:
		for channel, value := range opts.Payload {
			if channel < 1 || channel > 512 {
				return nil, fmt.Errorf("sacn: channel %d out of range [1,512]", channel)
			}
			p.Data[channel-1] = scale(value, opts.UseRawDmxValues)
		}
	}
	return p, nil
}

// Bytes serializes the packet into its fixed 638-byte wire form.
func (p *Packet) Bytes() []byte {
	buf := make([]byte, PacketSize)
	// Root layer.
	binary.BigEndian.PutUint16(buf[0:2], 0x0010) // preamble size
	// postamble size stays 0
	copy(buf[4:16], acnPID)
	binary.BigEndian.PutUint16(buf[16:18], 0x7000|uint16(PacketSize-16))
	binary.BigEndian.PutUint32(buf[18:22], rootVector)
	copy(buf[22:38], p.CID[:])
	// Framing layer.
	binary.BigEndian.PutUint16(buf[38:40], 0x7000|uint16(PacketSize-38))
	binary.BigEndian.PutUint32(buf[40:44], framingVector)
	name := []byte(p.SourceName)
	if len(name) > 64 {
		name = name[:64]
	}
	copy(buf[44:108], name)
	buf[108] = p.Priority
	binary.BigEndian.PutUint16(buf[109:111], p.SyncUniverse)
	buf[111] = p.Sequence
	buf[112] = p.Options
	binary.BigEndian.PutUint16(buf[113:115], p.Universe)
	// DMP layer.
	binary.BigEndian.PutUint16(buf[115:117], 0x7000|uint16(PacketSize-115))
	buf[117] = dmpVector
	buf[118] = addressType
	// first property address stays 0
	binary.BigEndian.PutUint16(buf[121:123], 1)      // address increment
	binary.BigEndian.PutUint16(buf[123:125], 0x0201) // property value count: start code + 512 slots
	buf[125] = p.StartCode
	copy(buf[126:], p.Data[:])
	return buf
}

// Parse validates a received byte buffer against every fixed E1.31
// field and returns the decoded packet.
func Parse(buf []byte) (*Packet, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("sacn: packet too short: %d bytes", len(buf))
	}
	if binary.BigEndian.Uint16(buf[0:2]) != 0x0010 {
		return nil, fmt.Errorf("sacn: invalid preamble size")
	}
	if binary.BigEndian.Uint16(buf[2:4]) != 0 {
		return nil, fmt.Errorf("sacn: invalid postamble size")
	}
	if !bytes.Equal(buf[4:16], acnPID) {
		return nil, fmt.Errorf("sacn: invalid ACN packet identifier")
	}
	if binary.BigEndian.Uint32(buf[18:22]) != rootVector {
		return nil, fmt.Errorf("sacn: invalid root vector")
	}
	if binary.BigEndian.Uint32(buf[40:44]) != framingVector {
		return nil, fmt.Errorf("sacn: invalid framing vector")
	}
	if buf[117] != dmpVector {
		return nil, fmt.Errorf("sacn: invalid DMP vector")
	}
	if buf[118] != addressType {
		return nil, fmt.Errorf("sacn: invalid DMP address type 0x%02x", buf[118])
	}
	if binary.BigEndian.Uint16(buf[119:121]) != 0 {
		return nil, fmt.Errorf("sacn: invalid first property address")
	}
	if binary.BigEndian.Uint16(buf[121:123]) != 1 {
		return nil, fmt.Errorf("sacn: invalid address increment")
	}
	if buf[125] != 0 {
		return nil, fmt.Errorf("sacn: unsupported start code 0x%02x", buf[125])
	}
	universe := binary.BigEndian.Uint16(buf[113:115])
	if err := ValidateUniverse(universe); err != nil {
		return nil, err
	}

	p := &Packet{
		Priority:     buf[108],
		SyncUniverse: binary.BigEndian.Uint16(buf[109:111]),
		Sequence:     buf[111],
		Options:      buf[112],
		Universe:     universe,
		StartCode:    buf[125],
	}
	copy(p.CID[:], buf[22:38])
	name := buf[44:108]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	p.SourceName = string(name)

	count := int(binary.BigEndian.Uint16(buf[123:125]))
	slots := count - 1
	if slots < 0 || headerSize+slots > len(buf) || slots > 512 {
		return nil, fmt.Errorf("sacn: property value count %d inconsistent with %d-byte packet", count, len(buf))
	}
	copy(p.Data[:slots], buf[headerSize:headerSize+slots])
	return p, nil
}
