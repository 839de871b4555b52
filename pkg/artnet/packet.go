// Package artnet provides Art-Net 4 packet building, parsing and
// transmission, including RDM transport over OpRdm.
package artnet

import (
	"encoding/binary"
	"fmt"
)

// Art-Net operation codes (transmitted little-endian).
const (
	OpPoll        uint16 = 0x2000
	OpPollReply   uint16 = 0x2100
	OpDiagData    uint16 = 0x2300
	OpCommand     uint16 = 0x2400
	OpDmx         uint16 = 0x5000
	OpNzs         uint16 = 0x5100
	OpSync        uint16 = 0x5200
	OpAddress     uint16 = 0x6000
	OpInput       uint16 = 0x7000
	OpTodRequest  uint16 = 0x8000
	OpTodData     uint16 = 0x8100
	OpTodControl  uint16 = 0x8200
	OpRdm         uint16 = 0x8300
	OpRdmSub      uint16 = 0x8400
	OpTimeCode    uint16 = 0x9700
	OpTrigger     uint16 = 0x9900
	OpIpProg      uint16 = 0xf800
	OpIpProgReply uint16 = 0xf900
)

const (
	// ProtocolVersion is the Art-Net protocol version (big-endian on the wire).
	ProtocolVersion uint16 = 14
	// DMXDataLength is the number of DMX channels per universe.
	DMXDataLength = 512
	// DefaultPort is the standard Art-Net UDP port.
	DefaultPort = 6454
	// headerSize covers the identifier and the opcode.
	headerSize = 10
)

// ArtNetID is the 8-byte packet identifier every Art-Net packet starts with.
var ArtNetID = []byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00}

// TalkToMe flag bits for ArtPoll.
const (
	TalkToMeDiagnostics      byte = 1 << 1
	TalkToMeUnicast          byte = 1 << 2
	TalkToMeOnChange         byte = 1 << 3
	TalkToMeInputOnChange    byte = 1 << 4
	TalkToMeIeee             byte = 1 << 5
	TalkToMeNodeReportOnData byte = 1 << 6
)

// SplitPortAddress decomposes a 1-based universe index into the Art-Net
// Port-Address triple (Net 7 bits, Sub-Net 4 bits, Universe 4 bits).
func SplitPortAddress(universe int) (net, subNet, uni int, err error) {
	if universe < 1 || universe > 32768 {
		return 0, 0, 0, fmt.Errorf("artnet: universe %d out of range [1,32768]", universe)
	}
	v := universe - 1
	return (v >> 8) & 0x7F, (v >> 4) & 0x0F, v & 0x0F, nil
}

// JoinPortAddress reassembles the 1-based universe index from a
// Port-Address triple.
func JoinPortAddress(net, subNet, uni int) int {
	return ((net&0x7F)<<8 | (subNet&0x0F)<<4 | uni&0x0F) + 1
}

// header writes the Art-Net identifier and little-endian opcode into
// the first ten bytes of packet.
func header(packet []byte, opcode uint16) {
	copy(packet[0:8], ArtNetID)
	binary.LittleEndian.PutUint16(packet[8:10], opcode)
}

// hasHeader reports whether buf starts with the Art-Net identifier and
// the given opcode.
func hasHeader(buf []byte, opcode uint16) bool {
	if len(buf) < headerSize {
		return false
	}
	for i, b := range ArtNetID {
		if buf[i] != b {
			return false
		}
	}
	return binary.LittleEndian.Uint16(buf[8:10]) == opcode
}

// BuildArtPoll builds a 14-byte ArtPoll packet with the given TalkToMe
// flags and diagnostics priority.
func BuildArtPoll(flags byte, priority byte) []byte {
	packet := make([]byte, 14)
	header(packet, OpPoll)
	binary.BigEndian.PutUint16(packet[10:12], ProtocolVersion)
	packet[12] = flags
	packet[13] = priority
	return packet
}

// ArtDmxOptions describes an OpDmx packet to build.
type ArtDmxOptions struct {
	// Universe is the 1-based universe index split across Net/Sub-Net/Universe.
	Universe int
	Sequence byte
	Physical byte
	Data     []byte
	// Length overrides len(Data) when positive; the effective length is
	// capped at 512 either way.
	Length int
}

// BuildArtDmx builds an OpDmx packet. Total size is 18 bytes of header
// plus the effective data length.
func BuildArtDmx(opts ArtDmxOptions) ([]byte, error) {
	net, subNet, uni, err := SplitPortAddress(opts.Universe)
	if err != nil {
		return nil, err
	}

	length := len(opts.Data)
	if opts.Length > 0 {
		length = opts.Length
	}
	if length > DMXDataLength {
		length = DMXDataLength
	}

	packet := make([]byte, 18+length)
	header(packet, OpDmx)
	binary.BigEndian.PutUint16(packet[10:12], ProtocolVersion)
	packet[12] = opts.Sequence
	packet[13] = opts.Physical
	packet[14] = byte(subNet<<4 | uni)
	packet[15] = byte(net)
	binary.BigEndian.PutUint16(packet[16:18], uint16(length))
	if len(opts.Data) > length {
		copy(packet[18:], opts.Data[:length])
	} else {
		copy(packet[18:], opts.Data)
	}
	return packet, nil
}

// ArtDmx is a parsed OpDmx packet.
type ArtDmx struct {
	Sequence byte
	Physical byte
	Net      int
	SubNet   int
	// Universe is the reconstructed 1-based universe index.
	Universe int
	Length   int
	Data     []byte
}

// ParseArtDmx parses an OpDmx packet. It returns (nil, nil) for buffers
// that are not Art-Net DMX packets at all, and an error for DMX packets
// with an out-of-range length or truncated payload.
func ParseArtDmx(buf []byte) (*ArtDmx, error) {
	if !hasHeader(buf, OpDmx) {
		return nil, nil
	}
	if len(buf) < 18 {
		return nil, fmt.Errorf("artnet: OpDmx truncated at %d bytes", len(buf))
	}
	length := int(binary.BigEndian.Uint16(buf[16:18]))
	if length < 2 || length > DMXDataLength {
		return nil, fmt.Errorf("artnet: OpDmx data length %d out of range [2,512]", length)
	}
	if len(buf) < 18+length {
		return nil, fmt.Errorf("artnet: OpDmx payload truncated: have %d bytes, want %d", len(buf)-18, length)
	}

	netField := int(buf[15]) & 0x7F
	subNet := int(buf[14]>>4) & 0x0F
	uni := int(buf[14]) & 0x0F

	data := make([]byte, length)
	copy(data, buf[18:18+length])
	return &ArtDmx{
		Sequence: buf[12],
		Physical: buf[13],
		Net:      netField,
		SubNet:   subNet,
		Universe: JoinPortAddress(netField, subNet, uni),
		Length:   length,
		Data:     data,
	}, nil
}

// BuildArtSync builds a 14-byte OpSync packet.
func BuildArtSync() []byte {
	packet := make([]byte, 14)
	header(packet, OpSync)
	binary.BigEndian.PutUint16(packet[10:12], ProtocolVersion)
	// Aux1/Aux2 stay zero.
	return packet
}

// BuildArtDiagData builds an OpDiagData packet carrying a
// null-terminated diagnostics string.
func BuildArtDiagData(priority byte, text string) []byte {
	data := []byte(text)
	packet := make([]byte, 18+len(data)+1)
	header(packet, OpDiagData)
	binary.BigEndian.PutUint16(packet[10:12], ProtocolVersion)
	// packet[12] filler, packet[14:16] filler
	packet[13] = priority
	binary.BigEndian.PutUint16(packet[16:18], uint16(len(data)+1))
	copy(packet[18:], data)
	return packet
}

// TimeCode is an OpTimeCode payload.
type TimeCode struct {
	Frames  byte
	Seconds byte
	Minutes byte
	Hours   byte
	// Type selects the frame rate: 0=film 1=EBU 2=DF 3=SMPTE.
	Type byte
}

// BuildArtTimeCode builds a 19-byte OpTimeCode packet.
func BuildArtTimeCode(tc TimeCode) []byte {
	packet := make([]byte, 19)
	header(packet, OpTimeCode)
	binary.BigEndian.PutUint16(packet[10:12], ProtocolVersion)
	// packet[12:14] filler
	packet[14] = tc.Frames
	packet[15] = tc.Seconds
	packet[16] = tc.Minutes
	packet[17] = tc.Hours
	packet[18] = tc.Type
	return packet
}

// BuildArtCommand builds an OpCommand packet with a null-terminated
// ASCII command string scoped to an ESTA manufacturer code.
func BuildArtCommand(estaMan uint16, command string) []byte {
	data := []byte(command)
	packet := make([]byte, 16+len(data)+1)
	header(packet, OpCommand)
	binary.BigEndian.PutUint16(packet[10:12], ProtocolVersion)
	binary.BigEndian.PutUint16(packet[12:14], estaMan)
	binary.BigEndian.PutUint16(packet[14:16], uint16(len(data)+1))
	copy(packet[16:], data)
	return packet
}

// BuildArtTrigger builds an OpTrigger packet. Payload is capped at 512
// bytes.
func BuildArtTrigger(oem uint16, key, subKey byte, payload []byte) []byte {
	if len(payload) > DMXDataLength {
		payload = payload[:DMXDataLength]
	}
	packet := make([]byte, 18+len(payload))
	header(packet, OpTrigger)
	binary.BigEndian.PutUint16(packet[10:12], ProtocolVersion)
	// packet[12:14] filler
	binary.BigEndian.PutUint16(packet[14:16], oem)
	packet[16] = key
	packet[17] = subKey
	copy(packet[18:], payload)
	return packet
}
