package rdmnet

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Root-layer vectors selecting the payload protocol.
const (
	VectorRootBroker uint32 = 0x00000009
	VectorRootRpt    uint32 = 0x00000005
	VectorRootEpt    uint32 = 0x0000000B
	VectorRootLlrp   uint32 = 0x0000000A
)

const (
	// DefaultPort is the plain-TCP RDMnet port.
	DefaultPort = 8888
	// DefaultTLSPort is the customary TLS port.
	DefaultTLSPort = 5569

	preambleSize = 16
	// rootHeaderLen is flags+length, vector and CID: the minimum root
	// PDU length.
	rootHeaderLen = 22
)

// acnPacketIdentifier is the 12-byte ACN PID in the preamble.
var acnPacketIdentifier = []byte{'A', 'S', 'C', '-', 'E', '1', '.', '1', '7', 0x00, 0x00, 0x00}

// RootPacket is one framed ACN root-layer PDU.
type RootPacket struct {
	Vector uint32
	CID    [16]byte
	Data   []byte
}

// BuildPacket frames data under the given root vector. A zero CID is
// replaced with a random UUID.
func BuildPacket(vector uint32, data []byte, cid [16]byte) []byte {
	if cid == ([16]byte{}) {
		id := uuid.New()
		copy(cid[:], id[:])
	}
	rootLen := rootHeaderLen + len(data)

	buf := make([]byte, preambleSize+rootLen)
	binary.BigEndian.PutUint16(buf[0:2], 0x0010) // preamble size
	// postamble size stays 0
	copy(buf[4:16], acnPacketIdentifier)
	binary.BigEndian.PutUint16(buf[16:18], 0x7000|uint16(rootLen))
	binary.BigEndian.PutUint32(buf[18:22], vector)
	copy(buf[22:38], cid[:])
	copy(buf[38:], data)
	return buf
}

// ParsePacket decodes exactly one root packet; trailing bytes are an
// error.
func ParsePacket(buf []byte) (*RootPacket, error) {
	pkt, consumed, err := parseOne(buf)
	if err != nil {
		return nil, err
	}
	if pkt == nil {
		return nil, fmt.Errorf("rdmnet: truncated root packet (%d bytes)", len(buf))
	}
	if consumed != len(buf) {
		return nil, fmt.Errorf("rdmnet: %d trailing bytes after root packet", len(buf)-consumed)
	}
	return pkt, nil
}

// parseOne decodes the packet at the head of buf, returning how many
// bytes it spans. A nil packet with nil error means buf holds only a
// partial packet.
func parseOne(buf []byte) (*RootPacket, int, error) {
	if len(buf) < preambleSize+2 {
		return nil, 0, nil
	}
	if binary.BigEndian.Uint16(buf[0:2]) != 0x0010 {
		return nil, 0, fmt.Errorf("rdmnet: invalid preamble size 0x%04x", binary.BigEndian.Uint16(buf[0:2]))
	}
	if binary.BigEndian.Uint16(buf[2:4]) != 0 {
		return nil, 0, fmt.Errorf("rdmnet: invalid postamble size")
	}
	if !bytes.Equal(buf[4:16], acnPacketIdentifier) {
		return nil, 0, fmt.Errorf("rdmnet: invalid ACN packet identifier")
	}
	fal := binary.BigEndian.Uint16(buf[16:18])
	if fal>>12 != 0x7 {
		return nil, 0, fmt.Errorf("rdmnet: invalid root flags 0x%x", fal>>12)
	}
	rootLen := int(fal & 0x0FFF)
	if rootLen < rootHeaderLen {
		return nil, 0, fmt.Errorf("rdmnet: root PDU length %d below minimum %d", rootLen, rootHeaderLen)
	}
	total := preambleSize + rootLen
	if len(buf) < total {
		return nil, 0, nil
	}

	pkt := &RootPacket{
		Vector: binary.BigEndian.Uint32(buf[18:22]),
		Data:   make([]byte, rootLen-rootHeaderLen),
	}
	copy(pkt.CID[:], buf[22:38])
	copy(pkt.Data, buf[38:total])
	return pkt, total, nil
}

// ExtractPackets drains every complete packet from a stream buffer and
// returns the unconsumed remainder (a partial trailing packet, or
// empty). Framing corruption fails the whole stream.
func ExtractPackets(stream []byte) ([]*RootPacket, []byte, error) {
	var packets []*RootPacket
	rest := stream
	for {
		pkt, consumed, err := parseOne(rest)
		if err != nil {
			return packets, rest, err
		}
		if pkt == nil {
			remainder := make([]byte, len(rest))
			copy(remainder, rest)
			return packets, remainder, nil
		}
		packets = append(packets, pkt)
		rest = rest[consumed:]
	}
}
