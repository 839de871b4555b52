package artnet

import (
	"encoding/binary"
	"fmt"

	"github.com/Datalab-Rotterdam/node-dmx/pkg/rdm"
)

// TodControl commands.
const (
	TodControlAtcNone  byte = 0x00
	TodControlAtcFlush byte = 0x01
)

// BuildTodRequest builds an OpTodRequest for one 1-based universe.
func BuildTodRequest(universe int) ([]byte, error) {
	netField, subNet, uni, err := SplitPortAddress(universe)
	if err != nil {
		return nil, err
	}
	packet := make([]byte, 24)
	header(packet, OpTodRequest)
	binary.BigEndian.PutUint16(packet[10:12], ProtocolVersion)
	// packet[12:14] filler, packet[14:21] spare
	packet[21] = byte(netField)
	packet[22] = 0 // command: TodFull
	packet[23] = 1 // address count
	packet = append(packet, byte(subNet<<4|uni))
	return packet, nil
}

// BuildTodControl builds an OpTodControl packet (AtcFlush forces the
// target node to rediscover its TOD).
func BuildTodControl(universe int, command byte) ([]byte, error) {
	netField, subNet, uni, err := SplitPortAddress(universe)
	if err != nil {
		return nil, err
	}
	packet := make([]byte, 24)
	header(packet, OpTodControl)
	binary.BigEndian.PutUint16(packet[10:12], ProtocolVersion)
	packet[21] = byte(netField)
	packet[22] = command
	packet[23] = byte(subNet<<4 | uni)
	return packet, nil
}

// TodData is a parsed OpTodData packet: one block of a node's Table of
// Devices.
type TodData struct {
	RdmVersion byte
	Port       byte
	// Universe is the reconstructed 1-based universe index.
	Universe   int
	UidTotal   int
	BlockCount byte
	UIDs       []rdm.UID
}

// ParseTodData parses an OpTodData packet. It returns (nil, nil) for
// buffers that are not OpTodData packets.
func ParseTodData(buf []byte) (*TodData, error) {
	if !hasHeader(buf, OpTodData) {
		return nil, nil
	}
	if len(buf) < 28 {
		return nil, fmt.Errorf("artnet: OpTodData truncated at %d bytes", len(buf))
	}
	netField := int(buf[21]) & 0x7F
	address := buf[23]
	uidTotal := int(binary.BigEndian.Uint16(buf[24:26]))
	blockCount := buf[26]
	uidCount := int(buf[27])
	if len(buf) < 28+uidCount*rdm.UIDLength {
		return nil, fmt.Errorf("artnet: OpTodData UID table truncated: count %d, %d bytes left",
			uidCount, len(buf)-28)
	}

	td := &TodData{
		RdmVersion: buf[12],
		Port:       buf[13],
		Universe:   JoinPortAddress(netField, int(address>>4)&0x0F, int(address)&0x0F),
		UidTotal:   uidTotal,
		BlockCount: blockCount,
		UIDs:       make([]rdm.UID, 0, uidCount),
	}
	for i := 0; i < uidCount; i++ {
		off := 28 + i*rdm.UIDLength
		uid, err := rdm.UIDFromBytes(buf[off : off+rdm.UIDLength])
		if err != nil {
			return nil, err
		}
		td.UIDs = append(td.UIDs, uid)
	}
	return td, nil
}

// BuildArtRdm wraps an encoded RDM frame in an OpRdm packet. Per the
// Art-Net specification the DMX start code (0xCC) is stripped; the
// payload begins at the sub-start code.
func BuildArtRdm(universe int, rdmFrame []byte) ([]byte, error) {
	netField, subNet, uni, err := SplitPortAddress(universe)
	if err != nil {
		return nil, err
	}
	if len(rdmFrame) > 0 && rdmFrame[0] == rdm.StartCode {
		rdmFrame = rdmFrame[1:]
	}
	packet := make([]byte, 24+len(rdmFrame))
	header(packet, OpRdm)
	binary.BigEndian.PutUint16(packet[10:12], ProtocolVersion)
	packet[12] = 0x01 // RdmVer: RDM STANDARD V1.0
	// packet[13] filler, packet[14:21] spare
	packet[21] = byte(netField)
	packet[22] = 0 // command: ArProcess
	packet[23] = byte(subNet<<4 | uni)
	copy(packet[24:], rdmFrame)
	return packet, nil
}

// ParseArtRdm extracts the embedded RDM frame from an OpRdm packet,
// re-prepending the stripped DMX start code so the result feeds
// directly into rdm.DecodeFrame. It returns (0, nil, nil) for buffers
// that are not OpRdm packets.
func ParseArtRdm(buf []byte) (universe int, rdmFrame []byte, err error) {
	if !hasHeader(buf, OpRdm) {
		return 0, nil, nil
	}
	if len(buf) < 25 {
		return 0, nil, fmt.Errorf("artnet: OpRdm truncated at %d bytes", len(buf))
	}
	netField := int(buf[21]) & 0x7F
	address := buf[23]
	universe = JoinPortAddress(netField, int(address>>4)&0x0F, int(address)&0x0F)

	rdmFrame = make([]byte, 1+len(buf)-24)
	rdmFrame[0] = rdm.StartCode
	copy(rdmFrame[1:], buf[24:])
	return universe, rdmFrame, nil
}
