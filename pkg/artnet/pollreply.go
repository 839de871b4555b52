package artnet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
)

// pollReplySize is the full fixed ArtPollReply size. Fields past SwOut
// (style, MAC, bind info, spare) are emitted as zero and ignored on
// parse.
const pollReplySize = 239

// PollReply describes an Art-Net node as reported by ArtPollReply.
// ArtPollReply carries no protocol version field.
type PollReply struct {
	IP          net.IP
	Port        uint16
	VersionInfo uint16
	NetSwitch   byte
	SubSwitch   byte
	Oem         uint16
	UbeaVersion byte
	Status1     byte
	EstaMan     uint16
	PortName    string // short name, 17 chars + NUL
	LongName    string // 63 chars + NUL
	NodeReport  string
	NumPorts    uint16
	PortTypes   [4]byte
	GoodInput   [4]byte
	GoodOutput  [4]byte
	SwIn        [4]byte
	SwOut       [4]byte
}

func putPaddedString(dst []byte, s string) {
	// Leave room for the terminating NUL.
	if len(s) > len(dst)-1 {
		s = s[:len(dst)-1]
	}
	copy(dst, s)
}

func readPaddedString(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		return string(src[:i])
	}
	return string(src)
}

// BuildArtPollReply builds an OpPollReply packet from the node
// description.
func BuildArtPollReply(r PollReply) []byte {
	packet := make([]byte, pollReplySize)
	header(packet, OpPollReply)
	if ip4 := r.IP.To4(); ip4 != nil {
		copy(packet[10:14], ip4)
	}
	port := r.Port
	if port == 0 {
		port = DefaultPort
	}
	binary.LittleEndian.PutUint16(packet[14:16], port)
	binary.BigEndian.PutUint16(packet[16:18], r.VersionInfo)
	packet[18] = r.NetSwitch
	packet[19] = r.SubSwitch
	binary.BigEndian.PutUint16(packet[20:22], r.Oem)
	packet[22] = r.UbeaVersion
	packet[23] = r.Status1
	binary.LittleEndian.PutUint16(packet[24:26], r.EstaMan)
	putPaddedString(packet[26:44], r.PortName)
	putPaddedString(packet[44:108], r.LongName)
	putPaddedString(packet[108:172], r.NodeReport)
	binary.BigEndian.PutUint16(packet[172:174], r.NumPorts)
	copy(packet[174:178], r.PortTypes[:])
	copy(packet[178:182], r.GoodInput[:])
	copy(packet[182:186], r.GoodOutput[:])
	copy(packet[186:190], r.SwIn[:])
	copy(packet[190:194], r.SwOut[:])
	return packet
}

// ParseArtPollReply parses an OpPollReply packet. It returns (nil, nil)
// for buffers that are not ArtPollReply packets.
func ParseArtPollReply(buf []byte) (*PollReply, error) {
	if !hasHeader(buf, OpPollReply) {
		return nil, nil
	}
	if len(buf) < 194 {
		return nil, fmt.Errorf("artnet: OpPollReply truncated at %d bytes", len(buf))
	}
	r := &PollReply{
		IP:          net.IPv4(buf[10], buf[11], buf[12], buf[13]),
		Port:        binary.LittleEndian.Uint16(buf[14:16]),
		VersionInfo: binary.BigEndian.Uint16(buf[16:18]),
		NetSwitch:   buf[18],
		SubSwitch:   buf[19],
		Oem:         binary.BigEndian.Uint16(buf[20:22]),
		UbeaVersion: buf[22],
		Status1:     buf[23],
		EstaMan:     binary.LittleEndian.Uint16(buf[24:26]),
		PortName:    readPaddedString(buf[26:44]),
		LongName:    readPaddedString(buf[44:108]),
		NodeReport:  readPaddedString(buf[108:172]),
		NumPorts:    binary.BigEndian.Uint16(buf[172:174]),
	}
	copy(r.PortTypes[:], buf[174:178])
	copy(r.GoodInput[:], buf[178:182])
	copy(r.GoodOutput[:], buf[182:186])
	copy(r.SwIn[:], buf[186:190])
	copy(r.SwOut[:], buf[190:194])
	return r, nil
}
