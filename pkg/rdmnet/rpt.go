package rdmnet

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/Datalab-Rotterdam/node-dmx/pkg/rdm"
)

// RPT message vectors. The numbering is this library's internal
// profile; values are exact, not an ESTA registry.
const (
	VectorRptStatus                   uint32 = 0x01
	VectorRptRdmCommand               uint32 = 0x02
	VectorRptRdmResponse              uint32 = 0x03
	VectorRptEndpointAdvertisement    uint32 = 0x04
	VectorRptEndpointAdvertisementAck uint32 = 0x05
)

// RPT status codes.
const (
	RptStatusUnknownRptUID       uint16 = 0x0001
	RptStatusRdmTimeout          uint16 = 0x0002
	RptStatusRdmInvalidResponse  uint16 = 0x0003
	RptStatusUnknownRdmUID       uint16 = 0x0004
	RptStatusUnknownEndpoint     uint16 = 0x0005
	RptStatusBroadcastComplete   uint16 = 0x0006
	RptStatusUnknownVector       uint16 = 0x0007
	RptStatusInvalidMessage      uint16 = 0x0008
	RptStatusInvalidCommandClass uint16 = 0x0009
)

func rptStatusValid(s uint16) bool {
	return s >= RptStatusUnknownRptUID && s <= RptStatusInvalidCommandClass
}

// RptMessage is implemented by every RPT variant.
type RptMessage interface {
	Vector() uint32
	Seq() uint32
	Encode() ([]byte, error)
}

// RptStatus reports a routing or delivery problem.
type RptStatus struct {
	Sequence uint32
	Status   uint16
	Text     string
}

func (m *RptStatus) Vector() uint32 { return VectorRptStatus }
func (m *RptStatus) Seq() uint32    { return m.Sequence }

func (m *RptStatus) Encode() ([]byte, error) {
	text := []byte(m.Text)
	buf := make([]byte, 12+len(text))
	putHeader(buf, VectorRptStatus, m.Sequence)
	binary.BigEndian.PutUint16(buf[8:10], m.Status)
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(text)))
	copy(buf[12:], text)
	return buf, nil
}

// RptRdm carries an embedded RDM frame across the broker. The outer
// Destination/Source UIDs always equal the UIDs inside the frame.
// Response is false for RdmCommand, true for RdmResponse.
type RptRdm struct {
	Sequence   uint32
	EndpointID uint16
	Response   bool
	Frame      *rdm.Frame
}

func (m *RptRdm) Vector() uint32 {
	if m.Response {
		return VectorRptRdmResponse
	}
	return VectorRptRdmCommand
}
func (m *RptRdm) Seq() uint32 { return m.Sequence }

func (m *RptRdm) Encode() ([]byte, error) {
	frame, err := m.Frame.Encode()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 24+len(frame))
	putHeader(buf, m.Vector(), m.Sequence)
	binary.BigEndian.PutUint16(buf[8:10], m.EndpointID)
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(frame)))
	copy(buf[12:18], m.Frame.Destination.Bytes())
	copy(buf[18:24], m.Frame.Source.Bytes())
	copy(buf[24:], frame)
	return buf, nil
}

// RptEndpointAdvertisement announces an endpoint's role and profile
// list.
type RptEndpointAdvertisement struct {
	Sequence   uint32
	EndpointID uint16
	Role       Role
	Profiles   []uint16
}

func (m *RptEndpointAdvertisement) Vector() uint32 { return VectorRptEndpointAdvertisement }
func (m *RptEndpointAdvertisement) Seq() uint32    { return m.Sequence }

func (m *RptEndpointAdvertisement) Encode() ([]byte, error) {
	if len(m.Profiles) > 255 {
		return nil, fmt.Errorf("rdmnet: %d profiles exceed the 255 profile cap", len(m.Profiles))
	}
	buf := make([]byte, 12+2*len(m.Profiles))
	putHeader(buf, VectorRptEndpointAdvertisement, m.Sequence)
	binary.BigEndian.PutUint16(buf[8:10], m.EndpointID)
	buf[10] = byte(m.Role)
	buf[11] = byte(len(m.Profiles))
	for i, p := range m.Profiles {
		binary.BigEndian.PutUint16(buf[12+2*i:], p)
	}
	return buf, nil
}

// RptEndpointAdvertisementAck acknowledges an advertisement. Exact wire
// length is 13.
type RptEndpointAdvertisementAck struct {
	Sequence   uint32
	EndpointID uint16
	Accepted   bool
	Status     uint16
}

func (m *RptEndpointAdvertisementAck) Vector() uint32 { return VectorRptEndpointAdvertisementAck }
func (m *RptEndpointAdvertisementAck) Seq() uint32    { return m.Sequence }

func (m *RptEndpointAdvertisementAck) Encode() ([]byte, error) {
	buf := make([]byte, 13)
	putHeader(buf, VectorRptEndpointAdvertisementAck, m.Sequence)
	binary.BigEndian.PutUint16(buf[8:10], m.EndpointID)
	if m.Accepted {
		buf[10] = 1
	}
	binary.BigEndian.PutUint16(buf[11:13], m.Status)
	return buf, nil
}

// DecodeRptMessage strictly decodes an RPT payload. RdmCommand and
// RdmResponse re-validate the embedded RDM frame (including its
// checksum) and require the outer UID pair to equal the embedded
// destination/source.
func DecodeRptMessage(data []byte) (RptMessage, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("RPT message too short: %d bytes", len(data))
	}
	vector := binary.BigEndian.Uint32(data[0:4])
	seq := binary.BigEndian.Uint32(data[4:8])
	body := data[8:]

	switch vector {
	case VectorRptStatus:
		if len(body) < 4 {
			return nil, fmt.Errorf("RptStatus truncated")
		}
		status := binary.BigEndian.Uint16(body[0:2])
		if !rptStatusValid(status) {
			return nil, fmt.Errorf("RptStatus invalid status 0x%04x", status)
		}
		textLen := int(binary.BigEndian.Uint16(body[2:4]))
		if textLen != len(body)-4 {
			return nil, fmt.Errorf("RptStatus text length mismatch")
		}
		if !utf8.Valid(body[4:]) {
			return nil, fmt.Errorf("RptStatus text is not valid UTF-8")
		}
		return &RptStatus{Sequence: seq, Status: status, Text: string(body[4:])}, nil

	case VectorRptRdmCommand, VectorRptRdmResponse:
		if len(body) < 16 {
			return nil, fmt.Errorf("RPT RDM message truncated")
		}
		endpointID := binary.BigEndian.Uint16(body[0:2])
		rdmLen := int(binary.BigEndian.Uint16(body[2:4]))
		if len(body) != 16+rdmLen {
			return nil, fmt.Errorf("RPT RDM frame length %d does not match %d remaining bytes",
				rdmLen, len(body)-16)
		}
		outerDst, _ := rdm.UIDFromBytes(body[4:10])
		outerSrc, _ := rdm.UIDFromBytes(body[10:16])
		frame, err := rdm.DecodeFrame(body[16:])
		if err != nil {
			return nil, fmt.Errorf("RPT embedded RDM frame: %w", err)
		}
		if frame.Destination != outerDst || frame.Source != outerSrc {
			return nil, fmt.Errorf("RPT outer UIDs (%v, %v) do not match embedded frame (%v, %v)",
				outerDst, outerSrc, frame.Destination, frame.Source)
		}
		return &RptRdm{
			Sequence:   seq,
			EndpointID: endpointID,
			Response:   vector == VectorRptRdmResponse,
			Frame:      frame,
		}, nil

	case VectorRptEndpointAdvertisement:
		if len(body) < 4 {
			return nil, fmt.Errorf("RptEndpointAdvertisement truncated")
		}
		role := Role(body[2])
		if !role.valid() {
			return nil, fmt.Errorf("RptEndpointAdvertisement invalid role %d", body[2])
		}
		count := int(body[3])
		if len(body) != 4+2*count {
			return nil, fmt.Errorf("RptEndpointAdvertisement profile list length mismatch")
		}
		profiles := make([]uint16, count)
		for i := range profiles {
			profiles[i] = binary.BigEndian.Uint16(body[4+2*i:])
		}
		return &RptEndpointAdvertisement{
			Sequence:   seq,
			EndpointID: binary.BigEndian.Uint16(body[0:2]),
			Role:       role,
			Profiles:   profiles,
		}, nil

	case VectorRptEndpointAdvertisementAck:
		if len(data) != 13 {
			return nil, fmt.Errorf("RptEndpointAdvertisementAck must be exactly 13 bytes, got %d", len(data))
		}
		if body[2] > 1 {
			return nil, fmt.Errorf("RptEndpointAdvertisementAck invalid accepted byte 0x%02x", body[2])
		}
		return &RptEndpointAdvertisementAck{
			Sequence:   seq,
			EndpointID: binary.BigEndian.Uint16(body[0:2]),
			Accepted:   body[2] == 1,
			Status:     binary.BigEndian.Uint16(body[3:5]),
		}, nil
	}
	return nil, fmt.Errorf("unknown RPT vector 0x%08x", vector)
}
