package rdmnet

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// EPT message vectors.
const (
	VectorEptData   uint32 = 0x01
	VectorEptStatus uint32 = 0x02
)

// EPT status codes.
const (
	EptStatusUnknownCID      uint16 = 0x0001
	EptStatusUnknownVector   uint16 = 0x0002
	EptStatusUnknownProtocol uint16 = 0x0003
)

func eptStatusValid(s uint16) bool {
	return s >= EptStatusUnknownCID && s <= EptStatusUnknownProtocol
}

// EptMessage is implemented by every EPT variant.
type EptMessage interface {
	Vector() uint32
	Seq() uint32
	Encode() []byte
}

// EptData carries an opaque manufacturer-scoped payload.
type EptData struct {
	Sequence       uint32
	ManufacturerID uint16
	ProtocolID     uint16
	Payload        []byte
}

func (m *EptData) Vector() uint32 { return VectorEptData }
func (m *EptData) Seq() uint32    { return m.Sequence }

func (m *EptData) Encode() []byte {
	buf := make([]byte, 16+len(m.Payload))
	putHeader(buf, VectorEptData, m.Sequence)
	binary.BigEndian.PutUint16(buf[8:10], m.ManufacturerID)
	binary.BigEndian.PutUint16(buf[10:12], m.ProtocolID)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(m.Payload)))
	copy(buf[16:], m.Payload)
	return buf
}

// EptStatus reports an EPT routing problem.
type EptStatus struct {
	Sequence uint32
	Status   uint16
	Text     string
}

func (m *EptStatus) Vector() uint32 { return VectorEptStatus }
func (m *EptStatus) Seq() uint32    { return m.Sequence }

func (m *EptStatus) Encode() []byte {
	text := []byte(m.Text)
	buf := make([]byte, 12+len(text))
	putHeader(buf, VectorEptStatus, m.Sequence)
	binary.BigEndian.PutUint16(buf[8:10], m.Status)
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(text)))
	copy(buf[12:], text)
	return buf
}

// DecodeEptMessage strictly decodes an EPT payload.
func DecodeEptMessage(data []byte) (EptMessage, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("EPT message too short: %d bytes", len(data))
	}
	vector := binary.BigEndian.Uint32(data[0:4])
	seq := binary.BigEndian.Uint32(data[4:8])
	body := data[8:]

	switch vector {
	case VectorEptData:
		if len(body) < 8 {
			return nil, fmt.Errorf("EptData truncated")
		}
		payloadLen := int(binary.BigEndian.Uint32(body[4:8]))
		if payloadLen != len(body)-8 {
			return nil, fmt.Errorf("EptData payload length %d does not match %d remaining bytes",
				payloadLen, len(body)-8)
		}
		payload := make([]byte, payloadLen)
		copy(payload, body[8:])
		return &EptData{
			Sequence:       seq,
			ManufacturerID: binary.BigEndian.Uint16(body[0:2]),
			ProtocolID:     binary.BigEndian.Uint16(body[2:4]),
			Payload:        payload,
		}, nil

	case VectorEptStatus:
		if len(body) < 4 {
			return nil, fmt.Errorf("EptStatus truncated")
		}
		status := binary.BigEndian.Uint16(body[0:2])
		if !eptStatusValid(status) {
			return nil, fmt.Errorf("EptStatus invalid status 0x%04x", status)
		}
		textLen := int(binary.BigEndian.Uint16(body[2:4]))
		if textLen != len(body)-4 {
			return nil, fmt.Errorf("EptStatus text length mismatch")
		}
		if !utf8.Valid(body[4:]) {
			return nil, fmt.Errorf("EptStatus text is not valid UTF-8")
		}
		return &EptStatus{Sequence: seq, Status: status, Text: string(body[4:])}, nil
	}
	return nil, fmt.Errorf("unknown EPT vector 0x%08x", vector)
}
