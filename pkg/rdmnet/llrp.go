package rdmnet

import (
	"encoding/binary"
	"fmt"

	"github.com/Datalab-Rotterdam/node-dmx/pkg/rdm"
)

// LLRP message vectors.
const (
	VectorLlrpProbeRequest uint32 = 0x01
	VectorLlrpProbeReply   uint32 = 0x02
	VectorLlrpRdmCommand   uint32 = 0x03
	VectorLlrpRdmResponse  uint32 = 0x04
)

// LlrpMessage is implemented by every LLRP variant.
type LlrpMessage interface {
	Vector() uint32
	Seq() uint32
	Encode() []byte
}

// LlrpProbeRequest probes for targets inside an inclusive UID range.
// Exact wire length is 20.
type LlrpProbeRequest struct {
	Sequence uint32
	LowerUID rdm.UID
	UpperUID rdm.UID
}

func (m *LlrpProbeRequest) Vector() uint32 { return VectorLlrpProbeRequest }
func (m *LlrpProbeRequest) Seq() uint32    { return m.Sequence }

func (m *LlrpProbeRequest) Encode() []byte {
	buf := make([]byte, 20)
	putHeader(buf, VectorLlrpProbeRequest, m.Sequence)
	copy(buf[8:14], m.LowerUID.Bytes())
	copy(buf[14:20], m.UpperUID.Bytes())
	return buf
}

// LlrpProbeReply answers a probe. Exact wire length is 14.
type LlrpProbeReply struct {
	Sequence  uint32
	TargetUID rdm.UID
}

func (m *LlrpProbeReply) Vector() uint32 { return VectorLlrpProbeReply }
func (m *LlrpProbeReply) Seq() uint32    { return m.Sequence }

func (m *LlrpProbeReply) Encode() []byte {
	buf := make([]byte, 14)
	putHeader(buf, VectorLlrpProbeReply, m.Sequence)
	copy(buf[8:14], m.TargetUID.Bytes())
	return buf
}

// LlrpRdm carries a raw RDM frame to or from a single target.
// Response is false for RdmCommand, true for RdmResponse.
type LlrpRdm struct {
	Sequence  uint32
	TargetUID rdm.UID
	Response  bool
	RdmData   []byte
}

func (m *LlrpRdm) Vector() uint32 {
	if m.Response {
		return VectorLlrpRdmResponse
	}
	return VectorLlrpRdmCommand
}
func (m *LlrpRdm) Seq() uint32 { return m.Sequence }

func (m *LlrpRdm) Encode() []byte {
	buf := make([]byte, 16+len(m.RdmData))
	putHeader(buf, m.Vector(), m.Sequence)
	copy(buf[8:14], m.TargetUID.Bytes())
	binary.BigEndian.PutUint16(buf[14:16], uint16(len(m.RdmData)))
	copy(buf[16:], m.RdmData)
	return buf
}

// DecodeLlrpMessage strictly decodes an LLRP payload.
func DecodeLlrpMessage(data []byte) (LlrpMessage, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("LLRP message too short: %d bytes", len(data))
	}
	vector := binary.BigEndian.Uint32(data[0:4])
	seq := binary.BigEndian.Uint32(data[4:8])
	body := data[8:]

	switch vector {
	case VectorLlrpProbeRequest:
		if len(data) != 20 {
			return nil, fmt.Errorf("LlrpProbeRequest must be exactly 20 bytes, got %d", len(data))
		}
		lower, _ := rdm.UIDFromBytes(body[0:6])
		upper, _ := rdm.UIDFromBytes(body[6:12])
		return &LlrpProbeRequest{Sequence: seq, LowerUID: lower, UpperUID: upper}, nil

	case VectorLlrpProbeReply:
		if len(data) != 14 {
			return nil, fmt.Errorf("LlrpProbeReply must be exactly 14 bytes, got %d", len(data))
		}
		target, _ := rdm.UIDFromBytes(body[0:6])
		return &LlrpProbeReply{Sequence: seq, TargetUID: target}, nil

	case VectorLlrpRdmCommand, VectorLlrpRdmResponse:
		if len(body) < 8 {
			return nil, fmt.Errorf("LLRP RDM message truncated")
		}
		rdmLen := int(binary.BigEndian.Uint16(body[6:8]))
		if rdmLen != len(body)-8 {
			return nil, fmt.Errorf("LLRP RDM frame length %d does not match %d remaining bytes",
				rdmLen, len(body)-8)
		}
		target, _ := rdm.UIDFromBytes(body[0:6])
		rdmData := make([]byte, rdmLen)
		copy(rdmData, body[8:])
		return &LlrpRdm{
			Sequence:  seq,
			TargetUID: target,
			Response:  vector == VectorLlrpRdmResponse,
			RdmData:   rdmData,
		}, nil
	}
	return nil, fmt.Errorf("unknown LLRP vector 0x%08x", vector)
}
