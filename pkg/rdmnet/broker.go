package rdmnet

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// Broker message vectors.
const (
	VectorBrokerConnectRequest      uint32 = 0x01
	VectorBrokerConnectReply        uint32 = 0x02
	VectorBrokerClientBindRequest   uint32 = 0x03
	VectorBrokerClientBindReply     uint32 = 0x04
	VectorBrokerHeartbeat           uint32 = 0x05
	VectorBrokerDisconnect          uint32 = 0x06
	VectorBrokerClientListRequest   uint32 = 0x07
	VectorBrokerClientListReply     uint32 = 0x08
	VectorBrokerEndpointListRequest uint32 = 0x09
	VectorBrokerEndpointListReply   uint32 = 0x0A
)

// Role identifies what a client or endpoint does in a scope.
type Role byte

// Role values. Zero means "not set".
const (
	RoleController Role = 0x01
	RoleDevice     Role = 0x02
	RoleMonitor    Role = 0x03
)

func (r Role) valid() bool { return r >= RoleController && r <= RoleMonitor }

func (r Role) String() string {
	switch r {
	case RoleController:
		return "controller"
	case RoleDevice:
		return "device"
	case RoleMonitor:
		return "monitor"
	}
	return fmt.Sprintf("role(%d)", byte(r))
}

// StatusCode is the broker's verdict on a request.
type StatusCode uint16

const (
	StatusOk               StatusCode = 0
	StatusRejected         StatusCode = 1
	StatusInvalidScope     StatusCode = 2
	StatusUnauthorized     StatusCode = 3
	StatusAlreadyConnected StatusCode = 4
	StatusInvalidRequest   StatusCode = 5
)

func (s StatusCode) valid() bool { return s <= StatusInvalidRequest }

// Disconnect reasons.
const (
	DisconnectShutdown    uint16 = 0
	DisconnectScopeChange uint16 = 1
	DisconnectUserRequest uint16 = 2
)

// BrokerMessage is implemented by every broker message variant.
type BrokerMessage interface {
	// Vector returns the message's broker vector.
	Vector() uint32
	// Seq returns the 32-bit sequence number.
	Seq() uint32
	// Encode serializes the message including vector and sequence.
	Encode() []byte
}

// putHeader writes vector and sequence into an 8-byte prefix.
func putHeader(buf []byte, vector, seq uint32) {
	binary.BigEndian.PutUint32(buf[0:4], vector)
	binary.BigEndian.PutUint32(buf[4:8], seq)
}

// ConnectRequest opens a broker session on a scope.
type ConnectRequest struct {
	Sequence uint32
	Role     Role
	Scope    string
}

func (m *ConnectRequest) Vector() uint32 { return VectorBrokerConnectRequest }
func (m *ConnectRequest) Seq() uint32    { return m.Sequence }

func (m *ConnectRequest) Encode() []byte {
	scope := []byte(m.Scope)
	buf := make([]byte, 12+len(scope))
	putHeader(buf, VectorBrokerConnectRequest, m.Sequence)
	buf[8] = byte(m.Role)
	// buf[9] reserved
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(scope)))
	copy(buf[12:], scope)
	return buf
}

// ConnectReply answers a ConnectRequest.
type ConnectReply struct {
	Sequence   uint32
	StatusCode StatusCode
	ClientID   uint32
	Text       string
}

func (m *ConnectReply) Vector() uint32 { return VectorBrokerConnectReply }
func (m *ConnectReply) Seq() uint32    { return m.Sequence }

func (m *ConnectReply) Encode() []byte {
	text := []byte(m.Text)
	buf := make([]byte, 14+len(text))
	putHeader(buf, VectorBrokerConnectReply, m.Sequence)
	binary.BigEndian.PutUint16(buf[8:10], uint16(m.StatusCode))
	binary.BigEndian.PutUint32(buf[10:14], m.ClientID)
	copy(buf[14:], text)
	return buf
}

// ClientBindRequest binds an endpoint with a requested role and
// profile set.
type ClientBindRequest struct {
	Sequence      uint32
	EndpointID    uint16
	RequestedRole Role
	Profiles      []uint16
}

func (m *ClientBindRequest) Vector() uint32 { return VectorBrokerClientBindRequest }
func (m *ClientBindRequest) Seq() uint32    { return m.Sequence }

func (m *ClientBindRequest) Encode() []byte {
	buf := make([]byte, 12+2*len(m.Profiles))
	putHeader(buf, VectorBrokerClientBindRequest, m.Sequence)
	binary.BigEndian.PutUint16(buf[8:10], m.EndpointID)
	buf[10] = byte(m.RequestedRole)
	buf[11] = byte(len(m.Profiles))
	for i, p := range m.Profiles {
		binary.BigEndian.PutUint16(buf[12+2*i:], p)
	}
	return buf
}

// ClientBindReply answers a ClientBindRequest with the negotiated role
// and profile.
type ClientBindReply struct {
	Sequence          uint32
	StatusCode        StatusCode
	EndpointID        uint16
	NegotiatedRole    Role
	NegotiatedProfile uint16
	Text              string
}

func (m *ClientBindReply) Vector() uint32 { return VectorBrokerClientBindReply }
func (m *ClientBindReply) Seq() uint32    { return m.Sequence }

func (m *ClientBindReply) Encode() []byte {
	text := []byte(m.Text)
	buf := make([]byte, 18+len(text))
	putHeader(buf, VectorBrokerClientBindReply, m.Sequence)
	binary.BigEndian.PutUint16(buf[8:10], uint16(m.StatusCode))
	binary.BigEndian.PutUint16(buf[10:12], m.EndpointID)
	buf[12] = byte(m.NegotiatedRole)
	// buf[13] reserved
	binary.BigEndian.PutUint16(buf[14:16], m.NegotiatedProfile)
	binary.BigEndian.PutUint16(buf[16:18], uint16(len(text)))
	copy(buf[18:], text)
	return buf
}

// Heartbeat keeps the session alive. Exact wire length is 8.
type Heartbeat struct {
	Sequence uint32
}

func (m *Heartbeat) Vector() uint32 { return VectorBrokerHeartbeat }
func (m *Heartbeat) Seq() uint32    { return m.Sequence }

func (m *Heartbeat) Encode() []byte {
	buf := make([]byte, 8)
	putHeader(buf, VectorBrokerHeartbeat, m.Sequence)
	return buf
}

// Disconnect ends the broker session with a reason.
type Disconnect struct {
	Sequence uint32
	Reason   uint16
	Text     string
}

func (m *Disconnect) Vector() uint32 { return VectorBrokerDisconnect }
func (m *Disconnect) Seq() uint32    { return m.Sequence }

func (m *Disconnect) Encode() []byte {
	text := []byte(m.Text)
	buf := make([]byte, 12+len(text))
	putHeader(buf, VectorBrokerDisconnect, m.Sequence)
	binary.BigEndian.PutUint16(buf[8:10], m.Reason)
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(text)))
	copy(buf[12:], text)
	return buf
}

// ClientListRequest asks for the scope's connected client ids.
type ClientListRequest struct {
	Sequence uint32
}

func (m *ClientListRequest) Vector() uint32 { return VectorBrokerClientListRequest }
func (m *ClientListRequest) Seq() uint32    { return m.Sequence }

func (m *ClientListRequest) Encode() []byte {
	buf := make([]byte, 8)
	putHeader(buf, VectorBrokerClientListRequest, m.Sequence)
	return buf
}

// ClientListReply lists up to 255 connected client ids.
type ClientListReply struct {
	Sequence   uint32
	StatusCode StatusCode
	ClientIDs  []uint32
}

func (m *ClientListReply) Vector() uint32 { return VectorBrokerClientListReply }
func (m *ClientListReply) Seq() uint32    { return m.Sequence }

func (m *ClientListReply) Encode() []byte {
	buf := make([]byte, 11+4*len(m.ClientIDs))
	putHeader(buf, VectorBrokerClientListReply, m.Sequence)
	binary.BigEndian.PutUint16(buf[8:10], uint16(m.StatusCode))
	buf[10] = byte(len(m.ClientIDs))
	for i, id := range m.ClientIDs {
		binary.BigEndian.PutUint32(buf[11+4*i:], id)
	}
	return buf
}

// EndpointListRequest asks for the broker's known endpoint ids.
type EndpointListRequest struct {
	Sequence uint32
}

func (m *EndpointListRequest) Vector() uint32 { return VectorBrokerEndpointListRequest }
func (m *EndpointListRequest) Seq() uint32    { return m.Sequence }

func (m *EndpointListRequest) Encode() []byte {
	buf := make([]byte, 8)
	putHeader(buf, VectorBrokerEndpointListRequest, m.Sequence)
	return buf
}

// EndpointListReply lists up to 255 endpoint ids.
type EndpointListReply struct {
	Sequence   uint32
	StatusCode StatusCode
	Endpoints  []uint16
}

func (m *EndpointListReply) Vector() uint32 { return VectorBrokerEndpointListReply }
func (m *EndpointListReply) Seq() uint32    { return m.Sequence }

func (m *EndpointListReply) Encode() []byte {
	buf := make([]byte, 11+2*len(m.Endpoints))
	putHeader(buf, VectorBrokerEndpointListReply, m.Sequence)
	binary.BigEndian.PutUint16(buf[8:10], uint16(m.StatusCode))
	buf[10] = byte(len(m.Endpoints))
	for i, ep := range m.Endpoints {
		binary.BigEndian.PutUint16(buf[11+2*i:], ep)
	}
	return buf
}

// decodeText validates a length-prefixed UTF-8 block occupying the rest
// of the buffer.
func decodeText(buf []byte, want int) (string, error) {
	if want != len(buf) {
		return "", fmt.Errorf("text length %d does not match %d remaining bytes", want, len(buf))
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("text is not valid UTF-8")
	}
	return string(buf), nil
}

// DecodeBrokerMessage strictly decodes a broker payload. Unknown
// vectors, non-zero reserved bytes, invalid enum values, trailing
// bytes and over-long length fields all fail.
func DecodeBrokerMessage(data []byte) (BrokerMessage, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("broker message too short: %d bytes", len(data))
	}
	vector := binary.BigEndian.Uint32(data[0:4])
	seq := binary.BigEndian.Uint32(data[4:8])
	body := data[8:]

	switch vector {
	case VectorBrokerConnectRequest:
		if len(body) < 4 {
			return nil, fmt.Errorf("ConnectRequest truncated")
		}
		role := Role(body[0])
		if !role.valid() {
			return nil, fmt.Errorf("ConnectRequest invalid role %d", body[0])
		}
		if body[1] != 0 {
			return nil, fmt.Errorf("ConnectRequest reserved byte is 0x%02x", body[1])
		}
		scopeLen := int(binary.BigEndian.Uint16(body[2:4]))
		scope, err := decodeText(body[4:], scopeLen)
		if err != nil {
			return nil, fmt.Errorf("ConnectRequest scope: %w", err)
		}
		return &ConnectRequest{Sequence: seq, Role: role, Scope: scope}, nil

	case VectorBrokerConnectReply:
		if len(body) < 6 {
			return nil, fmt.Errorf("ConnectReply truncated")
		}
		status := StatusCode(binary.BigEndian.Uint16(body[0:2]))
		if !status.valid() {
			return nil, fmt.Errorf("ConnectReply invalid status %d", status)
		}
		text := body[6:]
		if !utf8.Valid(text) {
			return nil, fmt.Errorf("ConnectReply text is not valid UTF-8")
		}
		return &ConnectReply{
			Sequence:   seq,
			StatusCode: status,
			ClientID:   binary.BigEndian.Uint32(body[2:6]),
			Text:       string(text),
		}, nil

	case VectorBrokerClientBindRequest:
		if len(body) < 4 {
			return nil, fmt.Errorf("ClientBindRequest truncated")
		}
		role := Role(body[2])
		if !role.valid() {
			return nil, fmt.Errorf("ClientBindRequest invalid role %d", body[2])
		}
		count := int(body[3])
		if len(body) != 4+2*count {
			return nil, fmt.Errorf("ClientBindRequest profile list length mismatch")
		}
		profiles := make([]uint16, count)
		for i := range profiles {
			profiles[i] = binary.BigEndian.Uint16(body[4+2*i:])
		}
		return &ClientBindRequest{
			Sequence:      seq,
			EndpointID:    binary.BigEndian.Uint16(body[0:2]),
			RequestedRole: role,
			Profiles:      profiles,
		}, nil

	case VectorBrokerClientBindReply:
		if len(body) < 10 {
			return nil, fmt.Errorf("ClientBindReply truncated")
		}
		status := StatusCode(binary.BigEndian.Uint16(body[0:2]))
		if !status.valid() {
			return nil, fmt.Errorf("ClientBindReply invalid status %d", status)
		}
		role := Role(body[4])
		if status == StatusOk && !role.valid() {
			return nil, fmt.Errorf("ClientBindReply invalid negotiated role %d", body[4])
		}
		if body[5] != 0 {
			return nil, fmt.Errorf("ClientBindReply reserved byte is 0x%02x", body[5])
		}
		textLen := int(binary.BigEndian.Uint16(body[8:10]))
		text, err := decodeText(body[10:], textLen)
		if err != nil {
			return nil, fmt.Errorf("ClientBindReply text: %w", err)
		}
		return &ClientBindReply{
			Sequence:          seq,
			StatusCode:        status,
			EndpointID:        binary.BigEndian.Uint16(body[2:4]),
			NegotiatedRole:    role,
			NegotiatedProfile: binary.BigEndian.Uint16(body[6:8]),
			Text:              text,
		}, nil

	case VectorBrokerHeartbeat, VectorBrokerClientListRequest, VectorBrokerEndpointListRequest:
		if len(body) != 0 {
			return nil, fmt.Errorf("message with vector 0x%02x must be exactly 8 bytes, got %d", vector, len(data))
		}
		switch vector {
		case VectorBrokerHeartbeat:
			return &Heartbeat{Sequence: seq}, nil
		case VectorBrokerClientListRequest:
			return &ClientListRequest{Sequence: seq}, nil
		default:
			return &EndpointListRequest{Sequence: seq}, nil
		}

	case VectorBrokerDisconnect:
		if len(body) < 4 {
			return nil, fmt.Errorf("Disconnect truncated")
		}
		textLen := int(binary.BigEndian.Uint16(body[2:4]))
		text, err := decodeText(body[4:], textLen)
		if err != nil {
			return nil, fmt.Errorf("Disconnect text: %w", err)
		}
		return &Disconnect{
			Sequence: seq,
			Reason:   binary.BigEndian.Uint16(body[0:2]),
			Text:     text,
		}, nil

	case VectorBrokerClientListReply:
		if len(body) < 3 {
			return nil, fmt.Errorf("ClientListReply truncated")
		}
		status := StatusCode(binary.BigEndian.Uint16(body[0:2]))
		if !status.valid() {
			return nil, fmt.Errorf("ClientListReply invalid status %d", status)
		}
		count := int(body[2])
		if len(body) != 3+4*count {
			return nil, fmt.Errorf("ClientListReply id list length mismatch")
		}
		ids := make([]uint32, count)
		for i := range ids {
			ids[i] = binary.BigEndian.Uint32(body[3+4*i:])
		}
		return &ClientListReply{Sequence: seq, StatusCode: status, ClientIDs: ids}, nil

	case VectorBrokerEndpointListReply:
		if len(body) < 3 {
			return nil, fmt.Errorf("EndpointListReply truncated")
		}
		status := StatusCode(binary.BigEndian.Uint16(body[0:2]))
		if !status.valid() {
			return nil, fmt.Errorf("EndpointListReply invalid status %d", status)
		}
		count := int(body[2])
		if len(body) != 3+2*count {
			return nil, fmt.Errorf("EndpointListReply endpoint list length mismatch")
		}
		eps := make([]uint16, count)
		for i := range eps {
			eps[i] = binary.BigEndian.Uint16(body[3+2*i:])
		}
		return &EndpointListReply{Sequence: seq, StatusCode: status, Endpoints: eps}, nil
	}
	return nil, fmt.Errorf("unknown broker vector 0x%08x", vector)
}
