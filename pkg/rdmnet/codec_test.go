package rdmnet

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Datalab-Rotterdam/node-dmx/pkg/rdm"
)

func TestBrokerMessageRoundTrips(t *testing.T) {
	messages := []BrokerMessage{
		&ConnectRequest{Sequence: 1, Role: RoleController, Scope: "default"},
		&ConnectReply{Sequence: 1, StatusCode: StatusOk, ClientID: 99, Text: "welcome"},
		&ClientBindRequest{Sequence: 2, EndpointID: 1, RequestedRole: RoleController, Profiles: []uint16{0x0100, 0x0200}},
		&ClientBindReply{Sequence: 2, StatusCode: StatusOk, EndpointID: 1, NegotiatedRole: RoleController, NegotiatedProfile: 0x0100, Text: "ok"},
		&Heartbeat{Sequence: 3},
		&Disconnect{Sequence: 4, Reason: DisconnectShutdown, Text: "bye"},
		&ClientListRequest{Sequence: 5},
		&ClientListReply{Sequence: 5, StatusCode: StatusOk, ClientIDs: []uint32{10, 20, 30}},
		&EndpointListRequest{Sequence: 6},
		&EndpointListReply{Sequence: 6, StatusCode: StatusOk, Endpoints: []uint16{1, 2}},
	}

	for _, msg := range messages {
		decoded, err := DecodeBrokerMessage(msg.Encode())
		require.NoError(t, err, "vector 0x%02x", msg.Vector())
		assert.Equal(t, msg, decoded, "vector 0x%02x", msg.Vector())
	}
}

func TestDecodeBrokerMessageStrictness(t *testing.T) {
	t.Run("unknown vector", func(t *testing.T) {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint32(buf[0:4], 0xBB)
		_, err := DecodeBrokerMessage(buf)
		assert.Error(t, err)
	})

	t.Run("reserved byte set", func(t *testing.T) {
		buf := (&ConnectRequest{Sequence: 1, Role: RoleController, Scope: "s"}).Encode()
		buf[9] = 1
		_, err := DecodeBrokerMessage(buf)
		assert.Error(t, err)
	})

	t.Run("invalid role", func(t *testing.T) {
		buf := (&ConnectRequest{Sequence: 1, Role: RoleController, Scope: "s"}).Encode()
		buf[8] = 0x7F
		_, err := DecodeBrokerMessage(buf)
		assert.Error(t, err)
	})

	t.Run("invalid status", func(t *testing.T) {
		buf := (&ConnectReply{Sequence: 1, StatusCode: StatusOk}).Encode()
		binary.BigEndian.PutUint16(buf[8:10], 999)
		_, err := DecodeBrokerMessage(buf)
		assert.Error(t, err)
	})

	t.Run("heartbeat with trailing bytes", func(t *testing.T) {
		buf := append((&Heartbeat{Sequence: 1}).Encode(), 0x00)
		_, err := DecodeBrokerMessage(buf)
		assert.Error(t, err)
	})

	t.Run("scope length beyond buffer", func(t *testing.T) {
		buf := (&ConnectRequest{Sequence: 1, Role: RoleController, Scope: "abc"}).Encode()
		binary.BigEndian.PutUint16(buf[10:12], 200)
		_, err := DecodeBrokerMessage(buf)
		assert.Error(t, err)
	})

	t.Run("client list count mismatch", func(t *testing.T) {
		buf := (&ClientListReply{Sequence: 1, StatusCode: StatusOk, ClientIDs: []uint32{7}}).Encode()
		buf[10] = 2
		_, err := DecodeBrokerMessage(buf)
		assert.Error(t, err)
	})
}

func rptTestFrame(response bool) *rdm.Frame {
	f := &rdm.Frame{
		Destination:       rdm.UID{Manufacturer: 0x02AC, Device: 1},
		Source:            rdm.UID{Manufacturer: 0x7FF0, Device: 2},
		TransactionNumber: 3,
		PortID:            1,
		CommandClass:      rdm.GetCommand,
		ParameterID:       rdm.ParamDeviceInfo,
	}
	if response {
		f.CommandClass = rdm.GetCommandResponse
		f.PortID = rdm.ResponseAck
		f.ParameterData = []byte{1, 2, 3, 4}
	}
	return f
}

func TestRptMessageRoundTrips(t *testing.T) {
	messages := []RptMessage{
		&RptStatus{Sequence: 1, Status: RptStatusRdmTimeout, Text: "no answer"},
		&RptRdm{Sequence: 2, EndpointID: 1, Frame: rptTestFrame(false)},
		&RptRdm{Sequence: 3, EndpointID: 1, Response: true, Frame: rptTestFrame(true)},
		&RptEndpointAdvertisement{Sequence: 4, EndpointID: 2, Role: RoleDevice, Profiles: []uint16{0x0100}},
		&RptEndpointAdvertisementAck{Sequence: 5, EndpointID: 2, Accepted: true, Status: 0},
	}

	for _, msg := range messages {
		encoded, err := msg.Encode()
		require.NoError(t, err, "vector 0x%02x", msg.Vector())
		decoded, err := DecodeRptMessage(encoded)
		require.NoError(t, err, "vector 0x%02x", msg.Vector())
		assert.Equal(t, msg, decoded, "vector 0x%02x", msg.Vector())
	}
}

func TestDecodeRptRdmUIDMismatch(t *testing.T) {
	msg := &RptRdm{Sequence: 1, EndpointID: 1, Frame: rptTestFrame(false)}
	buf, err := msg.Encode()
	require.NoError(t, err)

	// Corrupt the outer destination UID only.
	buf[12] ^= 0xFF
	_, err = DecodeRptMessage(buf)
	assert.ErrorContains(t, err, "outer UIDs")
}

func TestDecodeRptRdmBadChecksum(t *testing.T) {
	msg := &RptRdm{Sequence: 1, EndpointID: 1, Frame: rptTestFrame(false)}
	buf, err := msg.Encode()
	require.NoError(t, err)

	buf[len(buf)-1] ^= 0xFF
	_, err = DecodeRptMessage(buf)
	assert.Error(t, err)
}

func TestDecodeRptAckExactLength(t *testing.T) {
	buf, err := (&RptEndpointAdvertisementAck{Sequence: 1, EndpointID: 1}).Encode()
	require.NoError(t, err)
	_, err = DecodeRptMessage(append(buf, 0))
	assert.Error(t, err)
}

func TestEptMessageRoundTrips(t *testing.T) {
	messages := []EptMessage{
		&EptData{Sequence: 1, ManufacturerID: 0x02AC, ProtocolID: 7, Payload: []byte{9, 8, 7}},
		&EptData{Sequence: 2, ManufacturerID: 0x02AC, ProtocolID: 7, Payload: []byte{}},
		&EptStatus{Sequence: 3, Status: EptStatusUnknownProtocol, Text: "no handler"},
	}

	for _, msg := range messages {
		decoded, err := DecodeEptMessage(msg.Encode())
		require.NoError(t, err, "vector 0x%02x", msg.Vector())
		assert.Equal(t, msg, decoded, "vector 0x%02x", msg.Vector())
	}
}

func TestDecodeEptDataLengthMismatch(t *testing.T) {
	buf := (&EptData{Sequence: 1, Payload: []byte{1, 2}}).Encode()
	binary.BigEndian.PutUint32(buf[12:16], 99)
	_, err := DecodeEptMessage(buf)
	assert.Error(t, err)
}

func TestLlrpMessageRoundTrips(t *testing.T) {
	messages := []LlrpMessage{
		&LlrpProbeRequest{Sequence: 1, LowerUID: rdm.UIDMin, UpperUID: rdm.UIDMax},
		&LlrpProbeReply{Sequence: 2, TargetUID: rdm.UID{Manufacturer: 0x02AC, Device: 5}},
		&LlrpRdm{Sequence: 3, TargetUID: rdm.UID{Manufacturer: 0x02AC, Device: 5}, RdmData: []byte{0xCC, 0x01}},
		&LlrpRdm{Sequence: 4, TargetUID: rdm.UID{Manufacturer: 0x02AC, Device: 5}, Response: true, RdmData: []byte{0xCC}},
	}

	for _, msg := range messages {
		decoded, err := DecodeLlrpMessage(msg.Encode())
		require.NoError(t, err, "vector 0x%02x", msg.Vector())
		assert.Equal(t, msg, decoded, "vector 0x%02x", msg.Vector())
	}
}

func TestLlrpExactLengths(t *testing.T) {
	probe := (&LlrpProbeRequest{Sequence: 1}).Encode()
	assert.Len(t, probe, 20)
	_, err := DecodeLlrpMessage(append(probe, 0))
	assert.Error(t, err)

	reply := (&LlrpProbeReply{Sequence: 1}).Encode()
	assert.Len(t, reply, 14)
	_, err = DecodeLlrpMessage(reply[:13])
	assert.Error(t, err)
}

func TestBrokerStatusErrorMapping(t *testing.T) {
	tests := []struct {
		status StatusCode
		code   string
	}{
		{StatusRejected, CodeBrokerRejected},
		{StatusInvalidScope, CodeBrokerInvalidScope},
		{StatusUnauthorized, CodeBrokerUnauthorized},
		{StatusAlreadyConnected, CodeBrokerAlreadyConnected},
		{StatusInvalidRequest, CodeBrokerInvalidRequest},
	}
	for _, tt := range tests {
		err := brokerStatusError(tt.status, "")
		assert.Equal(t, tt.code, err.Code)
		assert.Equal(t, int(tt.status), err.StatusCode)
		assert.Equal(t, DomainBroker, err.Domain)
	}
}
