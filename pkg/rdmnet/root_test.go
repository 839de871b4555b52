package rdmnet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCID() [16]byte {
	var cid [16]byte
	for i := range cid {
		cid[i] = byte(0xA0 + i)
	}
	return cid
}

func TestBuildPacketLayout(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	buf := BuildPacket(VectorRootBroker, data, testCID())

	require.Len(t, buf, 16+22+4)
	assert.Equal(t, []byte{0x00, 0x10}, buf[0:2], "preamble size")
	assert.Equal(t, []byte{0x00, 0x00}, buf[2:4], "postamble size")
	assert.Equal(t, []byte("ASC-E1.17\x00\x00\x00"), buf[4:16], "ACN PID")
	assert.Equal(t, byte(0x70), buf[16]&0xF0, "flags nibble")
	assert.Equal(t, 22+len(data), int(buf[16]&0x0F)<<8|int(buf[17]), "root length")
	assert.Equal(t, []byte{0, 0, 0, 9}, buf[18:22], "vector")
	assert.Equal(t, data, buf[38:], "payload")
}

func TestBuildPacketRandomCID(t *testing.T) {
	a := BuildPacket(VectorRootBroker, nil, [16]byte{})
	b := BuildPacket(VectorRootBroker, nil, [16]byte{})
	assert.NotEqual(t, a[22:38], b[22:38], "zero CID should be replaced with a random UUID")
}

func TestParsePacketRoundTrip(t *testing.T) {
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	buf := BuildPacket(VectorRootRpt, data, testCID())

	pkt, err := ParsePacket(buf)
	require.NoError(t, err)
	assert.Equal(t, VectorRootRpt, pkt.Vector)
	assert.Equal(t, testCID(), pkt.CID)
	assert.Equal(t, data, pkt.Data)
}

func TestParsePacketRejects(t *testing.T) {
	valid := BuildPacket(VectorRootBroker, []byte{1, 2}, testCID())

	t.Run("trailing bytes", func(t *testing.T) {
		_, err := ParsePacket(append(append([]byte(nil), valid...), 0xFF))
		assert.Error(t, err)
	})

	t.Run("wrong flags", func(t *testing.T) {
		bad := append([]byte(nil), valid...)
		bad[16] = 0x50 | (bad[16] & 0x0F)
		_, err := ParsePacket(bad)
		assert.Error(t, err)
	})

	t.Run("root length below 22", func(t *testing.T) {
		bad := append([]byte(nil), valid...)
		bad[16] = 0x70
		bad[17] = 21
		_, err := ParsePacket(bad)
		assert.Error(t, err)
	})

	t.Run("bad preamble", func(t *testing.T) {
		bad := append([]byte(nil), valid...)
		bad[0] = 0xFF
		_, err := ParsePacket(bad)
		assert.Error(t, err)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := ParsePacket(valid[:20])
		assert.Error(t, err)
	})
}

func TestExtractPackets(t *testing.T) {
	a := BuildPacket(VectorRootBroker, []byte{1}, testCID())
	b := BuildPacket(VectorRootRpt, []byte{2, 2}, testCID())
	c := BuildPacket(VectorRootLlrp, nil, testCID())

	t.Run("n concatenated packets, empty remainder", func(t *testing.T) {
		stream := bytes.Join([][]byte{a, b, c}, nil)
		packets, rest, err := ExtractPackets(stream)
		require.NoError(t, err)
		require.Len(t, packets, 3)
		assert.Empty(t, rest)
		assert.Equal(t, VectorRootBroker, packets[0].Vector)
		assert.Equal(t, VectorRootRpt, packets[1].Vector)
		assert.Equal(t, VectorRootLlrp, packets[2].Vector)
	})

	t.Run("partial tail kept as remainder", func(t *testing.T) {
		stream := append(append([]byte(nil), a...), b[:len(b)-1]...)
		packets, rest, err := ExtractPackets(stream)
		require.NoError(t, err)
		require.Len(t, packets, 1)
		assert.Len(t, rest, len(b)-1)
		assert.Equal(t, b[:len(b)-1], rest)
	})

	t.Run("empty stream", func(t *testing.T) {
		packets, rest, err := ExtractPackets(nil)
		require.NoError(t, err)
		assert.Empty(t, packets)
		assert.Empty(t, rest)
	})

	t.Run("framing corruption fails", func(t *testing.T) {
		stream := append(append([]byte(nil), a...), 0xFF, 0xFF, 0xFF)
		stream = append(stream, a...)
		packets, _, err := ExtractPackets(stream)
		assert.Error(t, err)
		assert.Len(t, packets, 1, "packets before the corruption are still returned")
	})

	t.Run("remainder does not alias the stream", func(t *testing.T) {
		stream := append(append([]byte(nil), a...), b[:10]...)
		_, rest, err := ExtractPackets(stream)
		require.NoError(t, err)
		stream[len(a)] = 0xEE
		assert.Equal(t, b[:10], rest, "remainder must be a copy")
	})
}
