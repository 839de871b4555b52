package artnet

import (
	"net"
	"testing"
	"time"
)

// newLoopbackSender points a Sender at a local UDP listener and returns
// a channel of received datagrams.
func newLoopbackSender(t *testing.T, cfg SenderConfig) (*Sender, chan []byte) {
	t.Helper()
	listener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	received := make(chan []byte, 16)
	go func() {
		buf := make([]byte, 2048)
		for {
			n, _, err := listener.ReadFromUDP(buf)
			if err != nil {
				return
			}
			packet := make([]byte, n)
			copy(packet, buf[:n])
			received <- packet
		}
	}()

	addr := listener.LocalAddr().(*net.UDPAddr)
	cfg.Host = "127.0.0.1"
	cfg.Port = addr.Port
	sender, err := NewSender(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sender.Close() })
	return sender, received
}

func recvPacket(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case packet := <-ch:
		return packet
	case <-time.After(2 * time.Second):
		t.Fatal("no packet received")
		return nil
	}
}

func TestSenderSendRaw(t *testing.T) {
	sender, received := newLoopbackSender(t, SenderConfig{Universe: 3})

	if err := sender.SendRaw([]byte{10, 20, 30}); err != nil {
		t.Fatal(err)
	}

	packet := recvPacket(t, received)
	parsed, err := ParseArtDmx(packet)
	if err != nil {
		t.Fatal(err)
	}
	if parsed == nil {
		t.Fatal("listener received a non-DMX packet")
	}
	if parsed.Universe != 3 {
		t.Errorf("universe = %d, want 3", parsed.Universe)
	}
	if parsed.Data[0] != 10 || parsed.Data[2] != 30 {
		t.Errorf("data = %v", parsed.Data)
	}
}

func TestSenderSequenceSkipsZero(t *testing.T) {
	sender, received := newLoopbackSender(t, SenderConfig{Universe: 1})

	var sequences []byte
	for i := 0; i < 257; i++ {
		if err := sender.SendRaw([]byte{1, 2}); err != nil {
			t.Fatal(err)
		}
		packet := recvPacket(t, received)
		parsed, err := ParseArtDmx(packet)
		if err != nil || parsed == nil {
			t.Fatalf("parse failed: %v", err)
		}
		sequences = append(sequences, parsed.Sequence)
	}

	if sequences[0] != 1 {
		t.Errorf("first sequence = %d, want 1", sequences[0])
	}
	for i, seq := range sequences {
		if seq == 0 {
			t.Fatalf("sequence 0 transmitted at packet %d", i)
		}
	}
	// 255 wraps back to 1.
	if sequences[255] != 1 {
		t.Errorf("sequence after 255 = %d, want 1", sequences[255])
	}
}

func TestSenderSendSync(t *testing.T) {
	sender, received := newLoopbackSender(t, SenderConfig{})

	if err := sender.SendSync(); err != nil {
		t.Fatal(err)
	}
	packet := recvPacket(t, received)
	if !hasHeader(packet, OpSync) {
		t.Errorf("expected OpSync packet, got %v", packet[:10])
	}
}

func TestSenderSendPoll(t *testing.T) {
	sender, received := newLoopbackSender(t, SenderConfig{})

	if err := sender.SendPoll(TalkToMeUnicast, 0); err != nil {
		t.Fatal(err)
	}
	packet := recvPacket(t, received)
	if !hasHeader(packet, OpPoll) {
		t.Errorf("expected OpPoll packet, got %v", packet[:10])
	}
	if packet[12] != TalkToMeUnicast {
		t.Errorf("TalkToMe = 0x%02x", packet[12])
	}
}
