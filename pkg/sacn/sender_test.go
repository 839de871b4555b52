package sacn

import (
	"net"
	"testing"
	"time"
)

func newLoopbackSender(t *testing.T, cfg SenderConfig) (*Sender, chan *Packet) {
	t.Helper()
	listener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	received := make(chan *Packet, 16)
	go func() {
		buf := make([]byte, 1024)
		for {
			n, _, err := listener.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if packet, err := Parse(buf[:n]); err == nil {
				received <- packet
			}
		}
	}()

	addr := listener.LocalAddr().(*net.UDPAddr)
	cfg.Destination = "127.0.0.1"
	cfg.Port = addr.Port
	sender, err := NewSender(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sender.Close() })
	return sender, received
}

func recvPacket(t *testing.T, ch chan *Packet) *Packet {
	t.Helper()
	select {
	case packet := <-ch:
		return packet
	case <-time.After(2 * time.Second):
		t.Fatal("no packet received")
		return nil
	}
}

func TestSenderSend(t *testing.T) {
	sender, received := newLoopbackSender(t, SenderConfig{
		Universe: 5,
		Defaults: PacketOptions{SourceName: "node-dmx-test", Priority: 120},
	})

	if err := sender.Send(map[int]float64{1: 100}); err != nil {
		t.Fatal(err)
	}

	packet := recvPacket(t, received)
	if packet.Universe != 5 {
		t.Errorf("universe = %d, want 5", packet.Universe)
	}
	if packet.SourceName != "node-dmx-test" {
		t.Errorf("source name = %q", packet.SourceName)
	}
	if packet.Priority != 120 {
		t.Errorf("priority = %d", packet.Priority)
	}
	if packet.Data[0] != 255 {
		t.Errorf("channel 1 = %d, want 255", packet.Data[0])
	}
}

func TestSenderSequenceIncrements(t *testing.T) {
	sender, received := newLoopbackSender(t, SenderConfig{Universe: 1})

	var sequences []byte
	for i := 0; i < 3; i++ {
		if err := sender.SendRaw([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
		sequences = append(sequences, recvPacket(t, received).Sequence)
	}

	if sequences[1] != sequences[0]+1 || sequences[2] != sequences[1]+1 {
		t.Errorf("sequences not incrementing: %v", sequences)
	}
}

func TestSenderRefreshLoopResendsLastFrame(t *testing.T) {
	sender, received := newLoopbackSender(t, SenderConfig{
		Universe:    1,
		RefreshRate: 50, // 20ms period
	})

	if err := sender.SendRaw([]byte{42}); err != nil {
		t.Fatal(err)
	}
	first := recvPacket(t, received)

	// The keepalive loop must repeat the frame with a fresh sequence.
	repeat := recvPacket(t, received)
	if repeat.Data[0] != 42 {
		t.Errorf("keepalive data = %d, want 42", repeat.Data[0])
	}
	if repeat.Sequence == first.Sequence {
		t.Error("keepalive must stamp a new sequence number")
	}
}

func TestSenderInvalidUniverse(t *testing.T) {
	if _, err := NewSender(SenderConfig{Universe: 0}); err == nil {
		t.Error("universe 0 should fail")
	}
}
