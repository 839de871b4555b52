package dmx

import (
	"bytes"
	"testing"
)

func TestNewUniverseRange(t *testing.T) {
	for _, id := range []int{1, 512, 63999} {
		if _, err := NewUniverse(id); err != nil {
			t.Errorf("NewUniverse(%d) error: %v", id, err)
		}
	}
	for _, id := range []int{0, -1, 64000} {
		if _, err := NewUniverse(id); err == nil {
			t.Errorf("NewUniverse(%d) should fail", id)
		}
	}
}

func TestSetChannel(t *testing.T) {
	u, err := NewUniverse(1)
	if err != nil {
		t.Fatal(err)
	}

	if err := u.SetChannel(1, 255); err != nil {
		t.Fatal(err)
	}
	if err := u.SetChannel(512, 10); err != nil {
		t.Fatal(err)
	}

	if v, _ := u.Channel(1); v != 255 {
		t.Errorf("channel 1 = %d, want 255", v)
	}
	if v, _ := u.Channel(512); v != 10 {
		t.Errorf("channel 512 = %d, want 10", v)
	}
	if !u.IsDirty() {
		t.Error("writes must set the dirty flag")
	}
}

func TestSetChannelClamping(t *testing.T) {
	u, _ := NewUniverse(1)

	tests := []struct {
		value float64
		want  byte
	}{
		{300, 255},
		{-12, 0},
		{127.6, 128},
		{127.4, 127},
		{0, 0},
	}
	for _, tt := range tests {
		if err := u.SetChannel(1, tt.value); err != nil {
			t.Fatal(err)
		}
		if v, _ := u.Channel(1); v != tt.want {
			t.Errorf("SetChannel(1, %v) stored %d, want %d", tt.value, v, tt.want)
		}
	}
}

func TestSetChannelRange(t *testing.T) {
	u, _ := NewUniverse(1)
	for _, channel := range []int{0, -5, 513} {
		if err := u.SetChannel(channel, 1); err == nil {
			t.Errorf("SetChannel(%d) should fail", channel)
		}
	}
	if u.IsDirty() {
		t.Error("rejected writes must not set the dirty flag")
	}
}

func TestSetFrame(t *testing.T) {
	u, _ := NewUniverse(1)
	u.Fill(9)
	u.ConsumeDirty()

	u.SetFrame([]byte{1, 2, 3})

	frame := u.Frame()
	if !bytes.Equal(frame[:3], []byte{1, 2, 3}) {
		t.Errorf("frame prefix = %v", frame[:3])
	}
	if frame[3] != 0 || frame[511] != 0 {
		t.Error("SetFrame must zero-pad the tail")
	}
	if !u.IsDirty() {
		t.Error("SetFrame must set the dirty flag")
	}

	// Oversized input is truncated to 512.
	big := make([]byte, 600)
	for i := range big {
		big[i] = 7
	}
	u.SetFrame(big)
	if got := u.Frame(); len(got) != 512 || got[511] != 7 {
		t.Errorf("oversized SetFrame handled wrong: len=%d last=%d", len(got), got[511])
	}
}

func TestFillAndClear(t *testing.T) {
	u, _ := NewUniverse(1)
	u.Fill(200)
	for i := 1; i <= 512; i += 511 {
		if v, _ := u.Channel(i); v != 200 {
			t.Errorf("channel %d = %d after Fill", i, v)
		}
	}

	u.Clear()
	for i := 1; i <= 512; i += 511 {
		if v, _ := u.Channel(i); v != 0 {
			t.Errorf("channel %d = %d after Clear", i, v)
		}
	}
}

func TestConsumeDirty(t *testing.T) {
	u, _ := NewUniverse(1)
	if u.ConsumeDirty() {
		t.Error("fresh universe must not be dirty")
	}

	_ = u.SetChannel(1, 1)
	if !u.ConsumeDirty() {
		t.Error("ConsumeDirty must report the pending change")
	}
	if u.ConsumeDirty() {
		t.Error("ConsumeDirty must clear the flag")
	}
}

func TestFrameIsACopy(t *testing.T) {
	u, _ := NewUniverse(1)
	frame := u.Frame()
	frame[0] = 0xFF
	if v, _ := u.Channel(1); v != 0 {
		t.Error("Frame must return a copy")
	}
}
