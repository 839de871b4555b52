package rdm

import (
	"context"
	"errors"
	"fmt"
)

// Discovery preamble constants per E1.20 section 7.5.
const (
	discPreambleByte  byte = 0xFE
	discPreambleMax        = 7
	discSeparator     byte = 0xAA
	discEncodedLength      = 17 // separator + 12 masked UID bytes + 4 masked checksum bytes
)

// ErrNoDiscoveryResponse marks a DISC_UNIQUE_BRANCH reply that could
// not be decoded, usually because several devices answered at once.
var ErrNoDiscoveryResponse = errors.New("rdm: undecodable discovery response")

// Transport carries discovery traffic to a bus of RDM responders.
// SendDiscoveryUniqueBranch broadcasts a DISC_UNIQUE_BRANCH for the
// inclusive UID range and returns every raw response frame collected
// within the transport's own response window.
type Transport interface {
	SendDiscoveryUniqueBranch(ctx context.Context, lo, hi UID) ([][]byte, error)
}

// Muter is implemented by transports with native mute operations.
// Transports without it fall back to RequestSender.
type Muter interface {
	SendMute(ctx context.Context, target UID, transaction byte) error
	SendUnmute(ctx context.Context, target UID, transaction byte) error
}

// RequestSender sends a plain RDM request without awaiting a reply.
// Used to issue DISC_MUTE / DISC_UN_MUTE when the transport has no
// native mute support.
type RequestSender interface {
	SendRequest(ctx context.Context, req *Frame) error
}

// DiscoverOptions tunes the binary-split discovery run.
type DiscoverOptions struct {
	// Lower and Upper bound the search; both zero means the full UID
	// space.
	Lower UID
	Upper UID
	// MuteFound issues DISC_MUTE for each discovered device so it stops
	// answering subsequent DISC_UNIQUE_BRANCH probes.
	MuteFound bool
	// UnmuteAtEnd issues DISC_UN_MUTE to every muted device once the
	// recursion has finished.
	UnmuteAtEnd bool
	// ControllerUID is the source UID placed in fallback mute requests.
	ControllerUID UID
}

// DiscoveredDevice is one device found by Discover.
type DiscoveredDevice struct {
	UID   UID
	Muted bool
}

// DecodeDiscoveryResponse recovers a UID from an E1.20 DISC_UNIQUE_BRANCH
// response: up to 7 bytes of 0xFE preamble, a 0xAA separator, 12 masked
// UID bytes (each real byte is the AND of an adjacent pair), then 4
// masked checksum bytes forming a big-endian 16-bit sum of the masked
// UID bytes.
func DecodeDiscoveryResponse(buf []byte) (UID, error) {
	i := 0
	for i < len(buf) && i < discPreambleMax && buf[i] == discPreambleByte {
		i++
	}
	if i >= len(buf) || buf[i] != discSeparator {
		return UID{}, fmt.Errorf("%w: missing 0xAA separator", ErrNoDiscoveryResponse)
	}
	if len(buf)-i < discEncodedLength {
		return UID{}, fmt.Errorf("%w: truncated at %d bytes", ErrNoDiscoveryResponse, len(buf))
	}
	enc := buf[i+1 : i+discEncodedLength]

	var raw [6]byte
	for j := 0; j < 6; j++ {
		raw[j] = enc[2*j] & enc[2*j+1]
	}
	wantSum := uint16(enc[12]&enc[13])<<8 | uint16(enc[14]&enc[15])
	if got := Checksum(enc[:12]); got != wantSum {
		return UID{}, fmt.Errorf("%w: checksum 0x%04x != 0x%04x", ErrNoDiscoveryResponse, got, wantSum)
	}
	uid, _ := UIDFromBytes(raw[:])
	return uid, nil
}

// EncodeDiscoveryResponse builds the masked DISC_UNIQUE_BRANCH reply a
// responder with the given UID would transmit. Useful for transports
// and tests that simulate responders.
func EncodeDiscoveryResponse(uid UID) []byte {
	out := make([]byte, 0, discPreambleMax+discEncodedLength)
	for i := 0; i < discPreambleMax; i++ {
		out = append(out, discPreambleByte)
	}
	out = append(out, discSeparator)

	var enc [16]byte
	for j, b := range uid.Bytes() {
		enc[2*j] = b | 0xAA
		enc[2*j+1] = b | 0x55
	}
	sum := Checksum(enc[:12])
	enc[12] = byte(sum>>8) | 0xAA
	enc[13] = byte(sum>>8) | 0x55
	enc[14] = byte(sum) | 0xAA
	enc[15] = byte(sum) | 0x55
	return append(out, enc[:]...)
}

// Discover runs the E1.20 binary-split discovery algorithm over the
// transport and returns every device found. Recursion is depth-first,
// left range before right.
func Discover(ctx context.Context, t Transport, opts DiscoverOptions) ([]DiscoveredDevice, error) {
	lo, hi := opts.Lower, opts.Upper
	if lo == (UID{}) && hi == (UID{}) {
		lo, hi = UIDMin, UIDMax
	}
	if hi.Cmp(lo) < 0 {
		return nil, fmt.Errorf("rdm: discovery range inverted: %v > %v", lo, hi)
	}

	d := &discoverer{transport: t, opts: opts}
	if err := d.branch(ctx, lo, hi); err != nil {
		return d.found, err
	}
	if opts.UnmuteAtEnd {
		if err := d.unmuteAll(ctx); err != nil {
			return d.found, err
		}
	}
	return d.found, nil
}

type discoverer struct {
	transport Transport
	opts      DiscoverOptions
	found     []DiscoveredDevice
}

func (d *discoverer) branch(ctx context.Context, lo, hi UID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	responses, err := d.transport.SendDiscoveryUniqueBranch(ctx, lo, hi)
	if err != nil {
		return err
	}

	var uids []UID
	for _, raw := range responses {
		uid, err := DecodeDiscoveryResponse(raw)
		if err != nil {
			continue
		}
		uids = append(uids, uid)
	}

	switch {
	case len(uids) == 0:
		return nil
	case len(uids) == 1 && uids[0].InRange(lo, hi):
		return d.record(ctx, uids[0])
	case lo.Cmp(hi) == 0:
		// A single-UID range that still collides cannot be split
		// further; give up on it.
		return nil
	default:
		mid, err := Midpoint(lo, hi)
		if err != nil {
			return err
		}
		if err := d.branch(ctx, lo, mid); err != nil {
			return err
		}
		return d.branch(ctx, UIDFromUint64(mid.Uint64()+1), hi)
	}
}

func (d *discoverer) record(ctx context.Context, uid UID) error {
	dev := DiscoveredDevice{UID: uid}
	if d.opts.MuteFound {
		if err := d.mute(ctx, uid, ParamDiscMute); err != nil {
			d.found = append(d.found, dev)
			return err
		}
		dev.Muted = true
	}
	d.found = append(d.found, dev)
	return nil
}

func (d *discoverer) unmuteAll(ctx context.Context) error {
	for _, dev := range d.found {
		if !dev.Muted {
			continue
		}
		if err := d.mute(ctx, dev.UID, ParamDiscUnMute); err != nil {
			return err
		}
	}
	return nil
}

// mute sends DISC_MUTE or DISC_UN_MUTE through the transport's native
// mute support when present, otherwise as a plain RDM request. The
// transaction number is the running found count mod 256.
func (d *discoverer) mute(ctx context.Context, target UID, pid uint16) error {
	tn := byte(len(d.found) % 256)
	if m, ok := d.transport.(Muter); ok {
		if pid == ParamDiscUnMute {
			return m.SendUnmute(ctx, target, tn)
		}
		return m.SendMute(ctx, target, tn)
	}
	rs, ok := d.transport.(RequestSender)
	if !ok {
		return fmt.Errorf("rdm: transport cannot send mute requests")
	}
	return rs.SendRequest(ctx, &Frame{
		Destination:       target,
		Source:            d.opts.ControllerUID,
		TransactionNumber: tn,
		PortID:            1,
		CommandClass:      DiscoveryCommand,
		ParameterID:       pid,
	})
}
