package sacn

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// NetworkDataLossTimeout is how long a universe may stay silent before
// its timeout callback fires, per E1.31.
const NetworkDataLossTimeout = 2500 * time.Millisecond

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// BindAddr defaults to listening on all interfaces, port 5568.
	BindAddr string
	// Interface is the interface used for joining multicast groups;
	// empty lets the kernel choose.
	Interface string
	Logger    *logrus.Logger
}

// Receiver listens for E1.31 data packets on joined universes. Packets
// with a stale sequence number are dropped; a delta that is both
// greater than 20 and not exactly 1 is additionally logged as
// significantly out of order (a documented policy choice, not E1.31
// behavior).
type Receiver struct {
	mu        sync.Mutex
	conn      *net.UDPConn
	pconn     *ipv4.PacketConn
	iface     *net.Interface
	lastSeq   map[uint16]byte
	lastSeen  map[uint16]time.Time
	timedOut  map[uint16]bool
	onData    func(*Packet)
	onTimeout func(universe uint16)
	stop      chan struct{}
	closed    bool
	log       *logrus.Logger
}

// NewReceiver binds the E1.31 port and starts the read and timeout
// loops.
func NewReceiver(cfg ReceiverConfig) (*Receiver, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	bind := cfg.BindAddr
	if bind == "" {
		bind = fmt.Sprintf(":%d", DefaultPort)
	}
	addr, err := net.ResolveUDPAddr("udp4", bind)
	if err != nil {
		return nil, fmt.Errorf("sacn: resolve bind address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("sacn: listen: %w", err)
	}

	var iface *net.Interface
	if cfg.Interface != "" {
		iface, err = interfaceByIP(cfg.Interface)
		if err != nil {
			conn.Close()
			return nil, err
		}
	}

	r := &Receiver{
		conn:     conn,
		pconn:    ipv4.NewPacketConn(conn),
		iface:    iface,
		lastSeq:  make(map[uint16]byte),
		lastSeen: make(map[uint16]time.Time),
		timedOut: make(map[uint16]bool),
		stop:     make(chan struct{}),
		log:      log,
	}
	go r.readLoop()
	go r.timeoutLoop()
	return r, nil
}

// OnData sets the callback invoked for every accepted packet.
func (r *Receiver) OnData(fn func(*Packet)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onData = fn
}

// OnTimeout sets the callback invoked when a joined universe stops
// receiving data for the network-data-loss timeout.
func (r *Receiver) OnTimeout(fn func(universe uint16)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTimeout = fn
}

// JoinUniverse joins the universe's multicast group.
func (r *Receiver) JoinUniverse(universe uint16) error {
	group, err := MulticastGroup(universe)
	if err != nil {
		return err
	}
	if err := r.pconn.JoinGroup(r.iface, &net.UDPAddr{IP: net.ParseIP(group)}); err != nil {
		return fmt.Errorf("sacn: join group %s: %w", group, err)
	}
	r.mu.Lock()
	r.lastSeen[universe] = time.Now()
	r.mu.Unlock()
	return nil
}

// LeaveUniverse leaves the universe's multicast group.
func (r *Receiver) LeaveUniverse(universe uint16) error {
	group, err := MulticastGroup(universe)
	if err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.lastSeq, universe)
	delete(r.lastSeen, universe)
	delete(r.timedOut, universe)
	r.mu.Unlock()
	return r.pconn.LeaveGroup(r.iface, &net.UDPAddr{IP: net.ParseIP(group)})
}

// Close stops the loops and releases the socket.
func (r *Receiver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.stop)
	r.mu.Unlock()
	return r.conn.Close()
}

// acceptSequence applies the out-of-order window: a non-positive delta
// greater than -20 marks the packet stale.
func acceptSequence(last, next byte) bool {
	diff := int8(next) - int8(last)
	return diff > 0 || diff <= -20
}

func (r *Receiver) readLoop() {
	buf := make([]byte, 1024)
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-r.stop:
				return
			default:
				r.log.Debugf("sacn: read: %v", err)
				continue
			}
		}
		packet, err := Parse(buf[:n])
		if err != nil {
			r.log.Debugf("sacn: dropping packet: %v", err)
			continue
		}
		r.handle(packet)
	}
}

func (r *Receiver) handle(packet *Packet) {
	r.mu.Lock()
	last, seen := r.lastSeq[packet.Universe]
	if seen && !acceptSequence(last, packet.Sequence) {
		r.mu.Unlock()
		return
	}
	if seen {
		// Policy choice: large forward jumps are accepted but flagged.
		if delta := int(packet.Sequence) - int(last); delta > 20 && delta != 1 {
			r.log.Warnf("sacn: universe %d sequence significantly out of order: %d -> %d",
				packet.Universe, last, packet.Sequence)
		}
	}
	r.lastSeq[packet.Universe] = packet.Sequence
	r.lastSeen[packet.Universe] = time.Now()
	r.timedOut[packet.Universe] = false
	onData := r.onData
	r.mu.Unlock()

	if packet.Options&OptionStreamTerminated != 0 {
		r.mu.Lock()
		delete(r.lastSeq, packet.Universe)
		r.mu.Unlock()
	}
	if onData != nil {
		onData(packet)
	}
}

func (r *Receiver) timeoutLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			now := time.Now()
			var fired []uint16
			r.mu.Lock()
			for universe, seen := range r.lastSeen {
				if !r.timedOut[universe] && now.Sub(seen) > NetworkDataLossTimeout {
					r.timedOut[universe] = true
					fired = append(fired, universe)
				}
			}
			onTimeout := r.onTimeout
			r.mu.Unlock()
			if onTimeout != nil {
				for _, universe := range fired {
					onTimeout(universe)
				}
			}
		}
	}
}
