package sacn

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/Datalab-Rotterdam/node-dmx/internal/events"
)

// SenderConfig configures a Sender.
type SenderConfig struct {
	// Universe is the E1.31 universe (1..63999, or the discovery
	// universe).
	Universe uint16
	// Destination is a unicast address; when empty the universe's
	// multicast group is used.
	Destination string
	// Port defaults to 5568.
	Port int
	// Interface is the IP of the local interface used for multicast
	// transmission.
	Interface string
	// RefreshRate, when positive, re-sends the last frame every
	// 1000/rate milliseconds as a keepalive.
	RefreshRate float64
	// Defaults seeds packet options (source name, priority, CID) for
	// every send.
	Defaults PacketOptions
	Logger   *logrus.Logger
}

// Sender transmits E1.31 data packets for a single universe, stamping a
// per-sender sequence number on every send.
type Sender struct {
	mu       sync.Mutex
	conn     *net.UDPConn
	dest     *net.UDPAddr
	cfg      SenderConfig
	seq      byte
	last     *Packet
	lastOK   bool
	sentOnce bool
	stop     chan struct{}
	closed   bool
	em       *events.Emitter
	log      *logrus.Logger
}

// NewSender opens the socket, resolves the destination and starts the
// keepalive loop when a refresh rate is configured.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if err := ValidateUniverse(cfg.Universe); err != nil {
		return nil, err
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg.Defaults.Universe = cfg.Universe

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("sacn: listen: %w", err)
	}

	host := cfg.Destination
	if host == "" {
		host, err = MulticastGroup(cfg.Universe)
		if err != nil {
			conn.Close()
			return nil, err
		}
	}
	dest, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(cfg.Port)))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sacn: resolve destination: %w", err)
	}

	if dest.IP.IsMulticast() && cfg.Interface != "" {
		iface, err := interfaceByIP(cfg.Interface)
		if err != nil {
			conn.Close()
			return nil, err
		}
		if err := ipv4.NewPacketConn(conn).SetMulticastInterface(iface); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sacn: set multicast interface: %w", err)
		}
	}

	s := &Sender{
		conn: conn,
		dest: dest,
		cfg:  cfg,
		stop: make(chan struct{}),
		em:   events.New(),
		log:  log,
	}
	if cfg.RefreshRate > 0 {
		go s.refreshLoop(time.Duration(float64(time.Second) / cfg.RefreshRate))
	}
	log.Debugf("sacn: sender for universe %d -> %s", cfg.Universe, dest)
	return s, nil
}

// interfaceByIP finds the local interface carrying the given IP.
func interfaceByIP(ip string) (*net.Interface, error) {
	want := net.ParseIP(ip)
	if want == nil {
		return nil, fmt.Errorf("sacn: invalid interface IP %q", ip)
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.Equal(want) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("sacn: no interface carries IP %s", ip)
}

// OnError registers a listener for socket write failures.
func (s *Sender) OnError(fn func(error)) int {
	return s.em.On("error", func(args ...interface{}) {
		if err, ok := args[0].(error); ok {
			fn(err)
		}
	})
}

// OnChangedResendStatus registers a listener fired when transmission
// (an explicit send or a keepalive resend alike) switches between
// succeeding and failing.
func (s *Sender) OnChangedResendStatus(fn func(ok bool)) int {
	return s.em.On("changedResendStatus", func(args ...interface{}) {
		if ok, isBool := args[0].(bool); isBool {
			fn(ok)
		}
	})
}

// Universe returns the configured universe.
func (s *Sender) Universe() uint16 { return s.cfg.Universe }

// Send builds and transmits a packet from sparse percentage values.
func (s *Sender) Send(payload map[int]float64) error {
	opts := s.cfg.Defaults
	opts.Payload = payload
	opts.Raw = nil
	return s.send(opts)
}

// SendRaw transmits a raw DMX frame.
func (s *Sender) SendRaw(frame []byte) error {
	opts := s.cfg.Defaults
	opts.Raw = frame
	opts.Payload = nil
	opts.UseRawDmxValues = true
	return s.send(opts)
}

// SendPacket transmits a packet built from explicit options, still
// stamping the sender's sequence number.
func (s *Sender) SendPacket(opts PacketOptions) error {
	opts.Universe = s.cfg.Universe
	return s.send(opts)
}

func (s *Sender) send(opts PacketOptions) error {
	s.mu.Lock()
	s.seq++
	opts.Sequence = s.seq
	s.mu.Unlock()

	packet, err := NewPacket(opts)
	if err != nil {
		return err
	}
	return s.transmit(packet, true)
}

// transmit writes one packet, storing it as the keepalive frame when
// remember is set.
func (s *Sender) transmit(packet *Packet, remember bool) error {
	_, err := s.conn.WriteToUDP(packet.Bytes(), s.dest)

	s.mu.Lock()
	if remember {
		s.last = packet
	}
	ok := err == nil
	changed := s.sentOnce && ok != s.lastOK
	s.sentOnce = true
	s.lastOK = ok
	s.mu.Unlock()

	if changed {
		s.em.Emit("changedResendStatus", ok)
	}
	if err != nil {
		s.em.Emit("error", fmt.Errorf("sacn: send: %w", err))
		return fmt.Errorf("sacn: send: %w", err)
	}
	return nil
}

// refreshLoop re-sends the last frame at the configured rate so
// receivers do not hit their network-data-loss timeout.
func (s *Sender) refreshLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			var packet *Packet
			if s.last != nil {
				cp := *s.last
				s.seq++
				cp.Sequence = s.seq
				packet = &cp
			}
			s.mu.Unlock()
			if packet != nil {
				_ = s.transmit(packet, false)
			}
		}
	}
}

// Close terminates the keepalive loop and releases the socket. The
// final packet carries the stream-terminated option so receivers drop
// the source immediately.
func (s *Sender) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	var last *Packet
	if s.last != nil {
		cp := *s.last
		cp.Options |= OptionStreamTerminated
		last = &cp
	}
	s.mu.Unlock()

	if last != nil {
		_ = s.transmit(last, false)
	}
	return s.conn.Close()
}
