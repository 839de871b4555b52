package artnet

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Datalab-Rotterdam/node-dmx/internal/events"
)

// DefaultBroadcastAddr is where DMX frames go when no host is configured.
const DefaultBroadcastAddr = "255.255.255.255"

// SenderConfig configures a Sender.
type SenderConfig struct {
	// Universe is the 1-based universe stamped on DMX frames. Defaults to 1.
	Universe int
	// Host is the destination address. Defaults to the limited broadcast
	// address.
	Host string
	// Port defaults to 6454.
	Port int
	// BindAddr optionally pins the local source address.
	BindAddr string
	// Physical is the physical input port reported in DMX frames.
	Physical byte
	// DisableSequence turns off automatic sequence stamping; frames then
	// carry sequence 0 ("not used").
	DisableSequence bool
	Logger          *logrus.Logger
}

// Sender transmits Art-Net packets over UDP. The DMX sequence counter
// increments mod 256 and skips 0.
type Sender struct {
	mu   sync.Mutex
	conn *net.UDPConn
	cfg  SenderConfig
	seq  byte
	em   *events.Emitter
	log  *logrus.Logger
}

// NewSender opens the UDP socket and returns a ready Sender.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if cfg.Universe <= 0 {
		cfg.Universe = 1
	}
	if cfg.Host == "" {
		cfg.Host = DefaultBroadcastAddr
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	var laddr *net.UDPAddr
	if cfg.BindAddr != "" {
		var err error
		laddr, err = net.ResolveUDPAddr("udp4", cfg.BindAddr+":0")
		if err != nil {
			return nil, fmt.Errorf("artnet: resolve bind address: %w", err)
		}
	}
	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("artnet: resolve destination: %w", err)
	}
	conn, err := net.DialUDP("udp4", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("artnet: dial: %w", err)
	}

	log.Debugf("artnet: sender for universe %d -> %s", cfg.Universe, raddr)
	return &Sender{conn: conn, cfg: cfg, em: events.New(), log: log}, nil
}

// OnError registers a listener for socket write failures.
func (s *Sender) OnError(fn func(error)) int {
	return s.em.On("error", func(args ...interface{}) {
		if err, ok := args[0].(error); ok {
			fn(err)
		}
	})
}

// Universe returns the configured 1-based universe.
func (s *Sender) Universe() int { return s.cfg.Universe }

// nextSequence increments the counter mod 256, skipping 0.
func (s *Sender) nextSequence() byte {
	s.seq++
	if s.seq == 0 {
		s.seq = 1
	}
	return s.seq
}

func (s *Sender) write(packet []byte) error {
	if _, err := s.conn.Write(packet); err != nil {
		s.em.Emit("error", fmt.Errorf("artnet: send: %w", err))
		return fmt.Errorf("artnet: send: %w", err)
	}
	return nil
}

// SendRaw transmits a DMX frame on the configured universe.
func (s *Sender) SendRaw(data []byte) error {
	return s.SendDmx(ArtDmxOptions{Data: data})
}

// SendDmx transmits an OpDmx packet. Zero-valued options inherit the
// sender configuration; the sequence is stamped automatically unless
// disabled.
func (s *Sender) SendDmx(opts ArtDmxOptions) error {
	s.mu.Lock()
	if opts.Universe == 0 {
		opts.Universe = s.cfg.Universe
	}
	if opts.Physical == 0 {
		opts.Physical = s.cfg.Physical
	}
	if opts.Sequence == 0 && !s.cfg.DisableSequence {
		opts.Sequence = s.nextSequence()
	}
	s.mu.Unlock()

	packet, err := BuildArtDmx(opts)
	if err != nil {
		return err
	}
	return s.write(packet)
}

// SendSync transmits an OpSync pulse, telling receivers to latch the
// frames delivered since the previous pulse.
func (s *Sender) SendSync() error {
	return s.write(BuildArtSync())
}

// SendPoll transmits an OpPoll with the given TalkToMe flags.
func (s *Sender) SendPoll(flags, priority byte) error {
	return s.write(BuildArtPoll(flags, priority))
}

// SendDiag transmits an OpDiagData text message.
func (s *Sender) SendDiag(priority byte, text string) error {
	return s.write(BuildArtDiagData(priority, text))
}

// SendTimeCode transmits an OpTimeCode packet.
func (s *Sender) SendTimeCode(tc TimeCode) error {
	return s.write(BuildArtTimeCode(tc))
}

// SendCommand transmits an OpCommand string.
func (s *Sender) SendCommand(estaMan uint16, command string) error {
	return s.write(BuildArtCommand(estaMan, command))
}

// SendTrigger transmits an OpTrigger packet.
func (s *Sender) SendTrigger(oem uint16, key, subKey byte, payload []byte) error {
	return s.write(BuildArtTrigger(oem, key, subKey, payload))
}

// Close releases the socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}
