package dmx

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Datalab-Rotterdam/node-dmx/pkg/artnet"
	"github.com/Datalab-Rotterdam/node-dmx/pkg/sacn"
)

// FrameSender transmits a raw 512-byte DMX frame for one universe.
// Both built-in protocol senders satisfy it.
type FrameSender interface {
	SendRaw(frame []byte) error
	Close() error
}

// SyncSender is implemented by senders that support a post-flush sync
// pulse (Art-Net).
type SyncSender interface {
	SendSync() error
}

// SenderFactory builds a sender for a universe; it takes precedence
// over the built-in protocol selection.
type SenderFactory func(universe int) (FrameSender, error)

// Protocol selects a built-in sender.
type Protocol string

const (
	ProtocolArtNet Protocol = "artnet"
	ProtocolSACN   Protocol = "sacn"
)

// ControllerConfig configures a Controller. Per-protocol sections win
// over the top-level destination fields.
type ControllerConfig struct {
	// Protocol defaults to artnet.
	Protocol Protocol
	// Destination is the top-level destination host, overridable per
	// protocol.
	Destination string
	// ArtSync issues one Art-Net sync pulse after each flush that sent
	// at least one universe.
	ArtSync bool
	// SenderFactory overrides sender construction entirely.
	SenderFactory SenderFactory

	// ArtNet carries Art-Net sender overrides.
	ArtNet artnet.SenderConfig
	// SACN carries sACN sender overrides.
	SACN sacn.SenderConfig

	Logger *logrus.Logger
}

type universeEntry struct {
	universe *Universe
	sender   FrameSender
}

// Controller owns a set of universes, one sender per universe, and
// performs dirty-only flushes.
type Controller struct {
	mu      sync.Mutex
	cfg     ControllerConfig
	entries map[int]*universeEntry
	log     *logrus.Logger
	closed  bool
}

// NewController creates an empty controller.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolArtNet
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{cfg: cfg, entries: make(map[int]*universeEntry), log: log}
}

// AddUniverse creates the universe and its sender. Adding an existing
// universe is a no-op.
func (c *Controller) AddUniverse(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("dmx: controller closed")
	}
	if _, ok := c.entries[id]; ok {
		return nil
	}

	universe, err := NewUniverse(id)
	if err != nil {
		return err
	}
	sender, err := c.newSender(id)
	if err != nil {
		return err
	}
	c.entries[id] = &universeEntry{universe: universe, sender: sender}
	c.log.Debugf("dmx: universe %d added (%s)", id, c.cfg.Protocol)
	return nil
}

// newSender builds the sender for one universe. Callers hold c.mu.
func (c *Controller) newSender(id int) (FrameSender, error) {
	if c.cfg.SenderFactory != nil {
		return c.cfg.SenderFactory(id)
	}
	switch c.cfg.Protocol {
	case ProtocolArtNet:
		sc := c.cfg.ArtNet
		sc.Universe = id
		if sc.Host == "" {
			sc.Host = c.cfg.Destination
		}
		if sc.Logger == nil {
			sc.Logger = c.log
		}
		return artnet.NewSender(sc)
	case ProtocolSACN:
		sc := c.cfg.SACN
		sc.Universe = uint16(id)
		if sc.Destination == "" {
			sc.Destination = c.cfg.Destination
		}
		if sc.Logger == nil {
			sc.Logger = c.log
		}
		return sacn.NewSender(sc)
	}
	return nil, fmt.Errorf("dmx: unknown protocol %q", c.cfg.Protocol)
}

// Universe returns a universe buffer, or nil when it was never added.
func (c *Controller) Universe(id int) *Universe {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[id]; ok {
		return entry.universe
	}
	return nil
}

// Universes returns the ids of every added universe.
func (c *Controller) Universes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.entries))
	for id := range c.entries {
		out = append(out, id)
	}
	return out
}

// SetChannel writes one channel of one universe.
func (c *Controller) SetChannel(universe, channel int, value float64) error {
	u := c.Universe(universe)
	if u == nil {
		return fmt.Errorf("dmx: universe %d not added", universe)
	}
	return u.SetChannel(channel, value)
}

// SetFrame replaces a universe's frame.
func (c *Controller) SetFrame(universe int, frame []byte) error {
	u := c.Universe(universe)
	if u == nil {
		return fmt.Errorf("dmx: universe %d not added", universe)
	}
	u.SetFrame(frame)
	return nil
}

// FlushOptions tunes a flush.
type FlushOptions struct {
	// Universe restricts the flush to one universe when positive.
	Universe int
	// Force transmits even when the dirty flag is clear.
	Force bool
}

// Flush transmits every dirty universe (or the selected one). With
// ArtSync enabled, exactly one sync pulse follows when at least one
// universe was sent.
func (c *Controller) Flush(opts FlushOptions) error {
	c.mu.Lock()
	var targets []*universeEntry
	if opts.Universe > 0 {
		entry, ok := c.entries[opts.Universe]
		if !ok {
			c.mu.Unlock()
			return fmt.Errorf("dmx: universe %d not added", opts.Universe)
		}
		targets = append(targets, entry)
	} else {
		for _, entry := range c.entries {
			targets = append(targets, entry)
		}
	}
	c.mu.Unlock()

	var firstErr error
	sent := 0
	var syncer SyncSender
	for _, entry := range targets {
		if !entry.universe.ConsumeDirty() && !opts.Force {
			continue
		}
		if err := entry.sender.SendRaw(entry.universe.Frame()); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
		if syncer == nil {
			if s, ok := entry.sender.(SyncSender); ok {
				syncer = s
			}
		}
	}

	if c.cfg.ArtSync && sent > 0 && syncer != nil {
		if err := syncer.SendSync(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close releases every sender. The controller cannot be reused.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var firstErr error
	for id, entry := range c.entries {
		if err := entry.sender.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.entries, id)
	}
	return firstErr
}
