package rdmnet

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Datalab-Rotterdam/node-dmx/internal/events"
	"github.com/Datalab-Rotterdam/node-dmx/pkg/rdm"
)

// BrokerState is the broker session state machine's current state.
type BrokerState int

const (
	StateDisconnected BrokerState = iota
	StateTCPConnected
	StateConnecting
	StateConnected
	StateBinding
	StateBound
	StateError
)

func (s BrokerState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateTCPConnected:
		return "tcp_connected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBinding:
		return "binding"
	case StateBound:
		return "bound"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Default timings.
const (
	DefaultHeartbeatInterval     = 15 * time.Second
	DefaultRequestTimeout        = 5 * time.Second
	DefaultInitialReconnectDelay = 500 * time.Millisecond
	DefaultMaxReconnectDelay     = 10 * time.Second
	DefaultStreamBufferLimit     = 1 << 20
)

// ErrSocketClosed rejects pending waiters when the connection drops.
var ErrSocketClosed = errors.New("rdmnet: socket closed")

// ClientConfig configures a Client.
type ClientConfig struct {
	Host string
	// Port defaults to 8888, or to 5569 when TLS is set.
	Port int
	// TLS switches the transport to TLS.
	TLS bool
	// TLSConfig is cloned before use; ServerName defaults to Host.
	TLSConfig *tls.Config
	// RequireTLSAuthorization controls peer certificate verification
	// under TLS. Defaults to true.
	RequireTLSAuthorization *bool
	// CID identifies this component; a random UUID is generated per
	// packet when zero.
	CID [16]byte
	// PostConnectAuth runs after the socket is ready; an error fails
	// the connect.
	PostConnectAuth func(ctx context.Context, conn net.Conn) error
	// Dial overrides the transport entirely (used by tests and custom
	// tunnels).
	Dial func(ctx context.Context) (net.Conn, error)

	HeartbeatInterval time.Duration
	// HeartbeatVector is the root vector of the bare keepalive packet
	// sent while no broker session is established. Defaults to the
	// broker root vector.
	HeartbeatVector       uint32
	RequestTimeout        time.Duration
	AutoReconnect         bool
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	StreamBufferLimit     int

	Logger *logrus.Logger
}

type waitResult struct {
	msg interface{}
	err error
}

type waiter struct {
	match func(interface{}) bool
	ch    chan waitResult
	timer *time.Timer
	once  sync.Once
}

func (w *waiter) resolve(msg interface{}, err error) {
	w.once.Do(func() {
		if w.timer != nil {
			w.timer.Stop()
		}
		w.ch <- waitResult{msg: msg, err: err}
	})
}

// Client is an RDMnet stream client: it frames root-layer packets over
// a TCP or TLS connection, correlates request/response transactions,
// runs the broker session state machine, caches endpoint capabilities
// and drives heartbeats and reconnects.
type Client struct {
	cfg ClientConfig
	log *logrus.Logger
	em  *events.Emitter

	mu               sync.Mutex
	writeMu          sync.Mutex
	conn             net.Conn
	rxBuf            []byte
	waiters          []*waiter
	state            BrokerState
	clientID         uint32
	caps             *capabilityCache
	seq              uint32
	heartbeatStop    chan struct{}
	manualClose      bool
	connecting       chan struct{}
	connectErr       error
	reconnectTimer   *time.Timer
	reconnectAttempt int
}

// NewClient creates a Client; Connect must be called before use.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Port <= 0 {
		if cfg.TLS {
			cfg.Port = DefaultTLSPort
		} else {
			cfg.Port = DefaultPort
		}
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.HeartbeatVector == 0 {
		cfg.HeartbeatVector = VectorRootBroker
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.InitialReconnectDelay <= 0 {
		cfg.InitialReconnectDelay = DefaultInitialReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if cfg.StreamBufferLimit <= 0 {
		cfg.StreamBufferLimit = DefaultStreamBufferLimit
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		cfg:   cfg,
		log:   log,
		em:    events.New(),
		state: StateDisconnected,
		caps:  newCapabilityCache(),
	}
}

// Event registration. Listener order is insertion order.

// OnMessage fires for every decoded inbound packet.
func (c *Client) OnMessage(fn func(*RootPacket, interface{})) int {
	return c.em.On("message", func(args ...interface{}) {
		fn(args[0].(*RootPacket), args[1])
	})
}

// OnBrokerMessage fires for every inbound broker message.
func (c *Client) OnBrokerMessage(fn func(BrokerMessage)) int {
	return c.em.On("brokerMessage", func(args ...interface{}) {
		fn(args[0].(BrokerMessage))
	})
}

// OnRptMessage fires for every inbound RPT message.
func (c *Client) OnRptMessage(fn func(RptMessage)) int {
	return c.em.On("rptMessage", func(args ...interface{}) {
		fn(args[0].(RptMessage))
	})
}

// OnEptMessage fires for every inbound EPT message.
func (c *Client) OnEptMessage(fn func(EptMessage)) int {
	return c.em.On("eptMessage", func(args ...interface{}) {
		fn(args[0].(EptMessage))
	})
}

// OnLlrpMessage fires for every inbound LLRP message.
func (c *Client) OnLlrpMessage(fn func(LlrpMessage)) int {
	return c.em.On("llrpMessage", func(args ...interface{}) {
		fn(args[0].(LlrpMessage))
	})
}

// OnBrokerState fires on every session state transition.
func (c *Client) OnBrokerState(fn func(BrokerState)) int {
	return c.em.On("brokerState", func(args ...interface{}) {
		fn(args[0].(BrokerState))
	})
}

// OnError fires for decode errors, framing errors and socket errors.
func (c *Client) OnError(fn func(error)) int {
	return c.em.On("error", func(args ...interface{}) {
		fn(args[0].(error))
	})
}

// OnReconnecting fires before each reconnect attempt.
func (c *Client) OnReconnecting(fn func(attempt int, delay time.Duration)) int {
	return c.em.On("reconnecting", func(args ...interface{}) {
		fn(args[0].(int), args[1].(time.Duration))
	})
}

// OnHeartbeat fires after every transmitted heartbeat.
func (c *Client) OnHeartbeat(fn func()) int {
	return c.em.On("heartbeat", func(...interface{}) { fn() })
}

// OnEndpointCapabilitiesUpdated fires when an endpoint's role,
// provenance or profile list actually changes.
func (c *Client) OnEndpointCapabilitiesUpdated(fn func(EndpointCapability)) int {
	return c.em.On("endpointCapabilitiesUpdated", func(args ...interface{}) {
		fn(args[0].(EndpointCapability))
	})
}

// State returns the current broker session state.
func (c *Client) State() BrokerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ClientID returns the broker-assigned client id (0 when unconnected).
func (c *Client) ClientID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Capability returns the cached capability entry for an endpoint.
func (c *Client) Capability(endpointID uint16) (EndpointCapability, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps.get(endpointID)
}

// Capabilities returns every cached capability entry.
func (c *Client) Capabilities() []EndpointCapability {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps.all()
}

// setState transitions the state machine, emitting brokerState when the
// state actually changes. Callers must not hold c.mu.
func (c *Client) setState(next BrokerState) {
	c.mu.Lock()
	changed := c.state != next
	c.state = next
	c.mu.Unlock()
	if changed {
		c.em.Emit("brokerState", next)
	}
}

// nextSequence increments the 32-bit counter, skipping 0.
func (c *Client) nextSequence() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	if c.seq == 0 {
		c.seq = 1
	}
	return c.seq
}

// Connect opens the transport. It is idempotent and coalesces
// concurrent callers onto a single attempt.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if c.connecting != nil {
		ch := c.connecting
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
		err := c.connectErr
		c.mu.Unlock()
		return err
	}
	ch := make(chan struct{})
	c.connecting = ch
	c.manualClose = false
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err == nil && c.cfg.PostConnectAuth != nil {
		if authErr := c.cfg.PostConnectAuth(ctx, conn); authErr != nil {
			conn.Close()
			conn = nil
			err = fmt.Errorf("rdmnet: post-connect auth: %w", authErr)
		}
	}

	c.mu.Lock()
	c.connecting = nil
	c.connectErr = err
	if err != nil {
		c.mu.Unlock()
		close(ch)
		return err
	}
	c.conn = conn
	c.rxBuf = nil
	c.state = StateTCPConnected
	c.reconnectAttempt = 0
	hbStop := make(chan struct{})
	c.heartbeatStop = hbStop
	c.mu.Unlock()
	close(ch)

	c.log.Infof("rdmnet: connected to %s", conn.RemoteAddr())
	c.em.Emit("brokerState", StateTCPConnected)
	go c.readLoop(conn)
	go c.heartbeatLoop(hbStop)
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if c.cfg.Dial != nil {
		return c.cfg.Dial(ctx)
	}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	if !c.cfg.TLS {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("rdmnet: dial %s: %w", addr, err)
		}
		return conn, nil
	}

	var tlsCfg *tls.Config
	if c.cfg.TLSConfig != nil {
		tlsCfg = c.cfg.TLSConfig.Clone()
	} else {
		tlsCfg = &tls.Config{}
	}
	if tlsCfg.ServerName == "" {
		tlsCfg.ServerName = c.cfg.Host
	}
	require := true
	if c.cfg.RequireTLSAuthorization != nil {
		require = *c.cfg.RequireTLSAuthorization
	}
	tlsCfg.InsecureSkipVerify = !require

	d := &tls.Dialer{Config: tlsCfg}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rdmnet: dial tls %s: %w", addr, err)
	}
	return conn, nil
}

// Disconnect closes the transport, cancels any reconnect timer and
// rejects every pending waiter.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manualClose = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// readLoop owns the reassembly buffer: it appends every chunk, drains
// complete packets and dispatches them in arrival order.
func (c *Client) readLoop(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, readErr := conn.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.rxBuf = append(c.rxBuf, buf[:n]...)
			if len(c.rxBuf) > c.cfg.StreamBufferLimit {
				size := len(c.rxBuf)
				c.mu.Unlock()
				c.em.Emit("error", newError(DomainTransport, CodeStreamFraming,
					"stream buffer exceeded %d bytes (%d buffered)", c.cfg.StreamBufferLimit, size))
				conn.Close()
				c.handleClose(conn)
				return
			}
			packets, rest, frameErr := ExtractPackets(c.rxBuf)
			c.rxBuf = rest
			c.mu.Unlock()

			for _, pkt := range packets {
				c.dispatch(pkt)
			}
			if frameErr != nil {
				c.em.Emit("error", &Error{
					Domain: DomainTransport, Code: CodeStreamFraming, Err: frameErr,
				})
				conn.Close()
				c.handleClose(conn)
				return
			}
		}
		if readErr != nil {
			c.handleClose(conn)
			return
		}
	}
}

// handleClose transitions to Disconnected, rejects waiters and kicks
// off reconnection when configured.
func (c *Client) handleClose(conn net.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.rxBuf = nil
	c.clientID = 0
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	pending := c.waiters
	c.waiters = nil
	changed := c.state != StateDisconnected
	c.state = StateDisconnected
	manual := c.manualClose
	c.mu.Unlock()

	for _, w := range pending {
		w.resolve(nil, ErrSocketClosed)
	}
	if changed {
		c.em.Emit("brokerState", StateDisconnected)
	}
	c.log.Infof("rdmnet: connection closed")

	if !manual && c.cfg.AutoReconnect {
		c.scheduleReconnect()
	}
}

// scheduleReconnect arms the next reconnect attempt with exponential
// backoff: min(initial * 2^(attempt-1), max).
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	c.reconnectAttempt++
	attempt := c.reconnectAttempt
	delay := c.cfg.InitialReconnectDelay
	for i := 1; i < attempt && delay < c.cfg.MaxReconnectDelay; i++ {
		delay *= 2
	}
	if delay > c.cfg.MaxReconnectDelay {
		delay = c.cfg.MaxReconnectDelay
	}
	c.reconnectTimer = time.AfterFunc(delay, func() {
		if err := c.Connect(context.Background()); err != nil {
			c.mu.Lock()
			manual := c.manualClose
			c.mu.Unlock()
			if !manual && c.cfg.AutoReconnect {
				c.scheduleReconnect()
			}
		}
	})
	c.mu.Unlock()

	c.log.Infof("rdmnet: reconnect attempt %d in %v", attempt, delay)
	c.em.Emit("reconnecting", attempt, delay)
}

// dispatch decodes one packet by root vector, emits the typed events,
// applies session side effects and resolves matching waiters. Decode
// errors are reported but never tear down the connection.
func (c *Client) dispatch(pkt *RootPacket) {
	// A zero-data root packet is a peer keepalive regardless of vector.
	if len(pkt.Data) == 0 {
		c.em.Emit("message", pkt, nil)
		return
	}

	var msg interface{}
	var err error
	var domain string

	switch pkt.Vector {
	case VectorRootBroker:
		domain = DomainBroker
		msg, err = DecodeBrokerMessage(pkt.Data)
	case VectorRootRpt:
		domain = DomainRpt
		msg, err = DecodeRptMessage(pkt.Data)
	case VectorRootEpt:
		domain = DomainEpt
		msg, err = DecodeEptMessage(pkt.Data)
	case VectorRootLlrp:
		domain = DomainLlrp
		msg, err = DecodeLlrpMessage(pkt.Data)
	default:
		c.em.Emit("error", newError(DomainTransport, CodeProtocolError,
			"unknown root vector 0x%08x", pkt.Vector))
		return
	}
	if err != nil {
		c.em.Emit("error", decodeError(domain, err))
		return
	}

	c.em.Emit("message", pkt, msg)
	// Route by root vector: the message interfaces share method sets, so a
	// type switch over them cannot tell Broker, EPT and LLRP apart.
	switch pkt.Vector {
	case VectorRootBroker:
		m := msg.(BrokerMessage)
		c.em.Emit("brokerMessage", m)
		c.handleBrokerMessage(m)
	case VectorRootRpt:
		m := msg.(RptMessage)
		c.em.Emit("rptMessage", m)
		c.handleRptMessage(m)
	case VectorRootEpt:
		c.em.Emit("eptMessage", msg.(EptMessage))
	case VectorRootLlrp:
		c.em.Emit("llrpMessage", msg.(LlrpMessage))
	}

	// Matching waiters are removed before any resolver runs so one
	// packet can never resolve the same waiter twice.
	c.mu.Lock()
	var matched []*waiter
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if w.match(msg) {
			matched = append(matched, w)
		} else {
			kept = append(kept, w)
		}
	}
	c.waiters = kept
	c.mu.Unlock()

	for _, w := range matched {
		w.resolve(msg, nil)
	}
}

func (c *Client) handleBrokerMessage(m BrokerMessage) {
	if _, ok := m.(*Disconnect); !ok {
		return
	}
	c.mu.Lock()
	inSession := c.state == StateConnected || c.state == StateBound
	if inSession {
		c.clientID = 0
		c.caps.clear()
	}
	c.mu.Unlock()
	if inSession {
		c.log.Infof("rdmnet: broker disconnected the session")
		c.setState(StateTCPConnected)
	}
}

func (c *Client) handleRptMessage(m RptMessage) {
	adv, ok := m.(*RptEndpointAdvertisement)
	if !ok {
		return
	}
	c.mu.Lock()
	entry, changed := c.caps.update(adv.EndpointID, adv.Role, adv.Profiles, SourceRemoteAdvertisement)
	c.mu.Unlock()
	if changed {
		c.em.Emit("endpointCapabilitiesUpdated", entry)
	}
}

// registerWaiter enqueues a predicate with a deadline. The waiter is
// armed immediately; callers register before sending the request so a
// fast reply can never slip past.
func (c *Client) registerWaiter(match func(interface{}) bool, timeout time.Duration) *waiter {
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}
	w := &waiter{match: match, ch: make(chan waitResult, 1)}

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		w.resolve(nil, ErrSocketClosed)
		return w
	}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	w.timer = time.AfterFunc(timeout, func() {
		c.removeWaiter(w)
		w.resolve(nil, &Error{
			Domain:  DomainTimeout,
			Code:    CodeResponseTimeout,
			Message: fmt.Sprintf("no matching response within %v", timeout),
		})
	})
	return w
}

func (w *waiter) await() (interface{}, error) {
	res := <-w.ch
	return res.msg, res.err
}

// WaitForMessage blocks until a message matching the predicate arrives,
// the timeout passes, or the connection drops.
func (c *Client) WaitForMessage(match func(interface{}) bool, timeout time.Duration) (interface{}, error) {
	return c.registerWaiter(match, timeout).await()
}

func (c *Client) removeWaiter(w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cand := range c.waiters {
		if cand == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// sendRoot frames and writes one root-layer packet.
func (c *Client) sendRoot(vector uint32, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrSocketClosed
	}

	packet := BuildPacket(vector, data, c.cfg.CID)
	c.writeMu.Lock()
	_, err := conn.Write(packet)
	c.writeMu.Unlock()
	if err != nil {
		werr := &Error{Domain: DomainTransport, Code: CodeProtocolError, Err: err}
		c.em.Emit("error", werr)
		return werr
	}
	return nil
}

// SendBrokerMessage frames a broker message under the broker root
// vector.
func (c *Client) SendBrokerMessage(m BrokerMessage) error {
	return c.sendRoot(VectorRootBroker, m.Encode())
}

// SendRptMessage frames an RPT message under the RPT root vector.
func (c *Client) SendRptMessage(m RptMessage) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return c.sendRoot(VectorRootRpt, data)
}

// SendEptMessage frames an EPT message under the EPT root vector.
func (c *Client) SendEptMessage(m EptMessage) error {
	return c.sendRoot(VectorRootEpt, m.Encode())
}

// SendLlrpMessage frames an LLRP message under the LLRP root vector.
func (c *Client) SendLlrpMessage(m LlrpMessage) error {
	return c.sendRoot(VectorRootLlrp, m.Encode())
}

// SessionOptions parameterizes StartBrokerSession.
type SessionOptions struct {
	// Scope defaults to "default".
	Scope string
	// Role defaults to RoleController.
	Role       Role
	EndpointID uint16
	// AutoBind continues into the bind step after a successful connect.
	AutoBind bool
	// EndpointRole is the role requested in the bind; defaults to Role.
	EndpointRole Role
	Profiles     []uint16
	// StrictNegotiation fails the session when the broker's negotiated
	// role or profile deviates from the request.
	StrictNegotiation bool
	// Timeout bounds each request; defaults to the client request
	// timeout.
	Timeout time.Duration
}

// StartBrokerSession runs the connect (and optionally bind) handshake
// against the broker. On success the session is Connected, or Bound
// when AutoBind is set.
func (c *Client) StartBrokerSession(opts SessionOptions) error {
	if opts.Scope == "" {
		opts.Scope = "default"
	}
	if opts.Role == 0 {
		opts.Role = RoleController
	}
	if opts.EndpointRole == 0 {
		opts.EndpointRole = opts.Role
	}

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrSocketClosed
	}
	c.mu.Unlock()

	// Connect step: the waiter is registered before the request goes
	// out.
	connectSeq := c.nextSequence()
	connectWaiter := c.registerWaiter(func(m interface{}) bool {
		reply, ok := m.(*ConnectReply)
		return ok && reply.Sequence == connectSeq
	}, opts.Timeout)

	c.setState(StateConnecting)
	if err := c.SendBrokerMessage(&ConnectRequest{
		Sequence: connectSeq,
		Role:     opts.Role,
		Scope:    opts.Scope,
	}); err != nil {
		c.setState(StateError)
		return err
	}

	msg, err := connectWaiter.await()
	if err != nil {
		c.setState(StateError)
		return err
	}
	connectReply := msg.(*ConnectReply)
	if connectReply.StatusCode != StatusOk {
		c.setState(StateError)
		return brokerStatusError(connectReply.StatusCode, connectReply.Text)
	}

	c.mu.Lock()
	c.clientID = connectReply.ClientID
	c.mu.Unlock()
	c.setState(StateConnected)
	c.log.Infof("rdmnet: broker session connected, client id %d", connectReply.ClientID)
	if !opts.AutoBind {
		return nil
	}

	// Bind step: the reply must match both the sequence and the
	// endpoint.
	bindSeq := c.nextSequence()
	bindWaiter := c.registerWaiter(func(m interface{}) bool {
		reply, ok := m.(*ClientBindReply)
		return ok && reply.Sequence == bindSeq && reply.EndpointID == opts.EndpointID
	}, opts.Timeout)

	c.setState(StateBinding)
	if err := c.SendBrokerMessage(&ClientBindRequest{
		Sequence:      bindSeq,
		EndpointID:    opts.EndpointID,
		RequestedRole: opts.EndpointRole,
		Profiles:      opts.Profiles,
	}); err != nil {
		c.setState(StateError)
		return err
	}

	msg, err = bindWaiter.await()
	if err != nil {
		c.setState(StateError)
		return err
	}
	bindReply := msg.(*ClientBindReply)
	if bindReply.StatusCode != StatusOk {
		c.setState(StateError)
		return brokerStatusError(bindReply.StatusCode, bindReply.Text)
	}

	if opts.StrictNegotiation {
		if bindReply.NegotiatedRole != opts.EndpointRole {
			c.setState(StateError)
			return newError(DomainBroker, CodeNegotiationRoleMismatch,
				"requested %v, broker negotiated %v", opts.EndpointRole, bindReply.NegotiatedRole)
		}
		if len(opts.Profiles) > 0 && !containsProfile(opts.Profiles, bindReply.NegotiatedProfile) {
			c.setState(StateError)
			return newError(DomainBroker, CodeNegotiationProfileMismatch,
				"broker negotiated profile 0x%04x outside the requested set", bindReply.NegotiatedProfile)
		}
	}

	profiles := []uint16{bindReply.NegotiatedProfile}
	if bindReply.NegotiatedProfile == 0 {
		profiles = opts.Profiles
	}
	c.mu.Lock()
	entry, changed := c.caps.update(opts.EndpointID, bindReply.NegotiatedRole, profiles, SourceBrokerNegotiation)
	c.mu.Unlock()
	if changed {
		c.em.Emit("endpointCapabilitiesUpdated", entry)
	}
	c.setState(StateBound)
	c.log.Infof("rdmnet: endpoint %d bound as %v", opts.EndpointID, bindReply.NegotiatedRole)
	return nil
}

func containsProfile(profiles []uint16, p uint16) bool {
	for _, cand := range profiles {
		if cand == p {
			return true
		}
	}
	return false
}

// StopBrokerSession sends a Disconnect and drops back to TCPConnected,
// clearing the client id and the capability cache.
func (c *Client) StopBrokerSession(reason uint16, text string) error {
	err := c.SendBrokerMessage(&Disconnect{
		Sequence: c.nextSequence(),
		Reason:   reason,
		Text:     text,
	})
	c.mu.Lock()
	c.clientID = 0
	c.caps.clear()
	c.mu.Unlock()
	c.setState(StateTCPConnected)
	return err
}

// RdmTransaction sends an RDM request through RPT and waits for the
// correlated RdmResponse, returning the embedded response frame.
func (c *Client) RdmTransaction(req *rdm.Frame, endpointID uint16, timeout time.Duration) (*rdm.Frame, error) {
	seq := c.nextSequence()
	w := c.registerWaiter(func(m interface{}) bool {
		resp, ok := m.(*RptRdm)
		return ok && resp.Response && resp.Sequence == seq
	}, timeout)

	if err := c.SendRptMessage(&RptRdm{
		Sequence:   seq,
		EndpointID: endpointID,
		Frame:      req,
	}); err != nil {
		return nil, err
	}

	msg, err := w.await()
	if err != nil {
		return nil, err
	}
	return msg.(*RptRdm).Frame, nil
}

// SendRdmCommand is the fire-and-forget variant of RdmTransaction,
// returning the allocated sequence.
func (c *Client) SendRdmCommand(req *rdm.Frame, endpointID uint16) (uint32, error) {
	seq := c.nextSequence()
	err := c.SendRptMessage(&RptRdm{
		Sequence:   seq,
		EndpointID: endpointID,
		Frame:      req,
	})
	return seq, err
}

// SendEndpointAdvertisement announces an endpoint's role and profiles,
// updates the local capability cache and returns the allocated
// sequence.
func (c *Client) SendEndpointAdvertisement(endpointID uint16, role Role, profiles []uint16) (uint32, error) {
	seq := c.nextSequence()
	if err := c.SendRptMessage(&RptEndpointAdvertisement{
		Sequence:   seq,
		EndpointID: endpointID,
		Role:       role,
		Profiles:   profiles,
	}); err != nil {
		return 0, err
	}

	c.mu.Lock()
	entry, changed := c.caps.update(endpointID, role, profiles, SourceLocalAdvertisement)
	c.mu.Unlock()
	if changed {
		c.em.Emit("endpointCapabilitiesUpdated", entry)
	}
	return seq, nil
}

// WaitForEndpointAdvertisementAck blocks until the matching ack
// arrives.
func (c *Client) WaitForEndpointAdvertisementAck(seq uint32, endpointID uint16, timeout time.Duration) (*RptEndpointAdvertisementAck, error) {
	msg, err := c.WaitForMessage(func(m interface{}) bool {
		ack, ok := m.(*RptEndpointAdvertisementAck)
		return ok && ack.Sequence == seq && ack.EndpointID == endpointID
	}, timeout)
	if err != nil {
		return nil, err
	}
	return msg.(*RptEndpointAdvertisementAck), nil
}

// DiscoverLlrpTargets probes the UID range and collects ProbeReply
// targets for the duration of the timeout. Replies are deduplicated by
// target UID.
func (c *Client) DiscoverLlrpTargets(ctx context.Context, lower, upper rdm.UID, timeout time.Duration) ([]rdm.UID, error) {
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}
	seq := c.nextSequence()

	var mu sync.Mutex
	found := make(map[rdm.UID]struct{})
	id := c.em.On("llrpMessage", func(args ...interface{}) {
		reply, ok := args[0].(*LlrpProbeReply)
		if !ok || reply.Sequence != seq {
			return
		}
		mu.Lock()
		found[reply.TargetUID] = struct{}{}
		mu.Unlock()
	})
	defer c.em.Off("llrpMessage", id)

	if err := c.SendLlrpMessage(&LlrpProbeRequest{
		Sequence: seq,
		LowerUID: lower,
		UpperUID: upper,
	}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
	}

	mu.Lock()
	defer mu.Unlock()
	targets := make([]rdm.UID, 0, len(found))
	for uid := range found {
		targets = append(targets, uid)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Cmp(targets[j]) < 0 })
	return targets, nil
}

// ClientList queries the broker for the scope's connected client ids.
func (c *Client) ClientList(timeout time.Duration) ([]uint32, error) {
	seq := c.nextSequence()
	w := c.registerWaiter(func(m interface{}) bool {
		reply, ok := m.(*ClientListReply)
		return ok && reply.Sequence == seq
	}, timeout)

	if err := c.SendBrokerMessage(&ClientListRequest{Sequence: seq}); err != nil {
		return nil, err
	}
	msg, err := w.await()
	if err != nil {
		return nil, err
	}
	reply := msg.(*ClientListReply)
	if reply.StatusCode != StatusOk {
		return nil, brokerStatusError(reply.StatusCode, "")
	}
	return reply.ClientIDs, nil
}

// EndpointList queries the broker for its known endpoint ids.
func (c *Client) EndpointList(timeout time.Duration) ([]uint16, error) {
	seq := c.nextSequence()
	w := c.registerWaiter(func(m interface{}) bool {
		reply, ok := m.(*EndpointListReply)
		return ok && reply.Sequence == seq
	}, timeout)

	if err := c.SendBrokerMessage(&EndpointListRequest{Sequence: seq}); err != nil {
		return nil, err
	}
	msg, err := w.await()
	if err != nil {
		return nil, err
	}
	reply := msg.(*EndpointListReply)
	if reply.StatusCode != StatusOk {
		return nil, brokerStatusError(reply.StatusCode, "")
	}
	return reply.Endpoints, nil
}

// heartbeatLoop sends a Broker Heartbeat while a session is
// established, otherwise a bare root packet with the configured
// heartbeat vector.
func (c *Client) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			state := c.state
			c.mu.Unlock()

			var err error
			if state == StateConnected || state == StateBound {
				err = c.SendBrokerMessage(&Heartbeat{Sequence: c.nextSequence()})
			} else {
				err = c.sendRoot(c.cfg.HeartbeatVector, nil)
			}
			if err == nil {
				c.em.Emit("heartbeat")
			}
		}
	}
}
