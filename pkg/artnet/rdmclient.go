package artnet

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Datalab-Rotterdam/node-dmx/pkg/rdm"
)

// RdmClientConfig configures an RdmClient.
type RdmClientConfig struct {
	// Host is the node or broadcast address. Defaults to the limited
	// broadcast address.
	Host string
	// Port defaults to 6454.
	Port int
	// BindAddr is the local listen address ("" listens on all
	// interfaces, port 6454).
	BindAddr string
	// Timeout is the response collection window. Defaults to 3s.
	Timeout time.Duration
	// ControllerUID is the source UID stamped on RDM requests this
	// client originates.
	ControllerUID rdm.UID
	Logger        *logrus.Logger
}

// RdmClient runs RDM management traffic over Art-Net: TOD collection
// via OpTodRequest/OpTodData and request/response transactions via
// OpRdm. It also satisfies rdm.Transport, so rdm.Discover can run
// binary-split discovery through it.
type RdmClient struct {
	mu    sync.Mutex
	conn  *net.UDPConn
	raddr *net.UDPAddr
	cfg   RdmClientConfig
	tn    byte
	log   *logrus.Logger
}

// NewRdmClient binds the local Art-Net port and returns a ready client.
func NewRdmClient(cfg RdmClientConfig) (*RdmClient, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultBroadcastAddr
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	bind := cfg.BindAddr
	if bind == "" {
		bind = ":" + strconv.Itoa(DefaultPort)
	}
	laddr, err := net.ResolveUDPAddr("udp4", bind)
	if err != nil {
		return nil, fmt.Errorf("artnet: resolve bind address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("artnet: listen: %w", err)
	}
	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("artnet: resolve destination: %w", err)
	}
	return &RdmClient{conn: conn, raddr: raddr, cfg: cfg, log: log}, nil
}

// Close releases the socket.
func (c *RdmClient) Close() error {
	return c.conn.Close()
}

func (c *RdmClient) nextTransaction() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tn++
	return c.tn
}

// GetTod broadcasts an OpTodRequest for the universe and collects
// OpTodData replies until the configured timeout, returning the
// concatenated UID list.
func (c *RdmClient) GetTod(ctx context.Context, universe int) ([]rdm.UID, error) {
	request, err := BuildTodRequest(universe)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.WriteToUDP(request, c.raddr); err != nil {
		return nil, fmt.Errorf("artnet: send OpTodRequest: %w", err)
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var uids []rdm.UID
	buf := make([]byte, 2048)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return uids, err
		}
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return uids, nil
			}
			return uids, fmt.Errorf("artnet: read: %w", err)
		}
		td, err := ParseTodData(buf[:n])
		if err != nil || td == nil {
			continue
		}
		if td.Universe != universe {
			continue
		}
		uids = append(uids, td.UIDs...)
	}
}

// FlushTod sends an OpTodControl AtcFlush, forcing the target node to
// run discovery again and rebuild its Table of Devices for the
// universe. Pair with GetTod to pick up the refreshed table.
func (c *RdmClient) FlushTod(ctx context.Context, universe int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	packet, err := BuildTodControl(universe, TodControlAtcFlush)
	if err != nil {
		return err
	}
	if _, err := c.conn.WriteToUDP(packet, c.raddr); err != nil {
		return fmt.Errorf("artnet: send OpTodControl: %w", err)
	}
	return nil
}

// Transaction sends an RDM request wrapped in OpRdm and waits for at
// most one decodable RDM response.
func (c *RdmClient) Transaction(ctx context.Context, universe int, req *rdm.Frame) (*rdm.Frame, error) {
	if req.TransactionNumber == 0 {
		req.TransactionNumber = c.nextTransaction()
	}
	encoded, err := req.Encode()
	if err != nil {
		return nil, err
	}
	packet, err := BuildArtRdm(universe, encoded)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.WriteToUDP(packet, c.raddr); err != nil {
		return nil, fmt.Errorf("artnet: send OpRdm: %w", err)
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	buf := make([]byte, 2048)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, fmt.Errorf("artnet: RDM transaction timed out after %v", c.cfg.Timeout)
			}
			return nil, fmt.Errorf("artnet: read: %w", err)
		}
		_, frame, err := ParseArtRdm(buf[:n])
		if err != nil || frame == nil {
			continue
		}
		resp, err := rdm.DecodeFrame(frame)
		if err != nil {
			continue
		}
		if !resp.IsResponse() {
			continue
		}
		return resp, nil
	}
}

// SendRequest transmits an RDM request without waiting for a reply.
// Part of the rdm discovery fallback contract.
func (c *RdmClient) SendRequest(ctx context.Context, req *rdm.Frame) error {
	encoded, err := req.Encode()
	if err != nil {
		return err
	}
	packet, err := BuildArtRdm(1, encoded)
	if err != nil {
		return err
	}
	_, err = c.conn.WriteToUDP(packet, c.raddr)
	return err
}

// SendDiscoveryUniqueBranch broadcasts a DISC_UNIQUE_BRANCH covering
// [lo, hi] and returns the raw response payloads collected within the
// timeout window. Implements rdm.Transport.
func (c *RdmClient) SendDiscoveryUniqueBranch(ctx context.Context, lo, hi rdm.UID) ([][]byte, error) {
	req := &rdm.Frame{
		Destination:       rdm.UIDBroadcastAll,
		Source:            c.cfg.ControllerUID,
		TransactionNumber: c.nextTransaction(),
		PortID:            1,
		CommandClass:      rdm.DiscoveryCommand,
		ParameterID:       rdm.ParamDiscUniqueBranch,
		ParameterData:     append(lo.Bytes(), hi.Bytes()...),
	}
	encoded, err := req.Encode()
	if err != nil {
		return nil, err
	}
	packet, err := BuildArtRdm(1, encoded)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.WriteToUDP(packet, c.raddr); err != nil {
		return nil, fmt.Errorf("artnet: send DISC_UNIQUE_BRANCH: %w", err)
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var responses [][]byte
	buf := make([]byte, 2048)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return responses, err
		}
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return responses, nil
			}
			return responses, fmt.Errorf("artnet: read: %w", err)
		}
		_, payload, err := ParseArtRdm(buf[:n])
		if err != nil || payload == nil {
			continue
		}
		// Discovery responses are not framed RDM messages; hand the raw
		// payload (start code stripped back off) to the decoder.
		responses = append(responses, payload[1:])
	}
}
