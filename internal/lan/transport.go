package lan

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/duwi2024/duwi-bridge/internal/infrastructure/config"
	"github.com/duwi2024/duwi-bridge/internal/infrastructure/logging"
	"github.com/duwi2024/duwi-bridge/internal/wire"
)

// readBufferSize bounds a single inbound datagram. Terminal frames are
// hex-encoded JSON and stay well under this.
const readBufferSize = 8192

// Listener receives every decoded application message plus the synthetic
// terminal.host online/offline messages the transport generates itself.
type Listener func(msg *wire.Message)

// Transport is the encrypted UDP multicast link to the LAN terminals.
//
// It owns host liveness: a heartbeat loop probes every tracked host each
// interval, and any valid inbound frame refreshes the sender's liveness.
// Hosts missing three consecutive cycles are declared offline.
type Transport struct {
	cfg   config.LANConfig
	log   *logging.Logger
	hosts *HostTracker

	group *net.UDPAddr

	connMu   sync.Mutex
	recvConn *net.UDPConn
	sendConn *net.UDPConn

	listenerMu sync.RWMutex
	listeners  []namedListener

	heartbeatEvery time.Duration
}

// NewTransport builds a transport around an empty host tracker. Call
// Start to open sockets and begin the receive and heartbeat loops.
func NewTransport(cfg config.LANConfig, log *logging.Logger) *Transport {
	return &Transport{
		cfg:            cfg,
		log:            log.With("component", "lan"),
		hosts:          NewHostTracker(),
		heartbeatEvery: time.Duration(cfg.HeartbeatInterval) * time.Second,
	}
}

// Hosts exposes the tracker so the supervisor can sync host sets.
func (t *Transport) Hosts() *HostTracker {
	return t.hosts
}

// Start joins the multicast group and launches the receive and heartbeat
// loops. Both stop when ctx is cancelled.
func (t *Transport) Start(ctx context.Context) error {
	group := net.JoinHostPort(t.cfg.MulticastGroup, fmt.Sprint(t.cfg.Port))
	addr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return fmt.Errorf("resolving multicast group %s: %w", group, err)
	}

	recvConn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("joining multicast group %s: %w", group, err)
	}
	if err := recvConn.SetReadBuffer(readBufferSize); err != nil {
		t.log.Debug("set read buffer failed", "error", err)
	}

	sendConn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		recvConn.Close()
		return fmt.Errorf("opening send socket: %w", err)
	}

	t.connMu.Lock()
	t.group = addr
	t.recvConn = recvConn
	t.sendConn = sendConn
	t.connMu.Unlock()

	go t.receiveLoop(ctx)
	go t.heartbeatLoop(ctx)

	t.log.Info("lan transport started",
		"group", t.cfg.MulticastGroup,
		"port", t.cfg.Port,
		"heartbeat_interval", t.heartbeatEvery)
	return nil
}

type namedListener struct {
	id string
	fn Listener
}

// AddListener registers a message listener under an id. A second call
// with the same id replaces the first in place, keeping its position.
func (t *Transport) AddListener(id string, fn Listener) {
	t.listenerMu.Lock()
	defer t.listenerMu.Unlock()
	for i, l := range t.listeners {
		if l.id == id {
			t.listeners[i].fn = fn
			return
		}
	}
	t.listeners = append(t.listeners, namedListener{id: id, fn: fn})
}

// RemoveListener unregisters a listener. Unknown ids are ignored.
func (t *Transport) RemoveListener(id string) {
	t.listenerMu.Lock()
	defer t.listenerMu.Unlock()
	for i, l := range t.listeners {
		if l.id == id {
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

// publish delivers a message to every listener, synchronously and in
// registration order.
func (t *Transport) publish(msg *wire.Message) {
	t.listenerMu.RLock()
	fns := make([]Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		fns = append(fns, l.fn)
	}
	t.listenerMu.RUnlock()

	for _, fn := range fns {
		fn(msg)
	}
}

// receiveLoop reads datagrams until ctx cancellation closes the socket.
func (t *Transport) receiveLoop(ctx context.Context) {
	go func() {
		<-ctx.Done()
		t.close()
	}()

	buf := make([]byte, readBufferSize)
	for {
		n, src, err := t.recvConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.Warn("multicast read failed", "error", err)
			return
		}
		t.handleDatagram(buf[:n], src)
	}
}

// handleDatagram decodes one frame and updates liveness before delivery.
func (t *Transport) handleDatagram(raw []byte, src *net.UDPAddr) {
	in := wire.Decode(raw, t.hosts.KeyFor)
	if in.Self || in.Sequence == "" {
		return
	}

	if t.hosts.markAlive(in.Sequence, src.IP.String()) {
		t.log.Info("host online", "sequence", in.Sequence, "ip", src.IP)
		t.publish(hostPresence(in.Sequence, true))
		if err := t.SendTerminalData(in.Sequence); err != nil {
			t.log.Debug("terminal data request failed", "sequence", in.Sequence, "error", err)
		}
	}

	if in.Data == "" {
		return
	}

	var msg wire.Message
	if err := json.Unmarshal([]byte(in.Data), &msg); err != nil {
		t.log.Debug("undecodable message body",
			"sequence", in.Sequence, "error", err)
		return
	}
	t.publish(&msg)
}

// heartbeatLoop probes every tracked host each interval and retires
// hosts that failed to answer for three consecutive cycles.
func (t *Transport) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(t.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.heartbeat()
		}
	}
}

func (t *Transport) heartbeat() {
	all, wentOffline, offline := t.hosts.sweep()

	for _, seq := range wentOffline {
		t.log.Warn("host offline", "sequence", seq)
		t.publish(hostPresence(seq, false))
	}

	frame, err := wire.EncodeHeartbeat(wire.FrameCON, wire.LocalDeviceID)
	if err != nil {
		t.log.Error("encoding heartbeat", "error", err)
		return
	}
	for _, seq := range all {
		if err := t.writeFrame(seq, frame); err != nil {
			t.log.Debug("heartbeat send failed", "sequence", seq, "error", err)
		}
	}

	// Offline hosts get an extra query so a reappearing host answers
	// with fresh state, not just a heartbeat echo.
	for _, seq := range offline {
		if err := t.QueryInfo(seq); err != nil {
			t.log.Debug("offline probe failed", "sequence", seq, "error", err)
		}
	}
}

// sendMessage encrypts msg under the host's key and routes the frame.
func (t *Transport) sendMessage(sequence string, frameType wire.FrameType, msg *wire.Message) error {
	key, ok := t.hosts.KeyFor(sequence)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHost, sequence)
	}

	body, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling %s message: %w", msg.Type, err)
	}

	frame, err := wire.EncodeCommand(key, wire.LocalDeviceID, frameType, body)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", msg.Type, err)
	}
	return t.writeFrame(sequence, frame)
}

// writeFrame delivers a frame to a host. Online hosts get unicast to
// their last confirmed IP. Hosts never yet confirmed online get the
// multicast group, since their address is unknown. A host that was
// online before but is not now is unreachable; the frame is dropped
// with a warning rather than an error, matching command semantics.
func (t *Transport) writeFrame(sequence string, frame []byte) error {
	t.connMu.Lock()
	conn := t.sendConn
	group := t.group
	t.connMu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	ip, everOnline := t.hosts.Addr(sequence)
	var dst *net.UDPAddr
	switch {
	case ip != "":
		dst = &net.UDPAddr{IP: net.ParseIP(ip), Port: t.cfg.Port}
	case !everOnline:
		dst = group
	default:
		t.log.Warn("host not found", "sequence", sequence)
		return nil
	}

	if _, err := conn.WriteToUDP(frame, dst); err != nil {
		return fmt.Errorf("sending to %s: %w", dst, err)
	}
	return nil
}

func (t *Transport) close() {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.recvConn != nil {
		t.recvConn.Close()
		t.recvConn = nil
	}
	if t.sendConn != nil {
		t.sendConn.Close()
		t.sendConn = nil
	}
}

// hostPresence builds the synthetic terminal.host liveness message.
func hostPresence(sequence string, online bool) *wire.Message {
	msg := wire.NewMessage(wire.TypeTerminalHost, map[string]any{
		"sequence": sequence,
		"online":   online,
	})
	return &msg
}
