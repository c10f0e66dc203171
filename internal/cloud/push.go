package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duwi2024/duwi-bridge/internal/infrastructure/logging"
)

const (
	// pushKeepalive is the ping cadence on the push socket.
	pushKeepalive = 30 * time.Second

	// pushReadDeadline bounds silence on the socket; two missed
	// keepalives and the connection is considered dead.
	pushReadDeadline = 75 * time.Second

	pushBackoffMin = time.Second
	pushBackoffMax = 60 * time.Second
)

// PushListener receives every event from the synchronization socket.
type PushListener func(event PushEvent)

// Push maintains the persistent websocket that streams device value and
// terminal liveness changes from the platform.
//
// The connection is supervised: read failures trigger reconnection with
// exponential backoff, and Reconnect forces a fresh dial immediately,
// which the supervisor uses when returning to cloud mode.
type Push struct {
	client *Client
	log    *logging.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
	kick      chan struct{}

	listenerMu sync.RWMutex
	listeners  []pushSubscriber
}

type pushSubscriber struct {
	id string
	fn PushListener
}

// NewPush builds the push consumer. Call Start to begin dialing.
func NewPush(client *Client, log *logging.Logger) *Push {
	return &Push{
		client: client,
		log:    log.With("component", "cloud_push"),
		kick:   make(chan struct{}, 1),
	}
}

// IsConnected reports whether the socket is currently established.
func (p *Push) IsConnected() bool {
	return p.connected.Load()
}

// AddListener registers an event listener under an id. Listeners run
// in registration order; re-adding an id replaces it in place.
func (p *Push) AddListener(id string, fn PushListener) {
	p.listenerMu.Lock()
	defer p.listenerMu.Unlock()
	for i, s := range p.listeners {
		if s.id == id {
			p.listeners[i].fn = fn
			return
		}
	}
	p.listeners = append(p.listeners, pushSubscriber{id: id, fn: fn})
}

// RemoveListener unregisters a listener.
func (p *Push) RemoveListener(id string) {
	p.listenerMu.Lock()
	defer p.listenerMu.Unlock()
	for i, s := range p.listeners {
		if s.id == id {
			p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
			return
		}
	}
}

// Reconnect drops the current connection, if any, and dials again
// without waiting out the backoff.
func (p *Push) Reconnect() {
	p.mu.Lock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.mu.Unlock()

	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Start runs the connection supervisor until ctx is cancelled.
func (p *Push) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *Push) run(ctx context.Context) {
	backoff := pushBackoffMin
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := p.dial(ctx)
		if err != nil {
			p.log.Warn("push dial failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-p.kick:
				backoff = pushBackoffMin
			case <-time.After(backoff):
				backoff = min(backoff*2, pushBackoffMax)
			}
			continue
		}

		backoff = pushBackoffMin
		p.serve(ctx, conn)
		p.connected.Store(false)

		select {
		case <-ctx.Done():
			return
		case <-p.kick:
		case <-time.After(pushBackoffMin):
		}
	}
}

func (p *Push) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("appkey", p.client.cfg.AppKey)
	header.Set("accessToken", p.client.AccessToken())

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, p.client.cfg.WSAddress, header)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	p.connected.Store(true)
	p.log.Info("push socket connected", "address", p.client.cfg.WSAddress)
	return conn, nil
}

// serve pumps one established connection until it fails.
func (p *Push) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pushReadDeadline))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pushKeepalive)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				deadline := time.Now().Add(10 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	if err := conn.SetReadDeadline(time.Now().Add(pushReadDeadline)); err != nil {
		return
	}
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				p.log.Warn("push socket closed", "error", err)
			}
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(pushReadDeadline)); err != nil {
			return
		}

		var event PushEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			p.log.Debug("undecodable push event", "error", err)
			continue
		}
		p.publish(event)
	}
}

func (p *Push) publish(event PushEvent) {
	p.listenerMu.RLock()
	fns := make([]PushListener, 0, len(p.listeners))
	for _, s := range p.listeners {
		fns = append(fns, s.fn)
	}
	p.listenerMu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
}
