// Package supervisor decides which transport drives the registry. It
// probes internet reachability and flips the bridge between cloud mode
// and LAN mode, reconciling state with the platform on the way back up.
package supervisor

import (
	"context"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/duwi2024/duwi-bridge/internal/infrastructure/logging"
	"github.com/duwi2024/duwi-bridge/internal/lan"
)

const (
	// checkInterval paces probes while the bridge is healthy.
	checkInterval = 20 * time.Second
	// retryInterval paces probes after a failure.
	retryInterval = 5 * time.Second
	// settleInterval spaces reconciliation passes after cloud returns.
	// The platform needs time to converge its own liveness view.
	settleInterval = 20 * time.Second

	// failLimit is how many consecutive probe failures force LAN mode.
	failLimit = 5
	// reconcilePasses is how many discovery rounds follow a recovery.
	reconcilePasses = 3
)

// probeHosts are pinged in order; any answer counts as reachable.
var probeHosts = []string{"www.duwi.com.cn", "www.baidu.com"}

// Registry is the slice of the device registry the supervisor drives.
type Registry interface {
	SetConnected(connected bool)
	MarkAllOffline()
	LANHosts() []lan.Host
}

// PushSocket reports and controls the cloud websocket.
type PushSocket interface {
	IsConnected() bool
	Reconnect()
}

// HostSync is the slice of the LAN host tracker the supervisor drives.
type HostSync interface {
	SyncHosts(entryID string, hosts []lan.Host)
	ClearHosts(entryID string)
}

// ProbeFunc reports whether the internet is reachable right now.
type ProbeFunc func(ctx context.Context) bool

// ReconcileFunc replays one cloud discovery round into the registry.
type ReconcileFunc func(ctx context.Context) error

// Supervisor runs the mode-switching loop for one house.
type Supervisor struct {
	log       *logging.Logger
	entryID   string
	registry  Registry
	push      PushSocket
	tracker   HostSync
	reconcile ReconcileFunc

	probe          ProbeFunc
	checkInterval  time.Duration
	retryInterval  time.Duration
	settleInterval time.Duration

	connected atomic.Bool
	failCount int
}

// New builds a supervisor. connected seeds the initial mode: true when
// the caller just bootstrapped from the cloud, false when it came up
// from the local cache.
func New(entryID string, connected bool, registry Registry, push PushSocket, tracker HostSync, reconcile ReconcileFunc, log *logging.Logger) *Supervisor {
	s := &Supervisor{
		log:            log.With("component", "supervisor"),
		entryID:        entryID,
		registry:       registry,
		push:           push,
		tracker:        tracker,
		reconcile:      reconcile,
		probe:          pingProbe,
		checkInterval:  checkInterval,
		retryInterval:  retryInterval,
		settleInterval: settleInterval,
	}
	s.connected.Store(connected)
	registry.SetConnected(connected)
	if !connected {
		tracker.SyncHosts(entryID, registry.LANHosts())
	}
	return s
}

// Connected reports the current mode.
func (s *Supervisor) Connected() bool {
	return s.connected.Load()
}

// Run drives the probe loop until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		if s.probe(ctx) {
			s.failCount = 0
			if !s.connected.Load() {
				s.enterCloudMode(ctx)
			}
			if !sleep(ctx, s.checkInterval) {
				return
			}
			continue
		}

		if s.push.IsConnected() {
			// The websocket still delivers; the probe target is
			// unreachable but the platform is not. Hold the mode.
			s.failCount = 0
			s.log.Debug("probe failed with live push socket")
		} else {
			s.failCount++
			if s.failCount >= failLimit && s.connected.Load() {
				s.enterLANMode()
			} else {
				s.log.Debug("probe failed", "fail_count", s.failCount)
			}
		}
		if !sleep(ctx, s.retryInterval) {
			return
		}
	}
}

// enterLANMode hands the registry over to the local transport. Every
// device starts offline; the heartbeat cycle rediscovers hosts.
func (s *Supervisor) enterLANMode() {
	s.log.Warn("cloud unreachable, switching to lan mode")
	s.connected.Store(false)
	s.registry.SetConnected(false)
	s.registry.MarkAllOffline()
	s.tracker.SyncHosts(s.entryID, s.registry.LANHosts())
}

// enterCloudMode hands the registry back to the cloud and replays
// discovery a few times so state converges with the platform.
func (s *Supervisor) enterCloudMode(ctx context.Context) {
	s.log.Info("cloud reachable, switching to cloud mode")
	s.connected.Store(true)
	s.registry.SetConnected(true)
	s.tracker.ClearHosts(s.entryID)
	s.push.Reconnect()

	for i := 0; i < reconcilePasses; i++ {
		if !sleep(ctx, s.settleInterval) {
			return
		}
		if err := s.reconcile(ctx); err != nil {
			s.log.Warn("reconciliation pass failed", "pass", i+1, "error", err)
		}
	}
}

// pingProbe shells out to ping, one echo per candidate host.
func pingProbe(ctx context.Context) bool {
	for _, host := range probeHosts {
		cmd := exec.CommandContext(ctx, "ping", "-c", "1", "-W", "2", host)
		if err := cmd.Run(); err == nil {
			return true
		}
	}
	return false
}

// sleep waits for d or ctx, reporting false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
