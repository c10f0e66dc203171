package lan

import (
	"slices"
	"testing"
)

const (
	hostA = "A1B2C3D4E5F6"
	hostB = "B1B2C3D4E5F6"
	keyA  = "0123456789ABCDEF0123456789ABCDEF"
	keyB  = "FEDCBA9876543210FEDCBA9876543210"
)

func TestSyncHostsRegistersKeys(t *testing.T) {
	tr := NewHostTracker()
	tr.SyncHosts("entry1", []Host{{Sequence: hostA, Key: keyA}, {Sequence: hostB, Key: keyB}})

	if key, ok := tr.KeyFor(hostA); !ok || key != keyA {
		t.Errorf("KeyFor(%s) = %q, %v", hostA, key, ok)
	}
	if got := len(tr.Sequences()); got != 2 {
		t.Errorf("Sequences() len = %d, want 2", got)
	}
}

func TestSyncHostsPreservesLiveness(t *testing.T) {
	tr := NewHostTracker()
	tr.SyncHosts("entry1", []Host{{Sequence: hostA, Key: keyA}})
	tr.markAlive(hostA, "192.168.1.10")

	// Re-sync with the same host; it must stay online.
	tr.SyncHosts("entry1", []Host{{Sequence: hostA, Key: keyA}})
	if !tr.IsOnline(hostA) {
		t.Error("host lost liveness across a re-sync")
	}
}

func TestSyncHostsDropsRemoved(t *testing.T) {
	tr := NewHostTracker()
	tr.SyncHosts("entry1", []Host{{Sequence: hostA, Key: keyA}, {Sequence: hostB, Key: keyB}})
	tr.SyncHosts("entry1", []Host{{Sequence: hostA, Key: keyA}})

	if _, ok := tr.KeyFor(hostB); ok {
		t.Error("key survived host removal")
	}
}

func TestClearHostsTouchesOneEntryOnly(t *testing.T) {
	tr := NewHostTracker()
	tr.SyncHosts("entry1", []Host{{Sequence: hostA, Key: keyA}})
	tr.SyncHosts("entry2", []Host{{Sequence: hostB, Key: keyB}})

	tr.ClearHosts("entry1")

	if _, ok := tr.KeyFor(hostA); ok {
		t.Error("entry1 key survived ClearHosts")
	}
	if _, ok := tr.KeyFor(hostB); !ok {
		t.Error("entry2 key lost to entry1's ClearHosts")
	}
}

func TestSharedHostKeySurvivesOneEntry(t *testing.T) {
	tr := NewHostTracker()
	tr.SyncHosts("entry1", []Host{{Sequence: hostA, Key: keyA}})
	tr.SyncHosts("entry2", []Host{{Sequence: hostA, Key: keyA}})

	tr.ClearHosts("entry1")
	if _, ok := tr.KeyFor(hostA); !ok {
		t.Error("shared key dropped while entry2 still tracks the host")
	}
}

func TestSweepRetiresAfterThreeMisses(t *testing.T) {
	tr := NewHostTracker()
	tr.SyncHosts("entry1", []Host{{Sequence: hostA, Key: keyA}})
	tr.markAlive(hostA, "192.168.1.10")

	var offlineEvents []string
	for i := 0; i < missLimit; i++ {
		_, wentOffline, _ := tr.sweep()
		offlineEvents = append(offlineEvents, wentOffline...)
	}

	if !slices.Equal(offlineEvents, []string{hostA}) {
		t.Errorf("offline transitions = %v, want exactly one for %s", offlineEvents, hostA)
	}
	if tr.IsOnline(hostA) {
		t.Error("host still online after miss limit")
	}
	if ip, _ := tr.Addr(hostA); ip != "" {
		t.Errorf("cached IP %q survived going offline", ip)
	}

	// Further sweeps must not re-report the transition.
	_, wentOffline, _ := tr.sweep()
	if len(wentOffline) != 0 {
		t.Errorf("repeated offline transition: %v", wentOffline)
	}
}

func TestMarkAliveResetsMisses(t *testing.T) {
	tr := NewHostTracker()
	tr.SyncHosts("entry1", []Host{{Sequence: hostA, Key: keyA}})
	tr.markAlive(hostA, "192.168.1.10")

	tr.sweep()
	tr.sweep()
	tr.markAlive(hostA, "192.168.1.10")

	// Two more silent cycles are not enough after the reset.
	tr.sweep()
	tr.sweep()
	if !tr.IsOnline(hostA) {
		t.Error("host retired despite a frame two cycles ago")
	}
}

func TestMarkAliveReportsTransitionOnce(t *testing.T) {
	tr := NewHostTracker()
	tr.SyncHosts("entry1", []Host{{Sequence: hostA, Key: keyA}})

	if !tr.markAlive(hostA, "192.168.1.10") {
		t.Error("first frame did not report online transition")
	}
	if tr.markAlive(hostA, "192.168.1.10") {
		t.Error("second frame re-reported online transition")
	}
}

func TestMarkAliveSpansEntries(t *testing.T) {
	tr := NewHostTracker()
	tr.SyncHosts("entry1", []Host{{Sequence: hostA, Key: keyA}})
	tr.SyncHosts("entry2", []Host{{Sequence: hostA, Key: keyA}})
	tr.markAlive(hostA, "192.168.1.10")

	tr.ClearHosts("entry1")
	if !tr.IsOnline(hostA) {
		t.Error("liveness not recorded in second entry")
	}
}

func TestAddrRouting(t *testing.T) {
	tr := NewHostTracker()
	tr.SyncHosts("entry1", []Host{{Sequence: hostA, Key: keyA}})

	// Never seen: no address, never online.
	if ip, ever := tr.Addr(hostA); ip != "" || ever {
		t.Errorf("fresh host Addr = %q, %v", ip, ever)
	}

	tr.markAlive(hostA, "192.168.1.10")
	if ip, ever := tr.Addr(hostA); ip != "192.168.1.10" || !ever {
		t.Errorf("online host Addr = %q, %v", ip, ever)
	}

	// Retired: address gone, but the host is known to have existed.
	for i := 0; i < missLimit; i++ {
		tr.sweep()
	}
	if ip, ever := tr.Addr(hostA); ip != "" || !ever {
		t.Errorf("retired host Addr = %q, %v", ip, ever)
	}
}

func TestOnlineHostsScopedToEntry(t *testing.T) {
	tr := NewHostTracker()
	tr.SyncHosts("entry1", []Host{{Sequence: hostA, Key: keyA}, {Sequence: hostB, Key: keyB}})
	tr.SyncHosts("entry2", []Host{{Sequence: hostA, Key: keyA}})
	tr.markAlive(hostA, "192.168.1.10")

	if got := tr.OnlineHosts("entry1"); !slices.Equal(got, []string{hostA}) {
		t.Errorf("OnlineHosts(entry1) = %v, want [%s]", got, hostA)
	}
	if got := tr.OnlineHosts("entry2"); !slices.Equal(got, []string{hostA}) {
		t.Errorf("OnlineHosts(entry2) = %v, want [%s]", got, hostA)
	}
	if got := tr.OnlineHosts("entry3"); got != nil {
		t.Errorf("OnlineHosts(entry3) = %v, want nil", got)
	}
}

func TestAnyOnline(t *testing.T) {
	tr := NewHostTracker()
	tr.SyncHosts("entry1", []Host{{Sequence: hostA, Key: keyA}, {Sequence: hostB, Key: keyB}})
	tr.markAlive(hostB, "192.168.1.11")

	if !tr.AnyOnline([]string{hostA, hostB}) {
		t.Error("AnyOnline missed the online host")
	}
	if tr.AnyOnline([]string{hostA}) {
		t.Error("AnyOnline reported an offline host")
	}
}
