package lan

import "sync"

// missLimit is the number of consecutive unanswered heartbeat cycles
// after which a host is declared offline.
const missLimit = 3

// Host pairs a terminal's wire identity with its shared secret.
type Host struct {
	// Sequence is the terminal's 12-hex-character device id.
	Sequence string

	// Key is the hex-encoded AES key shared with the terminal.
	Key string
}

// hostState is the liveness record for one host within one entry.
type hostState struct {
	online     bool
	everOnline bool
	ip         string
	misses     int
}

// HostTracker maintains per-entry host liveness and the global key table.
//
// Liveness is partitioned by entry id so that removing one house's hosts
// never disturbs another's, while keys are shared: a frame identifies its
// sender by sequence alone, without saying which entry it belongs to.
type HostTracker struct {
	mu      sync.RWMutex
	entries map[string]map[string]*hostState
	keys    map[string]string
}

// NewHostTracker returns an empty tracker.
func NewHostTracker() *HostTracker {
	return &HostTracker{
		entries: make(map[string]map[string]*hostState),
		keys:    make(map[string]string),
	}
}

// SyncHosts replaces the host set for one entry. Hosts already tracked
// keep their liveness state; hosts no longer listed are dropped together
// with their keys, unless another entry still tracks them.
func (t *HostTracker) SyncHosts(entryID string, hosts []Host) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.entries[entryID]
	next := make(map[string]*hostState, len(hosts))
	for _, h := range hosts {
		if h.Sequence == "" {
			continue
		}
		if st, ok := current[h.Sequence]; ok {
			next[h.Sequence] = st
		} else {
			next[h.Sequence] = &hostState{}
		}
		t.keys[h.Sequence] = h.Key
	}
	t.entries[entryID] = next

	for seq := range current {
		if _, kept := next[seq]; !kept {
			t.dropKeyLocked(entryID, seq)
		}
	}
}

// ClearHosts removes all hosts tracked for one entry.
func (t *HostTracker) ClearHosts(entryID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for seq := range t.entries[entryID] {
		t.dropKeyLocked(entryID, seq)
	}
	delete(t.entries, entryID)
}

// dropKeyLocked removes the key for seq unless some entry other than
// exceptEntry still tracks it. Caller holds t.mu.
func (t *HostTracker) dropKeyLocked(exceptEntry, seq string) {
	for id, hosts := range t.entries {
		if id == exceptEntry {
			continue
		}
		if _, ok := hosts[seq]; ok {
			return
		}
	}
	delete(t.keys, seq)
}

// KeyFor returns the shared secret for a host sequence.
func (t *HostTracker) KeyFor(sequence string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	key, ok := t.keys[sequence]
	return key, ok
}

// IsOnline reports whether any entry currently considers the host alive.
func (t *HostTracker) IsOnline(sequence string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, hosts := range t.entries {
		if st, ok := hosts[sequence]; ok && st.online {
			return true
		}
	}
	return false
}

// OnlineHosts returns the sequences one entry currently considers alive.
func (t *HostTracker) OnlineHosts(entryID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for seq, st := range t.entries[entryID] {
		if st.online {
			out = append(out, seq)
		}
	}
	return out
}

// AnyOnline reports whether at least one of the given sequences is online.
func (t *HostTracker) AnyOnline(sequences []string) bool {
	for _, seq := range sequences {
		if t.IsOnline(seq) {
			return true
		}
	}
	return false
}

// Addr returns the last confirmed IP of an online host, and whether the
// host has ever been confirmed online at all.
func (t *HostTracker) Addr(sequence string) (ip string, everOnline bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, hosts := range t.entries {
		st, ok := hosts[sequence]
		if !ok {
			continue
		}
		if st.everOnline {
			everOnline = true
		}
		if st.online && st.ip != "" {
			return st.ip, true
		}
	}
	return "", everOnline
}

// markAlive records an inbound frame from a host: the miss counter is
// reset and the source IP recorded in every entry that tracks it. It
// reports whether the host transitioned from offline to online.
func (t *HostTracker) markAlive(sequence, ip string) (wentOnline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, hosts := range t.entries {
		st, ok := hosts[sequence]
		if !ok {
			continue
		}
		st.misses = 0
		st.ip = ip
		if !st.online {
			st.online = true
			st.everOnline = true
			wentOnline = true
		}
	}
	return wentOnline
}

// sweep advances one heartbeat cycle: every online host accrues a miss,
// hosts reaching the miss limit go offline and lose their cached IP.
//
// It returns all tracked sequences (heartbeat targets), the sequences
// that just went offline this cycle, and the sequences currently offline
// (probe targets).
func (t *HostTracker) sweep() (all, wentOffline, offline []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool)
	dropped := make(map[string]bool)
	for _, hosts := range t.entries {
		for seq, st := range hosts {
			if !seen[seq] {
				seen[seq] = true
				all = append(all, seq)
			}
			if !st.online {
				continue
			}
			st.misses++
			if st.misses >= missLimit {
				st.online = false
				st.ip = ""
				st.misses = 0
				dropped[seq] = true
			}
		}
	}

	for _, seq := range all {
		online := false
		for _, hosts := range t.entries {
			if st, ok := hosts[seq]; ok && st.online {
				online = true
				break
			}
		}
		if !online {
			offline = append(offline, seq)
			if dropped[seq] {
				wentOffline = append(wentOffline, seq)
			}
		}
	}
	return all, wentOffline, offline
}

// Sequences returns every tracked host sequence across all entries.
func (t *HostTracker) Sequences() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, hosts := range t.entries {
		for seq := range hosts {
			if !seen[seq] {
				seen[seq] = true
				out = append(out, seq)
			}
		}
	}
	return out
}
