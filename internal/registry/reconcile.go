package registry

import (
	"context"
	"fmt"

	"github.com/duwi2024/duwi-bridge/internal/cloud"
)

// ReconcilePass replays one discovery round against the registry after
// cloud connectivity returns.
//
// Devices present on both sides are refreshed in place; devices the
// cloud reports but the registry lacks are added; devices the cloud no
// longer returns are removed. The supervisor runs several passes spaced
// apart, because the platform needs time to converge its own liveness
// view after an outage.
func (m *Manager) ReconcilePass(ctx context.Context, client *cloud.Client) error {
	devices, err := client.DiscoverDevices(ctx)
	if err != nil {
		return fmt.Errorf("rediscovering devices: %w", err)
	}
	groups, err := client.DiscoverGroups(ctx)
	if err != nil {
		return fmt.Errorf("rediscovering groups: %w", err)
	}

	updated := make(map[string]bool)
	var added []*Device

	m.mu.Lock()
	baseline := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		baseline = append(baseline, d.Clone())
	}
	for _, info := range groups {
		g := groupFromCloud(info)
		if old, ok := m.devices[g.DeviceNo]; ok {
			old.UpdateFrom(g)
			updated[g.DeviceNo] = true
		} else {
			m.devices[g.DeviceNo] = g
			added = append(added, g.Clone())
		}
	}
	for _, info := range devices {
		if info.IsUse == 0 {
			continue
		}
		d := deviceFromCloud(info)
		if old, ok := m.devices[d.DeviceNo]; ok {
			old.UpdateFrom(d)
			updated[d.DeviceNo] = true
		} else {
			m.devices[d.DeviceNo] = d
			added = append(added, d.Clone())
		}
	}

	var removed []string
	for no := range m.devices {
		if !updated[no] && !isAdded(added, no) {
			removed = append(removed, no)
		}
	}
	for _, no := range removed {
		delete(m.devices, no)
	}

	m.enrichLocked()

	survivors := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		survivors = append(survivors, d.Clone())
	}
	scenes := make([]*Scene, 0, len(m.scenes))
	for _, s := range m.scenes {
		scenes = append(scenes, s.Clone())
	}
	m.mu.Unlock()

	// A device whose placement or subtype changed needs its derived
	// entities rebuilt, not refreshed: it leaves and re-enters.
	stale := make(map[string]bool)
	for _, no := range StaleDevices(baseline, survivors) {
		stale[no] = true
	}

	for _, d := range added {
		m.eachListener(func(l Listener) { l.OnDeviceAdded(d) })
	}
	for _, d := range survivors {
		if stale[d.DeviceNo] {
			m.log.Info("device placement changed, rebuilding", "device_no", d.DeviceNo)
			m.eachListener(func(l Listener) { l.OnDeviceRemoved(d.DeviceNo) })
			m.eachListener(func(l Listener) { l.OnDeviceAdded(d) })
			continue
		}
		m.eachListener(func(l Listener) { l.OnDeviceUpdated(d) })
	}
	for _, no := range removed {
		m.log.Info("device gone from cloud", "device_no", no)
		m.eachListener(func(l Listener) { l.OnDeviceRemoved(no) })
	}
	for _, s := range scenes {
		m.eachListener(func(l Listener) { l.OnSceneUpdated(s) })
	}

	return m.SaveToCache(ctx)
}

func isAdded(added []*Device, no string) bool {
	for _, d := range added {
		if d.DeviceNo == no {
			return true
		}
	}
	return false
}

// StaleDevices compares a baseline device set against a freshly
// discovered one and returns the numbers of devices whose placement or
// subtype changed: their derived entities must be rebuilt rather than
// updated in place. Devices missing from either side are not reported.
func StaleDevices(baseline, next []*Device) []string {
	byNo := make(map[string]*Device, len(baseline))
	for _, d := range baseline {
		byNo[d.DeviceNo] = d
	}

	var stale []string
	for _, d := range next {
		old, ok := byNo[d.DeviceNo]
		if !ok {
			continue
		}
		if old.RoomNo != d.RoomNo || old.DeviceSubTypeNo != d.DeviceSubTypeNo {
			stale = append(stale, d.DeviceNo)
		}
	}
	return stale
}
