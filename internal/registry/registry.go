package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/duwi2024/duwi-bridge/internal/cloud"
	"github.com/duwi2024/duwi-bridge/internal/infrastructure/config"
	"github.com/duwi2024/duwi-bridge/internal/infrastructure/logging"
	"github.com/duwi2024/duwi-bridge/internal/lan"
	"github.com/duwi2024/duwi-bridge/internal/store"
)

// Listener observes registry changes. Callbacks receive deep copies and
// may retain them.
type Listener interface {
	OnDeviceUpdated(device *Device)
	OnDeviceAdded(device *Device)
	OnDeviceRemoved(deviceNo string)
	OnSceneUpdated(scene *Scene)
}

// HostProbe reports whether a LAN host is currently online.
type HostProbe func(sequence string) bool

// Manager is the in-memory device and scene registry for one house.
//
// It is fed from three sources: the cloud discovery APIs at bootstrap
// and reconciliation, the cloud push socket while in cloud mode, and
// decrypted LAN messages while in LAN mode. All three converge on the
// same value maps, and every change fans out to listeners.
type Manager struct {
	log   *logging.Logger
	house config.HouseConfig
	cache *store.Store

	connected atomic.Bool

	mu        sync.RWMutex
	devices   map[string]*Device
	scenes    map[string]*Scene
	hosts     []string
	floors    map[string]string             // floorNo -> floorName
	rooms     map[string]string             // roomNo -> roomName
	roomFloor map[string]string             // roomNo -> floorNo
	terminals map[string]cloud.TerminalInfo // terminalSequence -> record

	listenerMu sync.RWMutex
	listeners  []Listener

	hostProbe HostProbe
}

// NewManager builds an empty registry. cache may be nil when local
// persistence is disabled.
func NewManager(house config.HouseConfig, cache *store.Store, log *logging.Logger) *Manager {
	return &Manager{
		log:       log.With("component", "registry"),
		house:     house,
		cache:     cache,
		devices:   make(map[string]*Device),
		scenes:    make(map[string]*Scene),
		floors:    make(map[string]string),
		rooms:     make(map[string]string),
		roomFloor: make(map[string]string),
		terminals: make(map[string]cloud.TerminalInfo),
	}
}

// SetHostProbe wires the LAN liveness check used for group presence.
func (m *Manager) SetHostProbe(probe HostProbe) {
	m.hostProbe = probe
}

// SetConnected records the current transport mode. LAN messages are
// ignored while connected; the push socket covers the same ground.
func (m *Manager) SetConnected(connected bool) {
	m.connected.Store(connected)
}

// Connected reports the current transport mode.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// AddListener subscribes to registry changes. Listeners are notified in
// registration order; re-adding a listener is a no-op.
func (m *Manager) AddListener(l Listener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	if slices.Contains(m.listeners, l) {
		return
	}
	m.listeners = append(m.listeners, l)
}

// RemoveListener unsubscribes.
func (m *Manager) RemoveListener(l Listener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	if i := slices.Index(m.listeners, l); i >= 0 {
		m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
	}
}

func (m *Manager) eachListener(fn func(Listener)) {
	m.listenerMu.RLock()
	ls := slices.Clone(m.listeners)
	m.listenerMu.RUnlock()

	for _, l := range ls {
		fn(l)
	}
}

func (m *Manager) notifyUpdated(d *Device) {
	clone := d.Clone()
	m.eachListener(func(l Listener) { l.OnDeviceUpdated(clone) })
}

// Device returns a copy of one device.
func (m *Manager) Device(deviceNo string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[deviceNo]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// Devices returns copies of every device, ordered by seq then number.
func (m *Manager) Devices() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].DeviceNo < out[j].DeviceNo
	})
	return out
}

// Scene returns a copy of one scene.
func (m *Manager) Scene(sceneNo string) (*Scene, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.scenes[sceneNo]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Scenes returns copies of every scene, ordered by number.
func (m *Manager) Scenes() []*Scene {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Scene, 0, len(m.scenes))
	for _, s := range m.scenes {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SceneNo < out[j].SceneNo })
	return out
}

// Hosts returns the LAN host sequences discovered for this house.
func (m *Manager) Hosts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.hosts...)
}

// LANHosts pairs each host with the house key, ready for the transport.
func (m *Manager) LANHosts() []lan.Host {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]lan.Host, 0, len(m.hosts))
	for _, seq := range m.hosts {
		out = append(out, lan.Host{Sequence: seq, Key: m.house.SecretKey})
	}
	return out
}

// deviceFromCloud maps a discovery record into the registry model.
func deviceFromCloud(info cloud.DeviceInfo) *Device {
	value := maps.Clone(info.Value)
	if value == nil {
		value = make(map[string]any)
	}
	d := &Device{
		DeviceNo:         info.DeviceNo,
		DeviceName:       info.DeviceName,
		TerminalSequence: info.TerminalSequence,
		RouteNum:         info.RouteNum,
		DeviceTypeNo:     info.DeviceTypeNo,
		DeviceSubTypeNo:  info.DeviceSubTypeNo,
		HouseNo:          info.HouseNo,
		FloorNo:          info.FloorNo,
		RoomNo:           info.RoomNo,
		CreateTime:       info.CreateTime,
		Seq:              info.Seq,
		IsVirtualDevice:  info.IsVirtualDevice,
		Value:            value,
	}
	d.DeviceType = classNames[d.ClassNo()]
	d.Value["online"] = info.IsOnline
	return d
}

// groupFromCloud maps a group record into the registry model. Groups
// are stored alongside devices under their group number.
func groupFromCloud(info cloud.GroupInfo) *Device {
	value := maps.Clone(info.Value)
	if value == nil {
		value = make(map[string]any)
	}
	return &Device{
		DeviceNo:   info.DeviceGroupNo,
		DeviceName: info.DeviceGroupName,
		DeviceType: groupTypeNames[info.DeviceGroupType],
		GroupType:  info.DeviceGroupType,
		HouseNo:    info.HouseNo,
		FloorNo:    info.FloorNo,
		RoomNo:     info.RoomNo,
		CreateTime: info.CreateTime,
		Seq:        info.Seq,
		IsGroup:    true,
		Hosts:      append([]string(nil), info.SyncHostSequences...),
		Value:      value,
	}
}

// BootstrapFromCloud performs the initial discovery against the cloud:
// floors, rooms, terminals, devices, groups and scenes, followed by
// placement enrichment and a cache write.
func (m *Manager) BootstrapFromCloud(ctx context.Context, client *cloud.Client) error {
	floors, err := client.Floors(ctx)
	if err != nil {
		return fmt.Errorf("discovering floors: %w", err)
	}
	rooms, err := client.Rooms(ctx)
	if err != nil {
		return fmt.Errorf("discovering rooms: %w", err)
	}
	terminals, err := client.Terminals(ctx)
	if err != nil {
		return fmt.Errorf("discovering terminals: %w", err)
	}
	devices, err := client.DiscoverDevices(ctx)
	if err != nil {
		return fmt.Errorf("discovering devices: %w", err)
	}
	groups, err := client.DiscoverGroups(ctx)
	if err != nil {
		return fmt.Errorf("discovering groups: %w", err)
	}
	scenes, err := client.Scenes(ctx)
	if err != nil {
		return fmt.Errorf("discovering scenes: %w", err)
	}

	m.mu.Lock()
	m.floors = make(map[string]string, len(floors))
	for _, f := range floors {
		m.floors[f.FloorNo] = f.FloorName
	}
	m.rooms = make(map[string]string, len(rooms))
	m.roomFloor = make(map[string]string, len(rooms))
	for _, r := range rooms {
		m.rooms[r.RoomNo] = r.RoomName
		m.roomFloor[r.RoomNo] = r.FloorNo
	}
	m.terminals = make(map[string]cloud.TerminalInfo, len(terminals))
	for _, t := range terminals {
		m.terminals[t.TerminalSequence] = t
	}

	m.devices = make(map[string]*Device)
	for _, info := range devices {
		if info.IsUse == 0 {
			continue
		}
		m.devices[info.DeviceNo] = deviceFromCloud(info)
	}
	for _, info := range groups {
		m.devices[info.DeviceGroupNo] = groupFromCloud(info)
	}

	m.scenes = make(map[string]*Scene)
	for _, info := range scenes {
		if info.IsUse == 0 || info.IsManualExecute == 0 {
			continue
		}
		m.scenes[info.SceneNo] = &Scene{
			SceneNo:           info.SceneNo,
			SceneName:         info.SceneName,
			RoomNo:            info.RoomNo,
			FloorNo:           info.FloorNo,
			HouseNo:           info.HouseNo,
			ExecuteWay:        info.ExecuteWay,
			SyncHostSequences: append([]string(nil), info.SyncHostSequences...),
		}
	}

	m.enrichLocked()
	m.collectHostsLocked()
	m.mu.Unlock()

	m.log.Info("bootstrap complete",
		"devices", len(devices), "groups", len(groups),
		"scenes", len(scenes), "hosts", len(m.Hosts()))
	return m.SaveToCache(ctx)
}

// enrichLocked back-fills floor, room and host placement. Caller holds
// the write lock.
func (m *Manager) enrichLocked() {
	for _, d := range m.devices {
		if floorNo, ok := m.roomFloor[d.RoomNo]; ok {
			d.RoomName = m.rooms[d.RoomNo]
			d.FloorNo = floorNo
		}
		if name, ok := m.floors[d.FloorNo]; ok {
			d.FloorName = name
		}
		d.HouseName = m.house.HouseName
		if t, ok := m.terminals[d.TerminalSequence]; ok && !d.IsGroup {
			d.Hosts = appendUnique(d.Hosts, t.HostSequence)
			d.IsFollowOnline = t.IsFollowOnline
		}
	}
	for _, s := range m.scenes {
		if floorNo, ok := m.roomFloor[s.RoomNo]; ok {
			s.RoomName = m.rooms[s.RoomNo]
			s.FloorNo = floorNo
		}
		if name, ok := m.floors[s.FloorNo]; ok {
			s.FloorName = name
		}
	}
}

// collectHostsLocked derives the LAN host list from the terminal set.
func (m *Manager) collectHostsLocked() {
	m.hosts = nil
	seen := make(map[string]bool)
	for _, t := range m.terminals {
		if !t.IsLANHost() || t.HostSequence == "" || seen[t.HostSequence] {
			continue
		}
		seen[t.HostSequence] = true
		m.hosts = append(m.hosts, t.HostSequence)
	}
	sort.Strings(m.hosts)
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// SaveToCache persists the current registry state.
func (m *Manager) SaveToCache(ctx context.Context) error {
	if m.cache == nil {
		return nil
	}

	m.mu.RLock()
	snap := &store.Snapshot{
		House: store.House{
			HouseNo:      m.house.HouseNo,
			HouseName:    m.house.HouseName,
			LANSecretKey: m.house.SecretKey,
		},
	}
	for no, name := range m.floors {
		snap.Floors = append(snap.Floors, store.Floor{FloorNo: no, FloorName: name})
	}
	for no, name := range m.rooms {
		snap.Rooms = append(snap.Rooms, store.Room{RoomNo: no, RoomName: name})
	}
	for _, t := range m.terminals {
		snap.Terminals = append(snap.Terminals, store.Terminal{
			TerminalSequence: t.TerminalSequence,
			HostSequence:     t.HostSequence,
			ProductModel:     t.ProductModel,
		})
	}
	for _, d := range m.devices {
		snap.Devices = append(snap.Devices, store.DeviceRecord{
			DeviceNo:         d.DeviceNo,
			DeviceName:       d.DeviceName,
			DeviceType:       d.DeviceType,
			TerminalSequence: d.TerminalSequence,
			RouteNum:         d.RouteNum,
			DeviceTypeNo:     d.DeviceTypeNo,
			DeviceSubTypeNo:  d.DeviceSubTypeNo,
			HouseNo:          d.HouseNo,
			FloorNo:          d.FloorNo,
			RoomNo:           d.RoomNo,
			DeviceGroupType:  d.GroupType,
			IsGroup:          d.IsGroup,
			IsFollowOnline:   d.IsFollowOnline,
			IsVirtualDevice:  d.IsVirtualDevice,
			Hosts:            append([]string(nil), d.Hosts...),
			CreateTime:       d.CreateTime,
		})
		for code, value := range d.Value {
			snap.Values = append(snap.Values, store.DeviceValue{
				DeviceNo: d.DeviceNo,
				Code:     code,
				Value:    value,
			})
		}
	}
	for _, s := range m.scenes {
		snap.Scenes = append(snap.Scenes, store.SceneRecord{
			SceneNo:           s.SceneNo,
			SceneName:         s.SceneName,
			RoomNo:            s.RoomNo,
			FloorNo:           s.FloorNo,
			HouseNo:           s.HouseNo,
			ExecuteWay:        s.ExecuteWay,
			SyncHostSequences: append([]string(nil), s.SyncHostSequences...),
		})
	}
	m.mu.RUnlock()

	return m.cache.SaveSnapshot(ctx, snap)
}

// LoadFromCache rebuilds the registry from the last persisted snapshot.
// Used at cold start when the cloud is unreachable.
func (m *Manager) LoadFromCache(ctx context.Context) error {
	if m.cache == nil {
		return fmt.Errorf("registry: no cache configured")
	}

	snap, err := m.cache.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}

	m.mu.Lock()
	m.floors = make(map[string]string, len(snap.Floors))
	for _, f := range snap.Floors {
		m.floors[f.FloorNo] = f.FloorName
	}
	m.rooms = make(map[string]string, len(snap.Rooms))
	for _, r := range snap.Rooms {
		m.rooms[r.RoomNo] = r.RoomName
	}
	m.terminals = make(map[string]cloud.TerminalInfo, len(snap.Terminals))
	for _, t := range snap.Terminals {
		m.terminals[t.TerminalSequence] = cloud.TerminalInfo{
			TerminalSequence: t.TerminalSequence,
			HostSequence:     t.HostSequence,
			ProductModel:     t.ProductModel,
		}
	}

	values := make(map[string]map[string]any)
	for _, v := range snap.Values {
		if values[v.DeviceNo] == nil {
			values[v.DeviceNo] = make(map[string]any)
		}
		values[v.DeviceNo][v.Code] = v.Value
	}

	m.devices = make(map[string]*Device, len(snap.Devices))
	for _, rec := range snap.Devices {
		d := &Device{
			DeviceNo:         rec.DeviceNo,
			DeviceName:       rec.DeviceName,
			DeviceType:       rec.DeviceType,
			TerminalSequence: rec.TerminalSequence,
			RouteNum:         rec.RouteNum,
			DeviceTypeNo:     rec.DeviceTypeNo,
			DeviceSubTypeNo:  rec.DeviceSubTypeNo,
			HouseNo:          rec.HouseNo,
			FloorNo:          rec.FloorNo,
			RoomNo:           rec.RoomNo,
			GroupType:        rec.DeviceGroupType,
			IsGroup:          rec.IsGroup,
			IsFollowOnline:   rec.IsFollowOnline,
			IsVirtualDevice:  rec.IsVirtualDevice,
			Hosts:            append([]string(nil), rec.Hosts...),
			CreateTime:       rec.CreateTime,
			Value:            values[rec.DeviceNo],
		}
		if d.Value == nil {
			d.Value = make(map[string]any)
		}
		m.devices[rec.DeviceNo] = d
	}

	m.scenes = make(map[string]*Scene, len(snap.Scenes))
	for _, rec := range snap.Scenes {
		m.scenes[rec.SceneNo] = &Scene{
			SceneNo:           rec.SceneNo,
			SceneName:         rec.SceneName,
			RoomNo:            rec.RoomNo,
			FloorNo:           rec.FloorNo,
			HouseNo:           rec.HouseNo,
			ExecuteWay:        rec.ExecuteWay,
			SyncHostSequences: append([]string(nil), rec.SyncHostSequences...),
		}
	}

	m.enrichLocked()
	m.collectHostsLocked()
	m.mu.Unlock()

	m.log.Info("registry loaded from cache",
		"devices", len(snap.Devices), "scenes", len(snap.Scenes))
	return nil
}

// ApplyStatus merges an attribute report into a device and notifies
// listeners. A "device_use" key toggles the device's activation and
// raises add or remove events instead of a plain update.
func (m *Manager) ApplyStatus(ctx context.Context, deviceNo string, status map[string]any) {
	m.mu.Lock()
	d, ok := m.devices[deviceNo]
	if !ok {
		m.mu.Unlock()
		m.log.Warn("status for unknown device", "device_no", deviceNo)
		return
	}
	for k, v := range status {
		d.Value[k] = v
	}
	clone := d.Clone()
	m.mu.Unlock()

	if m.cache != nil {
		if err := m.cache.UpdateDeviceValues(ctx, deviceNo, status); err != nil {
			m.log.Warn("persisting values failed", "device_no", deviceNo, "error", err)
		}
	}

	m.eachListener(func(l Listener) { l.OnDeviceUpdated(clone) })

	if use, ok := status["device_use"]; ok {
		m.applyDeviceUse(ctx, clone, use)
	}
}

// applyDeviceUse reacts to activation toggles carried in a status
// report.
func (m *Manager) applyDeviceUse(ctx context.Context, d *Device, use any) {
	active, _ := use.(bool)
	if active {
		m.log.Info("device activated", "device_no", d.DeviceNo)
		m.eachListener(func(l Listener) { l.OnDeviceAdded(d) })
		if m.cache != nil {
			rec := store.DeviceRecord{
				DeviceNo:         d.DeviceNo,
				DeviceName:       d.DeviceName,
				DeviceType:       d.DeviceType,
				TerminalSequence: d.TerminalSequence,
				RouteNum:         d.RouteNum,
				DeviceTypeNo:     d.DeviceTypeNo,
				DeviceSubTypeNo:  d.DeviceSubTypeNo,
				HouseNo:          d.HouseNo,
				FloorNo:          d.FloorNo,
				RoomNo:           d.RoomNo,
				DeviceGroupType:  d.GroupType,
				IsGroup:          d.IsGroup,
				IsFollowOnline:   d.IsFollowOnline,
				IsVirtualDevice:  d.IsVirtualDevice,
				Hosts:            d.Hosts,
				CreateTime:       d.CreateTime,
			}
			if err := m.cache.AddDevice(ctx, rec, d.Value); err != nil {
				m.log.Warn("persisting device failed", "device_no", d.DeviceNo, "error", err)
			}
		}
		return
	}

	m.log.Info("device deactivated", "device_no", d.DeviceNo)
	m.mu.Lock()
	delete(m.devices, d.DeviceNo)
	m.mu.Unlock()
	m.eachListener(func(l Listener) { l.OnDeviceRemoved(d.DeviceNo) })
	if m.cache != nil {
		if err := m.cache.RemoveDevice(ctx, d.DeviceNo); err != nil {
			m.log.Warn("removing device failed", "device_no", d.DeviceNo, "error", err)
		}
	}
}

// HandlePush consumes one event from the cloud push socket.
func (m *Manager) HandlePush(ctx context.Context, event cloud.PushEvent) {
	switch event.Namespace {
	case cloud.NamespaceDeviceValue, cloud.NamespaceDeviceGroupValue:
		var status map[string]any
		if err := json.Unmarshal(event.Result.Msg, &status); err != nil {
			m.log.Debug("undecodable push payload", "error", err)
			return
		}
		deviceNo, _ := status["deviceNo"].(string)
		if deviceNo == "" {
			deviceNo, _ = status["deviceGroupNo"].(string)
		}
		if deviceNo == "" {
			return
		}
		delete(status, "deviceNo")
		delete(status, "deviceGroupNo")
		m.ApplyStatus(ctx, deviceNo, status)

	case cloud.NamespaceTerminalOnline:
		var presence struct {
			Sequence string `json:"sequence"`
			Online   bool   `json:"online"`
		}
		if err := json.Unmarshal(event.Result.Msg, &presence); err != nil {
			m.log.Debug("undecodable presence payload", "error", err)
			return
		}
		m.applyCloudPresence(presence.Sequence, presence.Online)

	default:
		m.log.Debug("unsupported push namespace", "namespace", event.Namespace)
	}
}

// applyCloudPresence propagates a terminal liveness report received via
// the cloud.
//
// Online affects only devices marked follow-online on that terminal.
// Offline takes a device down when the terminal is its own, or when the
// terminal is the device's sole host, so cross-host groups survive a
// single host outage.
func (m *Manager) applyCloudPresence(sequence string, online bool) {
	m.mu.Lock()
	var changed []*Device
	for _, d := range m.devices {
		if online {
			if d.IsFollowOnline && d.TerminalSequence == sequence {
				d.SetOnline(true)
				changed = append(changed, d.Clone())
			}
		} else if d.TerminalSequence == sequence ||
			(len(d.Hosts) == 1 && d.Hosts[0] == sequence) {
			d.SetOnline(false)
			changed = append(changed, d.Clone())
		}
	}
	m.mu.Unlock()

	for _, d := range changed {
		m.eachListener(func(l Listener) { l.OnDeviceUpdated(d) })
	}
}

// MarkAllOffline flags every device offline and notifies listeners,
// then re-announces every scene. Called when cloud connectivity is
// lost: nothing is known about LAN liveness yet.
func (m *Manager) MarkAllOffline() {
	m.mu.Lock()
	clones := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		d.SetOnline(false)
		clones = append(clones, d.Clone())
	}
	scenes := make([]*Scene, 0, len(m.scenes))
	for _, s := range m.scenes {
		scenes = append(scenes, s.Clone())
	}
	m.mu.Unlock()

	for _, d := range clones {
		m.eachListener(func(l Listener) { l.OnDeviceUpdated(d) })
	}
	for _, s := range scenes {
		m.eachListener(func(l Listener) { l.OnSceneUpdated(s) })
	}
}
