package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"

	"github.com/duwi2024/duwi-bridge/internal/cloud"
	"github.com/duwi2024/duwi-bridge/internal/infrastructure/config"
	"github.com/duwi2024/duwi-bridge/internal/infrastructure/logging"
	"github.com/duwi2024/duwi-bridge/internal/wire"
)

// mockListener records every callback for assertions.
type mockListener struct {
	mu      sync.Mutex
	updated []*Device
	added   []*Device
	removed []string
	scenes  []*Scene
}

func (l *mockListener) OnDeviceUpdated(d *Device) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updated = append(l.updated, d)
}

func (l *mockListener) OnDeviceAdded(d *Device) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.added = append(l.added, d)
}

func (l *mockListener) OnDeviceRemoved(deviceNo string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, deviceNo)
}

func (l *mockListener) OnSceneUpdated(s *Scene) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scenes = append(l.scenes, s)
}

func (l *mockListener) updatedNos() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, d := range l.updated {
		out = append(out, d.DeviceNo)
	}
	return out
}

func testHouse() config.HouseConfig {
	return config.HouseConfig{
		EntryID:   "entry1",
		HouseNo:   "h1",
		HouseName: "Home",
		SecretKey: "0123456789ABCDEF0123456789ABCDEF",
	}
}

func newTestManager(t *testing.T) (*Manager, *mockListener) {
	t.Helper()
	m := NewManager(testHouse(), nil, logging.Default())
	l := &mockListener{}
	m.AddListener(l)
	return m, l
}

func seedDevice(m *Manager, d *Device) {
	if d.Value == nil {
		d.Value = make(map[string]any)
	}
	m.mu.Lock()
	m.devices[d.DeviceNo] = d
	m.mu.Unlock()
}

func TestApplyStatusMergesAndNotifies(t *testing.T) {
	m, l := newTestManager(t)
	seedDevice(m, &Device{DeviceNo: "d1", Value: map[string]any{"switch": "off"}})

	m.ApplyStatus(context.Background(), "d1", map[string]any{"switch": "on", "light": float64(80)})

	d, ok := m.Device("d1")
	if !ok {
		t.Fatal("device missing")
	}
	if d.Value["switch"] != "on" || d.Value["light"] != float64(80) {
		t.Errorf("value = %v", d.Value)
	}
	if got := l.updatedNos(); !slices.Equal(got, []string{"d1"}) {
		t.Errorf("updates = %v", got)
	}
}

func TestApplyStatusUnknownDevice(t *testing.T) {
	m, l := newTestManager(t)

	m.ApplyStatus(context.Background(), "ghost", map[string]any{"switch": "on"})

	if len(l.updatedNos()) != 0 {
		t.Errorf("updates for unknown device: %v", l.updatedNos())
	}
}

func TestApplyStatusDeviceUseRemoval(t *testing.T) {
	m, l := newTestManager(t)
	seedDevice(m, &Device{DeviceNo: "d1"})

	m.ApplyStatus(context.Background(), "d1", map[string]any{"device_use": false})

	if _, ok := m.Device("d1"); ok {
		t.Error("deactivated device still present")
	}
	if !slices.Equal(l.removed, []string{"d1"}) {
		t.Errorf("removed = %v", l.removed)
	}
}

func TestApplyStatusDeviceUseActivation(t *testing.T) {
	m, l := newTestManager(t)
	seedDevice(m, &Device{DeviceNo: "d1"})

	m.ApplyStatus(context.Background(), "d1", map[string]any{"device_use": true})

	if len(l.added) != 1 || l.added[0].DeviceNo != "d1" {
		t.Errorf("added = %v", l.added)
	}
	if _, ok := m.Device("d1"); !ok {
		t.Error("activated device missing")
	}
}

func TestCloudPresenceOnlineNeedsFollowFlag(t *testing.T) {
	m, l := newTestManager(t)
	seedDevice(m, &Device{DeviceNo: "d1", TerminalSequence: "t1", IsFollowOnline: true})
	seedDevice(m, &Device{DeviceNo: "d2", TerminalSequence: "t1", IsFollowOnline: false})

	m.applyCloudPresence("t1", true)

	d1, _ := m.Device("d1")
	d2, _ := m.Device("d2")
	if !d1.Online() {
		t.Error("follow-online device did not come up")
	}
	if d2.Online() {
		t.Error("non-follow device came up")
	}
	if got := l.updatedNos(); !slices.Equal(got, []string{"d1"}) {
		t.Errorf("updates = %v", got)
	}
}

func TestCloudPresenceOfflineSparesCrossHostGroups(t *testing.T) {
	m, _ := newTestManager(t)
	seedDevice(m, &Device{
		DeviceNo: "g1", IsGroup: true,
		Hosts: []string{"hostA", "hostB"},
		Value: map[string]any{"online": true},
	})
	seedDevice(m, &Device{
		DeviceNo: "g2", IsGroup: true,
		Hosts: []string{"hostA"},
		Value: map[string]any{"online": true},
	})

	m.applyCloudPresence("hostA", false)

	g1, _ := m.Device("g1")
	g2, _ := m.Device("g2")
	if !g1.Online() {
		t.Error("cross-host group went down with a single host")
	}
	if g2.Online() {
		t.Error("single-host group survived its only host")
	}
}

func TestLANPresenceGroupFollowsAggregate(t *testing.T) {
	m, _ := newTestManager(t)
	online := map[string]bool{"hostA": false, "hostB": true}
	m.SetHostProbe(func(seq string) bool { return online[seq] })

	seedDevice(m, &Device{
		DeviceNo: "g1", IsGroup: true,
		Hosts: []string{"hostA", "hostB"},
	})

	m.applyLANPresence("hostA", false)
	g1, _ := m.Device("g1")
	if !g1.Online() {
		t.Error("group offline while one host is up")
	}

	online["hostB"] = false
	m.applyLANPresence("hostB", false)
	g1, _ = m.Device("g1")
	if g1.Online() {
		t.Error("group online with no hosts up")
	}
}

func TestHandleLANMessageIgnoredInCloudMode(t *testing.T) {
	m, l := newTestManager(t)
	m.SetConnected(true)
	seedDevice(m, &Device{DeviceNo: "t1-2"})

	msg := lanDeviceValueMessage("t1", "2", map[string]any{"switch": "on"})
	m.HandleLANMessage(context.Background(), msg)

	if len(l.updatedNos()) != 0 {
		t.Errorf("updates in cloud mode: %v", l.updatedNos())
	}
}

func TestResolveDeviceMessageRouteAddressing(t *testing.T) {
	m, l := newTestManager(t)
	m.SetConnected(false)
	seedDevice(m, &Device{DeviceNo: "t1-2"})
	seedDevice(m, &Device{DeviceNo: "t1"})

	m.HandleLANMessage(context.Background(), lanDeviceValueMessage("t1", "2", map[string]any{"switch": "on"}))
	m.HandleLANMessage(context.Background(), lanDeviceValueMessage("t1", "", map[string]any{"switch": "off"}))

	routed, _ := m.Device("t1-2")
	if routed.Value["switch"] != "on" {
		t.Errorf("routed device value = %v", routed.Value)
	}
	direct, _ := m.Device("t1")
	if direct.Value["switch"] != "off" {
		t.Errorf("terminal device value = %v", direct.Value)
	}
	if got := l.updatedNos(); !slices.Equal(got, []string{"t1-2", "t1"}) {
		t.Errorf("updates = %v", got)
	}
}

func TestResolveTerminalGroupCmdUp(t *testing.T) {
	m, _ := newTestManager(t)
	m.SetConnected(false)
	seedDevice(m, &Device{DeviceNo: "g1", IsGroup: true})

	msg := testMessage("terminal.host", map[string]any{
		"sequence": "hostA",
		"service": map[string]any{
			"device_group_cmd_up": map[string]any{
				"group_no": "g1",
				"property": map[string]any{"light": float64(50)},
			},
		},
	})
	m.HandleLANMessage(context.Background(), msg)

	g1, _ := m.Device("g1")
	if g1.Value["light"] != float64(50) {
		t.Errorf("group value = %v", g1.Value)
	}
}

func TestHandlePushDeviceValue(t *testing.T) {
	m, _ := newTestManager(t)
	seedDevice(m, &Device{DeviceNo: "d1"})

	raw, _ := json.Marshal(map[string]any{"deviceNo": "d1", "switch": "on"})
	event := cloud.PushEvent{Namespace: cloud.NamespaceDeviceValue}
	event.Result.Msg = raw
	m.HandlePush(context.Background(), event)

	d, _ := m.Device("d1")
	if d.Value["switch"] != "on" {
		t.Errorf("value = %v", d.Value)
	}
	if _, ok := d.Value["deviceNo"]; ok {
		t.Error("routing key leaked into value map")
	}
}

func TestMarkAllOffline(t *testing.T) {
	m, l := newTestManager(t)
	seedDevice(m, &Device{DeviceNo: "d1", Value: map[string]any{"online": true}})
	m.mu.Lock()
	m.scenes["s1"] = &Scene{SceneNo: "s1"}
	m.mu.Unlock()

	m.MarkAllOffline()

	d, _ := m.Device("d1")
	if d.Online() {
		t.Error("device still online")
	}
	if len(l.scenes) != 1 {
		t.Errorf("scene notifications = %d", len(l.scenes))
	}
}

func TestStaleDevices(t *testing.T) {
	tests := []struct {
		name     string
		baseline []*Device
		next     []*Device
		want     []string
	}{
		{
			name:     "room moved",
			baseline: []*Device{{DeviceNo: "d1", RoomNo: "r1", DeviceSubTypeNo: "3-001-001"}},
			next:     []*Device{{DeviceNo: "d1", RoomNo: "r2", DeviceSubTypeNo: "3-001-001"}},
			want:     []string{"d1"},
		},
		{
			name:     "subtype changed",
			baseline: []*Device{{DeviceNo: "d1", RoomNo: "r1", DeviceSubTypeNo: "3-001-001"}},
			next:     []*Device{{DeviceNo: "d1", RoomNo: "r1", DeviceSubTypeNo: "3-002-001"}},
			want:     []string{"d1"},
		},
		{
			name:     "unchanged",
			baseline: []*Device{{DeviceNo: "d1", RoomNo: "r1", DeviceSubTypeNo: "3-001-001"}},
			next:     []*Device{{DeviceNo: "d1", RoomNo: "r1", DeviceSubTypeNo: "3-001-001"}},
			want:     nil,
		},
		{
			name:     "absent devices skipped",
			baseline: []*Device{{DeviceNo: "d1", RoomNo: "r1"}},
			next:     []*Device{{DeviceNo: "d2", RoomNo: "r9"}},
			want:     nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StaleDevices(tt.baseline, tt.next)
			if !slices.Equal(got, tt.want) {
				t.Errorf("StaleDevices() = %v, want %v", got, tt.want)
			}
		})
	}
}

func discoveryHandler(t *testing.T) http.Handler {
	t.Helper()
	write := func(w http.ResponseWriter, data any) {
		raw, _ := json.Marshal(data)
		json.NewEncoder(w).Encode(map[string]any{"code": "10000", "data": json.RawMessage(raw)})
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/floor/infos", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"floors": []cloud.FloorInfo{{FloorNo: "f1", FloorName: "Ground"}}})
	})
	mux.HandleFunc("/room/infos", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"rooms": []cloud.RoomInfo{{RoomNo: "r1", RoomName: "Living Room", FloorNo: "f1"}}})
	})
	mux.HandleFunc("/terminal/infos", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"terminals": []cloud.TerminalInfo{
			{TerminalSequence: "t1", HostSequence: "A1B2C3D4E5F6", ProductModel: "DXH", IsFollowOnline: true},
			{TerminalSequence: "t2", HostSequence: "B1B2C3D4E5F6", ProductModel: "DXS"},
		}})
	})
	mux.HandleFunc("/device/infos", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"devices": []cloud.DeviceInfo{
			{DeviceNo: "d1", DeviceName: "Lamp", TerminalSequence: "t1", RouteNum: 2,
				DeviceTypeNo: "3-001", DeviceSubTypeNo: "3-001-001", RoomNo: "r1", IsUse: 1, IsOnline: true},
			{DeviceNo: "d2", DeviceName: "Spare", IsUse: 0},
		}})
	})
	mux.HandleFunc("/deviceGroup/infos", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"deviceGroups": []cloud.GroupInfo{
			{DeviceGroupNo: "g1", DeviceGroupName: "All Lights", DeviceGroupType: "Light",
				RoomNo: "r1", SyncHostSequences: []string{"A1B2C3D4E5F6"}},
		}})
	})
	mux.HandleFunc("/scene/infos", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"scenes": []cloud.SceneInfo{
			{SceneNo: "s1", SceneName: "Movie Night", RoomNo: "r1", ExecuteWay: 1,
				SyncHostSequences: []string{"A1B2C3D4E5F6"}, IsUse: 1, IsManualExecute: 1},
			{SceneNo: "s2", SceneName: "Hidden", IsUse: 1, IsManualExecute: 0},
		}})
	})
	return mux
}

func newDiscoveryClient(t *testing.T) *cloud.Client {
	t.Helper()
	server := httptest.NewServer(discoveryHandler(t))
	t.Cleanup(server.Close)

	cfg := config.CloudConfig{Address: server.URL, AppKey: "k", AppSecret: "s", Timeout: 2, MaxRetries: 1}
	return cloud.NewClient(cfg, testHouse(), logging.Default())
}

func TestBootstrapFromCloud(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.BootstrapFromCloud(context.Background(), newDiscoveryClient(t)); err != nil {
		t.Fatalf("BootstrapFromCloud: %v", err)
	}

	d1, ok := m.Device("d1")
	if !ok {
		t.Fatal("d1 missing")
	}
	if d1.RoomName != "Living Room" || d1.FloorNo != "f1" || d1.FloorName != "Ground" {
		t.Errorf("placement = %+v", d1)
	}
	if !slices.Equal(d1.Hosts, []string{"A1B2C3D4E5F6"}) || !d1.IsFollowOnline {
		t.Errorf("host enrichment = %+v", d1)
	}
	if !d1.Online() {
		t.Error("discovered online flag lost")
	}
	if d1.ClassNo() != "3" || d1.DeviceType != "lighting" {
		t.Errorf("class resolution = %q / %q", d1.ClassNo(), d1.DeviceType)
	}

	if _, ok := m.Device("d2"); ok {
		t.Error("unused device imported")
	}
	g1, ok := m.Device("g1")
	if !ok || !g1.IsGroup {
		t.Fatalf("group = %+v", g1)
	}

	if hosts := m.Hosts(); !slices.Equal(hosts, []string{"A1B2C3D4E5F6"}) {
		t.Errorf("hosts = %v, want only the DXH host", hosts)
	}

	if _, ok := m.Scene("s2"); ok {
		t.Error("non-manual scene imported")
	}
	s1, ok := m.Scene("s1")
	if !ok || s1.RoomName != "Living Room" {
		t.Errorf("scene = %+v", s1)
	}
}

func TestReconcilePassRemovesAbsent(t *testing.T) {
	m, l := newTestManager(t)
	seedDevice(m, &Device{DeviceNo: "d1", Value: map[string]any{"switch": "off"}})
	seedDevice(m, &Device{DeviceNo: "stale"})

	if err := m.ReconcilePass(context.Background(), newDiscoveryClient(t)); err != nil {
		t.Fatalf("ReconcilePass: %v", err)
	}

	if _, ok := m.Device("stale"); ok {
		t.Error("absent device survived reconciliation")
	}
	if !slices.Contains(l.removed, "stale") {
		t.Errorf("removed = %v", l.removed)
	}
	if _, ok := m.Device("g1"); !ok {
		t.Error("newly discovered group not added")
	}
	var addedNos []string
	for _, d := range l.added {
		addedNos = append(addedNos, d.DeviceNo)
	}
	if !slices.Contains(addedNos, "g1") {
		t.Errorf("added = %v", addedNos)
	}
}

func TestReconcilePassRebuildsMovedDevice(t *testing.T) {
	m, l := newTestManager(t)
	seedDevice(m, &Device{DeviceNo: "d1", RoomNo: "r9", DeviceSubTypeNo: "3-001-001",
		Value: map[string]any{"switch": "off"}})

	if err := m.ReconcilePass(context.Background(), newDiscoveryClient(t)); err != nil {
		t.Fatalf("ReconcilePass: %v", err)
	}

	// The cloud reports d1 in a different room, so its derived
	// entities must be torn down and recreated, not refreshed.
	if !slices.Contains(l.removed, "d1") {
		t.Errorf("removed = %v, want d1 torn down", l.removed)
	}
	var addedNos []string
	for _, d := range l.added {
		addedNos = append(addedNos, d.DeviceNo)
	}
	if !slices.Contains(addedNos, "d1") {
		t.Errorf("added = %v, want d1 recreated", addedNos)
	}
	if slices.Contains(l.updatedNos(), "d1") {
		t.Errorf("updated = %v, moved device refreshed in place", l.updatedNos())
	}

	d1, ok := m.Device("d1")
	if !ok || d1.RoomNo != "r1" {
		t.Errorf("device after rebuild = %+v", d1)
	}
}

func testMessage(msgType string, data map[string]any) *wire.Message {
	msg := wire.NewMessage(msgType, data)
	return &msg
}

func lanDeviceValueMessage(sequence, route string, property map[string]any) *wire.Message {
	data := map[string]any{
		"sequence": sequence,
		"property": property,
	}
	if route != "" {
		data["route"] = route
	}
	return testMessage("device.light", data)
}
