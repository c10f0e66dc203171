package registry

import (
	"maps"
	"strings"
)

// Device is one controllable entity: an individual device or a device
// group. Groups are addressed by their group number and carry the
// host list of every terminal they span.
type Device struct {
	DeviceNo         string `json:"device_no"`
	DeviceName       string `json:"device_name"`
	DeviceType       string `json:"device_type"`
	TerminalSequence string `json:"terminal_sequence"`
	RouteNum         int    `json:"route_num"`
	DeviceTypeNo     string `json:"device_type_no"`
	DeviceSubTypeNo  string `json:"device_sub_type_no"`
	HouseNo          string `json:"house_no"`
	HouseName        string `json:"house_name"`
	FloorNo          string `json:"floor_no"`
	FloorName        string `json:"floor_name"`
	RoomNo           string `json:"room_no"`
	RoomName         string `json:"room_name"`
	CreateTime       string `json:"create_time"`
	Seq              int    `json:"seq"`
	IsGroup          bool   `json:"is_group"`
	IsFollowOnline   bool   `json:"is_follow_online"`
	IsVirtualDevice  bool   `json:"is_virtual_device"`
	GroupType        string `json:"group_type,omitempty"`

	// Hosts are the LAN host sequences this device is reachable
	// through. Individual devices have one; groups may span several.
	Hosts []string `json:"hosts"`

	// Value holds the device's live attribute state, keyed by
	// attribute code. "online" is the liveness flag.
	Value map[string]any `json:"value"`
}

// ClassNo returns the leading segment of the device type number. Type
// numbers combine a class code with a product code, "3-001" style.
func (d *Device) ClassNo() string {
	classNo, _, _ := strings.Cut(d.DeviceTypeNo, "-")
	return classNo
}

// Online reports the device's liveness flag.
func (d *Device) Online() bool {
	online, _ := d.Value["online"].(bool)
	return online
}

// SetOnline sets the liveness flag.
func (d *Device) SetOnline(online bool) {
	if d.Value == nil {
		d.Value = make(map[string]any)
	}
	d.Value["online"] = online
}

// UpdateFrom refreshes the device from a newly discovered record.
// Empty fields on the new record keep their current values, so earlier
// enrichment survives a sparse discovery payload; the value map is
// replaced wholesale since the platform's copy is authoritative.
func (d *Device) UpdateFrom(other *Device) {
	setIf(&d.DeviceNo, other.DeviceNo)
	setIf(&d.DeviceName, other.DeviceName)
	setIf(&d.DeviceType, other.DeviceType)
	setIf(&d.TerminalSequence, other.TerminalSequence)
	setIf(&d.DeviceTypeNo, other.DeviceTypeNo)
	setIf(&d.DeviceSubTypeNo, other.DeviceSubTypeNo)
	setIf(&d.HouseNo, other.HouseNo)
	setIf(&d.HouseName, other.HouseName)
	setIf(&d.FloorNo, other.FloorNo)
	setIf(&d.FloorName, other.FloorName)
	setIf(&d.RoomNo, other.RoomNo)
	setIf(&d.RoomName, other.RoomName)
	setIf(&d.CreateTime, other.CreateTime)
	setIf(&d.GroupType, other.GroupType)
	if other.RouteNum != 0 {
		d.RouteNum = other.RouteNum
	}
	if other.Seq != 0 {
		d.Seq = other.Seq
	}
	d.IsGroup = d.IsGroup || other.IsGroup
	d.IsFollowOnline = d.IsFollowOnline || other.IsFollowOnline
	d.IsVirtualDevice = d.IsVirtualDevice || other.IsVirtualDevice
	if len(other.Hosts) > 0 {
		d.Hosts = append([]string(nil), other.Hosts...)
	}
	d.Value = maps.Clone(other.Value)
	if d.Value == nil {
		d.Value = make(map[string]any)
	}
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (d *Device) Clone() *Device {
	out := *d
	out.Hosts = append([]string(nil), d.Hosts...)
	out.Value = maps.Clone(d.Value)
	return &out
}

// Scene is a stored automation scene.
type Scene struct {
	SceneNo   string `json:"scene_no"`
	SceneName string `json:"scene_name"`
	RoomNo    string `json:"room_no"`
	RoomName  string `json:"room_name"`
	FloorNo   string `json:"floor_no"`
	FloorName string `json:"floor_name"`
	HouseNo   string `json:"house_no"`

	// ExecuteWay selects where the scene runs: 0 on the cloud, 1 on
	// the terminals listed in SyncHostSequences.
	ExecuteWay        int      `json:"execute_way"`
	SyncHostSequences []string `json:"sync_host_sequences"`
}

// Clone returns a deep copy of the scene.
func (s *Scene) Clone() *Scene {
	out := *s
	out.SyncHostSequences = append([]string(nil), s.SyncHostSequences...)
	return &out
}

// groupTypeNames labels device group types for display.
var groupTypeNames = map[string]string{
	"Breaker":       "breaker group",
	"Light":         "dimmer group",
	"Color":         "color temperature group",
	"LightColor":    "dual color group",
	"RGB":           "rgb group",
	"RGBW":          "rgbw group",
	"Retractable":   "curtain group",
	"Roller":        "roller blind group",
	"Blind":         "venetian blind group",
	"VerticalBlind": "vertical blind group",
}

// classNames labels device classes for display.
var classNames = map[string]string{
	"1":  "power",
	"3":  "lighting",
	"4":  "curtain",
	"5":  "climate",
	"6":  "switch panel",
	"7":  "sensor",
	"8":  "media",
	"9":  "remote",
	"10": "protocol",
}
