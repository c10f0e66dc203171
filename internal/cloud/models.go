package cloud

import "encoding/json"

// DeviceInfo is a device record as the platform reports it.
type DeviceInfo struct {
	DeviceNo         string         `json:"deviceNo"`
	DeviceName       string         `json:"deviceName"`
	TerminalSequence string         `json:"terminalSequence"`
	RouteNum         int            `json:"routeNum"`
	DeviceTypeNo     string         `json:"deviceTypeNo"`
	DeviceSubTypeNo  string         `json:"deviceSubTypeNo"`
	HouseNo          string         `json:"houseNo"`
	FloorNo          string         `json:"floorNo"`
	RoomNo           string         `json:"roomNo"`
	CreateTime       string         `json:"createTime"`
	Seq              int            `json:"seq"`
	IsUse            int            `json:"isUse"`
	IsOnline         bool           `json:"isOnline"`
	IsVirtualDevice  bool           `json:"isVirtualDevice"`
	Value            map[string]any `json:"value"`
}

// GroupInfo is a device group record. Groups are surfaced alongside
// devices, addressed by their group number.
type GroupInfo struct {
	DeviceGroupNo   string         `json:"deviceGroupNo"`
	DeviceGroupName string         `json:"deviceGroupName"`
	DeviceGroupType string         `json:"deviceGroupType"`
	HouseNo         string         `json:"houseNo"`
	FloorNo         string         `json:"floorNo"`
	RoomNo          string         `json:"roomNo"`
	CreateTime      string         `json:"createTime"`
	Seq             int            `json:"seq"`
	ExecuteWay      int            `json:"executeWay"`

	// SyncHostSequences lists the hosts whose terminals contribute
	// members to the group.
	SyncHostSequences []string       `json:"syncHostSequences"`
	Value             map[string]any `json:"value"`
}

// FloorInfo is a floor record.
type FloorInfo struct {
	FloorNo   string `json:"floorNo"`
	FloorName string `json:"floorName"`
}

// RoomInfo is a room record.
type RoomInfo struct {
	RoomNo   string `json:"roomNo"`
	RoomName string `json:"roomName"`
	FloorNo  string `json:"floorNo"`
}

// TerminalInfo is a terminal record. Terminals with a LAN-capable
// product model act as hosts for the local transport.
type TerminalInfo struct {
	TerminalSequence string `json:"terminalSequence"`
	HostSequence     string `json:"hostSequence"`
	ProductModel     string `json:"productModel"`
	IsFollowOnline   bool   `json:"isFollowOnline"`
}

// LAN-capable host product models.
const (
	productModelHost   = "DXH"
	productModelHostH7 = "DXH-HMCUH743"
)

// IsLANHost reports whether the terminal can serve as a LAN host.
func (t TerminalInfo) IsLANHost() bool {
	return t.ProductModel == productModelHost || t.ProductModel == productModelHostH7
}

// SceneInfo is a scene record.
type SceneInfo struct {
	SceneNo           string   `json:"sceneNo"`
	SceneName         string   `json:"sceneName"`
	RoomNo            string   `json:"roomNo"`
	FloorNo           string   `json:"floorNo"`
	HouseNo           string   `json:"houseNo"`
	ExecuteWay        int      `json:"executeWay"`
	SyncHostSequences []string `json:"syncHostSequences"`
	IsUse             int      `json:"isUse"`
	IsManualExecute   int      `json:"isManualExecute"`
}

// Command is one attribute write in a control request.
type Command struct {
	Code  string `json:"code"`
	Value any    `json:"value"`
}

// ControlRequest is the body of a device or group control call.
type ControlRequest struct {
	DeviceNo      string    `json:"deviceNo,omitempty"`
	DeviceGroupNo string    `json:"deviceGroupNo,omitempty"`
	HouseNo       string    `json:"houseNo"`
	Commands      []Command `json:"commands"`
}

// PushEvent is one message from the synchronization websocket.
type PushEvent struct {
	Namespace string `json:"namespace"`
	Result    struct {
		Msg json.RawMessage `json:"msg"`
	} `json:"result"`
}

// Push namespaces carrying state the bridge consumes.
const (
	NamespaceDeviceValue      = "Duwi.RPS.DeviceValue"
	NamespaceDeviceGroupValue = "Duwi.RPS.DeviceGroupValue"
	NamespaceTerminalOnline   = "Duwi.RPS.TerminalOnline"
)
