package store

// House is the cached house record.
type House struct {
	HouseNo      string
	HouseName    string
	LANSecretKey string
}

// Floor is a cached floor record.
type Floor struct {
	FloorNo   string
	FloorName string
}

// Room is a cached room record.
type Room struct {
	RoomNo   string
	RoomName string
}

// Terminal is a cached terminal record.
type Terminal struct {
	TerminalSequence string
	HostSequence     string
	ProductModel     string
}

// DeviceRecord is a cached device or device group.
type DeviceRecord struct {
	DeviceNo         string
	DeviceName       string
	DeviceType       string
	TerminalSequence string
	RouteNum         int
	DeviceTypeNo     string
	DeviceSubTypeNo  string
	HouseNo          string
	FloorNo          string
	RoomNo           string
	DeviceGroupType  string
	IsGroup          bool
	IsFollowOnline   bool
	IsVirtualDevice  bool
	Hosts            []string
	CreateTime       string
}

// DeviceValue is one cached attribute of a device.
type DeviceValue struct {
	DeviceNo string
	Code     string
	Value    any
}

// SceneRecord is a cached scene.
type SceneRecord struct {
	SceneNo           string
	SceneName         string
	RoomNo            string
	FloorNo           string
	HouseNo           string
	ExecuteWay        int
	SyncHostSequences []string
}

// Snapshot is the full cached state of one house, written atomically on
// every successful cloud sync and read once at cold start.
type Snapshot struct {
	House     House
	Floors    []Floor
	Rooms     []Room
	Terminals []Terminal
	Devices   []DeviceRecord
	Values    []DeviceValue
	Scenes    []SceneRecord
}
