package wire

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Message envelope namespaces used on the LAN.
const (
	TypeTerminalHost = "terminal.host"
	TypeSysOp        = "sys.op"
)

// messageVersion is the envelope version all terminals speak.
const messageVersion = "1.0"

// Message is the JSON body carried inside an encrypted frame.
type Message struct {
	TraceID string         `json:"traceId"`
	Version string         `json:"version"`
	Type    string         `json:"type"`
	Data    map[string]any `json:"data"`
}

// NewMessage builds an envelope with a fresh trace id.
func NewMessage(msgType string, data map[string]any) Message {
	return Message{
		TraceID: uuid.NewString(),
		Version: messageVersion,
		Type:    msgType,
		Data:    data,
	}
}

// Marshal renders the envelope as compact JSON.
func (m Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// deviceClassTypes maps the leading segment of a device type number to the
// message namespace its commands travel under.
var deviceClassTypes = map[string]string{
	"1":  "device.power",
	"3":  "device.light",
	"4":  "device.curtain",
	"5":  "device.hvac",
	"6":  "device.switch_panel",
	"7":  "device.security_sensor",
	"8":  "device.video",
	"9":  "device.remote",
	"10": "device.protocol",
}

// MessageTypeForClass returns the command namespace for a device class
// number, or "" when the class is unknown.
func MessageTypeForClass(classNo string) string {
	return deviceClassTypes[classNo]
}
