package lan

import (
	"fmt"
	"strings"

	"github.com/duwi2024/duwi-bridge/internal/wire"
)

// DeviceCommand describes one attribute write against a device reachable
// through a LAN host.
type DeviceCommand struct {
	// HostSequence is the host the frame is sent to.
	HostSequence string

	// DeviceNo is the vendor's device number.
	DeviceNo string

	// DeviceTypeNo is the full type number, "3-001" style. Its leading
	// segment selects the command namespace.
	DeviceTypeNo string

	// TerminalSequence is the terminal that owns the device. Individual
	// commands address it, not the device number.
	TerminalSequence string

	// RouteNum is the device's bus route on its terminal. Zero means
	// the device has no route of its own.
	RouteNum int

	// IsGroup marks a device group; group commands travel under the
	// terminal.host namespace instead of a device class namespace.
	IsGroup bool

	// GroupNo is the group number, set when IsGroup is true.
	GroupNo string

	// IsVirtual marks a host-resident virtual device. Virtual devices
	// have no bus route and are addressed by device number on route 1.
	IsVirtual bool

	// Attributes are the property values to write.
	Attributes map[string]any
}

// message builds the wire message for this command. A nil message with
// nil error means the device cannot be addressed over the LAN.
func (cmd DeviceCommand) message() (*wire.Message, error) {
	if cmd.IsGroup {
		msg := wire.NewMessage(wire.TypeTerminalHost, map[string]any{
			"sequence": cmd.HostSequence,
			"service": map[string]any{
				"device_group_cmd_down": map[string]any{
					"group_no": cmd.GroupNo,
					"property": cmd.Attributes,
					"service":  map[string]any{},
				},
			},
		})
		return &msg, nil
	}

	classNo, _, _ := strings.Cut(cmd.DeviceTypeNo, "-")
	msgType := wire.MessageTypeForClass(classNo)
	if msgType == "" {
		return nil, fmt.Errorf("lan: no namespace for device class %q", classNo)
	}

	data := map[string]any{"sequence": cmd.TerminalSequence}
	switch {
	case cmd.RouteNum != 0:
		data["route"] = cmd.RouteNum
	case cmd.IsVirtual:
		data["sequence"] = cmd.DeviceNo
		data["route"] = 1
	default:
		return nil, nil
	}
	data["property"] = cmd.Attributes

	msg := wire.NewMessage(msgType, data)
	return &msg, nil
}

// DeviceOperate sends one attribute write to the device's host.
//
// Group commands are dispatched to the terminal itself. Individual
// commands travel under the device class namespace, addressed by
// terminal sequence and route; devices with no route and no virtual
// flag cannot be addressed over the LAN and the command is silently
// skipped.
func (t *Transport) DeviceOperate(cmd DeviceCommand) error {
	msg, err := cmd.message()
	if err != nil {
		return err
	}
	if msg == nil {
		t.log.Debug("device has no lan route, skipping",
			"device_no", cmd.DeviceNo)
		return nil
	}
	return t.sendMessage(cmd.HostSequence, wire.FrameCON, msg)
}

// sceneExecuteMessage wraps a scene number in the terminal service
// envelope.
func sceneExecuteMessage(hostSequence, sceneNo string) wire.Message {
	return wire.NewMessage(wire.TypeTerminalHost, map[string]any{
		"sequence": hostSequence,
		"service": map[string]any{
			"scene_execute": map[string]any{"scene_no": sceneNo},
		},
	})
}

// ActivateScene asks a terminal to execute one of its stored scenes.
func (t *Transport) ActivateScene(hostSequence, sceneNo string) error {
	msg := sceneExecuteMessage(hostSequence, sceneNo)
	return t.sendMessage(hostSequence, wire.FrameCON, &msg)
}

// queryInfoMessage wraps a runtime state query in the terminal service
// envelope.
func queryInfoMessage(hostSequence string) wire.Message {
	return wire.NewMessage(wire.TypeTerminalHost, map[string]any{
		"sequence": hostSequence,
		"service": map[string]any{
			"query_info": map[string]any{
				"params": []any{"use_storage_percent"},
			},
		},
	})
}

// QueryInfo asks a terminal to report its runtime state. The reply
// arrives as a normal inbound message; fire-and-forget is fine here.
func (t *Transport) QueryInfo(hostSequence string) error {
	msg := queryInfoMessage(hostSequence)
	return t.sendMessage(hostSequence, wire.FrameNON, &msg)
}

// SendTerminalData asks a freshly confirmed terminal to push its full
// state up, under the sys.op namespace.
func (t *Transport) SendTerminalData(hostSequence string) error {
	msg := wire.NewMessage(wire.TypeSysOp, map[string]any{
		"terminal_data_up": map[string]any{"sequence": hostSequence},
	})
	return t.sendMessage(hostSequence, wire.FrameNON, &msg)
}
