package lan

import (
	"reflect"
	"testing"

	"github.com/duwi2024/duwi-bridge/internal/wire"
)

func TestDeviceCommandMessage(t *testing.T) {
	msg, err := DeviceCommand{
		HostSequence:     hostA,
		DeviceNo:         "t1-2",
		DeviceTypeNo:     "3-001",
		TerminalSequence: "t1",
		RouteNum:         2,
		Attributes:       map[string]any{"light": 80},
	}.message()
	if err != nil {
		t.Fatalf("message: %v", err)
	}

	if msg.Type != "device.light" {
		t.Errorf("message type = %q, want device.light", msg.Type)
	}
	want := map[string]any{
		"sequence": "t1",
		"route":    2,
		"property": map[string]any{"light": 80},
	}
	if !reflect.DeepEqual(msg.Data, want) {
		t.Errorf("data = %v, want %v", msg.Data, want)
	}
}

func TestDeviceCommandMessageVirtual(t *testing.T) {
	msg, err := DeviceCommand{
		HostSequence:     hostA,
		DeviceNo:         "virt-1",
		DeviceTypeNo:     "1-002",
		TerminalSequence: "t1",
		RouteNum:         0,
		IsVirtual:        true,
		Attributes:       map[string]any{"switch": "on"},
	}.message()
	if err != nil {
		t.Fatalf("message: %v", err)
	}

	// Virtual devices are addressed by their own number on route 1.
	if msg.Data["sequence"] != "virt-1" {
		t.Errorf("sequence = %v, want virt-1", msg.Data["sequence"])
	}
	if msg.Data["route"] != 1 {
		t.Errorf("route = %v, want 1", msg.Data["route"])
	}
}

func TestDeviceCommandMessageGroup(t *testing.T) {
	msg, err := DeviceCommand{
		HostSequence: hostA,
		DeviceNo:     "g1",
		IsGroup:      true,
		GroupNo:      "g1",
		Attributes:   map[string]any{"switch": "off"},
	}.message()
	if err != nil {
		t.Fatalf("message: %v", err)
	}

	if msg.Type != wire.TypeTerminalHost {
		t.Errorf("message type = %q, want %s", msg.Type, wire.TypeTerminalHost)
	}
	if msg.Data["sequence"] != hostA {
		t.Errorf("sequence = %v, want %s", msg.Data["sequence"], hostA)
	}
	service, ok := msg.Data["service"].(map[string]any)
	if !ok {
		t.Fatalf("service is %T, want nested object", msg.Data["service"])
	}
	want := map[string]any{
		"group_no": "g1",
		"property": map[string]any{"switch": "off"},
		"service":  map[string]any{},
	}
	if !reflect.DeepEqual(service["device_group_cmd_down"], want) {
		t.Errorf("device_group_cmd_down = %v, want %v", service["device_group_cmd_down"], want)
	}
}

func TestDeviceCommandMessageUnroutable(t *testing.T) {
	msg, err := DeviceCommand{
		HostSequence:     hostA,
		DeviceNo:         "dev-1",
		DeviceTypeNo:     "3-001",
		TerminalSequence: "t1",
		RouteNum:         0,
	}.message()
	if err != nil {
		t.Errorf("unroutable device returned %v, want nil", err)
	}
	if msg != nil {
		t.Errorf("unroutable device produced message %v", msg)
	}
}

func TestSceneExecuteMessage(t *testing.T) {
	msg := sceneExecuteMessage(hostA, "scene-1")

	if msg.Type != wire.TypeTerminalHost {
		t.Errorf("message type = %q, want %s", msg.Type, wire.TypeTerminalHost)
	}
	if msg.Data["sequence"] != hostA {
		t.Errorf("sequence = %v, want %s", msg.Data["sequence"], hostA)
	}
	service, ok := msg.Data["service"].(map[string]any)
	if !ok {
		t.Fatalf("service is %T, want nested object", msg.Data["service"])
	}
	want := map[string]any{"scene_no": "scene-1"}
	if !reflect.DeepEqual(service["scene_execute"], want) {
		t.Errorf("scene_execute = %v, want %v", service["scene_execute"], want)
	}
}

func TestQueryInfoMessage(t *testing.T) {
	msg := queryInfoMessage(hostA)

	if msg.Type != wire.TypeTerminalHost {
		t.Errorf("message type = %q, want %s", msg.Type, wire.TypeTerminalHost)
	}
	if msg.Data["sequence"] != hostA {
		t.Errorf("sequence = %v, want %s", msg.Data["sequence"], hostA)
	}
	service, ok := msg.Data["service"].(map[string]any)
	if !ok {
		t.Fatalf("service is %T, want nested object", msg.Data["service"])
	}
	want := map[string]any{"params": []any{"use_storage_percent"}}
	if !reflect.DeepEqual(service["query_info"], want) {
		t.Errorf("query_info = %v, want %v", service["query_info"], want)
	}
}
