package habridge

import (
	"encoding/json"
	"fmt"

	"github.com/duwi2024/duwi-bridge/internal/registry"
)

// discoveryMsg is one Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/light/duwi_d1/light/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
	SuggestedArea string  `json:"suggested_area,omitempty"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	PayloadOpen       string   `json:"payload_open,omitempty"`
	PayloadClose      string   `json:"payload_close,omitempty"`
	PayloadStop       string   `json:"payload_stop,omitempty"`
	BrightnessScale   int      `json:"brightness_scale,omitempty"`
	Schema            string   `json:"schema,omitempty"`
	Device            haDevice `json:"device"`
}

// componentFor maps a device to its HA component, or "" when the
// device has no sensible HA representation and only raw state is
// published.
func componentFor(d *registry.Device) string {
	if d.IsGroup {
		switch d.GroupType {
		case "Breaker":
			return "switch"
		case "Light", "Color", "LightColor", "RGB", "RGBW":
			return "light"
		case "Retractable", "Roller", "Blind", "VerticalBlind":
			return "cover"
		}
		return ""
	}
	switch d.ClassNo() {
	case "1":
		return "switch"
	case "3":
		return "light"
	case "4":
		return "cover"
	case "7":
		return "binary_sensor"
	}
	return ""
}

func deviceIdentifier(d *registry.Device) string {
	return "duwi_" + d.DeviceNo
}

func deviceDisplayName(d *registry.Device) string {
	if d.DeviceName != "" {
		return d.DeviceName
	}
	return d.DeviceNo
}

// buildDiscovery generates the HA discovery message for a device.
// Devices with no HA component yield nothing.
func buildDiscovery(d *registry.Device, prefix string) []discoveryMsg {
	component := componentFor(d)
	if component == "" {
		return nil
	}

	nodeID := deviceIdentifier(d)
	payload := haDiscovery{
		Name:              deviceDisplayName(d),
		UniqueID:          nodeID,
		StateTopic:        prefix + "/" + d.DeviceNo,
		CommandTopic:      prefix + "/" + d.DeviceNo + "/set",
		AvailabilityTopic: prefix + "/" + d.DeviceNo + "/availability",
		Device: haDevice{
			Identifiers:   []string{nodeID},
			Manufacturer:  "Duwi",
			Model:         d.DeviceType,
			Name:          deviceDisplayName(d),
			SuggestedArea: d.RoomName,
		},
	}

	switch component {
	case "switch":
		payload.ValueTemplate = "{{ value_json.switch }}"
		payload.PayloadOn = "on"
		payload.PayloadOff = "off"
	case "light":
		payload.Schema = "json"
		payload.BrightnessScale = 100
	case "cover":
		payload.ValueTemplate = "{{ value_json.control }}"
		payload.PayloadOpen = "open"
		payload.PayloadClose = "close"
		payload.PayloadStop = "stop"
	case "binary_sensor":
		payload.CommandTopic = ""
		payload.ValueTemplate = "{{ 'ON' if value_json.alarm else 'OFF' }}"
		payload.PayloadOn = "ON"
		payload.PayloadOff = "OFF"
	}

	topic := fmt.Sprintf("homeassistant/%s/%s/%s/config", component, nodeID, component)
	return []discoveryMsg{{Topic: topic, Payload: mustJSON(payload)}}
}

// buildSceneDiscovery exposes a scene as an HA scene entity.
func buildSceneDiscovery(s *registry.Scene, prefix string) discoveryMsg {
	nodeID := "duwi_scene_" + s.SceneNo
	payload := haDiscovery{
		Name:              s.SceneName,
		UniqueID:          nodeID,
		CommandTopic:      prefix + "/scene/" + s.SceneNo + "/set",
		AvailabilityTopic: prefix + "/bridge/state",
		PayloadOn:         "activate",
		Device: haDevice{
			Identifiers:   []string{nodeID},
			Manufacturer:  "Duwi",
			Name:          s.SceneName,
			SuggestedArea: s.RoomName,
		},
	}
	topic := fmt.Sprintf("homeassistant/scene/%s/scene/config", nodeID)
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

// buildRemoveDiscovery generates empty retained messages clearing every
// component a removed device could have registered.
func buildRemoveDiscovery(deviceNo string) []discoveryMsg {
	nodeID := "duwi_" + deviceNo
	components := []string{"switch", "light", "cover", "binary_sensor"}

	msgs := make([]discoveryMsg, 0, len(components))
	for _, c := range components {
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("homeassistant/%s/%s/%s/config", c, nodeID, c),
			Payload: nil, // empty retained = delete
		})
	}
	return msgs
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
