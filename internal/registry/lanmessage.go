package registry

import (
	"context"
	"fmt"
	"slices"

	"github.com/duwi2024/duwi-bridge/internal/wire"
)

// LAN message namespaces the registry consumes. Anything else is noise
// from other listeners on the multicast group.
var (
	lanTerminalTypes = map[string]bool{
		"terminal.host":  true,
		"terminal.slave": true,
	}
	lanDeviceTypes = map[string]bool{
		"device.power":           true,
		"device.light":           true,
		"device.curtain":         true,
		"device.hvac":            true,
		"device.security_sensor": true,
		"device.video":           true,
	}
)

// HandleLANMessage consumes one decrypted LAN message. Messages are
// ignored in cloud mode; the push socket is authoritative there and the
// two sources would race on the same value maps.
func (m *Manager) HandleLANMessage(ctx context.Context, msg *wire.Message) {
	if m.Connected() {
		return
	}

	switch {
	case lanTerminalTypes[msg.Type]:
		m.resolveTerminalMessage(ctx, msg.Data)
	case lanDeviceTypes[msg.Type]:
		m.resolveDeviceMessage(ctx, msg.Data)
	}
}

// resolveTerminalMessage handles terminal-namespace traffic: liveness
// property reports and group state pushed through the terminal service
// channel.
func (m *Manager) resolveTerminalMessage(ctx context.Context, data map[string]any) {
	sequence, _ := data["sequence"].(string)

	if property, ok := data["property"].(map[string]any); ok {
		if online, ok := property["online"].(bool); ok {
			m.applyLANPresence(sequence, online)
		}
		return
	}

	if service, ok := data["service"].(map[string]any); ok {
		cmdUp, ok := service["device_group_cmd_up"].(map[string]any)
		if !ok {
			return
		}
		groupNo, _ := cmdUp["group_no"].(string)
		property, _ := cmdUp["property"].(map[string]any)
		if groupNo == "" || len(property) == 0 {
			return
		}
		m.ApplyStatus(ctx, groupNo, property)
	}
}

// resolveDeviceMessage handles device-namespace traffic. The sender
// addresses devices by terminal sequence and bus route; the registry's
// device numbers follow the same "<sequence>-<route>" convention, with
// the bare sequence naming the terminal's own device.
func (m *Manager) resolveDeviceMessage(ctx context.Context, data map[string]any) {
	sequence, _ := data["sequence"].(string)
	property, _ := data["property"].(map[string]any)
	if sequence == "" || len(property) == 0 {
		return
	}

	deviceNo := sequence
	if route, ok := data["route"]; ok {
		if routeStr := fmt.Sprint(route); routeStr != "" {
			deviceNo = sequence + "-" + routeStr
		}
	}
	m.ApplyStatus(ctx, deviceNo, property)
}

// applyLANPresence propagates a host liveness transition observed on
// the LAN.
//
// Individual devices follow their own terminal; groups follow the
// aggregate of their hosts, going online when any host is up and
// offline only when none are.
func (m *Manager) applyLANPresence(sequence string, online bool) {
	probe := m.hostProbe
	if probe == nil {
		probe = func(string) bool { return false }
	}

	m.mu.Lock()
	var changed []*Device
	for _, d := range m.devices {
		if d.IsGroup {
			anyOnline := false
			for _, h := range d.Hosts {
				if probe(h) {
					anyOnline = true
					break
				}
			}
			if anyOnline != d.Online() {
				d.SetOnline(anyOnline)
				changed = append(changed, d.Clone())
			}
			continue
		}

		if online {
			if d.IsFollowOnline && d.TerminalSequence == sequence {
				d.SetOnline(true)
				changed = append(changed, d.Clone())
			}
		} else if d.TerminalSequence == sequence || slices.Contains(d.Hosts, sequence) {
			d.SetOnline(false)
			changed = append(changed, d.Clone())
		}
	}
	m.mu.Unlock()

	for _, d := range changed {
		m.eachListener(func(l Listener) { l.OnDeviceUpdated(d) })
	}
}
