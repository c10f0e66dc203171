// Package router dispatches device commands and scene activations over
// whichever transport is currently serving the house.
package router

import (
	"context"
	"time"

	"github.com/duwi2024/duwi-bridge/internal/cloud"
	"github.com/duwi2024/duwi-bridge/internal/infrastructure/logging"
	"github.com/duwi2024/duwi-bridge/internal/lan"
	"github.com/duwi2024/duwi-bridge/internal/registry"
)

// tokenRefreshWindow forces a token refresh before issuing cloud
// commands when the access token expires this soon.
const tokenRefreshWindow = 48 * time.Hour

// Registry is the slice of the device registry the router reads.
type Registry interface {
	Device(deviceNo string) (*registry.Device, bool)
	Scene(sceneNo string) (*registry.Scene, bool)
	Connected() bool
}

// CloudAPI is the slice of the cloud client the router calls.
type CloudAPI interface {
	ControlDevice(ctx context.Context, deviceNo string, commands []cloud.Command) (*cloud.Response, error)
	ControlGroup(ctx context.Context, groupNo string, commands []cloud.Command) (*cloud.Response, error)
	ExecuteScene(ctx context.Context, sceneNo string) (*cloud.Response, error)
	Refresh(ctx context.Context) error
	TokenExpiry() time.Time
}

// LANTransport is the slice of the local transport the router calls.
type LANTransport interface {
	DeviceOperate(cmd lan.DeviceCommand) error
	ActivateScene(hostSequence, sceneNo string) error
}

// HostStatus reports LAN host liveness.
type HostStatus interface {
	IsOnline(sequence string) bool
	AnyOnline(sequences []string) bool
}

// Router picks the transport for outbound commands.
type Router struct {
	log      *logging.Logger
	registry Registry
	api      CloudAPI
	lan      LANTransport
	hosts    HostStatus
}

// New builds a router over the given surfaces.
func New(reg Registry, api CloudAPI, transport LANTransport, hosts HostStatus, log *logging.Logger) *Router {
	return &Router{
		log:      log.With("component", "router"),
		registry: reg,
		api:      api,
		lan:      transport,
		hosts:    hosts,
	}
}

// SendCommands writes a set of attribute values to one device or group.
//
// In cloud mode the write goes through the platform API, refreshing the
// access token first when it is close to expiry. In LAN mode the write
// is fanned out to every online host that carries the device. A device
// that is reachable on neither transport drops the command with a
// warning; the caller cannot do anything useful with that failure.
func (r *Router) SendCommands(ctx context.Context, deviceNo string, values map[string]any) error {
	device, ok := r.registry.Device(deviceNo)
	if !ok {
		r.log.Warn("command for unknown device", "device_no", deviceNo)
		return nil
	}

	if r.registry.Connected() {
		return r.sendCloud(ctx, device, values)
	}
	if r.hosts.AnyOnline(device.Hosts) {
		return r.sendLAN(device, values)
	}

	r.log.Warn("device unreachable, dropping command",
		"device_no", deviceNo, "hosts", device.Hosts)
	return nil
}

func (r *Router) sendCloud(ctx context.Context, device *registry.Device, values map[string]any) error {
	if time.Until(r.api.TokenExpiry()) < tokenRefreshWindow {
		if err := r.api.Refresh(ctx); err != nil {
			r.log.Warn("token refresh before command failed", "error", err)
		}
	}

	commands := make([]cloud.Command, 0, len(values))
	for code, value := range values {
		commands = append(commands, cloud.Command{Code: code, Value: value})
	}

	var err error
	if device.IsGroup {
		_, err = r.api.ControlGroup(ctx, device.DeviceNo, commands)
	} else {
		_, err = r.api.ControlDevice(ctx, device.DeviceNo, commands)
	}
	return err
}

func (r *Router) sendLAN(device *registry.Device, values map[string]any) error {
	var lastErr error
	for _, host := range device.Hosts {
		if !r.hosts.IsOnline(host) {
			continue
		}
		cmd := lan.DeviceCommand{
			HostSequence:     host,
			DeviceNo:         device.DeviceNo,
			DeviceTypeNo:     device.DeviceTypeNo,
			TerminalSequence: device.TerminalSequence,
			RouteNum:         device.RouteNum,
			IsGroup:          device.IsGroup,
			GroupNo:          device.DeviceNo,
			IsVirtual:        device.IsVirtualDevice,
			Attributes:       values,
		}
		if err := r.lan.DeviceOperate(cmd); err != nil {
			r.log.Warn("lan command failed", "device_no", device.DeviceNo,
				"host", host, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// ActivateScene triggers a scene.
//
// Cloud-managed scenes always execute through the platform. Scenes the
// platform synchronized to the hosts can run locally, fanned out to
// each sync host that is online.
func (r *Router) ActivateScene(ctx context.Context, sceneNo string) error {
	scene, ok := r.registry.Scene(sceneNo)
	if !ok {
		r.log.Warn("activation for unknown scene", "scene_no", sceneNo)
		return nil
	}

	if scene.ExecuteWay == 0 || r.registry.Connected() {
		_, err := r.api.ExecuteScene(ctx, sceneNo)
		return err
	}

	var lastErr error
	for _, host := range scene.SyncHostSequences {
		if !r.hosts.IsOnline(host) {
			continue
		}
		if err := r.lan.ActivateScene(host, sceneNo); err != nil {
			r.log.Warn("lan scene activation failed", "scene_no", sceneNo,
				"host", host, "error", err)
			lastErr = err
		}
	}
	return lastErr
}
