// Package habridge exposes the registry to Home Assistant over MQTT,
// with autodiscovery, per-device availability and JSON command topics.
package habridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/duwi2024/duwi-bridge/internal/infrastructure/config"
	"github.com/duwi2024/duwi-bridge/internal/infrastructure/logging"
	"github.com/duwi2024/duwi-bridge/internal/registry"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	commandTimeout = 10 * time.Second
)

// Source is the slice of the registry the bridge reads and observes.
type Source interface {
	Devices() []*registry.Device
	Scenes() []*registry.Scene
	AddListener(l registry.Listener)
	RemoveListener(l registry.Listener)
}

// Commander dispatches inbound MQTT commands.
type Commander interface {
	SendCommands(ctx context.Context, deviceNo string, values map[string]any) error
	ActivateScene(ctx context.Context, sceneNo string) error
}

// Bridge connects the device registry to an MQTT broker.
type Bridge struct {
	client    pahomqtt.Client
	source    Source
	commander Commander
	prefix    string
	qos       byte
	log       *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewBridge creates and connects a bridge.
func NewBridge(cfg config.MQTTConfig, source Source, commander Commander, log *logging.Logger) (*Bridge, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		source:    source,
		commander: commander,
		prefix:    cfg.TopicPrefix,
		qos:       byte(cfg.QoS),
		log:       log.With("component", "habridge"),
		ctx:       ctx,
		cancel:    cancel,
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.prefix+"/bridge/state", "offline", b.qos, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.log.Info("mqtt connected")
			b.publishBridgeState("online")
			b.publishAll()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.log.Warn("mqtt connection lost", "error", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		cancel()
		return nil, fmt.Errorf("habridge: connect timeout")
	}
	if err := token.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("habridge: connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Start subscribes to registry events and begins publishing.
func (b *Bridge) Start() {
	b.source.AddListener(b)
	b.log.Info("mqtt bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	b.source.RemoveListener(b)
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.log.Info("mqtt bridge stopped")
}

// OnDeviceUpdated publishes the device's state and availability.
func (b *Bridge) OnDeviceUpdated(d *registry.Device) {
	b.publishState(d)
}

// OnDeviceAdded announces the device to HA and publishes its state.
func (b *Bridge) OnDeviceAdded(d *registry.Device) {
	for _, msg := range buildDiscovery(d, b.prefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.publishState(d)
}

// OnDeviceRemoved retracts the device's discovery entries.
func (b *Bridge) OnDeviceRemoved(deviceNo string) {
	for _, msg := range buildRemoveDiscovery(deviceNo) {
		b.publish(msg.Topic, msg.Payload, true)
	}
}

// OnSceneUpdated announces the scene to HA.
func (b *Bridge) OnSceneUpdated(s *registry.Scene) {
	msg := buildSceneDiscovery(s, b.prefix)
	b.publish(msg.Topic, msg.Payload, true)
}

func (b *Bridge) publishAll() {
	for _, d := range b.source.Devices() {
		b.OnDeviceAdded(d)
	}
	for _, s := range b.source.Scenes() {
		b.OnSceneUpdated(s)
	}
}

func (b *Bridge) publishState(d *registry.Device) {
	avail := "offline"
	if d.Online() {
		avail = "online"
	}
	b.publish(b.prefix+"/"+d.DeviceNo+"/availability", []byte(avail), true)
	b.publish(b.prefix+"/"+d.DeviceNo, statePayload(d), true)
}

// statePayload renders the device value map for the state topic.
// Lights use HA's json schema, which wants state and brightness keys
// instead of the vendor's switch and light attributes.
func statePayload(d *registry.Device) []byte {
	if componentFor(d) != "light" {
		return mustJSON(d.Value)
	}

	state := make(map[string]any, len(d.Value))
	for k, v := range d.Value {
		switch k {
		case "switch":
			if s, ok := v.(string); ok {
				state["state"] = strings.ToUpper(s)
				continue
			}
		case "light":
			state["brightness"] = v
			continue
		}
		state[k] = v
	}
	return mustJSON(state)
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) subscribeCommands() {
	b.client.Subscribe(b.prefix+"/+/set", b.qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleDeviceCommand(msg.Topic(), msg.Payload())
	})
	b.client.Subscribe(b.prefix+"/scene/+/set", b.qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleSceneCommand(msg.Topic())
	})
}

// handleDeviceCommand forwards one /set payload to the command router.
// JSON objects pass through as attribute writes; the plain keywords HA
// uses for switches and covers are translated to their attributes.
func (b *Bridge) handleDeviceCommand(topic string, payload []byte) {
	deviceNo := topicSegment(topic, b.prefix)
	if deviceNo == "" {
		return
	}

	values, err := parseCommand(payload)
	if err != nil {
		b.log.Warn("invalid command payload", "device_no", deviceNo, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()
	if err := b.commander.SendCommands(ctx, deviceNo, values); err != nil {
		b.log.Warn("command dispatch failed", "device_no", deviceNo, "error", err)
	}
}

func (b *Bridge) handleSceneCommand(topic string) {
	sceneNo := topicSegment(topic, b.prefix+"/scene")
	if sceneNo == "" {
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()
	if err := b.commander.ActivateScene(ctx, sceneNo); err != nil {
		b.log.Warn("scene activation failed", "scene_no", sceneNo, "error", err)
	}
}

// topicSegment extracts the identifier from "<prefix>/<id>/set".
func topicSegment(topic, prefix string) string {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return ""
	}
	id, ok := strings.CutSuffix(rest, "/set")
	if !ok || strings.Contains(id, "/") {
		return ""
	}
	return id
}

// parseCommand turns an MQTT payload into attribute values.
func parseCommand(payload []byte) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(payload))
	switch strings.ToLower(trimmed) {
	case "on", "off":
		return map[string]any{"switch": strings.ToLower(trimmed)}, nil
	case "open", "close", "stop":
		return map[string]any{"control": strings.ToLower(trimmed)}, nil
	}

	var values map[string]any
	if err := json.Unmarshal(payload, &values); err != nil {
		return nil, err
	}
	if state, ok := values["state"].(string); ok {
		// HA json-schema lights send {"state": "ON", "brightness": n}.
		delete(values, "state")
		values["switch"] = strings.ToLower(state)
	}
	if brightness, ok := values["brightness"]; ok {
		delete(values, "brightness")
		values["light"] = brightness
	}
	return values, nil
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, b.qos, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			b.log.Warn("mqtt publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.log.Warn("mqtt publish error", "topic", topic, "error", err)
		}
	}()
}
