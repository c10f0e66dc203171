// Package history records device state transitions to InfluxDB.
//
// The recorder subscribes to the registry and writes one point per
// changed attribute, plus an availability series for liveness
// transitions. Writes are batched and non-blocking; a slow or absent
// InfluxDB never stalls state synchronization.
package history

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/duwi2024/duwi-bridge/internal/infrastructure/config"
	"github.com/duwi2024/duwi-bridge/internal/infrastructure/logging"
	"github.com/duwi2024/duwi-bridge/internal/registry"
)

const (
	connectTimeout = 10 * time.Second

	measurementState        = "device_state"
	measurementAvailability = "availability"
)

// Recorder writes registry changes to InfluxDB.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      *logging.Logger

	// last remembers each device's previously recorded attributes so
	// only deltas are written.
	mu   sync.Mutex
	last map[string]map[string]any
}

// Connect builds a recorder and verifies the InfluxDB server answers.
func Connect(cfg config.HistoryConfig, log *logging.Logger) (*Recorder, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("history: ping failed: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("history: server not healthy")
	}

	r := &Recorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		log:      log.With("component", "history"),
		last:     make(map[string]map[string]any),
	}

	go func() {
		for err := range r.writeAPI.Errors() {
			r.log.Warn("influxdb write failed", "error", err)
		}
	}()

	return r, nil
}

// Close flushes pending writes and shuts the client down.
func (r *Recorder) Close() {
	if r.client == nil {
		return
	}
	r.writeAPI.Flush()
	r.client.Close()
}

// OnDeviceUpdated records the attributes that changed since the last
// report, and the liveness flag when it flipped.
func (r *Recorder) OnDeviceUpdated(d *registry.Device) {
	r.record(d)
}

// OnDeviceAdded seeds the delta baseline and records the full state.
func (r *Recorder) OnDeviceAdded(d *registry.Device) {
	r.record(d)
}

// OnDeviceRemoved drops the device's delta baseline.
func (r *Recorder) OnDeviceRemoved(deviceNo string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.last, deviceNo)
}

// OnSceneUpdated is a no-op; scenes carry no time series state.
func (r *Recorder) OnSceneUpdated(s *registry.Scene) {}

func (r *Recorder) record(d *registry.Device) {
	r.mu.Lock()
	changed := changedValues(r.last[d.DeviceNo], d.Value)
	snapshot := make(map[string]any, len(d.Value))
	for k, v := range d.Value {
		snapshot[k] = v
	}
	r.last[d.DeviceNo] = snapshot
	r.mu.Unlock()

	now := time.Now()
	for code, value := range changed {
		if code == "online" {
			online, _ := value.(bool)
			r.writePoint(write.NewPoint(measurementAvailability,
				map[string]string{"device_no": d.DeviceNo},
				map[string]any{"online": online},
				now))
			continue
		}
		field, ok := numericValue(value)
		if !ok {
			continue
		}
		r.writePoint(write.NewPoint(measurementState,
			map[string]string{
				"device_no": d.DeviceNo,
				"attribute": code,
				"room":      d.RoomName,
			},
			map[string]any{"value": field},
			now))
	}
}

func (r *Recorder) writePoint(p *write.Point) {
	if r.writeAPI == nil {
		return
	}
	r.writeAPI.WritePoint(p)
}

// changedValues returns the entries of next that differ from prev.
// Values can be maps or slices, so the comparison must be deep; a
// plain != panics on uncomparable types.
func changedValues(prev, next map[string]any) map[string]any {
	changed := make(map[string]any)
	for k, v := range next {
		if old, ok := prev[k]; !ok || !reflect.DeepEqual(old, v) {
			changed[k] = v
		}
	}
	return changed
}

// numericValue coerces an attribute value into an InfluxDB field.
// Strings with a known on/off meaning become 0/1; anything else
// non-numeric is skipped.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		switch n {
		case "on", "open":
			return 1, true
		case "off", "close", "stop":
			return 0, true
		}
	}
	return 0, false
}
