// Package store persists registry snapshots to the local SQLite cache
// so the bridge can come up without the cloud.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/duwi2024/duwi-bridge/internal/infrastructure/database"
	"github.com/duwi2024/duwi-bridge/internal/infrastructure/logging"
)

// Store persists the device cache in SQLite.
//
// The cache is a cold-start fallback: when the bridge boots without
// cloud reachability it serves the last synced snapshot, so writes
// favor simplicity over granularity and rewrite whole tables.
type Store struct {
	db  *database.DB
	log *logging.Logger
}

// New wraps an opened database.
func New(db *database.DB, log *logging.Logger) *Store {
	return &Store{db: db, log: log.With("component", "store")}
}

// SaveSnapshot atomically replaces the entire cache with snap.
func (s *Store) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning snapshot transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	tables := []string{"houses", "floors", "rooms", "terminals", "devices", "device_values", "scenes"}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO houses (house_no, house_name, lan_secret_key) VALUES (?, ?, ?)`,
		snap.House.HouseNo, snap.House.HouseName, snap.House.LANSecretKey); err != nil {
		return fmt.Errorf("inserting house: %w", err)
	}

	for _, f := range snap.Floors {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO floors (floor_no, floor_name) VALUES (?, ?)`,
			f.FloorNo, f.FloorName); err != nil {
			return fmt.Errorf("inserting floor %s: %w", f.FloorNo, err)
		}
	}
	for _, r := range snap.Rooms {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rooms (room_no, room_name) VALUES (?, ?)`,
			r.RoomNo, r.RoomName); err != nil {
			return fmt.Errorf("inserting room %s: %w", r.RoomNo, err)
		}
	}
	for _, t := range snap.Terminals {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO terminals (terminal_sequence, host_sequence, product_model) VALUES (?, ?, ?)`,
			t.TerminalSequence, t.HostSequence, t.ProductModel); err != nil {
			return fmt.Errorf("inserting terminal %s: %w", t.TerminalSequence, err)
		}
	}
	for _, d := range snap.Devices {
		if err := insertDevice(ctx, tx, d); err != nil {
			return err
		}
	}
	for _, v := range snap.Values {
		if err := upsertValue(ctx, tx, v); err != nil {
			return err
		}
	}
	for _, sc := range snap.Scenes {
		hosts, err := json.Marshal(sc.SyncHostSequences)
		if err != nil {
			return fmt.Errorf("marshaling scene %s hosts: %w", sc.SceneNo, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scenes (scene_no, scene_name, room_no, floor_no, house_no, execute_way, sync_host_sequences)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sc.SceneNo, sc.SceneName, sc.RoomNo, sc.FloorNo, sc.HouseNo, sc.ExecuteWay, string(hosts)); err != nil {
			return fmt.Errorf("inserting scene %s: %w", sc.SceneNo, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	s.log.Debug("snapshot saved",
		"devices", len(snap.Devices), "scenes", len(snap.Scenes))
	return nil
}

func insertDevice(ctx context.Context, tx *sql.Tx, d DeviceRecord) error {
	hosts, err := json.Marshal(d.Hosts)
	if err != nil {
		return fmt.Errorf("marshaling device %s hosts: %w", d.DeviceNo, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO devices (device_no, device_name, device_type, terminal_sequence, route_num,
		                      device_type_no, device_sub_type_no, house_no, floor_no, room_no,
		                      device_group_type, is_group, is_follow_online, is_virtual_device,
		                      hosts, create_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.DeviceNo, d.DeviceName, d.DeviceType, d.TerminalSequence, d.RouteNum,
		d.DeviceTypeNo, d.DeviceSubTypeNo, d.HouseNo, d.FloorNo, d.RoomNo,
		d.DeviceGroupType, d.IsGroup, d.IsFollowOnline, d.IsVirtualDevice,
		string(hosts), d.CreateTime)
	if err != nil {
		return fmt.Errorf("inserting device %s: %w", d.DeviceNo, err)
	}
	return nil
}

func upsertValue(ctx context.Context, tx *sql.Tx, v DeviceValue) error {
	// Liveness is a live fact, never served from cache.
	value := v.Value
	if v.Code == "online" {
		value = false
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling value %s/%s: %w", v.DeviceNo, v.Code, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO device_values (device_no, code, value) VALUES (?, ?, ?)
		 ON CONFLICT (device_no, code) DO UPDATE SET value = excluded.value`,
		v.DeviceNo, v.Code, string(raw))
	if err != nil {
		return fmt.Errorf("upserting value %s/%s: %w", v.DeviceNo, v.Code, err)
	}
	return nil
}

// UpdateDeviceValues upserts a batch of attribute values for one device.
func (s *Store) UpdateDeviceValues(ctx context.Context, deviceNo string, values map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning value transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for code, value := range values {
		if err := upsertValue(ctx, tx, DeviceValue{DeviceNo: deviceNo, Code: code, Value: value}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AddDevice persists a newly activated device together with its values.
func (s *Store) AddDevice(ctx context.Context, d DeviceRecord, values map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning device transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE device_no = ?`, d.DeviceNo); err != nil {
		return fmt.Errorf("replacing device %s: %w", d.DeviceNo, err)
	}
	if err := insertDevice(ctx, tx, d); err != nil {
		return err
	}
	for code, value := range values {
		if err := upsertValue(ctx, tx, DeviceValue{DeviceNo: d.DeviceNo, Code: code, Value: value}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RemoveDevice deletes a deactivated device and its values.
func (s *Store) RemoveDevice(ctx context.Context, deviceNo string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning removal transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM device_values WHERE device_no = ?`, deviceNo); err != nil {
		return fmt.Errorf("removing values for %s: %w", deviceNo, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE device_no = ?`, deviceNo); err != nil {
		return fmt.Errorf("removing device %s: %w", deviceNo, err)
	}
	return tx.Commit()
}

// LoadSnapshot reads the full cache. An empty database yields an empty
// snapshot, not an error.
func (s *Store) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	row := s.db.QueryRowContext(ctx, `SELECT house_no, house_name, lan_secret_key FROM houses LIMIT 1`)
	if err := row.Scan(&snap.House.HouseNo, &snap.House.HouseName, &snap.House.LANSecretKey); err != nil {
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("reading house: %w", err)
		}
	}

	if err := s.loadFloors(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.loadRooms(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.loadTerminals(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.loadDevices(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.loadValues(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.loadScenes(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) loadFloors(ctx context.Context, snap *Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT floor_no, floor_name FROM floors`)
	if err != nil {
		return fmt.Errorf("reading floors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f Floor
		if err := rows.Scan(&f.FloorNo, &f.FloorName); err != nil {
			return fmt.Errorf("scanning floor: %w", err)
		}
		snap.Floors = append(snap.Floors, f)
	}
	return rows.Err()
}

func (s *Store) loadRooms(ctx context.Context, snap *Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT room_no, room_name FROM rooms`)
	if err != nil {
		return fmt.Errorf("reading rooms: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.RoomNo, &r.RoomName); err != nil {
			return fmt.Errorf("scanning room: %w", err)
		}
		snap.Rooms = append(snap.Rooms, r)
	}
	return rows.Err()
}

func (s *Store) loadTerminals(ctx context.Context, snap *Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT terminal_sequence, host_sequence, product_model FROM terminals`)
	if err != nil {
		return fmt.Errorf("reading terminals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t Terminal
		if err := rows.Scan(&t.TerminalSequence, &t.HostSequence, &t.ProductModel); err != nil {
			return fmt.Errorf("scanning terminal: %w", err)
		}
		snap.Terminals = append(snap.Terminals, t)
	}
	return rows.Err()
}

func (s *Store) loadDevices(ctx context.Context, snap *Snapshot) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_no, device_name, device_type, terminal_sequence, route_num,
		        device_type_no, device_sub_type_no, house_no, floor_no, room_no,
		        device_group_type, is_group, is_follow_online, is_virtual_device,
		        hosts, create_time
		 FROM devices`)
	if err != nil {
		return fmt.Errorf("reading devices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d DeviceRecord
		var hosts string
		if err := rows.Scan(&d.DeviceNo, &d.DeviceName, &d.DeviceType, &d.TerminalSequence, &d.RouteNum,
			&d.DeviceTypeNo, &d.DeviceSubTypeNo, &d.HouseNo, &d.FloorNo, &d.RoomNo,
			&d.DeviceGroupType, &d.IsGroup, &d.IsFollowOnline, &d.IsVirtualDevice,
			&hosts, &d.CreateTime); err != nil {
			return fmt.Errorf("scanning device: %w", err)
		}
		if err := json.Unmarshal([]byte(hosts), &d.Hosts); err != nil {
			return fmt.Errorf("decoding hosts for %s: %w", d.DeviceNo, err)
		}
		snap.Devices = append(snap.Devices, d)
	}
	return rows.Err()
}

func (s *Store) loadValues(ctx context.Context, snap *Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT device_no, code, value FROM device_values`)
	if err != nil {
		return fmt.Errorf("reading device values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v DeviceValue
		var raw string
		if err := rows.Scan(&v.DeviceNo, &v.Code, &raw); err != nil {
			return fmt.Errorf("scanning value: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &v.Value); err != nil {
			return fmt.Errorf("decoding value %s/%s: %w", v.DeviceNo, v.Code, err)
		}
		snap.Values = append(snap.Values, v)
	}
	return rows.Err()
}

func (s *Store) loadScenes(ctx context.Context, snap *Snapshot) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scene_no, scene_name, room_no, floor_no, house_no, execute_way, sync_host_sequences FROM scenes`)
	if err != nil {
		return fmt.Errorf("reading scenes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sc SceneRecord
		var hosts string
		if err := rows.Scan(&sc.SceneNo, &sc.SceneName, &sc.RoomNo, &sc.FloorNo, &sc.HouseNo,
			&sc.ExecuteWay, &hosts); err != nil {
			return fmt.Errorf("scanning scene: %w", err)
		}
		if err := json.Unmarshal([]byte(hosts), &sc.SyncHostSequences); err != nil {
			return fmt.Errorf("decoding hosts for scene %s: %w", sc.SceneNo, err)
		}
		snap.Scenes = append(snap.Scenes, sc)
	}
	return rows.Err()
}
