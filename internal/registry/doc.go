// Package registry maintains the in-memory model of one house: its
// devices, groups, scenes and their placement in floors and rooms.
//
// # Architecture
//
// The registry sits between the two transports and everything that
// consumes device state:
//
//	┌───────────┐  discovery / push   ┌──────────────┐
//	│   cloud    ├────────────────────►│              │
//	└───────────┘                     │   Manager    │──► listeners
//	┌───────────┐  decrypted frames   │  (registry)  │   (bridge, api,
//	│    lan     ├────────────────────►│              │    history)
//	└───────────┘                     └──────┬───────┘
//	                                         │ snapshots
//	                                    ┌────▼────┐
//	                                    │  store  │
//	                                    └─────────┘
//
// Exactly one transport feeds the registry at a time. In cloud mode the
// push socket is authoritative and LAN messages are dropped; in LAN
// mode decrypted multicast frames drive the same value maps. The
// supervisor flips the mode and triggers reconciliation when cloud
// connectivity returns.
//
// All public accessors return deep copies. Listener callbacks receive
// copies too and may retain them across goroutines.
package registry
