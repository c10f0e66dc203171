// Package lan implements the encrypted UDP multicast link to Duwi
// terminals on the local network.
//
// Topology:
//
//	                    multicast 239.0.0.188:54283
//	  ┌───────────┐   heartbeat / query / commands   ┌────────────┐
//	  │ Transport ├──────────────────────────────────▶ terminal A │
//	  │           ◀──────────────────────────────────┤ (host seq) │
//	  └─────┬─────┘     encrypted frames (AES-CBC)   └────────────┘
//	        │
//	  ┌─────▼───────┐
//	  │ HostTracker │  per-entry liveness, global key table
//	  └─────────────┘
//
// The transport probes every tracked host once per heartbeat interval.
// Any valid inbound frame refreshes the sender's liveness and records
// its unicast address; three silent cycles retire a host. Liveness
// transitions surface to listeners as synthetic terminal.host messages,
// indistinguishable from terminal-originated ones.
//
// Commands prefer unicast to a host's last confirmed address and fall
// back to the multicast group only for hosts never yet seen. Frames are
// encoded and encrypted by the wire package.
package lan
