// Package wire implements the Duwi LAN frame codec: the hex-armoured
// datagram format terminals exchange over UDP multicast, AES-CBC
// payload encryption keyed per house, and the JSON message envelope
// carried inside.
//
// Frames are parsed permissively. A datagram that fails decryption or
// decoding still identifies its sender where possible, so host liveness
// tracking keeps working across key mismatches.
package wire
