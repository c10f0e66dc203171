package wire

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// Frame layout, expressed in hex characters of the unhexlified wire bytes:
//
//	AA55 | vart(1) | plll(1) | message id(4) | device id(12) |
//	[payload length(2..8)] | [payload] | 0D0A
//
// vart packs the 2-bit protocol version and the 2-bit frame type into one
// nibble. plll is the number of hex-digit pairs in the payload length
// field; 0 means no length field and no payload (heartbeat).
const (
	beginMarker = "AA55"
	endMarker   = "0D0A"

	// deviceIDHexLen is the width of a host sequence on the wire.
	deviceIDHexLen = 12

	// headerHexLen is vart + plll + message id + device id.
	headerHexLen = 2 + 4 + deviceIDHexLen

	// maxLenFieldPairs bounds the payload length field; larger values
	// identify heartbeat and acknowledgement frames.
	maxLenFieldPairs = 4
)

// LocalDeviceID is the synthetic identity this bridge uses on the LAN.
// Frames carrying it are our own multicast echoes and must be discarded.
const LocalDeviceID = "FFFFFF000001"

// FrameType is the 2-bit acknowledgement class of a frame.
type FrameType uint8

// Frame types defined by the LAN protocol.
const (
	// FrameCON requires an acknowledgement from the receiver.
	FrameCON FrameType = 0b00
	// FrameNON is fire-and-forget.
	FrameNON FrameType = 0b01
	// FrameACK acknowledges a CON frame.
	FrameACK FrameType = 0b10
	// FrameRST resets the exchange.
	FrameRST FrameType = 0b11
)

// String returns the conventional name of the frame type.
func (t FrameType) String() string {
	switch t {
	case FrameCON:
		return "CON"
	case FrameNON:
		return "NON"
	case FrameACK:
		return "ACK"
	case FrameRST:
		return "RST"
	default:
		return fmt.Sprintf("FrameType(%d)", uint8(t))
	}
}

// KeyFunc resolves the shared secret for a host sequence.
// The second return value reports whether the host is known.
type KeyFunc func(sequence string) (string, bool)

// Inbound is the result of decoding a received frame.
//
// A zero Inbound means the frame was malformed. A non-empty Sequence with
// empty Data is a heartbeat, an acknowledgement, or a frame we could not
// decrypt; only non-empty Data carries an application message.
type Inbound struct {
	// Sequence is the sender's device id (12 hex characters).
	Sequence string

	// Data is the decrypted UTF-8 JSON message body, empty when absent.
	Data string

	// Self reports that the frame carries our own device id (multicast
	// echo) and must not be processed further.
	Self bool
}

// EncodeHeartbeat builds a payload-less probe frame.
func EncodeHeartbeat(frameType FrameType, deviceID string) ([]byte, error) {
	if len(deviceID) != deviceIDHexLen {
		return nil, fmt.Errorf("%w: device id %q", ErrInvalidKey, deviceID)
	}

	frame := beginMarker + vartNibble(frameType) + "0" + messageID() + deviceID + endMarker
	return hex.DecodeString(strings.ToUpper(frame))
}

// EncodeCommand encrypts a JSON message body under the host's shared
// secret and wraps it in a length-framed CON/NON frame.
func EncodeCommand(keyHex, deviceID string, frameType FrameType, body []byte) ([]byte, error) {
	if len(deviceID) != deviceIDHexLen {
		return nil, fmt.Errorf("%w: device id %q", ErrInvalidKey, deviceID)
	}

	cipherHex, err := Encrypt(keyHex, body)
	if err != nil {
		return nil, err
	}

	lenHex := strconv.FormatInt(int64(len(cipherHex)/2), 16)
	if len(lenHex)%2 != 0 {
		lenHex = "0" + lenHex
	}
	if len(lenHex)/2 > maxLenFieldPairs {
		return nil, fmt.Errorf("wire: payload too large (%d hex chars)", len(cipherHex))
	}

	plll := strconv.FormatInt(int64(len(lenHex)/2), 16)

	frame := beginMarker + vartNibble(frameType) + plll + messageID() + deviceID +
		lenHex + cipherHex + endMarker
	return hex.DecodeString(strings.ToUpper(frame))
}

// Decode parses a received datagram.
//
// Malformed input (wrong markers, truncated header, inconsistent length,
// unknown sender, undecryptable payload) yields a sentinel result rather
// than an error: the receive loop must survive arbitrary input.
func Decode(raw []byte, keyFor KeyFunc) Inbound {
	var in Inbound

	frame := strings.ToUpper(hex.EncodeToString(raw))
	if len(frame) < len(beginMarker)+len(endMarker)+headerHexLen {
		return in
	}
	if !strings.HasPrefix(frame, beginMarker) || !strings.HasSuffix(frame, endMarker) {
		return in
	}

	middle := frame[len(beginMarker) : len(frame)-len(endMarker)]

	vartPlll, err := strconv.ParseUint(middle[0:2], 16, 8)
	if err != nil {
		return in
	}
	plll := int(vartPlll & 0x0F)

	// middle[2:6] is the message id; the protocol carries no
	// request/response correlation so it is not retained.
	in.Sequence = middle[6:headerHexLen]

	if in.Sequence == LocalDeviceID {
		in.Self = true
		return in
	}

	key, ok := keyFor(in.Sequence)
	if !ok {
		in.Sequence = ""
		return in
	}

	// Heartbeats and acknowledgements carry no length field.
	if plll == 0 || plll > maxLenFieldPairs {
		return in
	}

	lenField := headerHexLen + plll*2
	if len(middle) < lenField {
		in.Sequence = ""
		return in
	}

	declared, err := strconv.ParseUint(middle[headerHexLen:lenField], 16, 32)
	if err != nil {
		in.Sequence = ""
		return in
	}

	payloadHex := middle[lenField:]
	if uint64(len(payloadHex)) != declared*2 {
		in.Sequence = ""
		return in
	}

	ciphertext, err := hex.DecodeString(payloadHex)
	if err != nil {
		in.Sequence = ""
		return in
	}

	plaintext, err := Decrypt(key, ciphertext)
	if err != nil {
		// Sender is known but the payload is not ours to read; treat
		// like a heartbeat so host liveness is still observed.
		return in
	}

	in.Data = string(plaintext)
	return in
}

// vartNibble packs the protocol version (0) and frame type into one hex char.
func vartNibble(t FrameType) string {
	return strings.ToUpper(strconv.FormatUint(uint64(t)&0x03, 16))
}

// messageID produces the 4-hex-char frame sequence number.
// Nibbles are drawn from 1..15, matching the terminal firmware.
func messageID() string {
	var b strings.Builder
	for i := 0; i < 4; i++ {
		b.WriteString(strconv.FormatInt(int64(rand.Intn(15)+1), 16))
	}
	return b.String()
}
