package wire

import "errors"

// Domain errors for the wire codec.
// Frame decoding never returns errors (malformed input yields a zero
// Inbound); these cover the encryption primitives and frame building.
var (
	// ErrInvalidKey is returned when a shared secret is not valid hex or
	// does not decode to an AES key length (16, 24 or 32 bytes).
	ErrInvalidKey = errors.New("wire: invalid secret key")

	// ErrCiphertextSize is returned when ciphertext is empty or not a
	// multiple of the AES block size.
	ErrCiphertextSize = errors.New("wire: ciphertext is not block-aligned")

	// ErrInvalidPadding is returned when PKCS#7 padding is malformed
	// after decryption, typically meaning the wrong key was used.
	ErrInvalidPadding = errors.New("wire: invalid padding")
)
