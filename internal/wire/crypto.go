package wire

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5" //nolint:gosec // IV derivation fixed by the vendor protocol
	"encoding/hex"
	"fmt"
	"strings"
)

// Encrypt encrypts plaintext with AES-CBC under the hex-encoded shared
// secret and returns the ciphertext as an uppercase hex string.
//
// The IV is the MD5 digest of the decoded key. This is the vendor
// protocol's derivation, not a choice this package gets to make: every
// terminal on the LAN computes the same IV from the same house key.
func Encrypt(keyHex string, plaintext []byte) (string, error) {
	block, iv, err := cipherForKey(keyHex)
	if err != nil {
		return "", err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return strings.ToUpper(hex.EncodeToString(ciphertext)), nil
}

// Decrypt reverses Encrypt, taking raw ciphertext bytes and returning the
// plaintext with padding removed.
func Decrypt(keyHex string, ciphertext []byte) ([]byte, error) {
	block, iv, err := cipherForKey(keyHex)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertextSize, len(ciphertext))
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, aes.BlockSize)
}

// cipherForKey decodes the hex key and derives the block cipher and IV.
func cipherForKey(keyHex string) (cipher.Block, []byte, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	digest := md5.Sum(key) //nolint:gosec // protocol-mandated IV derivation
	return block, digest[:], nil
}

// pkcs7Pad appends PKCS#7 padding up to the block size.
func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

// pkcs7Unpad validates and strips PKCS#7 padding.
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}

	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-n], nil
}
