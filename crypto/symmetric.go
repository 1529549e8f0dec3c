package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
)

// AESKeySize is the length of a symmetric key in bytes (AES-256).
const AESKeySize = 32

// AESKey is an AES-256-GCM key. The consensus state IKM derived from the
// seed is an AESKey used to encrypt persisted consensus state.
type AESKey [AESKeySize]byte

// AESKeyFromBytes constructs a symmetric key from raw bytes.
func AESKeyFromBytes(b []byte) (AESKey, error) {
	if len(b) != AESKeySize {
		return AESKey{}, fmt.Errorf("invalid symmetric key length %d, expected %d", len(b), AESKeySize)
	}
	var k AESKey
	copy(k[:], b)
	return k, nil
}

// Bytes returns a copy of the raw key.
func (k AESKey) Bytes() []byte {
	out := make([]byte, AESKeySize)
	copy(out, k[:])
	return out
}

// Encrypt seals plaintext with AES-256-GCM under a random nonce. The
// nonce is prepended to the returned ciphertext. The additional data is
// authenticated but not encrypted.
func (k AESKey) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	aead, err := k.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

// Decrypt opens ciphertext produced by Encrypt.
func (k AESKey) Decrypt(ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := k.aead()
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, ciphertext[aead.NonceSize():], additionalData)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

func (k AESKey) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

// Wipe overwrites the key in place.
func (k *AESKey) Wipe() {
	memguard.WipeBytes(k[:])
}
