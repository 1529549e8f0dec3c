package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESKeyEncryptDecrypt(t *testing.T) {
	key, err := AESKeyFromBytes(bytes.Repeat([]byte{0x07}, AESKeySize))
	require.NoError(t, err)

	plaintext := []byte("consensus state payload")
	aad := []byte("block-height-42")

	ciphertext, err := key.Encrypt(plaintext, aad)
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), string(plaintext))

	decrypted, err := key.Decrypt(ciphertext, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestAESKeyDecryptRejectsTamperedData(t *testing.T) {
	key, err := AESKeyFromBytes(bytes.Repeat([]byte{0x07}, AESKeySize))
	require.NoError(t, err)

	ciphertext, err := key.Encrypt([]byte("payload"), nil)
	require.NoError(t, err)

	ciphertext[len(ciphertext)-1] ^= 0xff
	_, err = key.Decrypt(ciphertext, nil)
	assert.Error(t, err, "tampered ciphertext must not decrypt")
}

func TestAESKeyDecryptRejectsWrongAAD(t *testing.T) {
	key, err := AESKeyFromBytes(bytes.Repeat([]byte{0x07}, AESKeySize))
	require.NoError(t, err)

	ciphertext, err := key.Encrypt([]byte("payload"), []byte("aad-one"))
	require.NoError(t, err)

	_, err = key.Decrypt(ciphertext, []byte("aad-two"))
	assert.Error(t, err)
}

func TestAESKeyFromBytesRejectsBadLength(t *testing.T) {
	_, err := AESKeyFromBytes(make([]byte, 16))
	assert.Error(t, err)
}
