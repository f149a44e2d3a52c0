package testutil

import (
	"encoding/base64"
	"testing"

	"github.com/vdavid/postbox/internal/crypto"
)

// TestEncryptionKeyBase64 is a fixed 32-byte key for tests and the test server.
var TestEncryptionKeyBase64 = func() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}()

// GetTestEncryptor creates an encryptor with a deterministic key.
func GetTestEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()

	encryptor, err := crypto.NewEncryptor(TestEncryptionKeyBase64)
	if err != nil {
		t.Fatalf("Failed to create encryptor: %v", err)
	}
	return encryptor
}
