package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HashHex returns the hex-encoded SHA-256 digest of data. This is the
// hash family used for truth hashes and audit input hashes.
func HashHex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// HMACSHA256 computes the keyed digest used for flag derivation.
func HMACSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// DeriveKey expands the master secret into a purpose-bound key using
// HKDF-SHA256. Distinct info strings yield independent keys, so the
// master secret is never used directly.
func DeriveKey(masterSecret []byte, info string, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, masterSecret, nil, []byte(info))
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// GenerateSecretKey returns a fresh 32-byte master secret.
func GenerateSecretKey() ([]byte, error) {
	return GenerateRandomBytes(32)
}

func GenerateRandomBytes(length int) ([]byte, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return bytes, nil
}

func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func DecodeBase64(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}
