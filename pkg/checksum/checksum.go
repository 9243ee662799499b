// Package checksum converts between the storage-native base64 digests and the
// lowercase hex digests downstream repositories report.
package checksum

import (
	"crypto/md5" //nolint:gosec
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Base64ToHex decodes a base64 digest and re-encodes it as lowercase hex.
func Base64ToHex(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("decode base64 checksum: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// MD5Base64 returns the storage-native checksum for data.
func MD5Base64(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec
	return base64.StdEncoding.EncodeToString(sum[:])
}

// MD5Hex returns the hex MD5 digest of data.
func MD5Hex(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
