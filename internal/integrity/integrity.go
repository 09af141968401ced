// Package integrity computes Subresource Integrity digests for registry
// content. Source descriptors reference release archives and patch files
// by the "sha256-<base64>" form consumed by the build system.
package integrity

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// SHA256Prefix is the algorithm prefix of digests produced here.
const SHA256Prefix = "sha256-"

// SHA256 reads r to EOF and returns the SRI digest of its content.
func SHA256(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return SHA256Prefix + base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// SHA256Bytes returns the SRI digest of data.
func SHA256Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return SHA256Prefix + base64.StdEncoding.EncodeToString(sum[:])
}
