package payload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainSnapshot separates snapshot fingerprints from any other hash use.
const DomainSnapshot = "wechaty/snapshot/v1"

// Fingerprint returns a stable SHA-256 over the canonical form of s:
// SHA256(domain + 0x00 + canonical JSON), with strings NFC normalized. Two
// snapshots that diff to nothing have the same fingerprint; snapshots that
// differ only in Unicode normalization do too. A nil snapshot fingerprints
// as "".
func Fingerprint(s Snapshot) (string, error) {
	if s == nil {
		return "", nil
	}
	data, err := marshalNormalized(s)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(DomainSnapshot))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
