// Package canonicalize serializes values as RFC 8785 canonical JSON so that
// attestation hashes, escalation receipts and ledger bundles hash the same
// on every run.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// DigestPrefix tags algorithm-qualified digests.
const DigestPrefix = "sha256:"

// JCS returns the canonical JSON of v. Struct tags apply because v goes
// through encoding/json before the RFC 8785 transform.
func JCS(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform: %w", err)
	}
	return out, nil
}

// CanonicalHash is the hex SHA-256 of JCS(v).
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// Digest is CanonicalHash with DigestPrefix.
func Digest(v any) (string, error) {
	h, err := CanonicalHash(v)
	if err != nil {
		return "", err
	}
	return DigestPrefix + h, nil
}

func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
