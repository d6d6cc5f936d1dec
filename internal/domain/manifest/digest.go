package manifest

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Digest algorithms accepted on manifests. New artifacts carry blake2b;
// sha256 remains accepted for artifacts published before the switch.
const (
	AlgoBlake2b = "blake2b"
	AlgoSHA256  = "sha256"
)

// ParseDigest splits an "algo:hex" digest string and validates its shape.
func ParseDigest(s string) (algo, sum string, err error) {
	algo, sum, ok := strings.Cut(s, ":")
	if !ok {
		return "", "", fmt.Errorf("malformed digest %q: missing algorithm prefix", s)
	}
	if algo != AlgoBlake2b && algo != AlgoSHA256 {
		return "", "", fmt.Errorf("unsupported digest algorithm %q", algo)
	}
	raw, err := hex.DecodeString(sum)
	if err != nil {
		return "", "", fmt.Errorf("malformed digest %q: %w", s, err)
	}
	if len(raw) != 32 {
		return "", "", fmt.Errorf("malformed digest %q: expected 32 bytes, got %d", s, len(raw))
	}
	return algo, sum, nil
}

// VerifyDigest checks bundle bytes against the manifest digest.
func VerifyDigest(data []byte, digest string) error {
	algo, want, err := ParseDigest(digest)
	if err != nil {
		return err
	}

	var sum []byte
	switch algo {
	case AlgoBlake2b:
		h := blake2b.Sum256(data)
		sum = h[:]
	case AlgoSHA256:
		h := sha256.Sum256(data)
		sum = h[:]
	}

	if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum)), []byte(want)) != 1 {
		return fmt.Errorf("digest mismatch: bundle does not match %s", digest)
	}
	return nil
}

// ComputeDigest produces the canonical digest string for bundle bytes.
func ComputeDigest(data []byte) string {
	h := blake2b.Sum256(data)
	return AlgoBlake2b + ":" + hex.EncodeToString(h[:])
}
