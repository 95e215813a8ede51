package packument

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash is a SHA-256 pack hash, hex-encoded.
type Hash string

func hashBytes(b []byte) Hash {
	sum := sha256.Sum256(b)
	return Hash(hex.EncodeToString(sum[:]))
}

// PackageHash computes the pack hash of a package-scope packument.
func PackageHash(p PackageOnly) (Hash, error) {
	_, h, err := PackagePayload(p)
	return h, err
}

// VersionHash computes the pack hash of a version-scope packument.
func VersionHash(v VersionOnly) (Hash, error) {
	_, h, err := VersionPayload(v)
	return h, err
}

// PackagePayload returns the canonical JSON bytes and pack hash of a
// package-scope packument. The diff-log builder (C4) stores the bytes as a
// diff-log entry's payload alongside the hash used for change detection.
func PackagePayload(p PackageOnly) ([]byte, Hash, error) {
	b, err := canonicalJSON(p.Canonicalize())
	if err != nil {
		return nil, "", fmt.Errorf("packument: failed to canonicalize package record: %w", err)
	}
	return b, hashBytes(b), nil
}

// VersionPayload returns the canonical JSON bytes and pack hash of a
// version-scope packument.
func VersionPayload(v VersionOnly) ([]byte, Hash, error) {
	b, err := canonicalJSON(v.Canonicalize())
	if err != nil {
		return nil, "", fmt.Errorf("packument: failed to canonicalize version record: %w", err)
	}
	return b, hashBytes(b), nil
}
