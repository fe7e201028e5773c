// Package hashing implements the symbolic content-hash function used to
// identify build graph nodes: a stable, host-independent hash over
// canonicalized JSON-able data, backed by SHA-256.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// JSONHash generates a cryptographic hash of JSON-able data and returns its
// hex digest. Map keys are sorted by encoding/json's default behavior,
// which makes the digest stable across hosts for identical inputs.
func JSONHash(data any) (string, error) {
	h := sha256.New()
	enc := json.NewEncoder(h)
	if err := enc.Encode(data); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MustJSONHash is JSONHash for values that are always encodable; it panics
// on encode error, which would indicate a programming error (a value with
// no JSON representation, e.g. a channel or func).
func MustJSONHash(data any) string {
	h, err := JSONHash(data)
	if err != nil {
		panic(err)
	}
	return h
}

// SHA256Hex hashes raw bytes and returns the hex digest, used for file
// content hashes inside a build context's file tree.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Node computes a single graph node's content hash: a JSON hash over the
// salt, the node's kind tag, its own local data, and the hashes of every
// dependency it was built with (in order).
func Node(salt, kind string, local any, depHashes ...string) string {
	payload := make([]any, 0, 3+len(depHashes))
	payload = append(payload, salt, kind, local)
	for _, d := range depHashes {
		payload = append(payload, d)
	}
	return MustJSONHash(payload)
}
