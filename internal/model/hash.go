package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Digest domains. The version suffix allows algorithm migration without
// ambiguity between old and new digests.
const (
	// DomainTrace fingerprints one resolve cycle's full event trace.
	DomainTrace = "cordage/trace/v1"
)

// DigestWithDomain computes hex(SHA-256(domain || 0x00 || data)). The null
// separator keeps the domain/data boundary unambiguous.
func DigestWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DigestValue canonicalizes v and digests the bytes under the domain. Two
// values that canonicalize identically always share a digest, across runs
// and platforms.
func DigestValue(domain string, v any) (string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	return DigestWithDomain(domain, data), nil
}
