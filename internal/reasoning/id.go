package reasoning

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// idHexLen is 128 bits of SHA-256.
const idHexLen = 32

// NormalizeStatement lower-cases a statement and collapses all whitespace
// runs to single spaces.
func NormalizeStatement(statement string) string {
	return strings.Join(strings.Fields(strings.ToLower(statement)), " ")
}

// GenerateID derives a conclusion ID from its statement and source chunk.
//
// The same statement from the same chunk always yields the same ID, while the
// same statement from a different chunk does not, so provenance is part of
// identity. Case and whitespace differences in the statement are ignored.
func GenerateID(statement, chunkID string) string {
	sum := sha256.Sum256([]byte(NormalizeStatement(statement) + ":" + chunkID))
	return hex.EncodeToString(sum[:])[:idHexLen]
}

// ContentHash returns the 128-bit hex digest used for file and chunk caches.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:idHexLen]
}
