// Package shard provides partition key generation for the unique
// constraint table.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// UniqueConstraintPK computes a hash-distributed partition key for a unique
// constraint, so each claim lands on its own partition.
//
// Values are compared case-insensitively after trimming; "A@x.io" and
// "a@x.io " claim the same key.
func UniqueConstraintPK(entityType, field, value string) string {
	data := entityType + "#" + field + "#" + UniqueValue(value)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:16]) // 128-bit hash as hex
}

// UniqueValue is the canonical form of a unique string value.
func UniqueValue(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
