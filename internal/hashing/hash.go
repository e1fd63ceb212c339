// Package hashing computes stable content hashes for SQL scripts, prompt
// templates and rendered prompts.
package hashing

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/minio/highwayhash"
)

// key is fixed so hashes stay comparable across runs and machines.
var key = []byte("leapgraph-content-hash-key-2024!")

// Sum64 returns the 64-bit HighwayHash of data.
func Sum64(data []byte) uint64 {
	return highwayhash.Sum64(data, key)
}

// Content returns the hex form of Sum64, used as a persisted fingerprint.
func Content(data []byte) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], Sum64(data))
	return hex.EncodeToString(buf[:])
}

// String is Content for string input.
func String(s string) string {
	return Content([]byte(s))
}
