package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Hash returns the SHA-256 hash of data as a lowercase hex string.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashPairs hashes an ordered list of key-value pairs with length-prefix
// encoding, so no two distinct lists share an encoding.
func HashPairs(keys []string, values [][]byte) string {
	h := sha256.New()
	var lenBuf [4]byte
	for i, k := range keys {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k)))
		h.Write(lenBuf[:])
		h.Write([]byte(k))
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(values[i])))
		h.Write(lenBuf[:])
		h.Write(values[i])
	}
	return hex.EncodeToString(h.Sum(nil))
}
