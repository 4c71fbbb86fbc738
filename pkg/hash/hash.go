package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// SHA256Hex returns the hex-encoded SHA256 hash of the input string.
func SHA256Hex(input string) string {
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:])
}

// Prefix returns the first prefixLen characters of SHA256(input).
// Used to correlate identifiers in logs without writing them out.
func Prefix(input string, prefixLen int) string {
	full := SHA256Hex(input)
	if prefixLen > len(full) {
		return full
	}
	return full[:prefixLen]
}

// Fingerprint hashes an ordered list of parts. Each part is length-prefixed so
// ("ab", "c") and ("a", "bc") never collide.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strconv.Itoa(len(p))))
		h.Write([]byte{':'})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
