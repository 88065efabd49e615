package attemptgate

import (
	"crypto/sha256"
	"encoding/base64"
	"strconv"
)

// ClientKey derives a stable limiter key from one or more client
// signals, typically an account identifier plus a device or address
// hint. Signals are length-prefixed before hashing so ("ab", "c") and
// ("a", "bc") produce different keys, and the digest form keeps raw
// identifiers out of storage. This is a grouping handle, not a
// security boundary: a caller that invents fresh signals gets a fresh
// key.
func ClientKey(signals ...string) string {
	h := sha256.New()
	for _, s := range signals {
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte(":"))
		h.Write([]byte(s))
	}
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
