package transfer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// MaxClockSkew is the replay window. Envelopes whose timestamp differs from
// the receiver's clock by more than this are rejected before signature
// verification.
const MaxClockSkew = 300 * time.Second

// Sign computes the hex HMAC-SHA256 over canonical||timestamp with the shared
// encryption key.
func Sign(canonical []byte, timestamp int64, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(canonical)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature in constant time.
func Verify(canonical []byte, timestamp int64, key, signature string) bool {
	expected := Sign(canonical, timestamp, key)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Fresh reports whether a timestamp lies within the replay window around now.
func Fresh(timestamp int64, now time.Time) bool {
	diff := now.Unix() - timestamp
	if diff < 0 {
		diff = -diff
	}
	return diff <= int64(MaxClockSkew.Seconds())
}
