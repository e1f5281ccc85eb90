package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// Derived builds a deterministic id from its parts. Cash ledger entries that
// originate from a sale or work order use these keys so a retried sync finds
// the existing row instead of creating a duplicate.
func Derived(prefix string, parts ...string) string {
	return prefix + "-" + strings.Join(parts, "-")
}
