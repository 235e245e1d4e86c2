package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// GenerateOrderID returns a fresh order id. The timestamp keeps ids roughly
// sortable; the random suffix makes reuse impossible even within one
// nanosecond tick.
func GenerateOrderID() (string, error) {
	suffix, err := GenerateCode(4)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%d-%s", time.Now().UnixNano(), suffix), nil
}

func GenerateCode(n int) (string, error) {
	// Make a slice of nBytes random bytes.
	byt := make([]byte, n)

	// Read into the slice.
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	// Return the hexadecimal string.
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}
