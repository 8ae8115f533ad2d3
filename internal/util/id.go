package util

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// NewID returns a short, roughly time-ordered identifier: base36
// milliseconds followed by random hex.
func NewID() string {
	suffix := make([]byte, 5)
	_, _ = rand.Read(suffix)
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + hex.EncodeToString(suffix)
}
