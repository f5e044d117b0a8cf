package util

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"time"
)

func NewID(prefix string) string {
	bytes := make([]byte, 12)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewRecordID returns "<unix millis>-<base36 random>", the id format of
// stored auth and form records. Ids sort roughly by creation time.
func NewRecordID(now time.Time) string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(buf[:]), 36)
	if len(suffix) > 9 {
		suffix = suffix[:9]
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix
}
