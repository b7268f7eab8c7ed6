package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// GenerateFilename returns "<unix-millis>-<16 hex chars>" with ".ext"
// appended when ext is not empty.  The random half comes from crypto/rand,
// so two calls in one process collide only with negligible probability.
func GenerateFilename(ext string) string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to the
		// clock so a name is still produced.
		return withExt(strconv.FormatInt(time.Now().UnixNano(), 10), ext)
	}
	name := strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + hex.EncodeToString(b[:])
	return withExt(name, ext)
}

func withExt(name, ext string) string {
	if ext == "" {
		return name
	}
	return name + "." + ext
}
