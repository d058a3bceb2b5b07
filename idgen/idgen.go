// Package idgen generates identifiers for crawl rounds and crawl workers.
//
// Durable rows (price changes, notifications) use database sequences; the IDs
// produced here only label ephemeral runtime objects in logs and screenshot
// file names, so the strategy is a startup-time choice.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator that produces base-36 IDs of the given length.
// Short and readable, used for worker names that show up on every log line.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, so crawl rounds order naturally.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Round labels one scheduler-driven crawl round.
var Round Generator = Prefixed("rnd_", UUIDv7())

// Worker labels one crawl worker (one batch, one page session).
var Worker Generator = Prefixed("crw_", NanoID(8))
