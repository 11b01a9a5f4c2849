// Package identity derives the stable pseudonymous ids the backend uses to
// correlate users, chats and messages coming from the chat client.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// DeriveID returns the hex MD5 digest of raw. The same input always yields
// the same id, which the backend relies on to recognise repeat senders.
func DeriveID(raw string) string {
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Generator issues message ids. Each bridge owns one.
type Generator struct {
	counter atomic.Uint64
	now     func() time.Time
}

func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// NextMessageID mixes sender, chat, a nanosecond timestamp and the
// generator's counter, so identical texts sent in the same instant still
// get distinct ids.
func (g *Generator) NextMessageID(sender, chat string) string {
	n := g.counter.Add(1)
	now := time.Now
	if g.now != nil {
		now = g.now
	}
	return DeriveID(fmt.Sprintf("%s_%s_%d_%d", sender, chat, now().UnixNano(), n))
}

// Issued reports how many ids this generator has handed out.
func (g *Generator) Issued() uint64 {
	return g.counter.Load()
}
