package usecase

import (
	"hash/fnv"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/domain"
)

// ReplyDedup is the bounded, time-windowed replied-message set. A
// message is keyed by sender plus content hash; an entry expires after
// the window so the same content can be handled again later, and the
// capacity bound keeps memory flat however long the loop runs.
type ReplyDedup struct {
	cache *expirable.LRU[string, time.Time]
}

// NewReplyDedup creates a dedup window with the given capacity and TTL.
func NewReplyDedup(capacity int, window time.Duration) *ReplyDedup {
	return &ReplyDedup{
		cache: expirable.NewLRU[string, time.Time](capacity, nil, window),
	}
}

// Seen reports whether the message was already accepted for dispatch
// inside the current window.
func (d *ReplyDedup) Seen(msg *domain.Message) bool {
	_, ok := d.cache.Get(dedupKey(msg))
	return ok
}

// Mark records the message as handled.
func (d *ReplyDedup) Mark(msg *domain.Message) {
	d.cache.Add(dedupKey(msg), time.Now())
}

// Len returns the number of live entries.
func (d *ReplyDedup) Len() int {
	return d.cache.Len()
}

func dedupKey(msg *domain.Message) string {
	h := fnv.New64a()
	h.Write([]byte(msg.Sender))
	h.Write([]byte{0})
	h.Write([]byte(msg.Content))
	return strconv.FormatUint(h.Sum64(), 16)
}
